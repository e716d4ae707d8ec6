package types

import (
	"strconv"

	"computechain.dev/node/internal/crypto"
)

// GenesisPrevHash is the required prev_hash of the genesis block: 64 zero
// hex characters, i.e. the zero Hash.
var GenesisPrevHash = crypto.Hash{}

// Header is the eleven-field block header. Hash is computed over
// HashDomain, the plain concatenation of these fields in declared order — not a
// JSON encoding — and every implementation must reproduce it byte for
// byte.
type Header struct {
	Height          uint64      `json:"height"`
	PrevHash        crypto.Hash `json:"prev_hash"`
	Timestamp       int64       `json:"timestamp"`
	ChainID         string      `json:"chain_id"`
	ProposerAddress string      `json:"proposer_address"`
	Round           uint64      `json:"round"`
	TxRoot          crypto.Hash `json:"tx_root"`
	StateRoot       crypto.Hash `json:"state_root"`
	ComputeRoot     crypto.Hash `json:"compute_root"`
	GasUsed         uint64      `json:"gas_used"`
	GasLimit        uint64      `json:"gas_limit"`
}

// HashDomain returns the plain concatenation of the header's eleven fields
// in declared order.
func (h *Header) HashDomain() []byte {
	buf := make([]byte, 0, 256)
	buf = strconv.AppendUint(buf, h.Height, 10)
	buf = append(buf, h.PrevHash.Bytes()...)
	buf = strconv.AppendInt(buf, h.Timestamp, 10)
	buf = append(buf, h.ChainID...)
	buf = append(buf, h.ProposerAddress...)
	buf = strconv.AppendUint(buf, h.Round, 10)
	buf = append(buf, h.TxRoot.Bytes()...)
	buf = append(buf, h.StateRoot.Bytes()...)
	buf = append(buf, h.ComputeRoot.Bytes()...)
	buf = strconv.AppendUint(buf, h.GasUsed, 10)
	buf = strconv.AppendUint(buf, h.GasLimit, 10)
	return buf
}

// Hash returns the header hash, the value the proposer's signature covers.
func (h *Header) Hash() crypto.Hash {
	return crypto.Sum256(h.HashDomain())
}

// Block is a signed header plus its ordered transaction list.
type Block struct {
	Header        Header            `json:"header"`
	Txs           []Transaction     `json:"txs"`
	PQSignature   crypto.SignedEnvelope `json:"pq_signature"`
}

// IsGenesis reports whether this is the height-0 genesis block.
func (b *Block) IsGenesis() bool {
	return b.Header.Height == 0
}
