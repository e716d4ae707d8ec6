package types

import (
	"fmt"
	"strconv"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
)

// ComputeResult is the structured payload a SUBMIT_RESULT transaction
// carries. Signatures and proofs over the result are not verified in this
// version; shape is.
type ComputeResult struct {
	JobID       string `json:"job_id"`
	Worker      string `json:"worker"`
	ResultHash  string `json:"result_hash"`
	Proof       string `json:"proof,omitempty"`
}

// Payload is the type-specific attribute bag a transaction carries. Only
// the fields relevant to tx.Type are populated; the rest are zero.
type Payload struct {
	PubKey            []byte         `json:"pub_key,omitempty"`
	ValidatorAddress  string         `json:"validator_address,omitempty"`
	Name              string         `json:"name,omitempty"`
	Website           string         `json:"website,omitempty"`
	Description       string         `json:"description,omitempty"`
	CommissionRate    *float64       `json:"commission_rate,omitempty"`
	Result            *ComputeResult `json:"result,omitempty"`
}

// Transaction is the signed, enumerated unit of state change.
type Transaction struct {
	Type      config.TxType `json:"type"`
	From      string        `json:"from"`
	To        string        `json:"to,omitempty"`
	Amount    uint64        `json:"amount"`
	Fee       uint64        `json:"fee"`
	Nonce     uint64        `json:"nonce"`
	GasPrice  uint64        `json:"gas_price"`
	GasLimit  uint64        `json:"gas_limit"`
	Payload   Payload       `json:"payload"`
	PubKey    []byte        `json:"pub_key"`
	Signature []byte        `json:"signature"`
	Timestamp int64         `json:"timestamp"`
}

// HashDomain returns the exact byte string the transaction hash and
// signature are computed over: type, from, to-or-empty, amount, fee,
// nonce, and pub_key concatenated — nothing else, notably not payload,
// gas fields, or timestamp.
func (tx *Transaction) HashDomain() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, tx.Type...)
	buf = append(buf, tx.From...)
	buf = append(buf, tx.To...)
	buf = strconv.AppendUint(buf, tx.Amount, 10)
	buf = strconv.AppendUint(buf, tx.Fee, 10)
	buf = strconv.AppendUint(buf, tx.Nonce, 10)
	buf = append(buf, tx.PubKey...)
	return buf
}

// Hash returns the 32-byte content hash of the transaction.
func (tx *Transaction) Hash() crypto.Hash {
	return crypto.Sum256(tx.HashDomain())
}

// Sign signs the transaction hash with priv and records both the public
// key and the signature on the transaction.
func (tx *Transaction) Sign(priv *crypto.PrivateKey) error {
	tx.PubKey = priv.PublicKey()
	hash := tx.Hash()
	sig, err := priv.Sign(hash.Bytes())
	if err != nil {
		return fmt.Errorf("types: sign transaction: %w", err)
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks tx.Signature against tx.PubKey over the
// transaction hash.
func (tx *Transaction) VerifySignature() (bool, error) {
	hash := tx.Hash()
	return crypto.Verify(tx.PubKey, hash.Bytes(), tx.Signature)
}
