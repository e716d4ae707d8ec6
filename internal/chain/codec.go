package chain

import (
	"encoding/json"
	"fmt"

	"computechain.dev/node/internal/types"
)

// EncodeBlock serializes a block to canonical JSON for storage/wire
// transmission. Field order inside Header.HashDomain (not this encoding)
// is what every implementation must agree on byte-for-byte; this encoding
// only needs to round-trip.
func EncodeBlock(b *types.Block) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("chain: encode block: %w", err)
	}
	return raw, nil
}

// DecodeBlock deserializes a block previously produced by EncodeBlock.
func DecodeBlock(raw []byte) (*types.Block, error) {
	var b types.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("chain: decode block: %w", err)
	}
	return &b, nil
}

// jsonMarshalPayload returns the canonical JSON encoding of a SUBMIT_RESULT
// transaction's payload, the leaf input for the compute root.
func jsonMarshalPayload(tx types.Transaction) ([]byte, error) {
	raw, err := json.Marshal(tx.Payload.Result)
	if err != nil {
		return nil, fmt.Errorf("chain: encode compute result payload: %w", err)
	}
	return raw, nil
}
