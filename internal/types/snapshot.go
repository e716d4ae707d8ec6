package types

import "computechain.dev/node/internal/crypto"

// Snapshot is the full exportable state at a given height, content-addressed
// by SelfHash computed over every other field in canonical key-sorted form.
type Snapshot struct {
	Version     uint32                `json:"version"`
	NetworkID   string                `json:"network_id"`
	Height      uint64                `json:"height"`
	EpochIndex  uint64                `json:"epoch_index"`
	Timestamp   int64                 `json:"timestamp"`
	TotalBurned uint64                `json:"total_burned"`
	TotalMinted uint64                `json:"total_minted"`
	Accounts    []*Account            `json:"accounts"`
	Validators  []*Validator          `json:"validators"`
	SelfHash    crypto.Hash           `json:"self_hash"`
}
