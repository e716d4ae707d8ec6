package types

import "computechain.dev/node/internal/crypto"

// ChainTip describes the current head of the chain. Height is -1 when the
// chain is empty (no genesis applied yet).
type ChainTip struct {
	Height              int64
	LastHash            crypto.Hash
	LastBlockTimestamp  int64
	GenesisTime         int64
}

// Empty reports whether no block has been applied yet.
func (t ChainTip) Empty() bool {
	return t.Height < 0
}
