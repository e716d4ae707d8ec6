// Package types holds the domain records shared across the state engine,
// block pipeline, proposer, and P2P node: accounts, validators, delegations,
// transactions, and blocks. None of these types know how to persist or
// transmit themselves; that's storage's and p2p's job.
package types

// UnbondingEntry is a pending withdrawal queued against an account,
// credited once CompletionHeight is reached.
type UnbondingEntry struct {
	Validator        string `json:"validator"`
	Amount           uint64 `json:"amount"`
	CompletionHeight uint64 `json:"completion_height"`
}

// Account is the per-address balance/nonce record. It is created on first
// read as a zero account and is never removed.
type Account struct {
	Address             string           `json:"address"`
	Balance             uint64           `json:"balance"`
	Nonce                uint64           `json:"nonce"`
	RewardHistory       map[uint64]uint64 `json:"reward_history"`
	UnbondingDelegations []UnbondingEntry `json:"unbonding_delegations"`
}

// NewAccount returns the zero-value account for addr.
func NewAccount(addr string) *Account {
	return &Account{
		Address:       addr,
		RewardHistory: make(map[uint64]uint64),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	out := &Account{
		Address: a.Address,
		Balance: a.Balance,
		Nonce:   a.Nonce,
	}
	out.RewardHistory = make(map[uint64]uint64, len(a.RewardHistory))
	for k, v := range a.RewardHistory {
		out.RewardHistory[k] = v
	}
	out.UnbondingDelegations = append([]UnbondingEntry(nil), a.UnbondingDelegations...)
	return out
}
