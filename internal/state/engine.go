// Package state implements the account/validator state machine: an
// in-memory overlay on top of the durable key-value store, deterministic
// transaction application, and state-root computation.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/storage"
	"computechain.dev/node/internal/types"
)

const (
	accountPrefix = "acc:"
	validatorPrefix = "val:"
	keyEpochIndex   = "epoch_index"
	keyTotalMinted  = "total_minted"
	keyTotalBurned  = "total_burned"
	keyChainVersion = "chain_version"
)

// Engine is the overlay-over-store state machine. Reads check the overlay
// first, then fall through to the backing store; writes land only in the
// overlay until Persist flushes them.
type Engine struct {
	mu     sync.RWMutex
	store  *storage.Store
	params config.Params

	accounts   map[string]*types.Account
	validators map[string]*types.Validator

	epochIndex  uint64
	totalMinted uint64
	totalBurned uint64
}

// New constructs an Engine bound to store, loading the scalar counters
// (epoch index, mint/burn totals) from it.
func New(store *storage.Store, params config.Params) (*Engine, error) {
	e := &Engine{
		store:      store,
		params:     params,
		accounts:   make(map[string]*types.Account),
		validators: make(map[string]*types.Validator),
	}
	var err error
	if e.epochIndex, err = readUint64(store, keyEpochIndex); err != nil {
		return nil, err
	}
	if e.totalMinted, err = readUint64(store, keyTotalMinted); err != nil {
		return nil, err
	}
	if e.totalBurned, err = readUint64(store, keyTotalBurned); err != nil {
		return nil, err
	}
	return e, nil
}

func readUint64(store *storage.Store, key string) (uint64, error) {
	raw, err := store.GetState([]byte(key))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return v, nil
}

// GetAccount returns the account at addr, merging overlay over store. A
// never-seen address yields the zero account (never an error).
func (e *Engine) GetAccount(addr string) (*types.Account, error) {
	e.mu.RLock()
	if acc, ok := e.accounts[addr]; ok {
		defer e.mu.RUnlock()
		return acc.Clone(), nil
	}
	e.mu.RUnlock()

	raw, err := e.store.GetState([]byte(accountPrefix + addr))
	if err == storage.ErrNotFound {
		return types.NewAccount(addr), nil
	}
	if err != nil {
		return nil, err
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	if acc.RewardHistory == nil {
		acc.RewardHistory = make(map[uint64]uint64)
	}
	return &acc, nil
}

// SetAccount writes acc into the overlay.
func (e *Engine) SetAccount(acc *types.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[acc.Address] = acc.Clone()
}

// GetValidator returns the validator at consensusAddr, merging overlay
// over store. Returns ErrValidatorNotFound if absent in both.
func (e *Engine) GetValidator(consensusAddr string) (*types.Validator, error) {
	e.mu.RLock()
	if v, ok := e.validators[consensusAddr]; ok {
		defer e.mu.RUnlock()
		return v.Clone(), nil
	}
	e.mu.RUnlock()

	raw, err := e.store.GetState([]byte(validatorPrefix + consensusAddr))
	if err == storage.ErrNotFound {
		return nil, ErrValidatorNotFound
	}
	if err != nil {
		return nil, err
	}
	var v types.Validator
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("state: decode validator %s: %w", consensusAddr, err)
	}
	return &v, nil
}

// SetValidator writes v into the overlay.
func (e *Engine) SetValidator(v *types.Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators[v.ConsensusAddress] = v.Clone()
}

// GetAllValidators returns every validator known to the store merged with
// overlay overrides, sorted by consensus address.
func (e *Engine) GetAllValidators() ([]*types.Validator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]*types.Validator)
	err := e.store.ScanPrefix([]byte(validatorPrefix), func(key, value []byte) bool {
		addr := string(key[len(validatorPrefix):])
		var v types.Validator
		if json.Unmarshal(value, &v) != nil {
			return true
		}
		seen[addr] = &v
		return true
	})
	if err != nil {
		return nil, err
	}
	for addr, v := range e.validators {
		seen[addr] = v
	}
	out := make([]*types.Validator, 0, len(seen))
	for _, v := range seen {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConsensusAddress < out[j].ConsensusAddress
	})
	return out, nil
}

// EpochIndex returns the current epoch index.
func (e *Engine) EpochIndex() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochIndex
}

// SetEpochIndex overwrites the epoch index in the overlay.
func (e *Engine) SetEpochIndex(v uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epochIndex = v
}

// TotalMinted returns the monotonic minted counter.
func (e *Engine) TotalMinted() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalMinted
}

// TotalBurned returns the monotonic burned counter.
func (e *Engine) TotalBurned() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalBurned
}

// Mint increases the total-minted counter by amount.
func (e *Engine) Mint(amount uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalMinted += amount
}

// Burn increases the total-burned counter by amount.
func (e *Engine) Burn(amount uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalBurned += amount
}

// Params returns the network parameters this engine was constructed with.
func (e *Engine) Params() config.Params {
	return e.params
}

// Clone returns a structural deep copy: a fresh Engine backed by the same
// store but with its own overlay, so a failed trial execution leaves no
// trace on the original.
func (e *Engine) Clone() *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Engine{
		store:       e.store,
		params:      e.params,
		accounts:    make(map[string]*types.Account, len(e.accounts)),
		validators:  make(map[string]*types.Validator, len(e.validators)),
		epochIndex:  e.epochIndex,
		totalMinted: e.totalMinted,
		totalBurned: e.totalBurned,
	}
	for k, v := range e.accounts {
		out.accounts[k] = v.Clone()
	}
	for k, v := range e.validators {
		out.validators[k] = v.Clone()
	}
	return out
}

// Persist flushes every overlay entry and scalar counter to the backing
// store.
func (e *Engine) Persist() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for addr, acc := range e.accounts {
		raw, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", addr, err)
		}
		if err := e.store.PutState([]byte(accountPrefix+addr), raw); err != nil {
			return err
		}
	}
	for addr, v := range e.validators {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("state: encode validator %s: %w", addr, err)
		}
		if err := e.store.PutState([]byte(validatorPrefix+addr), raw); err != nil {
			return err
		}
	}
	for key, val := range map[string]uint64{
		keyEpochIndex:  e.epochIndex,
		keyTotalMinted: e.totalMinted,
		keyTotalBurned: e.totalBurned,
	} {
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		if err := e.store.PutState([]byte(key), raw); err != nil {
			return err
		}
	}
	return e.store.PutState([]byte(keyChainVersion), []byte(`"1"`))
}

// ComputeStateRoot merges backing-store accounts with the overlay, sorts
// by address, and returns the Merkle root over hash(address||balance||nonce)
// leaves. Deterministic and invariant under insertion order.
func (e *Engine) ComputeStateRoot() (crypto.Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	merged := make(map[string]*types.Account)
	err := e.store.ScanPrefix([]byte(accountPrefix), func(key, value []byte) bool {
		addr := string(key[len(accountPrefix):])
		var acc types.Account
		if json.Unmarshal(value, &acc) == nil {
			merged[addr] = &acc
		}
		return true
	})
	if err != nil {
		return crypto.Hash{}, err
	}
	for addr, acc := range e.accounts {
		merged[addr] = acc
	}

	addrs := make([]string, 0, len(merged))
	for addr := range merged {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	leaves := make([]crypto.Hash, 0, len(addrs))
	for _, addr := range addrs {
		acc := merged[addr]
		leaves = append(leaves, accountLeaf(acc))
	}
	return crypto.MerkleRoot(leaves), nil
}

func accountLeaf(acc *types.Account) crypto.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, acc.Address...)
	buf = appendUint64(buf, acc.Balance)
	buf = appendUint64(buf, acc.Nonce)
	return crypto.Sum256(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[7-i] = byte(v)
		v >>= 8
	}
	return append(buf, tmp[:]...)
}
