// Package mempool holds transactions admitted but not yet included in a
// block: a bounded, per-sender-capped pool the proposer draws from and the
// P2P node admits gossiped transactions into.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/types"
)

var (
	ErrAlreadyPresent  = errors.New("mempool: transaction already present")
	ErrPoolFull        = errors.New("mempool: pool is at capacity")
	ErrSenderCapped    = errors.New("mempool: sender already has the maximum pending transactions")
	ErrInvalidSignature = errors.New("mempool: invalid signature or pub-key mismatch")
	ErrGasPriceTooLow  = errors.New("mempool: gas price below network minimum")
	ErrInsufficientGas = errors.New("mempool: gas limit below base gas for type")
)

// entry wraps a pooled transaction with its arrival time, used for TTL
// pruning and FIFO tie-breaking when selecting for a block.
type entry struct {
	tx      *types.Transaction
	arrived time.Time
}

// Mempool is the bounded, per-sender-capped transaction pool the proposer
// draws candidate transactions from. All mutating operations take the
// pool's own lock; it is independent of the chain-tip lock.
type Mempool struct {
	mu         sync.RWMutex
	params     config.Params
	maxSize    int
	maxPerSender int
	ttl        time.Duration

	byHash   map[crypto.Hash]*entry
	bySender map[string]map[crypto.Hash]*entry
}

// Config bounds the pool's capacity and entry lifetime.
type Config struct {
	MaxSize      int
	MaxPerSender int
	TTL          time.Duration
}

// New constructs an empty mempool bound to params (for gas/fee validation)
// and cfg (for capacity bounds).
func New(params config.Params, cfg Config) *Mempool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10_000
	}
	if cfg.MaxPerSender <= 0 {
		cfg.MaxPerSender = 64
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &Mempool{
		params:       params,
		maxSize:      cfg.MaxSize,
		maxPerSender: cfg.MaxPerSender,
		ttl:          cfg.TTL,
		byHash:       make(map[crypto.Hash]*entry),
		bySender:     make(map[string]map[crypto.Hash]*entry),
	}
}

// AddTransaction performs stateless crypto verification, minimum-gas
// checks, and size/per-sender bookkeeping, then admits tx. It does not
// touch chain state: nonce ordering and balance checks happen later, at
// proposal time, against a cloned state engine.
func (mp *Mempool) AddTransaction(tx *types.Transaction) error {
	from, err := crypto.DeriveAddress(mp.params.AccountHRP, tx.PubKey)
	if err != nil || string(from) != tx.From {
		return ErrInvalidSignature
	}
	ok, err := tx.VerifySignature()
	if err != nil || !ok {
		return ErrInvalidSignature
	}
	baseGas, known := config.BaseGas(tx.Type)
	if !known {
		return fmt.Errorf("mempool: unknown transaction type %q", tx.Type)
	}
	if tx.GasLimit < baseGas {
		return ErrInsufficientGas
	}
	if tx.GasPrice < mp.params.MinGasPrice {
		return ErrGasPriceTooLow
	}

	hash := tx.Hash()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byHash[hash]; exists {
		return ErrAlreadyPresent
	}
	if len(mp.byHash) >= mp.maxSize {
		return ErrPoolFull
	}
	senderTxs := mp.bySender[tx.From]
	if len(senderTxs) >= mp.maxPerSender {
		return ErrSenderCapped
	}

	e := &entry{tx: tx, arrived: time.Now()}
	mp.byHash[hash] = e
	if senderTxs == nil {
		senderTxs = make(map[crypto.Hash]*entry)
		mp.bySender[tx.From] = senderTxs
	}
	senderTxs[hash] = e
	return nil
}

// GetTransactions returns up to n pooled transactions ordered by arrival
// time (oldest first), a simple FIFO selection the proposer further
// filters by nonce and gas budget.
func (mp *Mempool) GetTransactions(n int) []*types.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := make([]*entry, 0, len(mp.byHash))
	for _, e := range mp.byHash {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].arrived.Before(entries[j].arrived)
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	out := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

// RemoveTransactions drops the given transactions from the pool, called
// after they've been included in an accepted block.
func (mp *Mempool) RemoveTransactions(txs []*types.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, tx := range txs {
		mp.removeLocked(tx.Hash(), tx.From)
	}
}

func (mp *Mempool) removeLocked(hash crypto.Hash, sender string) {
	delete(mp.byHash, hash)
	if senderTxs, ok := mp.bySender[sender]; ok {
		delete(senderTxs, hash)
		if len(senderTxs) == 0 {
			delete(mp.bySender, sender)
		}
	}
}

// PruneStaleTransactions drops pooled transactions whose nonce has already
// fallen below the sender's on-chain nonce, against the given state.
func (mp *Mempool) PruneStaleTransactions(st *state.Engine) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for sender, senderTxs := range mp.bySender {
		acc, err := st.GetAccount(sender)
		if err != nil {
			continue
		}
		for hash, e := range senderTxs {
			if e.tx.Nonce < acc.Nonce {
				mp.removeLocked(hash, sender)
			}
		}
	}
}

// CleanupExpired drops every pooled transaction whose TTL has elapsed,
// called periodically by the proposer's background pruning loop (roughly
// every 30 seconds).
func (mp *Mempool) CleanupExpired() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	cutoff := time.Now().Add(-mp.ttl)
	for hash, e := range mp.byHash {
		if e.arrived.Before(cutoff) {
			mp.removeLocked(hash, e.tx.From)
		}
	}
}

// Size returns the current number of pooled transactions.
func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.byHash)
}

// Contains reports whether a transaction with this hash is already pooled.
// AddTransaction performs its own duplicate check (ErrAlreadyPresent).
func (mp *Mempool) Contains(hash crypto.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	_, ok := mp.byHash[hash]
	return ok
}
