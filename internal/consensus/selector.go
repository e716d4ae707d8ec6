// Package consensus holds the deterministic proposer selector: the active
// validator set and the round-robin index into it by (height, round).
package consensus

import (
	"sort"
	"sync"

	"computechain.dev/node/internal/types"
)

// Selector holds the current active validator set, sorted by consensus
// address for deterministic indexing.
type Selector struct {
	mu     sync.RWMutex
	active []*types.Validator
}

// New returns an empty selector.
func New() *Selector {
	return &Selector{}
}

// UpdateValidatorSet atomically replaces the active set. validators need
// not be pre-sorted; the selector sorts its own copy by consensus address.
func (s *Selector) UpdateValidatorSet(validators []*types.Validator) {
	sorted := make([]*types.Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ConsensusAddress < sorted[j].ConsensusAddress
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = sorted
}

// GetProposer returns the validator at index (height+round) mod N, where N
// is the size of the active set. An empty set returns (nil, false).
func (s *Selector) GetProposer(height, round uint64) (*types.Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.active)
	if n == 0 {
		return nil, false
	}
	idx := (height + round) % uint64(n)
	return s.active[idx], true
}

// ActiveSet returns a copy of the current active validator set in sorted
// order.
func (s *Selector) ActiveSet() []*types.Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Validator, len(s.active))
	copy(out, s.active)
	return out
}

// Size returns the number of active validators.
func (s *Selector) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
