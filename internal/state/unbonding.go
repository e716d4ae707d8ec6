package state

// ProcessUnbondingQueue traverses every account, credits and removes
// unbonding entries whose completion height has been reached.
func (e *Engine) ProcessUnbondingQueue(currentHeight uint64) error {
	addrs, err := e.allAccountAddresses()
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		acc, err := e.GetAccount(addr)
		if err != nil {
			return err
		}
		if len(acc.UnbondingDelegations) == 0 {
			continue
		}
		remaining := acc.UnbondingDelegations[:0]
		changed := false
		for _, entry := range acc.UnbondingDelegations {
			if entry.CompletionHeight <= currentHeight {
				acc.Balance += entry.Amount
				changed = true
				continue
			}
			remaining = append(remaining, entry)
		}
		if changed {
			acc.UnbondingDelegations = remaining
			e.SetAccount(acc)
		}
	}
	return nil
}

// AllAccountAddresses returns every account address known to the overlay
// or backing store, for callers (snapshotting) that need to walk the full
// account set.
func (e *Engine) AllAccountAddresses() ([]string, error) {
	return e.allAccountAddresses()
}

func (e *Engine) allAccountAddresses() ([]string, error) {
	e.mu.RLock()
	seen := make(map[string]struct{})
	for addr := range e.accounts {
		seen[addr] = struct{}{}
	}
	e.mu.RUnlock()

	err := e.store.ScanPrefix([]byte(accountPrefix), func(key, value []byte) bool {
		seen[string(key[len(accountPrefix):])] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	return out, nil
}
