package chain

import (
	"errors"

	"go.uber.org/zap"

	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/storage"
	"computechain.dev/node/internal/types"
)

// RollbackLastBlock deletes the highest block and rebuilds state from
// genesis by replaying every surviving block. State is not itself
// versioned, so a rebuild is the only way back.
func (c *Chain) RollbackLastBlock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip.Empty() {
		return ErrEmptyChain
	}
	if err := c.store.DeleteBlock(uint64(c.tip.Height), c.tip.LastHash.Bytes()); err != nil {
		return err
	}
	return c.rebuildLocked()
}

// RollbackToHeight deletes every block above h, then rebuilds state from
// genesis by replaying the survivors.
func (c *Chain) RollbackToHeight(h uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip.Empty() {
		return ErrEmptyChain
	}
	if int64(h) >= c.tip.Height {
		return ErrHeightNotFound
	}
	for height := c.tip.Height; height > int64(h); height-- {
		raw, err := c.store.GetBlockByHeight(uint64(height))
		if err != nil {
			return err
		}
		block, err := DecodeBlock(raw)
		if err != nil {
			return err
		}
		if err := c.store.DeleteBlock(uint64(height), block.Header.Hash().Bytes()); err != nil {
			return err
		}
	}
	return c.rebuildLocked()
}

// RebuildState replays every stored block from genesis against a fresh
// state overlay without deleting any blocks, for an operator recovering
// from state corruption detected out of band (--rebuild-state).
func (c *Chain) RebuildState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip.Empty() {
		return nil
	}
	return c.rebuildLocked()
}

// rebuildLocked replays every surviving block from genesis against a fresh
// state overlay. The recomputed state root is checked at each height, but a
// mismatch only logs: the point of rebuild is recovery, not re-validation.
func (c *Chain) rebuildLocked() error {
	if err := c.store.ClearState(); err != nil {
		return err
	}

	fresh, err := state.New(c.store, c.params)
	if err != nil {
		return err
	}
	c.state = fresh
	c.tip = types.ChainTip{Height: -1, GenesisTime: c.tip.GenesisTime}

	height, _, err := c.store.LastBlock()
	if errors.Is(err, storage.ErrNotFound) {
		// Block log is now empty (rollback removed the genesis block too).
		c.selector.UpdateValidatorSet(nil)
		return nil
	}
	if err != nil {
		return err
	}

	for h := uint64(0); h <= height; h++ {
		raw, err := c.store.GetBlockByHeight(h)
		if err != nil {
			return err
		}
		block, err := DecodeBlock(raw)
		if err != nil {
			return err
		}
		if err := c.replayBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// replayBlock re-applies an already-accepted block's transactions and
// commit-phase effects without re-running linkage/proposer/signature
// checks, which already passed the first time this block was applied.
func (c *Chain) replayBlock(block *types.Block) error {
	for i := range block.Txs {
		if err := c.state.ApplyTransaction(&block.Txs[i], block.Header.Height, false); err != nil {
			return err
		}
	}

	stateRoot, err := c.state.ComputeStateRoot()
	if err != nil {
		return err
	}
	if stateRoot != block.Header.StateRoot && c.logger != nil {
		c.logger.Warn("rebuild: state root mismatch during replay",
			zap.Uint64("height", block.Header.Height))
	}

	isEpochBoundary := (block.Header.Height+1)%c.params.EpochLengthBlocks == 0
	if isEpochBoundary {
		if err := runEpochTransition(c.state, c.params, block.Header.Height); err != nil {
			return err
		}
	}

	distributeRewards(c.state, c.params, block)
	if err := c.state.ProcessUnbondingQueue(block.Header.Height); err != nil {
		return err
	}

	round := block.Header.Round
	c.updatePerformanceCounters(block, round)

	c.tip = types.ChainTip{
		Height:             int64(block.Header.Height),
		LastHash:           block.Header.Hash(),
		LastBlockTimestamp: block.Header.Timestamp,
		GenesisTime:        c.tip.GenesisTime,
	}

	if isEpochBoundary {
		if err := c.refreshSelector(); err != nil {
			return err
		}
	}
	return nil
}
