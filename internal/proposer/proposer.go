// Package proposer runs the slot-driven block-building loop: at most once
// per second, check whether this node is the expected proposer, assemble a
// candidate block from the mempool, sign it, and submit it through the
// block pipeline.
package proposer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"computechain.dev/node/internal/chain"
	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/consensus"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/mempool"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/types"
)

// tickInterval is how often the proposer loop wakes up to check whether it
// should build a block. Actual proposal attempts are capped at once per
// second; this is that cap.
const tickInterval = time.Second

// SyncGate lets the P2P node tell the proposer to stand down while it is
// syncing and meaningfully behind the best known peer, an inversion-of-
// control collaborator so this package never imports internal/p2p.
type SyncGate interface {
	ShouldPauseProposing() bool
}

// BroadcastFunc is invoked with a block this node just proposed and
// committed, so the P2P node can gossip it.
type BroadcastFunc func(*types.Block)

// Proposer is the dedicated block-building loop. It shares the chain-tip
// lock with the P2P node's gossip handler by going through Chain.AddBlock,
// the same serialization point every other writer uses.
type Proposer struct {
	chain    *chain.Chain
	mempool  *mempool.Mempool
	selector *consensus.Selector
	params   config.Params
	logger   *zap.Logger

	key           *crypto.PrivateKey
	consensusAddr string

	syncGate  SyncGate
	broadcast BroadcastFunc

	stopCh chan struct{}
	wg     sync.WaitGroup

	lastPrune time.Time
}

// New constructs a Proposer. key is the validator's signing key;
// consensusAddr must be the validator address derived from key's public
// key under the validator HRP (callers derive it once at startup).
func New(c *chain.Chain, mp *mempool.Mempool, params config.Params, logger *zap.Logger, key *crypto.PrivateKey, consensusAddr string) *Proposer {
	return &Proposer{
		chain:         c,
		mempool:       mp,
		selector:      c.Selector(),
		params:        params,
		logger:        logger.Named("proposer"),
		key:           key,
		consensusAddr: consensusAddr,
		stopCh:        make(chan struct{}),
	}
}

// SetSyncGate wires the sync-state collaborator.
func (p *Proposer) SetSyncGate(g SyncGate) { p.syncGate = g }

// SetBroadcastFunc wires the post-commit gossip collaborator.
func (p *Proposer) SetBroadcastFunc(fn BroadcastFunc) { p.broadcast = fn }

// Start launches the proposer loop on a dedicated goroutine. Go's scheduler
// multiplexes goroutines onto OS threads, but the chain-tip lock
// serialization with the P2P gossip handler holds regardless.
func (p *Proposer) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop requests the loop to exit and waits for it to do so.
func (p *Proposer) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Proposer) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	p.lastPrune = time.Now()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Proposer) tick() {
	if time.Since(p.lastPrune) > 30*time.Second {
		p.mempool.CleanupExpired()
		p.mempool.PruneStaleTransactions(p.chain.State())
		p.lastPrune = time.Now()
	}

	// 1. Backpressure from the sync-state machine.
	if p.syncGate != nil && p.syncGate.ShouldPauseProposing() {
		return
	}

	tip := p.chain.Tip()
	nextHeight := uint64(tip.Height + 1)

	// 2. Slot and round from wall-clock time.
	round, slotTimestamp := p.computeSlot(tip, nextHeight)

	// 3. Proposer check.
	expected, ok := p.selector.GetProposer(nextHeight, round)
	if !ok || expected.ConsensusAddress != p.consensusAddr {
		return
	}

	block, err := p.buildBlock(nextHeight, round, slotTimestamp)
	if err != nil {
		p.logger.Debug("block build skipped", zap.Uint64("height", nextHeight), zap.Error(err))
		return
	}

	// Race guard: a gossiped block may have slipped in while we were
	// building this one. Recheck before submitting.
	if uint64(p.chain.Tip().Height+1) != nextHeight {
		p.logger.Debug("aborting proposal, tip advanced during build", zap.Uint64("height", nextHeight))
		return
	}

	if err := p.chain.AddBlock(block); err != nil {
		p.logger.Warn("self-proposed block rejected by pipeline", zap.Uint64("height", nextHeight), zap.Error(err))
		return
	}

	p.mempool.RemoveTransactions(toPointers(block.Txs))
	if p.broadcast != nil {
		p.broadcast(block)
	}
}

// computeSlot derives the round from elapsed wall-clock time since the
// ideal slot timestamp for nextHeight, clamped at MaxRoundsPerHeight.
func (p *Proposer) computeSlot(tip types.ChainTip, nextHeight uint64) (round uint64, timestamp int64) {
	blockTimeSec := int64(p.params.BlockTime / time.Second)
	if blockTimeSec <= 0 {
		blockTimeSec = 1
	}
	idealTimestamp := tip.GenesisTime + int64(nextHeight)*blockTimeSec
	elapsed := time.Now().Unix() - idealTimestamp
	if elapsed < 0 {
		elapsed = 0
	}
	round = uint64(elapsed / blockTimeSec)
	if round > p.params.MaxRoundsPerHeight {
		p.logger.Warn("round clamped at MaxRoundsPerHeight", zap.Uint64("height", nextHeight), zap.Uint64("round", round))
		round = p.params.MaxRoundsPerHeight
	}
	timestamp = idealTimestamp + int64(round)*blockTimeSec
	return round, timestamp
}

// buildBlock draws candidate transactions from the mempool, replays them
// against a cloned state, and assembles + signs a header.
func (p *Proposer) buildBlock(height, round uint64, timestamp int64) (*types.Block, error) {
	candidates := p.mempool.GetTransactions(p.params.MaxTxPerBlock)
	trial := p.chain.State().Clone()

	var accepted []types.Transaction
	var gasUsed uint64

	for _, tx := range candidates {
		baseGas, ok := config.BaseGas(tx.Type)
		if !ok {
			continue
		}
		if gasUsed+baseGas > p.params.BlockGasLimit {
			continue
		}
		if err := trial.ApplyTransaction(tx, height, false); err != nil {
			if state.IsFutureNonce(err) {
				// Retained in the mempool for reconsideration once the
				// blocking nonce clears.
				continue
			}
			// Truly invalid: drop it from the mempool, not just this block.
			p.mempool.RemoveTransactions([]*types.Transaction{tx})
			continue
		}
		accepted = append(accepted, *tx)
		gasUsed += baseGas
	}

	stateRoot, err := trial.ComputeStateRoot()
	if err != nil {
		return nil, fmt.Errorf("proposer: compute state root: %w", err)
	}

	header := types.Header{
		Height:          height,
		PrevHash:        p.chain.Tip().LastHash,
		Timestamp:       timestamp,
		ChainID:         p.params.NetworkID,
		ProposerAddress: p.consensusAddr,
		Round:           round,
		TxRoot:          chain.TxRoot(accepted),
		StateRoot:       stateRoot,
		ComputeRoot:     chain.ComputeRoot(accepted),
		GasUsed:         gasUsed,
		GasLimit:        p.params.BlockGasLimit,
	}

	headerHash := header.Hash()
	sig, err := crypto.Sign(p.key, headerHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("proposer: sign header: %w", err)
	}

	return &types.Block{
		Header:      header,
		Txs:         accepted,
		PQSignature: sig,
	}, nil
}

func toPointers(txs []types.Transaction) []*types.Transaction {
	out := make([]*types.Transaction, len(txs))
	for i := range txs {
		out[i] = &txs[i]
	}
	return out
}
