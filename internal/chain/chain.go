// Package chain is the central block pipeline: the single entry point,
// add_block, that every locally produced or peer-received block passes
// through. It owns the process-wide chain-tip lock, reward distribution,
// epoch transitions, and rollback.
package chain

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/consensus"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/storage"
	"computechain.dev/node/internal/types"
)

// SnapshotProducer is the collaborator hook used to emit a snapshot after a
// block commits at an epoch boundary or interval. Implemented by
// internal/snapshot; kept as an interface here so chain doesn't import it
// directly (the same inversion-of-control pattern used for P2P's hooks).
type SnapshotProducer interface {
	Produce(height uint64, st *state.Engine, tip types.ChainTip) error
}

// Chain is the block pipeline and chain-tip owner.
type Chain struct {
	mu sync.Mutex

	store    *storage.Store
	state    *state.Engine
	selector *consensus.Selector
	params   config.Params
	logger   *zap.Logger

	tip types.ChainTip

	snapshotMgr     SnapshotProducer
	lastSnapshotAt  uint64
}

// New constructs a Chain, loading the tip from the last stored block (or
// an empty tip if the block log is empty).
func New(store *storage.Store, st *state.Engine, selector *consensus.Selector, params config.Params, logger *zap.Logger) (*Chain, error) {
	c := &Chain{
		store:    store,
		state:    st,
		selector: selector,
		params:   params,
		logger:   logger,
		tip:      types.ChainTip{Height: -1},
	}

	height, raw, err := store.LastBlock()
	if err == storage.ErrNotFound {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	block, err := DecodeBlock(raw)
	if err != nil {
		return nil, err
	}
	c.tip = types.ChainTip{
		Height:             int64(height),
		LastHash:           block.Header.Hash(),
		LastBlockTimestamp: block.Header.Timestamp,
	}
	return c, nil
}

// SetSnapshotProducer wires the optional post-commit snapshot hook.
func (c *Chain) SetSnapshotProducer(p SnapshotProducer) {
	c.snapshotMgr = p
}

// Tip returns a copy of the current chain tip.
func (c *Chain) Tip() types.ChainTip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip
}

// State exposes the live state engine to collaborators (mempool pruning,
// proposer trial execution, snapshot restore, which writes through it).
func (c *Chain) State() *state.Engine { return c.state }

// Selector exposes the consensus selector.
func (c *Chain) Selector() *consensus.Selector { return c.selector }

// AddBlock is the block pipeline's single entry point, whether the block
// was produced locally or received from a peer. It holds the chain-tip
// lock for its entire duration; concurrent calls serialize.
func (c *Chain) AddBlock(block *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(block)
}

func (c *Chain) addBlockLocked(block *types.Block) error {
	// 1. Linkage.
	if err := c.checkLinkage(block); err != nil {
		if err == errIdempotentReplay {
			return nil
		}
		return err
	}

	// 2. Timestamp + round inference.
	round, err := c.checkTimestamp(block)
	if err != nil {
		return err
	}

	// 3. Proposer.
	if err := c.checkProposer(block, round); err != nil {
		return err
	}

	// 4. Execution simulation.
	trial := c.state.Clone()
	gasUsed, err := c.simulateExecution(trial, block)
	if err != nil {
		return err
	}
	if gasUsed != block.Header.GasUsed {
		return ErrGasUsedMismatch
	}
	if block.Header.GasLimit > c.params.BlockGasLimit {
		return ErrGasLimitExceeded
	}
	if gasUsed > block.Header.GasLimit {
		return ErrGasOverLimit
	}

	// 5. State root check.
	stateRoot, err := trial.ComputeStateRoot()
	if err != nil {
		return err
	}
	if stateRoot != block.Header.StateRoot {
		return ErrStateRootMismatch
	}

	// 6. Compute root check.
	if ComputeRoot(block.Txs) != block.Header.ComputeRoot {
		return ErrComputeRootMismatch
	}

	// 7. Epoch boundary detection.
	isEpochBoundary := (block.Header.Height+1)%c.params.EpochLengthBlocks == 0
	if isEpochBoundary {
		if err := runEpochTransition(trial, c.params, block.Header.Height); err != nil {
			return err
		}
	}

	// 8. Commit.
	c.state = trial
	distributeRewards(c.state, c.params, block)
	if err := c.state.ProcessUnbondingQueue(block.Header.Height); err != nil {
		return err
	}
	c.updatePerformanceCounters(block, round)
	if err := c.state.Persist(); err != nil {
		return err
	}
	encoded, err := EncodeBlock(block)
	if err != nil {
		return err
	}
	if err := c.store.PutBlock(block.Header.Height, block.Header.Hash().Bytes(), encoded); err != nil {
		return err
	}
	c.tip = types.ChainTip{
		Height:             int64(block.Header.Height),
		LastHash:           block.Header.Hash(),
		LastBlockTimestamp: block.Header.Timestamp,
		GenesisTime:        c.tip.GenesisTime,
	}

	// 9. Post-commit.
	if isEpochBoundary {
		if err := c.refreshSelector(); err != nil {
			return err
		}
	}
	c.maybeSnapshot(block.Header.Height, isEpochBoundary)
	return nil
}

var errIdempotentReplay = fmt.Errorf("chain: idempotent replay")

func (c *Chain) checkLinkage(block *types.Block) error {
	wantHeight := c.tip.Height + 1
	if int64(block.Header.Height) != wantHeight {
		if int64(block.Header.Height) <= c.tip.Height {
			existing, err := c.store.GetBlockByHeight(block.Header.Height)
			if err == nil {
				existingBlock, decErr := DecodeBlock(existing)
				if decErr == nil && existingBlock.Header.Hash() == block.Header.Hash() {
					return errIdempotentReplay
				}
			}
		}
		return ErrHeightMismatch
	}
	if !c.tip.Empty() && block.Header.PrevHash != c.tip.LastHash {
		return ErrPrevHashMismatch
	}
	return nil
}

func (c *Chain) checkTimestamp(block *types.Block) (uint64, error) {
	if !c.tip.Empty() {
		if block.Header.Timestamp <= c.tip.LastBlockTimestamp {
			return 0, ErrTimestampNotStrict
		}
	}
	nowPlusSkew := time.Now().Unix() + 15
	if block.Header.Timestamp > nowPlusSkew {
		return 0, ErrTimestampInFuture
	}
	if c.tip.Empty() {
		return block.Header.Round, nil
	}
	blockTimeSec := int64(c.params.BlockTime / time.Second)
	if blockTimeSec <= 0 {
		blockTimeSec = 1
	}
	delta := block.Header.Timestamp - c.tip.LastBlockTimestamp - blockTimeSec
	if delta < 0 {
		delta = 0
	}
	round := uint64(delta / blockTimeSec)
	return round, nil
}

func (c *Chain) checkProposer(block *types.Block, round uint64) error {
	if c.selector.Size() == 0 {
		// Bootstrap mode: no validator set registered yet, only reachable
		// before genesis.
		return nil
	}
	proposer, ok := c.selector.GetProposer(block.Header.Height, round)
	if !ok {
		return ErrNoProposer
	}
	if proposer.ConsensusAddress != block.Header.ProposerAddress {
		return ErrProposerMismatch
	}
	headerHash := block.Header.Hash()
	ok, err := crypto.VerifyEnvelope(proposer.PQPubKey, headerHash.Bytes(), block.PQSignature)
	if err != nil || !ok {
		return ErrBadSignature
	}
	return nil
}

func (c *Chain) simulateExecution(trial *state.Engine, block *types.Block) (uint64, error) {
	var gasUsed uint64
	for i := range block.Txs {
		tx := &block.Txs[i]
		if err := trial.ApplyTransaction(tx, block.Header.Height, false); err != nil {
			return 0, fmt.Errorf("chain: tx %d rejected: %w", i, err)
		}
		baseGas, _ := config.BaseGas(tx.Type)
		gasUsed += baseGas
	}
	return gasUsed, nil
}

// ComputeRoot derives the Merkle root over the hashes of SUBMIT_RESULT
// transaction payloads, in block order. Exported so the proposer can
// compute the identical value before submitting a candidate block.
func ComputeRoot(txs []types.Transaction) crypto.Hash {
	var leaves []crypto.Hash
	for i := range txs {
		if txs[i].Type != config.TxSubmitResult {
			continue
		}
		raw, _ := jsonMarshalPayload(txs[i])
		leaves = append(leaves, crypto.Sum256(raw))
	}
	return crypto.MerkleRoot(leaves)
}

// TxRoot derives the Merkle root over transaction hashes, in block order.
func TxRoot(txs []types.Transaction) crypto.Hash {
	leaves := make([]crypto.Hash, len(txs))
	for i := range txs {
		leaves[i] = txs[i].Hash()
	}
	return crypto.MerkleRoot(leaves)
}

func (c *Chain) updatePerformanceCounters(block *types.Block, round uint64) {
	for r := uint64(0); r < round; r++ {
		skipped, ok := c.selector.GetProposer(block.Header.Height, r)
		if !ok {
			continue
		}
		v, err := c.state.GetValidator(skipped.ConsensusAddress)
		if err != nil {
			continue
		}
		v.MissedBlocks++
		c.state.SetValidator(v)
	}

	v, err := c.state.GetValidator(block.Header.ProposerAddress)
	if err == nil {
		v.BlocksProposed++
		v.MissedBlocks = 0
		v.LastBlockHeight = block.Header.Height
		c.state.SetValidator(v)
	}
}

func (c *Chain) refreshSelector() error {
	all, err := c.state.GetAllValidators()
	if err != nil {
		return err
	}
	var active []*types.Validator
	for _, v := range all {
		if v.IsActive {
			active = append(active, v)
		}
	}
	c.selector.UpdateValidatorSet(active)
	return nil
}

func (c *Chain) maybeSnapshot(height uint64, isEpochBoundary bool) {
	if c.snapshotMgr == nil {
		return
	}
	due := isEpochBoundary
	if c.params.SnapshotInterval > 0 && height%c.params.SnapshotInterval == 0 {
		due = true
	}
	if !due {
		return
	}
	if err := c.snapshotMgr.Produce(height, c.state, c.tip); err != nil {
		if c.logger != nil {
			c.logger.Warn("snapshot production failed", zap.Uint64("height", height), zap.Error(err))
		}
	}
}
