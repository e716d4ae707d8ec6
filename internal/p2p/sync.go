package p2p

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SyncState is the node's position in the synchronization state machine.
type SyncState int

const (
	StateIdle SyncState = iota
	StateSyncing
	StateSynced
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSyncing:
		return "SYNCING"
	case StateSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// maxSyncRollbacks bounds the prev_hash-mismatch retry loop during block
// sync so a pathological peer can't spin the node forever.
const maxSyncRollbacks = 20

// ShouldPauseProposing implements proposer.SyncGate: the proposer stands
// down while this node is syncing and meaningfully behind.
func (n *Node) ShouldPauseProposing() bool {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	if n.syncState != StateSyncing {
		return false
	}
	return n.bestKnownHeightLocked() > n.collab.GetCurrentHeight()+1
}

func (n *Node) bestKnownHeightLocked() int64 {
	var best int64 = -1
	for _, p := range n.peers {
		h, _, _ := p.snapshot()
		if h > best {
			best = h
		}
	}
	return best
}

// maybeStartSync enters SYNCING against p if p's advertised height is
// ahead of ours, then drives the sync to completion on its own goroutine.
func (n *Node) maybeStartSync(p *peer) {
	height, _, _ := p.snapshot()
	if height <= n.collab.GetCurrentHeight() {
		return
	}

	n.syncMu.Lock()
	alreadySyncing := n.syncState == StateSyncing
	n.syncState = StateSyncing
	n.syncPeer = p.nodeID
	n.syncStartedAt = time.Now()
	n.syncMu.Unlock()

	if alreadySyncing {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runSync(p)
	}()
}

func (n *Node) runSync(p *peer) {
	defer n.finishSync()

	_, _, latestSnapshot := p.snapshot()
	localHeight := n.collab.GetCurrentHeight()

	// Snapshot path.
	if n.cfg.AcceptSnapshots && latestSnapshot > 0 &&
		latestSnapshot >= uint64(localHeight+1)+n.cfg.SnapshotSyncThreshold {
		if err := n.syncViaSnapshot(p, latestSnapshot); err != nil {
			n.logger.Warn("snapshot sync failed, falling back to block sync", zap.Error(err))
		} else {
			localHeight = n.collab.GetCurrentHeight()
		}
	}

	ancestor, err := n.discoverCommonAncestor(p, uint64(localHeight))
	if err != nil {
		n.logger.Warn("header sync failed", zap.Error(err))
		return
	}

	if int64(ancestor) < n.collab.GetCurrentHeight() {
		if err := n.collab.RollbackToHeight(ancestor); err != nil {
			n.logger.Warn("rollback to ancestor failed", zap.Error(err), zap.Uint64("ancestor", ancestor))
			return
		}
	}

	n.syncBlocksFrom(p, ancestor)
}

// discoverCommonAncestor performs header-first fork discovery: request a
// window of headers ending at our local height, scan it from the top down
// for the highest one whose hash matches our local block at that height,
// sliding the window back and retrying if none match.
func (n *Node) discoverCommonAncestor(p *peer, localHeight uint64) (uint64, error) {
	peerHeight, _, _ := p.snapshot()
	window := n.cfg.HeaderSyncWindow
	if window == 0 {
		window = 500
	}

	end := localHeight
	for {
		var start uint64
		if end > window {
			start = end - window
		}
		to := uint64(peerHeight)
		if to > end {
			to = end
		}

		headers, err := n.requestHeaders(p, start, to)
		if err != nil {
			return 0, err
		}
		for i := len(headers) - 1; i >= 0; i-- {
			h := headers[i]
			localHash, err := n.collab.GetHashAtHeight(h.Height)
			if err == nil && localHash == h.Hash {
				return h.Height, nil
			}
		}

		if start == 0 {
			return 0, fmt.Errorf("p2p: no common ancestor found within genesis")
		}
		end = start
	}
}

func (n *Node) syncBlocksFrom(p *peer, ancestor uint64) {
	maxPerMsg := n.cfg.MaxBlocksPerMessage
	if maxPerMsg <= 0 {
		maxPerMsg = 100
	}
	rollbacks := 0
	from := ancestor + 1

	for {
		peerHeight, _, _ := p.snapshot()
		if from > uint64(peerHeight) {
			break
		}
		to := from + uint64(maxPerMsg) - 1
		if to > uint64(peerHeight) {
			to = uint64(peerHeight)
		}

		blocks, err := n.requestBlocks(p, from, to)
		if err != nil {
			n.logger.Warn("block request failed", zap.Error(err))
			return
		}
		if len(blocks) == 0 {
			return
		}

		for _, raw := range blocks {
			if err := n.collab.OnNewBlock(raw); err != nil {
				if isPrevHashMismatch(err) && rollbacks < maxSyncRollbacks {
					rollbacks++
					newHeight := n.collab.GetCurrentHeight() - 1
					if newHeight < 0 {
						n.logger.Warn("sync rollback hit genesis, giving up")
						return
					}
					if err := n.collab.RollbackToHeight(uint64(newHeight)); err != nil {
						n.logger.Warn("sync rollback failed", zap.Error(err))
						return
					}
					from = uint64(newHeight) + 1
					goto retryBatch
				}
				n.logger.Warn("block rejected during sync", zap.Error(err))
				return
			}
		}
		from = to + 1
		continue

	retryBatch:
		continue
	}
}

func (n *Node) finishSync() {
	n.syncMu.Lock()
	n.syncState = StateSynced
	n.syncPeer = ""
	cached := n.cachedBlocks
	n.cachedBlocks = nil
	n.syncMu.Unlock()

	for _, b := range cached {
		if err := n.collab.OnNewBlock(b); err != nil {
			n.logger.Debug("cached block rejected after sync", zap.Error(err))
		}
	}
}

func (n *Node) requestHeaders(p *peer, from, to uint64) ([]HeaderEntry, error) {
	reply, err := n.request(p, MsgGetHeaders, GetHeadersPayload{From: from, To: to}, MsgHeadersResponse)
	if err != nil {
		return nil, err
	}
	var resp HeadersResponsePayload
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, err
	}
	return resp.Headers, nil
}

func (n *Node) requestBlocks(p *peer, from, to uint64) ([][]byte, error) {
	reply, err := n.request(p, MsgGetBlocks, GetBlocksPayload{From: from, To: to}, MsgBlocksResponse)
	if err != nil {
		return nil, err
	}
	var resp BlocksResponsePayload
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, err
	}
	out := make([][]byte, len(resp.Blocks))
	for i, b := range resp.Blocks {
		out[i] = b
	}
	return out, nil
}

// syncViaSnapshot requests a snapshot from p, reassembles it from
// SNAPSHOT_CHUNK frames, and applies it through the collaborator hook.
func (n *Node) syncViaSnapshot(p *peer, height uint64) error {
	replyCh := n.registerPendingSnapshot(height)
	defer n.unregisterPendingSnapshot(height)

	if err := p.send(MsgGetSnapshot, GetSnapshotPayload{Height: height}); err != nil {
		return err
	}

	var chunks [][]byte
	total := -1
	timeout := time.After(n.cfg.SyncTimeout)
	for {
		select {
		case chunk, ok := <-replyCh:
			if !ok {
				return fmt.Errorf("p2p: snapshot transfer aborted")
			}
			if total == -1 {
				total = chunk.TotalChunks
				chunks = make([][]byte, total)
			}
			chunks[chunk.ChunkIndex] = chunk.Data
			if allChunksPresent(chunks) {
				full := joinChunks(chunks)
				return n.collab.ApplySnapshotBytes(height, full)
			}
		case <-timeout:
			return fmt.Errorf("p2p: snapshot sync timed out")
		}
	}
}

func allChunksPresent(chunks [][]byte) bool {
	for _, c := range chunks {
		if c == nil {
			return false
		}
	}
	return len(chunks) > 0
}

func joinChunks(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func isPrevHashMismatch(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "prev_hash")
}
