package p2p

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

func (n *Node) handleStatus(p *peer, raw json.RawMessage) {
	var status StatusPayload
	if err := json.Unmarshal(raw, &status); err != nil {
		n.logger.Debug("malformed STATUS", zap.Error(err))
		return
	}
	p.recordStatus(status.BestHeight, status.BestHash)
	n.maybeStartSync(p)
}

// handleHandshakeMessage handles a HANDSHAKE received after the initial
// connection handshake has already completed: an unsolicited resend a peer
// sends to nudge us once we've fallen behind it. Treated like a STATUS
// update for sync purposes.
func (n *Node) handleHandshakeMessage(p *peer, raw json.RawMessage) {
	var hs HandshakePayload
	if err := json.Unmarshal(raw, &hs); err != nil {
		n.logger.Debug("malformed HANDSHAKE", zap.Error(err))
		return
	}
	p.recordStatus(hs.BestHeight, hs.BestHash)
	n.maybeStartSync(p)
}

func (n *Node) handlePing(p *peer, raw json.RawMessage) {
	var ping PingPayload
	if err := json.Unmarshal(raw, &ping); err != nil {
		return
	}
	if err := p.send(MsgPong, PongPayload{Nonce: ping.Nonce}); err != nil {
		n.logger.Debug("pong send failed", zap.Error(err))
	}
}

// handleNewBlock applies a gossiped block and, if it extends our tip,
// rebroadcasts it so gossip reaches the rest of the mesh. If it instead
// reveals we've fallen behind, it starts a sync against the sender.
func (n *Node) handleNewBlock(p *peer, raw json.RawMessage) {
	var payload NewBlockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		n.logger.Debug("malformed NEW_BLOCK", zap.Error(err))
		return
	}

	n.syncMu.Lock()
	if n.syncState == StateSyncing {
		n.cachedBlocks = append(n.cachedBlocks, payload.Block)
		n.syncMu.Unlock()
		return
	}
	n.syncMu.Unlock()

	if err := n.collab.OnNewBlock(payload.Block); err != nil {
		if isPrevHashMismatch(err) {
			n.logger.Debug("gossip block gap, starting sync", zap.String("peer", p.nodeID))
			n.maybeStartSync(p)
			return
		}
		n.handleHeightGap(p, err)
		return
	}

	n.rebroadcastExcept(p.nodeID, MsgNewBlock, payload)
}

// handleHeightGap reacts to a gossiped block rejected for a reason other
// than a prev_hash mismatch (typically a height gap): if the sender is
// strictly ahead of us, that's a cue to catch up via sync; if it's behind
// or level, resend our own handshake so it notices and initiates sync
// against us instead.
func (n *Node) handleHeightGap(p *peer, err error) {
	peerHeight, _, _ := p.snapshot()
	localHeight := n.collab.GetCurrentHeight()
	if peerHeight > localHeight {
		n.logger.Debug("gossip block rejected, peer ahead, starting sync", zap.Error(err), zap.String("peer", p.nodeID))
		n.maybeStartSync(p)
		return
	}
	n.logger.Debug("gossip block rejected, peer behind, resending handshake", zap.Error(err), zap.String("peer", p.nodeID))
	if sendErr := p.send(MsgHandshake, n.localHandshakePayload()); sendErr != nil {
		n.logger.Debug("handshake resend failed", zap.Error(sendErr), zap.String("peer", p.nodeID))
	}
}

func (n *Node) handleNewTx(p *peer, raw json.RawMessage) {
	var payload NewTxPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		n.logger.Debug("malformed NEW_TX", zap.Error(err))
		return
	}
	if err := n.collab.OnNewTx(payload.Tx); err != nil {
		n.logger.Debug("gossip tx rejected", zap.Error(err), zap.String("peer", p.nodeID))
		return
	}
	n.rebroadcastExcept(p.nodeID, MsgNewTx, payload)
}

func (n *Node) rebroadcastExcept(excludeNodeID string, typ MessageType, payload any) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, p := range n.peers {
		if id == excludeNodeID {
			continue
		}
		if err := p.send(typ, payload); err != nil {
			n.logger.Debug("rebroadcast failed", zap.String("peer", id), zap.Error(err))
		}
	}
}

func (n *Node) handleGetHeaders(p *peer, raw json.RawMessage) {
	var req GetHeadersPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	headers, err := n.collab.GetHeadersRange(req.From, req.To)
	if err != nil {
		n.logger.Debug("headers range lookup failed", zap.Error(err))
		headers = nil
	}
	if err := p.send(MsgHeadersResponse, HeadersResponsePayload{Headers: headers}); err != nil {
		n.logger.Debug("headers response send failed", zap.Error(err))
	}
}

func (n *Node) handleGetBlocks(p *peer, raw json.RawMessage) {
	var req GetBlocksPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	blocks, err := n.collab.GetBlocksRange(req.From, req.To)
	if err != nil {
		n.logger.Debug("blocks range lookup failed", zap.Error(err))
		blocks = nil
	}
	raws := make([]json.RawMessage, len(blocks))
	for i, b := range blocks {
		raws[i] = b
	}
	if err := p.send(MsgBlocksResponse, BlocksResponsePayload{Blocks: raws}); err != nil {
		n.logger.Debug("blocks response send failed", zap.Error(err))
	}
}

func (n *Node) handlePeers(_ *peer, raw json.RawMessage) {
	var payload PeersPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	n.mu.RLock()
	known := make(map[string]bool, len(n.peers))
	for _, p := range n.peers {
		if p.persistAddr != "" {
			known[p.persistAddr] = true
		}
	}
	n.mu.RUnlock()

	for _, addr := range payload.Addresses {
		if known[addr] {
			continue
		}
		addr := addr
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.dial(addr)
		}()
	}
}

func (n *Node) handleGetSnapshot(p *peer, raw json.RawMessage) {
	var req GetSnapshotPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if n.collab.GetSnapshotBytes == nil {
		return
	}
	data, err := n.collab.GetSnapshotBytes(req.Height)
	if err != nil {
		n.logger.Debug("snapshot lookup failed", zap.Error(err), zap.Uint64("height", req.Height))
		return
	}

	const chunkSize = 256 * 1024
	total := (len(data) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := SnapshotChunkPayload{
			Height:      req.Height,
			ChunkIndex:  i,
			TotalChunks: total,
			Data:        data[start:end],
		}
		if err := p.send(MsgSnapshotChunk, chunk); err != nil {
			n.logger.Debug("snapshot chunk send failed", zap.Error(err))
			return
		}
	}
}

func (n *Node) handleSnapshotChunk(_ *peer, raw json.RawMessage) {
	var chunk SnapshotChunkPayload
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return
	}
	n.snapWaitersMu.Lock()
	ch, ok := n.snapWaiters[chunk.Height]
	n.snapWaitersMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- chunk:
	default:
	}
}

// statusLoop periodically broadcasts our height/hash so peers can detect
// when we've fallen behind or pulled ahead.
func (n *Node) statusLoop(ctx context.Context) {
	interval := n.cfg.StatusInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := StatusPayload{
				BestHeight: n.collab.GetCurrentHeight(),
				BestHash:   n.collab.GetLastHash(),
			}
			n.mu.RLock()
			for _, p := range n.peers {
				if err := p.send(MsgStatus, status); err != nil {
					n.logger.Debug("status broadcast failed", zap.String("peer", p.nodeID), zap.Error(err))
				}
			}
			n.mu.RUnlock()
		}
	}
}

// pingLoop keeps idle connections alive and primes silentFor() for the
// cleanup loop's liveness check.
func (n *Node) pingLoop(ctx context.Context) {
	interval := n.cfg.PingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var nonce int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nonce++
			n.mu.RLock()
			for _, p := range n.peers {
				if err := p.send(MsgPing, PingPayload{Nonce: nonce}); err != nil {
					n.logger.Debug("ping failed", zap.String("peer", p.nodeID), zap.Error(err))
				}
			}
			n.mu.RUnlock()
		}
	}
}

// cleanupLoop drops peers that have gone silent past PeerTimeout.
func (n *Node) cleanupLoop(ctx context.Context) {
	interval := n.cfg.PeerTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stale []*peer
			n.mu.RLock()
			for _, p := range n.peers {
				if p.silentFor() > n.cfg.PeerTimeout {
					stale = append(stale, p)
				}
			}
			n.mu.RUnlock()
			for _, p := range stale {
				n.logger.Info("dropping unresponsive peer", zap.String("peer", p.nodeID))
				p.close()
			}
		}
	}
}
