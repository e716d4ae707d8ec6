package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Node is the P2P gossip and sync endpoint. It holds no reference to
// internal/chain; everything it needs to drive the local state lives
// behind Collaborators.
type Node struct {
	cfg    Config
	nodeID string
	logger *zap.Logger
	collab Collaborators

	listener net.Listener

	mu    sync.RWMutex
	peers map[string]*peer // keyed by nodeID once handshaken

	syncMu        sync.Mutex
	syncState     SyncState
	syncPeer      string
	syncStartedAt time.Time
	cachedBlocks  [][]byte

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	snapWaitersMu sync.Mutex
	snapWaiters   map[uint64]chan SnapshotChunkPayload

	group  *errgroup.Group
	cancel func()
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Node with a freshly generated identity.
func New(cfg Config, collab Collaborators, logger *zap.Logger) *Node {
	return &Node{
		cfg:         cfg,
		nodeID:      uuid.NewString(),
		logger:      logger,
		collab:      collab,
		peers:       make(map[string]*peer),
		pending:     make(map[string]chan json.RawMessage),
		snapWaiters: make(map[uint64]chan SnapshotChunkPayload),
		syncState:   StateIdle,
		stopCh:      make(chan struct{}),
	}
}

// NodeID returns this node's self-assigned identity, shared in every
// handshake.
func (n *Node) NodeID() string { return n.nodeID }

// ListenAddr returns the address the node is actually bound to, useful
// when ListenPort is 0 and the OS assigns an ephemeral port.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Start opens the listener, launches the accept loop and periodic
// background tasks, and dials the configured bootstrap peers.
func (n *Node) Start() error {
	addr := net.JoinHostPort(n.cfg.ListenHost, strconv.Itoa(n.cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", addr, err)
	}
	n.listener = ln
	n.logger.Info("p2p node listening", zap.String("addr", addr), zap.String("node_id", n.nodeID))

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	n.group = g

	g.Go(func() error { n.statusLoop(gctx); return nil })
	g.Go(func() error { n.pingLoop(gctx); return nil })
	g.Go(func() error { n.cleanupLoop(gctx); return nil })

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.acceptLoop()
	}()

	for _, addr := range n.cfg.BootstrapPeers {
		addr := addr
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.dial(addr)
		}()
	}

	return nil
}

// Stop closes the listener and every connection and waits for background
// goroutines to return.
func (n *Node) Stop() error {
	close(n.stopCh)
	if n.cancel != nil {
		n.cancel()
	}
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.RLock()
	for _, p := range n.peers {
		p.close()
	}
	n.mu.RUnlock()
	n.wg.Wait()
	if n.group != nil {
		n.group.Wait()
	}
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.logger.Debug("accept error", zap.Error(err))
				return
			}
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleConn(conn, false, "")
		}()
	}
}

// dial connects out to a bootstrap or discovered peer address.
func (n *Node) dial(addr string) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		n.logger.Debug("dial failed", zap.String("addr", addr), zap.Error(err))
		return
	}
	n.handleConn(conn, true, addr)
}

// handleConn performs the handshake then services the connection's read
// loop until it closes.
func (n *Node) handleConn(conn net.Conn, outbound bool, dialedAddr string) {
	p := newPeer(conn)
	if outbound {
		p.persistAddr = dialedAddr
	}

	remoteHost, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	if err := n.doHandshake(p, outbound, remoteHost); err != nil {
		n.logger.Debug("handshake failed", zap.Error(err), zap.Bool("outbound", outbound))
		conn.Close()
		return
	}

	n.mu.Lock()
	n.peers[p.nodeID] = p
	n.mu.Unlock()
	n.logger.Info("peer connected", zap.String("peer", p.nodeID), zap.Bool("outbound", outbound))

	n.maybeStartSync(p)

	n.readLoop(p)

	n.mu.Lock()
	delete(n.peers, p.nodeID)
	n.mu.Unlock()
	p.close()
	n.logger.Info("peer disconnected", zap.String("peer", p.nodeID))
}

func (n *Node) readLoop(p *peer) {
	scanner := frameScanner(p.conn)
	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			n.logger.Debug("malformed frame", zap.Error(err), zap.String("peer", p.nodeID))
			return
		}
		p.touch()
		n.dispatch(p, env)
	}
}

// dispatch routes one decoded envelope to its handler, and also delivers
// it to any in-flight request() waiting on a reply of this type.
func (n *Node) dispatch(p *peer, env Envelope) {
	n.deliverPending(p.nodeID, env.Type, env.Payload)

	switch env.Type {
	case MsgHandshake:
		n.handleHandshakeMessage(p, env.Payload)
	case MsgStatus:
		n.handleStatus(p, env.Payload)
	case MsgPing:
		n.handlePing(p, env.Payload)
	case MsgPong:
		// liveness only; touch() already recorded above.
	case MsgNewBlock:
		n.handleNewBlock(p, env.Payload)
	case MsgNewTx:
		n.handleNewTx(p, env.Payload)
	case MsgGetHeaders:
		n.handleGetHeaders(p, env.Payload)
	case MsgGetBlocks:
		n.handleGetBlocks(p, env.Payload)
	case MsgPeers:
		n.handlePeers(p, env.Payload)
	case MsgGetSnapshot:
		n.handleGetSnapshot(p, env.Payload)
	case MsgSnapshotChunk:
		n.handleSnapshotChunk(p, env.Payload)
	case MsgHeadersResponse, MsgBlocksResponse:
		// consumed by deliverPending above; nothing else to do.
	default:
		n.logger.Debug("unhandled message type", zap.String("type", string(env.Type)))
	}
}

// request sends typ to p and blocks for the first reply of kind replyType
// from that peer. Sync is strictly sequential per node (one outstanding
// request at a time), so a single pending slot per (peer, replyType) is
// sufficient.
func (n *Node) request(p *peer, typ MessageType, payload any, replyType MessageType) (json.RawMessage, error) {
	key := p.nodeID + "|" + string(replyType)
	ch := make(chan json.RawMessage, 1)

	n.pendingMu.Lock()
	n.pending[key] = ch
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, key)
		n.pendingMu.Unlock()
	}()

	if err := p.send(typ, payload); err != nil {
		return nil, err
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-time.After(n.cfg.SyncTimeout):
		return nil, fmt.Errorf("p2p: request %s timed out waiting for %s", typ, replyType)
	}
}

func (n *Node) deliverPending(peerID string, typ MessageType, payload json.RawMessage) {
	key := peerID + "|" + string(typ)
	n.pendingMu.Lock()
	ch, ok := n.pending[key]
	n.pendingMu.Unlock()
	if ok {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (n *Node) registerPendingSnapshot(height uint64) chan SnapshotChunkPayload {
	ch := make(chan SnapshotChunkPayload, 8)
	n.snapWaitersMu.Lock()
	n.snapWaiters[height] = ch
	n.snapWaitersMu.Unlock()
	return ch
}

func (n *Node) unregisterPendingSnapshot(height uint64) {
	n.snapWaitersMu.Lock()
	delete(n.snapWaiters, height)
	n.snapWaitersMu.Unlock()
}

// BroadcastBlock gossips a newly produced or received block to every
// connected peer.
func (n *Node) BroadcastBlock(raw []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.peers {
		if err := p.send(MsgNewBlock, NewBlockPayload{Block: raw}); err != nil {
			n.logger.Debug("broadcast block failed", zap.String("peer", p.nodeID), zap.Error(err))
		}
	}
}

// BroadcastTx gossips a locally admitted transaction to every connected
// peer.
func (n *Node) BroadcastTx(raw []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.peers {
		if err := p.send(MsgNewTx, NewTxPayload{Tx: raw}); err != nil {
			n.logger.Debug("broadcast tx failed", zap.String("peer", p.nodeID), zap.Error(err))
		}
	}
}

// PeerCount reports the number of handshaken peers, for status reporting.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func normalizeAdvertisedHost(advertised, observedHost string) string {
	if advertised == "" || advertised == "0.0.0.0" {
		return observedHost
	}
	host, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(observedHost, port)
	}
	return advertised
}
