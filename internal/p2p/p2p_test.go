package p2p_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"computechain.dev/node/internal/p2p"
)

// fakeChain is a minimal stand-in for internal/chain wired through
// Collaborators, tracking the blocks/txs it was asked to apply.
type fakeChain struct {
	mu     sync.Mutex
	height int64
	hash   string

	genesisHash string

	receivedBlocks [][]byte
	receivedTxs    [][]byte
}

func newFakeChain(genesisHash string) *fakeChain {
	return &fakeChain{height: 0, hash: genesisHash, genesisHash: genesisHash}
}

func (f *fakeChain) collaborators() p2p.Collaborators {
	return p2p.Collaborators{
		OnNewBlock: func(block []byte) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.receivedBlocks = append(f.receivedBlocks, block)
			f.height++
			return nil
		},
		OnNewTx: func(tx []byte) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.receivedTxs = append(f.receivedTxs, tx)
			return nil
		},
		GetCurrentHeight: func() int64 {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.height
		},
		GetLastHash: func() string {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.hash
		},
		GetGenesisHash: func() string { return f.genesisHash },
		GetBlocksRange: func(from, to uint64) ([][]byte, error) { return nil, nil },
		GetHeadersRange: func(from, to uint64) ([]p2p.HeaderEntry, error) { return nil, nil },
		GetHashAtHeight: func(height uint64) (string, error) { return "", nil },
		RollbackToHeight: func(height uint64) error { return nil },
	}
}

func (f *fakeChain) blockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receivedBlocks)
}

func (f *fakeChain) txCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receivedTxs)
}

func testConfig(networkID string) p2p.Config {
	return p2p.Config{
		NetworkID:             networkID,
		ProtocolVersion:       1,
		ListenHost:            "127.0.0.1",
		ListenPort:            0,
		StatusInterval:        200 * time.Millisecond,
		PingInterval:          200 * time.Millisecond,
		PeerTimeout:           5 * time.Second,
		SyncTimeout:           2 * time.Second,
		HandshakeGracePeriod:  2 * time.Second,
		SnapshotSyncThreshold: 100,
		HeaderSyncWindow:      500,
		MaxBlocksPerMessage:   100,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHandshakeEstablishesPeerOnBothSides(t *testing.T) {
	logger := zap.NewNop()
	chainA := newFakeChain("genesis-hash-1")
	chainB := newFakeChain("genesis-hash-1")

	nodeA := p2p.New(testConfig("computechain-dev"), chainA.collaborators(), logger)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("nodeA.Start: %v", err)
	}
	defer nodeA.Stop()

	cfgB := testConfig("computechain-dev")
	cfgB.BootstrapPeers = []string{nodeA.ListenAddr()}
	nodeB := p2p.New(cfgB, chainB.collaborators(), logger)
	if err := nodeB.Start(); err != nil {
		t.Fatalf("nodeB.Start: %v", err)
	}
	defer nodeB.Stop()

	waitFor(t, 3*time.Second, func() bool { return nodeA.PeerCount() == 1 && nodeB.PeerCount() == 1 })
}

func TestHandshakeRejectsGenesisMismatch(t *testing.T) {
	logger := zap.NewNop()
	chainA := newFakeChain("genesis-hash-1")
	chainB := newFakeChain("genesis-hash-DIFFERENT")

	nodeA := p2p.New(testConfig("computechain-dev"), chainA.collaborators(), logger)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("nodeA.Start: %v", err)
	}
	defer nodeA.Stop()

	cfgB := testConfig("computechain-dev")
	cfgB.BootstrapPeers = []string{nodeA.ListenAddr()}
	nodeB := p2p.New(cfgB, chainB.collaborators(), logger)
	if err := nodeB.Start(); err != nil {
		t.Fatalf("nodeB.Start: %v", err)
	}
	defer nodeB.Stop()

	// Give the dial+handshake attempt time to run and fail; neither side
	// should ever register a connected peer.
	time.Sleep(500 * time.Millisecond)
	if nodeA.PeerCount() != 0 || nodeB.PeerCount() != 0 {
		t.Fatalf("peer registered despite genesis mismatch: A=%d B=%d", nodeA.PeerCount(), nodeB.PeerCount())
	}
}

func TestBroadcastBlockReachesConnectedPeer(t *testing.T) {
	logger := zap.NewNop()
	chainA := newFakeChain("genesis-hash-1")
	chainB := newFakeChain("genesis-hash-1")

	nodeA := p2p.New(testConfig("computechain-dev"), chainA.collaborators(), logger)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("nodeA.Start: %v", err)
	}
	defer nodeA.Stop()

	cfgB := testConfig("computechain-dev")
	cfgB.BootstrapPeers = []string{nodeA.ListenAddr()}
	nodeB := p2p.New(cfgB, chainB.collaborators(), logger)
	if err := nodeB.Start(); err != nil {
		t.Fatalf("nodeB.Start: %v", err)
	}
	defer nodeB.Stop()

	waitFor(t, 3*time.Second, func() bool { return nodeA.PeerCount() == 1 })

	nodeA.BroadcastBlock([]byte(`{"header":{"height":1}}`))
	waitFor(t, 3*time.Second, func() bool { return chainB.blockCount() == 1 })
}

func TestBroadcastTxReachesConnectedPeer(t *testing.T) {
	logger := zap.NewNop()
	chainA := newFakeChain("genesis-hash-1")
	chainB := newFakeChain("genesis-hash-1")

	nodeA := p2p.New(testConfig("computechain-dev"), chainA.collaborators(), logger)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("nodeA.Start: %v", err)
	}
	defer nodeA.Stop()

	cfgB := testConfig("computechain-dev")
	cfgB.BootstrapPeers = []string{nodeA.ListenAddr()}
	nodeB := p2p.New(cfgB, chainB.collaborators(), logger)
	if err := nodeB.Start(); err != nil {
		t.Fatalf("nodeB.Start: %v", err)
	}
	defer nodeB.Stop()

	waitFor(t, 3*time.Second, func() bool { return nodeA.PeerCount() == 1 })

	nodeA.BroadcastTx([]byte(`{"type":"TRANSFER"}`))
	waitFor(t, 3*time.Second, func() bool { return chainB.txCount() == 1 })
}
