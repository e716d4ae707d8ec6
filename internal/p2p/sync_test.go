package p2p_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"computechain.dev/node/internal/p2p"
)

// ledgerBlock is the tiny wire shape syncLedger uses in place of a real
// types.Block, just enough to exercise linkage.
type ledgerBlock struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
	Prev   string `json:"prev"`
}

// syncLedger is a linear, in-memory block log behind Collaborators, rich
// enough to drive the full header-first ancestor discovery + block sync
// path against a real peer.
type syncLedger struct {
	mu     sync.Mutex
	blocks []ledgerBlock // index == height
}

func newSyncLedger(height uint64) *syncLedger {
	l := &syncLedger{blocks: []ledgerBlock{{Height: 0, Hash: "genesis", Prev: ""}}}
	for h := uint64(1); h <= height; h++ {
		prev := l.blocks[h-1].Hash
		l.blocks = append(l.blocks, ledgerBlock{Height: h, Hash: fmt.Sprintf("hash-%d", h), Prev: prev})
	}
	return l
}

func (l *syncLedger) collaborators() p2p.Collaborators {
	return p2p.Collaborators{
		OnNewBlock: func(raw []byte) error {
			var b ledgerBlock
			if err := json.Unmarshal(raw, &b); err != nil {
				return err
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			last := l.blocks[len(l.blocks)-1]
			if b.Prev != last.Hash {
				return fmt.Errorf("chain: prev_hash does not match tip")
			}
			if b.Height != last.Height+1 {
				return fmt.Errorf("chain: block height does not follow tip")
			}
			l.blocks = append(l.blocks, b)
			return nil
		},
		OnNewTx: func(tx []byte) error { return nil },
		GetCurrentHeight: func() int64 {
			l.mu.Lock()
			defer l.mu.Unlock()
			return int64(l.blocks[len(l.blocks)-1].Height)
		},
		GetLastHash: func() string {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.blocks[len(l.blocks)-1].Hash
		},
		GetGenesisHash: func() string { return "genesis" },
		GetBlocksRange: func(from, to uint64) ([][]byte, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			var out [][]byte
			for h := from; h <= to && h < uint64(len(l.blocks)); h++ {
				raw, err := json.Marshal(l.blocks[h])
				if err != nil {
					return nil, err
				}
				out = append(out, raw)
			}
			return out, nil
		},
		GetHeadersRange: func(from, to uint64) ([]p2p.HeaderEntry, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			var out []p2p.HeaderEntry
			for h := from; h <= to && h < uint64(len(l.blocks)); h++ {
				out = append(out, p2p.HeaderEntry{Height: h, Hash: l.blocks[h].Hash})
			}
			return out, nil
		},
		GetHashAtHeight: func(height uint64) (string, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			if height >= uint64(len(l.blocks)) {
				return "", fmt.Errorf("p2p: height %d not found", height)
			}
			return l.blocks[height].Hash, nil
		},
		RollbackToHeight: func(height uint64) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if height+1 > uint64(len(l.blocks)) {
				return fmt.Errorf("p2p: height %d exceeds tip", height)
			}
			l.blocks = l.blocks[:height+1]
			return nil
		},
	}
}

func (l *syncLedger) height() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(l.blocks[len(l.blocks)-1].Height)
}

func TestNodeSyncsFromBehindPeerOverBlockRange(t *testing.T) {
	logger := zap.NewNop()

	ahead := newSyncLedger(5)
	behind := newSyncLedger(0)

	nodeAhead := p2p.New(testConfig("computechain-dev"), ahead.collaborators(), logger)
	if err := nodeAhead.Start(); err != nil {
		t.Fatalf("nodeAhead.Start: %v", err)
	}
	defer nodeAhead.Stop()

	cfgBehind := testConfig("computechain-dev")
	cfgBehind.BootstrapPeers = []string{nodeAhead.ListenAddr()}
	nodeBehind := p2p.New(cfgBehind, behind.collaborators(), logger)
	if err := nodeBehind.Start(); err != nil {
		t.Fatalf("nodeBehind.Start: %v", err)
	}
	defer nodeBehind.Stop()

	waitFor(t, 5*time.Second, func() bool { return behind.height() == 5 })
}
