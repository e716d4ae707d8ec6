package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"computechain.dev/node/internal/chain"
	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/consensus"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/logging"
	"computechain.dev/node/internal/mempool"
	"computechain.dev/node/internal/p2p"
	"computechain.dev/node/internal/proposer"
	"computechain.dev/node/internal/snapshot"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/storage"
	"computechain.dev/node/internal/types"
)

// runOptions collects the run subcommand's flags. host/port are accepted
// for forward compatibility with the query-surface CLI contract but are
// otherwise unused: the HTTP/JSON query surface itself is out of scope
// for this version.
type runOptions struct {
	datadir      string
	network      string
	host         string
	port         int
	p2pHost      string
	p2pPort      int
	peers        string
	rebuildState bool
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ComputeChain node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts)
		},
	}
	cmd.Flags().StringVar(&opts.datadir, "datadir", "./data", "data directory")
	cmd.Flags().StringVar(&opts.network, "network", "dev", "network profile (dev, test, main)")
	cmd.Flags().StringVar(&opts.host, "host", "0.0.0.0", "reserved for the query surface (unused)")
	cmd.Flags().IntVar(&opts.port, "port", 8080, "reserved for the query surface (unused)")
	cmd.Flags().StringVar(&opts.p2pHost, "p2p-host", "0.0.0.0", "P2P listen host")
	cmd.Flags().IntVar(&opts.p2pPort, "p2p-port", 26656, "P2P listen port")
	cmd.Flags().StringVar(&opts.peers, "peers", "", "comma-separated bootstrap peer addresses")
	cmd.Flags().BoolVar(&opts.rebuildState, "rebuild-state", false, "replay every stored block against a fresh state overlay before starting")
	return cmd
}

func runNode(opts runOptions) error {
	params, ok := config.Profile(opts.network)
	if !ok {
		return fmt.Errorf("unknown network profile %q", opts.network)
	}

	logger, err := logging.New(opts.network == "dev")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	keyPath := filepath.Join(opts.datadir, validatorKeyFile)
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read validator key (run `computechaind init` first): %w", err)
	}
	priv := crypto.PrivateKeyFromBytes(keyBytes)
	consensusAddr, err := crypto.DeriveAddress(params.ValidatorHRP, priv.PublicKey())
	if err != nil {
		return fmt.Errorf("derive validator address: %w", err)
	}

	store, err := storage.Open(filepath.Join(opts.datadir, "chain.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	st, err := state.New(store, params)
	if err != nil {
		return fmt.Errorf("open state engine: %w", err)
	}
	selector := consensus.New()

	ch, err := chain.New(store, st, selector, params, logger)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}

	snapMgr := snapshot.NewManager(opts.datadir, params.NetworkID, params.SnapshotRetentionCount)
	ch.SetSnapshotProducer(snapMgr)

	if opts.rebuildState {
		logger.Info("rebuilding state from stored blocks")
		if err := ch.RebuildState(); err != nil {
			return fmt.Errorf("rebuild state: %w", err)
		}
	}

	if ch.Tip().Empty() {
		if err := bootstrapGenesis(ch, st, opts.datadir, params, priv, consensusAddr, logger); err != nil {
			return err
		}
	}

	mp := mempool.New(params, mempool.Config{})

	prop := proposer.New(ch, mp, params, logger, priv, string(consensusAddr))

	var bootstrapPeers []string
	if opts.peers != "" {
		for _, addr := range strings.Split(opts.peers, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				bootstrapPeers = append(bootstrapPeers, addr)
			}
		}
	}

	node := p2p.New(p2pConfig(params, opts, bootstrapPeers), collaborators(ch, store, mp, snapMgr, logger), logger)
	prop.SetSyncGate(node)
	prop.SetBroadcastFunc(func(b *types.Block) {
		raw, err := chain.EncodeBlock(b)
		if err != nil {
			logger.Warn("encode block for broadcast failed", zap.Error(err))
			return
		}
		node.BroadcastBlock(raw)
	})

	if err := node.Start(); err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	prop.Start()

	logger.Info("node started",
		zap.String("network", params.NetworkID),
		zap.String("consensus_address", string(consensusAddr)),
		zap.Int64("tip_height", ch.Tip().Height),
		zap.String("node_id", node.NodeID()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	prop.Stop()
	if err := node.Stop(); err != nil {
		logger.Warn("p2p shutdown error", zap.Error(err))
	}
	logger.Info("node shut down cleanly")
	return nil
}

// bootstrapGenesis applies the genesis allocations to state and commits
// the signed height-0 block the first time a node finds an empty chain.
func bootstrapGenesis(ch *chain.Chain, st *state.Engine, datadir string, params config.Params, priv *crypto.PrivateKey, consensusAddr crypto.Address, logger *zap.Logger) error {
	genesisPath := filepath.Join(datadir, genesisFileName)
	g, err := chain.LoadGenesisFile(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis file (run `computechaind init` first): %w", err)
	}
	if err := ch.ApplyGenesisAllocations(g); err != nil {
		return fmt.Errorf("apply genesis allocations: %w", err)
	}

	stateRoot, err := st.ComputeStateRoot()
	if err != nil {
		return fmt.Errorf("compute genesis state root: %w", err)
	}

	header := types.Header{
		Height:          0,
		PrevHash:        types.GenesisPrevHash,
		Timestamp:       g.GenesisTime,
		ChainID:         params.NetworkID,
		ProposerAddress: string(consensusAddr),
		Round:           0,
		TxRoot:          chain.TxRoot(nil),
		StateRoot:       stateRoot,
		ComputeRoot:     chain.ComputeRoot(nil),
		GasUsed:         0,
		GasLimit:        params.BlockGasLimit,
	}
	headerHash := header.Hash()
	sig, err := crypto.Sign(priv, headerHash.Bytes())
	if err != nil {
		return fmt.Errorf("sign genesis header: %w", err)
	}

	genesisBlock := &types.Block{Header: header, PQSignature: sig}
	if err := ch.AddBlock(genesisBlock); err != nil {
		return fmt.Errorf("commit genesis block: %w", err)
	}
	logger.Info("genesis block committed", zap.Int64("genesis_time", g.GenesisTime))
	return nil
}

func p2pConfig(params config.Params, opts runOptions, bootstrapPeers []string) p2p.Config {
	return p2p.Config{
		NetworkID:             params.NetworkID,
		ProtocolVersion:       1,
		ListenHost:            opts.p2pHost,
		ListenPort:            opts.p2pPort,
		BootstrapPeers:        bootstrapPeers,
		StatusInterval:        params.StatusInterval,
		PingInterval:          params.PingInterval,
		PeerTimeout:           params.PeerTimeout,
		SyncTimeout:           params.SyncTimeout,
		HandshakeGracePeriod:  params.HandshakeGracePeriod,
		SnapshotSyncThreshold: params.SnapshotSyncThreshold,
		HeaderSyncWindow:      params.HeaderSyncWindow,
		MaxBlocksPerMessage:   params.MaxBlocksPerMessage,
		AcceptSnapshots:       true,
	}
}

// collaborators wires the P2P node's inversion-of-control hooks to the
// chain pipeline, mempool, and snapshot manager without letting package
// p2p import any of them directly.
func collaborators(ch *chain.Chain, store *storage.Store, mp *mempool.Mempool, snapMgr *snapshot.Manager, logger *zap.Logger) p2p.Collaborators {
	return p2p.Collaborators{
		OnNewBlock: func(raw []byte) error {
			block, err := chain.DecodeBlock(raw)
			if err != nil {
				return fmt.Errorf("decode gossiped block: %w", err)
			}
			return ch.AddBlock(block)
		},
		OnNewTx: func(raw []byte) error {
			var tx types.Transaction
			if err := json.Unmarshal(raw, &tx); err != nil {
				return fmt.Errorf("decode gossiped tx: %w", err)
			}
			return mp.AddTransaction(&tx)
		},
		GetCurrentHeight: func() int64 {
			return ch.Tip().Height
		},
		GetLastHash: func() string {
			return ch.Tip().LastHash.String()
		},
		GetGenesisHash: func() string {
			hash, err := hashAtHeight(store, 0)
			if err != nil {
				return ""
			}
			return hash
		},
		GetBlocksRange: func(from, to uint64) ([][]byte, error) {
			return blocksRange(store, from, to)
		},
		GetHeadersRange: func(from, to uint64) ([]p2p.HeaderEntry, error) {
			return headersRange(store, from, to)
		},
		GetHashAtHeight: func(height uint64) (string, error) {
			return hashAtHeight(store, height)
		},
		RollbackToHeight: func(height uint64) error {
			return ch.RollbackToHeight(height)
		},
		GetLatestSnapshotHeight: func() (uint64, bool) {
			return snapMgr.LatestHeight()
		},
		GetSnapshotBytes: func(height uint64) ([]byte, error) {
			return snapMgr.LoadBytes(height)
		},
		ApplySnapshotBytes: func(height uint64, data []byte) error {
			s, err := snapshot.Decode(data)
			if err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			if err := snapshot.Apply(ch.State(), s); err != nil {
				return fmt.Errorf("apply snapshot: %w", err)
			}
			logger.Info("applied snapshot", zap.Uint64("height", height))
			return nil
		},
	}
}

func hashAtHeight(store *storage.Store, height uint64) (string, error) {
	raw, err := store.GetBlockByHeight(height)
	if err != nil {
		return "", err
	}
	block, err := chain.DecodeBlock(raw)
	if err != nil {
		return "", err
	}
	return block.Header.Hash().String(), nil
}

func blocksRange(store *storage.Store, from, to uint64) ([][]byte, error) {
	var out [][]byte
	for h := from; h <= to; h++ {
		raw, err := store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		out = append(out, raw)
	}
	return out, nil
}

func headersRange(store *storage.Store, from, to uint64) ([]p2p.HeaderEntry, error) {
	var out []p2p.HeaderEntry
	for h := from; h <= to; h++ {
		raw, err := store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		block, err := chain.DecodeBlock(raw)
		if err != nil {
			break
		}
		out = append(out, p2p.HeaderEntry{Height: h, Hash: block.Header.Hash().String()})
	}
	return out, nil
}
