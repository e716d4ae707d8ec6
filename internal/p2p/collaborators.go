package p2p

// Collaborators is the capability set the P2P node is handed at
// construction instead of importing internal/chain directly: a deliberate
// inversion-of-control boundary, a struct of function pointers standing in
// for a capability-set trait.
type Collaborators struct {
	// OnNewBlock applies a gossiped or synced block through the pipeline.
	OnNewBlock func(block []byte) error
	// OnNewTx admits a gossiped transaction into the mempool.
	OnNewTx func(tx []byte) error

	GetCurrentHeight func() int64
	GetLastHash      func() string
	GetGenesisHash   func() string

	// GetBlocksRange returns raw block JSON for [from, to], ascending.
	GetBlocksRange func(from, to uint64) ([][]byte, error)
	// GetHeadersRange returns {height, hash} pairs for [from, to], ascending.
	GetHeadersRange func(from, to uint64) ([]HeaderEntry, error)
	// GetHashAtHeight returns the stored block hash at height, or an error
	// if no block exists there — used during header-first ancestor scan.
	GetHashAtHeight func(height uint64) (string, error)

	RollbackToHeight func(height uint64) error

	GetLatestSnapshotHeight func() (uint64, bool)
	GetSnapshotBytes        func(height uint64) ([]byte, error)
	ApplySnapshotBytes      func(height uint64, data []byte) error
}
