package p2p

import "time"

// Config bounds the node's timing and protocol parameters, sourced from
// internal/config's network profile by the daemon entrypoint.
type Config struct {
	NetworkID       string
	ProtocolVersion int
	ListenHost      string
	ListenPort      int
	BootstrapPeers  []string

	StatusInterval        time.Duration
	PingInterval          time.Duration
	PeerTimeout           time.Duration
	SyncTimeout           time.Duration
	HandshakeGracePeriod  time.Duration
	SnapshotSyncThreshold uint64
	HeaderSyncWindow      uint64
	MaxBlocksPerMessage   int
	AcceptSnapshots       bool
}
