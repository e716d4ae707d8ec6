// Package p2p implements the gossip and fork-resolving synchronization
// node: newline-delimited JSON framing over TCP, a handshake/peer table, a
// sync state machine, and periodic liveness tasks. It depends on the block
// pipeline only through the Collaborators hook struct, never by importing
// internal/chain directly, so it can be exercised in isolation.
package p2p

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType enumerates the wire message kinds this node sends and receives.
type MessageType string

const (
	MsgHandshake        MessageType = "HANDSHAKE"
	MsgStatus           MessageType = "STATUS"
	MsgPing             MessageType = "PING"
	MsgPong             MessageType = "PONG"
	MsgNewBlock         MessageType = "NEW_BLOCK"
	MsgNewTx            MessageType = "NEW_TX"
	MsgGetBlocks        MessageType = "GET_BLOCKS"
	MsgBlocksResponse   MessageType = "BLOCKS_RESPONSE"
	MsgGetHeaders       MessageType = "GET_HEADERS"
	MsgHeadersResponse  MessageType = "HEADERS_RESPONSE"
	MsgPeers            MessageType = "PEERS"
	MsgGetSnapshot      MessageType = "GET_SNAPSHOT"
	MsgSnapshotChunk    MessageType = "SNAPSHOT_CHUNK"
)

// MaxFrameSize is the hard cap on a single newline-delimited frame.
const MaxFrameSize = 10 << 20 // 10 MiB

// Envelope is the top-level wire frame: a message type name and its
// type-specific payload, encoded as one line of JSON.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// encodeEnvelope marshals v as payload under typ and appends the newline
// frame delimiter.
func encodeEnvelope(typ MessageType, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode %s payload: %w", typ, err)
	}
	env := Envelope{Type: typ, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode envelope: %w", err)
	}
	return append(raw, '\n'), nil
}

// frameScanner wraps a bufio.Scanner configured for newline-delimited
// frames up to MaxFrameSize, used by each connection's read loop.
func frameScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return s
}

// HandshakePayload is exchanged by both sides immediately after connect.
type HandshakePayload struct {
	NodeID                string `json:"node_id"`
	P2PPort               int    `json:"p2p_port"`
	ProtocolVersion       int    `json:"protocol_version"`
	NetworkID             string `json:"network_id"`
	BestHeight            int64  `json:"best_height"`
	BestHash              string `json:"best_hash"`
	GenesisHash           string `json:"genesis_hash"`
	LatestSnapshotHeight  uint64 `json:"latest_snapshot_height"`
}

// StatusPayload is the periodic height/hash broadcast.
type StatusPayload struct {
	BestHeight int64  `json:"best_height"`
	BestHash   string `json:"best_hash"`
}

// PingPayload and PongPayload carry a nonce so a PONG can be matched to its
// PING, though this version doesn't use the round trip for anything beyond
// liveness.
type PingPayload struct {
	Nonce int64 `json:"nonce"`
}

type PongPayload struct {
	Nonce int64 `json:"nonce"`
}

// NewBlockPayload wraps a gossiped block as canonical JSON bytes — encoded
// once by internal/chain's codec, carried opaquely here.
type NewBlockPayload struct {
	Block json.RawMessage `json:"block"`
}

// NewTxPayload wraps a single gossiped transaction as JSON.
type NewTxPayload struct {
	Tx json.RawMessage `json:"tx"`
}

// GetBlocksPayload requests the blocks at heights From through To,
// inclusive at both ends.
type GetBlocksPayload struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// BlocksResponsePayload carries the requested blocks, each as raw JSON.
type BlocksResponsePayload struct {
	Blocks []json.RawMessage `json:"blocks"`
}

// GetHeadersPayload requests a window of headers for fork discovery.
type GetHeadersPayload struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// HeaderEntry is one {height, hash} pair in a headers response.
type HeaderEntry struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// HeadersResponsePayload carries a window of header digests, ascending by
// height.
type HeadersResponsePayload struct {
	Headers []HeaderEntry `json:"headers"`
}

// PeersPayload shares known peer addresses for discovery.
type PeersPayload struct {
	Addresses []string `json:"addresses"`
}

// GetSnapshotPayload requests a snapshot at a specific height.
type GetSnapshotPayload struct {
	Height uint64 `json:"height"`
}

// SnapshotChunkPayload is one framed piece of a snapshot transfer.
// TotalChunks lets the receiver know when reassembly is complete.
type SnapshotChunkPayload struct {
	Height      uint64 `json:"height"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Data        []byte `json:"data"`
}
