package p2p

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// doHandshake exchanges HANDSHAKE envelopes with a freshly connected peer:
// network ID and genesis hash must match, or the connection is rejected.
func (n *Node) doHandshake(p *peer, outbound bool, remoteHost string) error {
	p.conn.SetDeadline(time.Now().Add(n.cfg.HandshakeGracePeriod))
	defer p.conn.SetDeadline(time.Time{})

	local := n.localHandshakePayload()
	if err := p.send(MsgHandshake, local); err != nil {
		return fmt.Errorf("p2p: send handshake: %w", err)
	}

	scanner := frameScanner(p.conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("p2p: read handshake: %w", err)
		}
		return fmt.Errorf("p2p: peer closed before handshake")
	}

	var env Envelope
	if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
		return fmt.Errorf("p2p: decode handshake envelope: %w", err)
	}
	if env.Type != MsgHandshake {
		return fmt.Errorf("p2p: expected HANDSHAKE, got %s", env.Type)
	}
	var remote HandshakePayload
	if err := json.Unmarshal(env.Payload, &remote); err != nil {
		return fmt.Errorf("p2p: decode handshake payload: %w", err)
	}

	if remote.NetworkID != n.cfg.NetworkID {
		return fmt.Errorf("p2p: network mismatch: local %q remote %q", n.cfg.NetworkID, remote.NetworkID)
	}
	if remote.GenesisHash != n.collab.GetGenesisHash() {
		return fmt.Errorf("p2p: genesis mismatch: local %q remote %q", n.collab.GetGenesisHash(), remote.GenesisHash)
	}
	if remote.NodeID == n.nodeID {
		return fmt.Errorf("p2p: refusing to connect to self")
	}

	p.nodeID = remote.NodeID
	p.protocolVersion = remote.ProtocolVersion
	p.recordStatus(remote.BestHeight, remote.BestHash)
	p.mu.Lock()
	p.latestSnapshot = remote.LatestSnapshotHeight
	p.mu.Unlock()

	if !outbound {
		p.persistAddr = net.JoinHostPort(remoteHost, portString(remote.P2PPort))
	} else {
		p.persistAddr = normalizeAdvertisedHost(p.persistAddr, remoteHost)
	}

	return nil
}

func portString(port int) string {
	return fmt.Sprintf("%d", port)
}

// localHandshakePayload builds this node's own HANDSHAKE payload, used both
// for the initial exchange and for the unsolicited resend that nudges a
// peer which has fallen behind (see handleHeightGap in gossip.go).
func (n *Node) localHandshakePayload() HandshakePayload {
	return HandshakePayload{
		NodeID:               n.nodeID,
		P2PPort:              n.cfg.ListenPort,
		ProtocolVersion:      n.cfg.ProtocolVersion,
		NetworkID:            n.cfg.NetworkID,
		BestHeight:           n.collab.GetCurrentHeight(),
		BestHash:             n.collab.GetLastHash(),
		GenesisHash:          n.collab.GetGenesisHash(),
		LatestSnapshotHeight: n.latestSnapshotHeight(),
	}
}

func (n *Node) latestSnapshotHeight() uint64 {
	if n.collab.GetLatestSnapshotHeight == nil {
		return 0
	}
	height, ok := n.collab.GetLatestSnapshotHeight()
	if !ok {
		return 0
	}
	return height
}
