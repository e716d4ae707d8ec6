// Package snapshot builds, persists, and restores the compressed,
// content-addressed state snapshots used for fast-sync. It is a standalone
// package rather than folded into internal/chain so the file-format
// concerns (compression, retention, naming) stay out of the pipeline's
// hot path.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/types"
)

// FormatVersion is written into every snapshot produced by this build.
const FormatVersion uint32 = 1

// hashable mirrors types.Snapshot but omits SelfHash, so the self-hash is
// computed over every field but itself.
type hashable struct {
	Version     uint32             `json:"version"`
	NetworkID   string             `json:"network_id"`
	Height      uint64             `json:"height"`
	EpochIndex  uint64             `json:"epoch_index"`
	Timestamp   int64              `json:"timestamp"`
	TotalBurned uint64             `json:"total_burned"`
	TotalMinted uint64             `json:"total_minted"`
	Accounts    []*types.Account   `json:"accounts"`
	Validators  []*types.Validator `json:"validators"`
}

// SelfHash computes the content-address of a snapshot: SHA-256 over the
// canonical, key-sorted JSON encoding of every field but SelfHash itself.
// Accounts and validators are sorted by address first so the hash doesn't
// depend on map iteration order upstream.
func SelfHash(s *types.Snapshot) (crypto.Hash, error) {
	accounts := append([]*types.Account(nil), s.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })
	validators := append([]*types.Validator(nil), s.Validators...)
	sort.Slice(validators, func(i, j int) bool {
		return validators[i].ConsensusAddress < validators[j].ConsensusAddress
	})

	h := hashable{
		Version:     s.Version,
		NetworkID:   s.NetworkID,
		Height:      s.Height,
		EpochIndex:  s.EpochIndex,
		Timestamp:   s.Timestamp,
		TotalBurned: s.TotalBurned,
		TotalMinted: s.TotalMinted,
		Accounts:    accounts,
		Validators:  validators,
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("snapshot: encode for hashing: %w", err)
	}
	// Re-encode through generic maps so every object's keys come out sorted;
	// UseNumber keeps uint64 values exact.
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return crypto.Hash{}, fmt.Errorf("snapshot: canonicalize for hashing: %w", err)
	}
	if raw, err = json.Marshal(generic); err != nil {
		return crypto.Hash{}, fmt.Errorf("snapshot: encode for hashing: %w", err)
	}
	return crypto.Sum256(raw), nil
}

// Build assembles a snapshot of st at height, stamping timestamp and
// networkID, with accounts and validators sorted by address and SelfHash
// computed and attached.
func Build(st *state.Engine, height uint64, networkID string, timestamp int64) (*types.Snapshot, error) {
	accounts, err := allAccounts(st)
	if err != nil {
		return nil, err
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })
	validators, err := st.GetAllValidators()
	if err != nil {
		return nil, err
	}

	s := &types.Snapshot{
		Version:     FormatVersion,
		NetworkID:   networkID,
		Height:      height,
		EpochIndex:  st.EpochIndex(),
		Timestamp:   timestamp,
		TotalBurned: st.TotalBurned(),
		TotalMinted: st.TotalMinted(),
		Accounts:    accounts,
		Validators:  validators,
	}
	hash, err := SelfHash(s)
	if err != nil {
		return nil, err
	}
	s.SelfHash = hash
	return s, nil
}

func allAccounts(st *state.Engine) ([]*types.Account, error) {
	addrs, err := st.AllAccountAddresses()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Account, 0, len(addrs))
	for _, addr := range addrs {
		acc, err := st.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// Encode gzip-compresses the canonical JSON encoding of a snapshot, the
// on-disk and on-wire representation (snapshot_<H>.json.gz).
func Encode(s *types.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("snapshot: compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses and parses a snapshot previously produced by Encode,
// then verifies its self-hash, refusing to return a snapshot whose content
// doesn't match its own advertised hash.
func Decode(compressed []byte) (*types.Snapshot, error) {
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress: %w", err)
	}
	defer gr.Close()

	var s types.Snapshot
	if err := json.NewDecoder(gr).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	want := s.SelfHash
	got, err := SelfHash(&s)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, ErrHashMismatch
	}
	return &s, nil
}

// Apply loads accounts and validators from a verified snapshot into st's
// overlay and persists them, the state-engine side of fast-sync.
func Apply(st *state.Engine, s *types.Snapshot) error {
	for _, acc := range s.Accounts {
		st.SetAccount(acc)
	}
	for _, v := range s.Validators {
		st.SetValidator(v)
	}
	st.SetEpochIndex(s.EpochIndex)
	if minted := s.TotalMinted; minted > st.TotalMinted() {
		st.Mint(minted - st.TotalMinted())
	}
	if burned := s.TotalBurned; burned > st.TotalBurned() {
		st.Burn(burned - st.TotalBurned())
	}
	return st.Persist()
}

// Manager writes snapshots to datadir and enforces the retention policy
// (keep the last N, by height).
type Manager struct {
	dataDir   string
	networkID string
	retain    int
}

// NewManager returns a Manager rooted at dataDir, retaining the most
// recent `retain` snapshots.
func NewManager(dataDir, networkID string, retain int) *Manager {
	return &Manager{dataDir: dataDir, networkID: networkID, retain: retain}
}

func (m *Manager) blobPath(height uint64) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("snapshot_%d.json.gz", height))
}

func (m *Manager) metaPath(height uint64) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("snapshot_%d_meta.json", height))
}

// meta is the small sidecar file recording a snapshot's self-hash and
// height without requiring decompression to inspect.
type meta struct {
	Height   uint64      `json:"height"`
	SelfHash crypto.Hash `json:"self_hash"`
}

// Produce builds, encodes, and writes a snapshot of st at height, then
// prunes older snapshots beyond the retention count. It satisfies
// internal/chain's SnapshotProducer collaborator interface.
func (m *Manager) Produce(height uint64, st *state.Engine, tip types.ChainTip) error {
	s, err := Build(st, height, m.networkID, tip.LastBlockTimestamp)
	if err != nil {
		return err
	}
	encoded, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create datadir: %w", err)
	}
	if err := os.WriteFile(m.blobPath(height), encoded, 0o644); err != nil {
		return fmt.Errorf("snapshot: write blob: %w", err)
	}
	metaRaw, err := json.Marshal(meta{Height: height, SelfHash: s.SelfHash})
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.metaPath(height), metaRaw, 0o644); err != nil {
		return fmt.Errorf("snapshot: write meta: %w", err)
	}
	return m.pruneOldest()
}

// LatestHeight returns the height of the most recent snapshot on disk, or
// ok=false if none exist.
func (m *Manager) LatestHeight() (uint64, bool) {
	heights := m.listHeights()
	if len(heights) == 0 {
		return 0, false
	}
	return heights[len(heights)-1], true
}

// LoadBytes returns the compressed snapshot bytes at height, for serving a
// peer's GET_SNAPSHOT request.
func (m *Manager) LoadBytes(height uint64) ([]byte, error) {
	raw, err := os.ReadFile(m.blobPath(height))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read blob: %w", err)
	}
	return raw, nil
}

func (m *Manager) listHeights() []uint64 {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return nil
	}
	var heights []uint64
	for _, e := range entries {
		var h uint64
		if _, err := fmt.Sscanf(e.Name(), "snapshot_%d.json.gz", &h); err == nil {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

func (m *Manager) pruneOldest() error {
	if m.retain <= 0 {
		return nil
	}
	heights := m.listHeights()
	for len(heights) > m.retain {
		oldest := heights[0]
		heights = heights[1:]
		os.Remove(m.blobPath(oldest))
		os.Remove(m.metaPath(oldest))
	}
	return nil
}
