package snapshot

import "errors"

// ErrHashMismatch is returned by Decode when a snapshot's content does not
// match its own advertised self-hash. Callers should refuse the snapshot
// and fall back to block sync.
var ErrHashMismatch = errors.New("snapshot: self-hash mismatch")
