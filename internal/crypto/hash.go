// Package crypto provides the hashing, Merkle, signing, and address primitives
// that every other ComputeChain component builds on.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/crypto/ripemd160"
)

// HashSize is the length in bytes of a content hash.
const HashSize = 32

// Hash is a 32-byte content hash.
type Hash [HashSize]byte

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalJSON encodes the hash as a hex string, so canonical JSON
// serialization of blocks and transactions reads as hex, not a byte array.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex-string-encoded hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("crypto: decode hash: %w", err)
	}
	if len(b) != HashSize {
		return fmt.Errorf("crypto: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}

// Sum256 hashes data with SHA-256.
func Sum256(data []byte) Hash {
	return sha256.Sum256(data)
}

// SumMany hashes the concatenation of all chunks with SHA-256.
func SumMany(chunks ...[]byte) Hash {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Ripemd160 returns the RIPEMD-160 digest of data (20 bytes).
func Ripemd160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashThenRipemd160 applies SHA-256 then RIPEMD-160, the standard
// public-key-to-pubkey-hash transform used for address derivation.
func HashThenRipemd160(data []byte) [20]byte {
	sum := Sum256(data)
	return Ripemd160(sum[:])
}
