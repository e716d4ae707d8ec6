package crypto_test

import (
	"encoding/json"
	"testing"

	"computechain.dev/node/internal/crypto"
)

func TestHashJSONRoundTrip(t *testing.T) {
	h := crypto.Sum256([]byte("header"))
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded crypto.Hash
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != h {
		t.Errorf("round trip mismatch: got %x, want %x", decoded, h)
	}
}

func TestSum256Deterministic(t *testing.T) {
	a := crypto.Sum256([]byte("block-header"))
	b := crypto.Sum256([]byte("block-header"))
	if a != b {
		t.Fatalf("Sum256 not deterministic: %x != %x", a, b)
	}
	c := crypto.Sum256([]byte("different"))
	if a == c {
		t.Fatalf("Sum256 collided on distinct inputs")
	}
}

func TestSumManyMatchesConcatenation(t *testing.T) {
	want := crypto.Sum256([]byte("ab"))
	got := crypto.SumMany([]byte("a"), []byte("b"))
	if got != want {
		t.Fatalf("SumMany(%q,%q) = %x, want %x", "a", "b", got, want)
	}
}

func TestHashIsZero(t *testing.T) {
	var h crypto.Hash
	if !h.IsZero() {
		t.Errorf("zero-value Hash reported non-zero")
	}
	h = crypto.Sum256([]byte("x"))
	if h.IsZero() {
		t.Errorf("non-zero Hash reported zero")
	}
}

func TestHashThenRipemd160Length(t *testing.T) {
	out := crypto.HashThenRipemd160([]byte("pubkey-bytes"))
	if len(out) != 20 {
		t.Fatalf("HashThenRipemd160 returned %d bytes, want 20", len(out))
	}
}
