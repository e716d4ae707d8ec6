package crypto_test

import (
	"testing"

	"computechain.dev/node/internal/crypto"
)

func TestMerkleRootEmpty(t *testing.T) {
	got := crypto.MerkleRoot(nil)
	want := crypto.Sum256(nil)
	if got != want {
		t.Fatalf("MerkleRoot(nil) = %x, want %x", got, want)
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := crypto.Sum256([]byte("only-tx"))
	got := crypto.MerkleRoot([]crypto.Hash{leaf})
	if got != leaf {
		t.Fatalf("MerkleRoot of single leaf = %x, want %x", got, leaf)
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a := crypto.Sum256([]byte("a"))
	b := crypto.Sum256([]byte("b"))
	c := crypto.Sum256([]byte("c"))

	got := crypto.MerkleRoot([]crypto.Hash{a, b, c})
	want := crypto.MerkleRoot([]crypto.Hash{a, b, c, c})
	if got != want {
		t.Fatalf("odd-leaf root %x does not match explicit duplication %x", got, want)
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	a := crypto.Sum256([]byte("a"))
	b := crypto.Sum256([]byte("b"))

	r1 := crypto.MerkleRoot([]crypto.Hash{a, b})
	r2 := crypto.MerkleRoot([]crypto.Hash{b, a})
	if r1 == r2 {
		t.Fatalf("MerkleRoot should be order-sensitive, got equal roots for reversed leaves")
	}
}
