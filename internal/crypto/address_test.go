package crypto_test

import (
	"testing"

	"computechain.dev/node/internal/crypto"
)

func TestDeriveAddressRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	addr, err := crypto.DeriveAddress("cc", priv.PublicKey())
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}

	hrp, payload, err := crypto.DecodeAddress(addr)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if hrp != "cc" {
		t.Errorf("hrp = %q, want %q", hrp, "cc")
	}

	want := crypto.HashThenRipemd160(priv.PublicKey())
	if payload != want {
		t.Errorf("decoded payload = %x, want %x", payload, want)
	}
}

func TestDeriveAddressDiffersByPrefix(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	mainnet, err := crypto.DeriveAddress("cc", priv.PublicKey())
	if err != nil {
		t.Fatalf("DeriveAddress(cc): %v", err)
	}
	testnet, err := crypto.DeriveAddress("tcc", priv.PublicKey())
	if err != nil {
		t.Fatalf("DeriveAddress(tcc): %v", err)
	}
	if mainnet == testnet {
		t.Errorf("addresses under different HRPs should not match")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, _, err := crypto.DecodeAddress("not-a-bech32-string"); err == nil {
		t.Errorf("DecodeAddress accepted a malformed address")
	}
}
