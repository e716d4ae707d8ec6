package crypto

import (
	"errors"

	"github.com/decred/dcrd/bech32"
)

// AddressSize is the length in bytes of the pubkey-hash payload encoded in
// an address.
const AddressSize = 20

// ErrInvalidAddress is returned when an address string fails to decode or
// carries an unexpected payload length.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address is a Bech32-encoded account identifier, the RIPEMD-160-of-SHA-256
// hash of an account's public key.
type Address string

// DeriveAddress computes the address for a compressed public key under the
// given human-readable prefix (e.g. "cc" for mainnet, "tcc" for testnet).
func DeriveAddress(hrp string, pubKey []byte) (Address, error) {
	payload := HashThenRipemd160(pubKey)
	converted, err := bech32.ConvertBits(payload[:], 8, 5, true)
	if err != nil {
		return "", err
	}
	encoded, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", err
	}
	return Address(encoded), nil
}

// DecodeAddress recovers the 20-byte pubkey-hash payload and HRP from an
// address string.
func DecodeAddress(addr Address) (hrp string, payload [20]byte, err error) {
	hrp, data, err := bech32.Decode(string(addr))
	if err != nil {
		return "", payload, ErrInvalidAddress
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", payload, ErrInvalidAddress
	}
	if len(raw) != AddressSize {
		return "", payload, ErrInvalidAddress
	}
	copy(payload[:], raw)
	return hrp, payload, nil
}
