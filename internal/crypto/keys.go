package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"
)

// SignatureSize is the fixed length of a raw r||s signature on P-256.
const SignatureSize = 64

var curve = elliptic.P256()

// ErrInvalidSignature is returned by Verify when the signature fails to
// validate against the supplied public key and hash.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// ErrMalformedPublicKey is returned when a public key byte string does not
// decode to a point on the curve.
var ErrMalformedPublicKey = errors.New("crypto: malformed public key")

// PrivateKey wraps an ECDSA private key on P-256.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GenerateKeyPair creates a new random keypair.
func GenerateKeyPair() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes reconstructs a private key from its raw scalar bytes.
func PrivateKeyFromBytes(b []byte) *PrivateKey {
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = new(big.Int).SetBytes(b)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(b)
	return &PrivateKey{key: priv}
}

// Bytes returns the raw scalar bytes of the private key.
func (p *PrivateKey) Bytes() []byte {
	return p.key.D.FillBytes(make([]byte, 32))
}

// PublicKey returns the deterministic public key derived from this private
// key, compressed-point encoded.
func (p *PrivateKey) PublicKey() []byte {
	return elliptic.MarshalCompressed(curve, p.key.PublicKey.X, p.key.PublicKey.Y)
}

// Sign produces a raw 64-byte r||s signature over hash.
func (p *PrivateKey) Sign(hash []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, p.key, hash)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks a raw 64-byte r||s signature over hash against the given
// compressed public key bytes.
func Verify(pubKey, hash, sig []byte) (bool, error) {
	if len(sig) != SignatureSize {
		return false, ErrInvalidSignature
	}
	x, y := elliptic.UnmarshalCompressed(curve, pubKey)
	if x == nil {
		return false, ErrMalformedPublicKey
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(pub, hash, r, s) {
		return false, ErrInvalidSignature
	}
	return true, nil
}

// PublicKeyFromBytes validates that pubKey decodes to a point on the curve
// and returns it unchanged if so.
func PublicKeyFromBytes(pubKey []byte) ([]byte, error) {
	x, y := elliptic.UnmarshalCompressed(curve, pubKey)
	if x == nil {
		return nil, ErrMalformedPublicKey
	}
	return elliptic.MarshalCompressed(curve, x, y), nil
}
