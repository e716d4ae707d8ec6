package crypto

import "errors"

// SchemeECDSAP256 is the only signature scheme this version implements. The
// scheme id travels with every block so a future scheme can be introduced
// without breaking the wire format; verifiers that don't recognize a scheme
// id must reject the block rather than guess.
const SchemeECDSAP256 uint8 = 0

// ErrUnknownScheme is returned when a signature envelope names a scheme id
// this build does not implement.
var ErrUnknownScheme = errors.New("crypto: unknown signature scheme")

// SignedEnvelope pairs a raw signature with the scheme that produced it.
// Public keys remain scheme-opaque: the envelope records only which scheme
// the bytes were signed under, not how the key was derived.
type SignedEnvelope struct {
	SchemeID  uint8
	Signature []byte
}

// Sign produces a scheme-tagged signature envelope over hash. Only
// SchemeECDSAP256 exists today; the envelope shape is what makes adding a
// second scheme later a wire-compatible change.
func Sign(priv *PrivateKey, hash []byte) (SignedEnvelope, error) {
	sig, err := priv.Sign(hash)
	if err != nil {
		return SignedEnvelope{}, err
	}
	return SignedEnvelope{SchemeID: SchemeECDSAP256, Signature: sig}, nil
}

// VerifyEnvelope checks a scheme-tagged signature envelope against pubKey
// and hash.
func VerifyEnvelope(pubKey, hash []byte, env SignedEnvelope) (bool, error) {
	if env.SchemeID != SchemeECDSAP256 {
		return false, ErrUnknownScheme
	}
	return Verify(pubKey, hash, env.Signature)
}
