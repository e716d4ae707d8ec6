package state

import "fmt"

// nonceMismatchFormat is deliberately a parseable sentence: the proposer
// path (internal/proposer) parses "expected X, got Y" out of this error to
// distinguish a too-low nonce (truly invalid) from a future nonce (retained
// for reconsideration). Changing the wording breaks that parse.
const nonceMismatchFormat = "expected %d, got %d"

func newNonceError(expected, got uint64) error {
	return fmt.Errorf("state: nonce mismatch: "+nonceMismatchFormat, expected, got)
}

// ParseNonceMismatch extracts the expected and actual nonce from an error
// produced by newNonceError, for callers that need to tell a future nonce
// (got > expected) from a stale one (got < expected) without a typed error.
func ParseNonceMismatch(err error) (expected, got uint64, ok bool) {
	if err == nil {
		return 0, 0, false
	}
	var e, g uint64
	n, scanErr := fmt.Sscanf(err.Error(), "state: nonce mismatch: "+nonceMismatchFormat, &e, &g)
	if scanErr != nil || n != 2 {
		return 0, 0, false
	}
	return e, g, true
}

// IsFutureNonce reports whether err is a nonce mismatch where the
// transaction's nonce is strictly ahead of the sender's on-chain nonce.
func IsFutureNonce(err error) bool {
	expected, got, ok := ParseNonceMismatch(err)
	return ok && got > expected
}
