package chain

import "errors"

var (
	ErrHeightMismatch     = errors.New("chain: block height does not follow tip")
	ErrPrevHashMismatch   = errors.New("chain: prev_hash does not match tip")
	ErrTimestampNotStrict = errors.New("chain: timestamp does not strictly increase")
	ErrTimestampInFuture  = errors.New("chain: timestamp too far in the future")
	ErrNoProposer         = errors.New("chain: no proposer registered for this height/round")
	ErrProposerMismatch   = errors.New("chain: block proposer does not match selector")
	ErrBadSignature       = errors.New("chain: invalid proposer signature over header hash")
	ErrGasUsedMismatch    = errors.New("chain: gas_used does not match declared value")
	ErrGasLimitExceeded   = errors.New("chain: gas_limit exceeds network maximum")
	ErrGasOverLimit       = errors.New("chain: gas_used exceeds block gas_limit")
	ErrStateRootMismatch  = errors.New("chain: recomputed state root does not match header")
	ErrComputeRootMismatch = errors.New("chain: recomputed compute root does not match header")
	ErrEmptyChain         = errors.New("chain: chain has no blocks")
	ErrHeightNotFound     = errors.New("chain: requested height exceeds chain tip")
)
