package state

import "errors"

var (
	ErrValidatorNotFound   = errors.New("state: validator not found")
	ErrInvalidPubKey       = errors.New("state: public key does not derive to sender")
	ErrInvalidSignature    = errors.New("state: invalid transaction signature")
	ErrInsufficientGas     = errors.New("state: gas limit below base gas")
	ErrGasPriceTooLow      = errors.New("state: gas price below network minimum")
	ErrInsufficientFee     = errors.New("state: fee below required base_gas * gas_price")
	ErrInsufficientBalance = errors.New("state: insufficient balance for total cost")
	ErrUnknownTxType       = errors.New("state: unknown transaction type")
	ErrMissingPayload      = errors.New("state: missing required payload field")
	ErrUnauthorized        = errors.New("state: sender is not authorized for this action")
	ErrValidatorNotJailed  = errors.New("state: validator is not jailed")
	ErrInsufficientStake   = errors.New("state: validator power below requested amount")
	ErrInsufficientDelegation = errors.New("state: delegation amount below requested amount")
	ErrBelowMinDelegation  = errors.New("state: amount below minimum delegation")
	ErrFieldTooLong        = errors.New("state: bounded string field exceeds maximum length")
	ErrInvalidCommission   = errors.New("state: commission rate out of [0,1]")
	ErrMismatchedWorker    = errors.New("state: compute result worker does not match sender")
)
