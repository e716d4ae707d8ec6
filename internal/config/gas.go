package config

// TxType enumerates the eight transaction kinds the state engine accepts.
type TxType string

const (
	TxTransfer         TxType = "TRANSFER"
	TxStake            TxType = "STAKE"
	TxUnstake          TxType = "UNSTAKE"
	TxDelegate         TxType = "DELEGATE"
	TxUndelegate       TxType = "UNDELEGATE"
	TxUpdateValidator  TxType = "UPDATE_VALIDATOR"
	TxUnjail           TxType = "UNJAIL"
	TxSubmitResult     TxType = "SUBMIT_RESULT"
)

// baseGas is the fixed per-type gas table used to compute minimum fees.
// Values are in the same unit as gas_limit/gas_used.
var baseGas = map[TxType]uint64{
	TxTransfer:        21_000,
	TxStake:           60_000,
	TxUnstake:         50_000,
	TxDelegate:        55_000,
	TxUndelegate:      50_000,
	TxUpdateValidator: 30_000,
	TxUnjail:          40_000,
	TxSubmitResult:    35_000,
}

// BaseGas returns the fixed gas cost for a transaction type. Unknown types
// return 0, ok=false; callers must reject the transaction in that case.
func BaseGas(t TxType) (uint64, bool) {
	g, ok := baseGas[t]
	return g, ok
}
