package state

import (
	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/types"
)

// ApplyTransaction is the deterministic state transition: verify, charge
// gas and fees, then dispatch on transaction type. skipCryptoCheck skips
// the pub-key and signature checks; the block pipeline, the proposer, and
// rebuild replay all pass false, so every current caller verifies.
func (e *Engine) ApplyTransaction(tx *types.Transaction, currentHeight uint64, skipCryptoCheck bool) error {
	if !skipCryptoCheck {
		addr, err := crypto.DeriveAddress(e.params.AccountHRP, tx.PubKey)
		if err != nil || string(addr) != tx.From {
			return ErrInvalidPubKey
		}
		hash := tx.Hash()
		ok, err := crypto.Verify(tx.PubKey, hash.Bytes(), tx.Signature)
		if err != nil || !ok {
			return ErrInvalidSignature
		}
	}

	sender, err := e.GetAccount(tx.From)
	if err != nil {
		return err
	}
	if tx.Nonce != sender.Nonce {
		return newNonceError(sender.Nonce, tx.Nonce)
	}

	baseGas, ok := config.BaseGas(tx.Type)
	if !ok {
		return ErrUnknownTxType
	}
	if tx.GasLimit < baseGas {
		return ErrInsufficientGas
	}
	if tx.GasPrice < e.params.MinGasPrice {
		return ErrGasPriceTooLow
	}
	spentFee := baseGas * tx.GasPrice
	if tx.Fee < spentFee {
		return ErrInsufficientFee
	}

	var totalCost uint64
	switch tx.Type {
	case config.TxUnstake, config.TxUpdateValidator, config.TxUndelegate:
		totalCost = spentFee
	case config.TxUnjail:
		totalCost = spentFee + tx.Amount
	default:
		totalCost = spentFee + tx.Amount
	}
	if sender.Balance < totalCost {
		return ErrInsufficientBalance
	}

	sender.Balance -= totalCost
	sender.Nonce++

	switch tx.Type {
	case config.TxTransfer:
		err = e.applyTransfer(tx)
	case config.TxStake:
		err = e.applyStake(tx, currentHeight)
	case config.TxUnstake:
		err = e.applyUnstake(tx, sender, currentHeight)
	case config.TxUpdateValidator:
		err = e.applyUpdateValidator(tx)
	case config.TxDelegate:
		err = e.applyDelegate(tx, sender, currentHeight)
	case config.TxUndelegate:
		err = e.applyUndelegate(tx, sender)
	case config.TxUnjail:
		err = e.applyUnjail(tx, spentFee)
	case config.TxSubmitResult:
		err = e.applySubmitResult(tx)
	default:
		err = ErrUnknownTxType
	}
	if err != nil {
		return err
	}

	e.SetAccount(sender)
	if spentFee < tx.Fee {
		e.Burn(tx.Fee - spentFee)
	}
	return nil
}

func (e *Engine) applyTransfer(tx *types.Transaction) error {
	if tx.To == "" {
		return ErrMissingPayload
	}
	to, err := e.GetAccount(tx.To)
	if err != nil {
		return err
	}
	to.Balance += tx.Amount
	e.SetAccount(to)
	return nil
}

func (e *Engine) applyStake(tx *types.Transaction, currentHeight uint64) error {
	if len(tx.Payload.PubKey) == 0 {
		return ErrMissingPayload
	}
	consensusAddr, err := crypto.DeriveAddress(e.params.ValidatorHRP, tx.Payload.PubKey)
	if err != nil {
		return ErrInvalidPubKey
	}
	v, err := e.GetValidator(string(consensusAddr))
	if err == ErrValidatorNotFound {
		v = &types.Validator{
			ConsensusAddress: string(consensusAddr),
			PQPubKey:         tx.Payload.PubKey,
			SelfStake:        tx.Amount,
			Power:            tx.Amount,
			IsActive:         false,
			RewardAddress:    tx.From,
			JoinedHeight:     currentHeight,
		}
	} else if err != nil {
		return err
	} else {
		v.SelfStake += tx.Amount
		v.Power += tx.Amount
	}
	e.SetValidator(v)
	return nil
}

func (e *Engine) applyUnstake(tx *types.Transaction, sender *types.Account, currentHeight uint64) error {
	if len(tx.Payload.PubKey) == 0 {
		return ErrMissingPayload
	}
	consensusAddr, err := crypto.DeriveAddress(e.params.ValidatorHRP, tx.Payload.PubKey)
	if err != nil {
		return ErrInvalidPubKey
	}
	v, err := e.GetValidator(string(consensusAddr))
	if err != nil {
		return err
	}
	if v.Power < tx.Amount {
		return ErrInsufficientStake
	}

	var refund uint64
	if v.IsJailed(currentHeight) {
		burned := tx.Amount / 10
		refund = tx.Amount - burned
		e.Burn(burned)
	} else {
		refund = tx.Amount
	}

	v.Power -= tx.Amount
	if v.SelfStake > tx.Amount {
		v.SelfStake -= tx.Amount
	} else {
		v.SelfStake = 0
	}
	if v.Power == 0 {
		v.IsActive = false
	}
	e.SetValidator(v)

	sender.Balance += refund
	return nil
}

func (e *Engine) applyUpdateValidator(tx *types.Transaction) error {
	if tx.Payload.ValidatorAddress == "" {
		return ErrMissingPayload
	}
	v, err := e.GetValidator(tx.Payload.ValidatorAddress)
	if err != nil {
		return err
	}
	if v.RewardAddress != tx.From {
		return ErrUnauthorized
	}
	if len(tx.Payload.Name) > 64 || len(tx.Payload.Website) > 128 || len(tx.Payload.Description) > 256 {
		return ErrFieldTooLong
	}
	if tx.Payload.CommissionRate != nil {
		rate := *tx.Payload.CommissionRate
		if rate < 0 || rate > 1 {
			return ErrInvalidCommission
		}
		v.CommissionRate = rate
	}
	if tx.Payload.Name != "" {
		v.Name = tx.Payload.Name
	}
	if tx.Payload.Website != "" {
		v.Website = tx.Payload.Website
	}
	if tx.Payload.Description != "" {
		v.Description = tx.Payload.Description
	}
	e.SetValidator(v)
	return nil
}

func (e *Engine) applyDelegate(tx *types.Transaction, sender *types.Account, currentHeight uint64) error {
	if tx.Payload.ValidatorAddress == "" {
		return ErrMissingPayload
	}
	if tx.Amount < e.params.MinDelegation {
		return ErrBelowMinDelegation
	}
	v, err := e.GetValidator(tx.Payload.ValidatorAddress)
	if err != nil {
		return err
	}
	d := v.FindDelegation(sender.Address)
	if d == nil {
		v.Delegations = append(v.Delegations, types.DelegationRecord{
			Delegator:     sender.Address,
			Amount:        tx.Amount,
			CreatedHeight: currentHeight,
		})
	} else {
		d.Amount += tx.Amount
	}
	v.TotalDelegated += tx.Amount
	v.Power += tx.Amount
	e.SetValidator(v)
	return nil
}

func (e *Engine) applyUndelegate(tx *types.Transaction, sender *types.Account) error {
	if tx.Payload.ValidatorAddress == "" {
		return ErrMissingPayload
	}
	v, err := e.GetValidator(tx.Payload.ValidatorAddress)
	if err != nil {
		return err
	}
	d := v.FindDelegation(sender.Address)
	if d == nil || d.Amount < tx.Amount {
		return ErrInsufficientDelegation
	}
	d.Amount -= tx.Amount
	if d.Amount == 0 {
		removeDelegation(v, sender.Address)
	}
	v.TotalDelegated -= tx.Amount
	v.Power -= tx.Amount
	e.SetValidator(v)

	sender.Balance += tx.Amount
	return nil
}

func removeDelegation(v *types.Validator, delegator string) {
	out := v.Delegations[:0]
	for _, d := range v.Delegations {
		if d.Delegator != delegator {
			out = append(out, d)
		}
	}
	v.Delegations = out
}

func (e *Engine) applyUnjail(tx *types.Transaction, spentFee uint64) error {
	if tx.Payload.ValidatorAddress == "" {
		return ErrMissingPayload
	}
	v, err := e.GetValidator(tx.Payload.ValidatorAddress)
	if err != nil {
		return err
	}
	if v.RewardAddress != tx.From {
		return ErrUnauthorized
	}
	if v.JailedUntilHeight == 0 {
		return ErrValidatorNotJailed
	}
	if tx.Amount < e.params.UnjailFee {
		return ErrInsufficientFee
	}
	v.JailedUntilHeight = 0
	v.IsActive = true
	e.SetValidator(v)
	e.Burn(tx.Amount)
	return nil
}

func (e *Engine) applySubmitResult(tx *types.Transaction) error {
	if tx.Payload.Result == nil {
		return ErrMissingPayload
	}
	if tx.Payload.Result.Worker != tx.From {
		return ErrMismatchedWorker
	}
	return nil
}
