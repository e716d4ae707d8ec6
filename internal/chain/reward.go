package chain

import (
	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/types"
)

// blockReward computes R(h) = initial_reward >> (h / halving_period).
func blockReward(height uint64, params config.Params) uint64 {
	if params.HalvingPeriod == 0 {
		return params.InitialBlockReward
	}
	shift := height / params.HalvingPeriod
	if shift >= 64 {
		return 0
	}
	return params.InitialBlockReward >> shift
}

// distributeRewards mints the block reward, splits it between the
// validator and miner pools, and pays the proposer and its delegators. It
// runs against the engine that has already become the live state for this
// block (after the state-root check), so reward credits never appear in
// the header's state_root.
func distributeRewards(st *state.Engine, params config.Params, block *types.Block) {
	reward := blockReward(block.Header.Height, params)
	st.Mint(reward)

	validatorPool := reward * 70 / 100
	minerPool := reward - validatorPool
	st.Burn(minerPool) // miner pool is burned until off-chain scoring is wired in.

	var totalFees uint64
	for i := range block.Txs {
		baseGas, _ := config.BaseGas(block.Txs[i].Type)
		totalFees += baseGas * block.Txs[i].GasPrice
	}
	validatorFeeShare := totalFees * 90 / 100
	treasuryShare := totalFees * 10 / 100
	dust := totalFees - validatorFeeShare - treasuryShare
	if dust > 0 {
		st.Burn(dust)
	}
	if treasuryShare > 0 {
		treasury, err := st.GetAccount(params.TreasuryAddress)
		if err == nil {
			treasury.Balance += treasuryShare
			st.SetAccount(treasury)
		}
	}

	total := validatorPool + validatorFeeShare
	if total == 0 {
		return
	}

	proposer, err := st.GetValidator(block.Header.ProposerAddress)
	if err != nil {
		return
	}
	creditValidatorReward(st, proposer, total, st.EpochIndex())
}

// creditValidatorReward splits total between the validator's reward address
// (commission, or everything if it has no delegations) and its delegators,
// proportional to each delegation's amount. Any integer-division dust is
// burned.
func creditValidatorReward(st *state.Engine, v *types.Validator, total uint64, epoch uint64) {
	rewardAcc, err := st.GetAccount(v.RewardAddress)
	if err != nil {
		return
	}

	if len(v.Delegations) == 0 || v.TotalDelegated == 0 {
		rewardAcc.Balance += total
		st.SetAccount(rewardAcc)
		return
	}

	commission := uint64(float64(total) * v.CommissionRate)
	rewardAcc.Balance += commission
	st.SetAccount(rewardAcc)

	pool := total - commission
	var distributed uint64
	for _, d := range v.Delegations {
		share := pool * d.Amount / v.TotalDelegated
		distributed += share
		if share == 0 {
			continue
		}
		delegator, err := st.GetAccount(d.Delegator)
		if err != nil {
			continue
		}
		delegator.Balance += share
		delegator.RewardHistory[epoch] += share
		st.SetAccount(delegator)
	}

	dust := pool - distributed
	if dust > 0 {
		st.Burn(dust)
	}
}
