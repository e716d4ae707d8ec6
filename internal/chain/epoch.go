package chain

import (
	"sort"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/types"
)

// runEpochTransition re-scores and rotates the active validator set at an
// epoch boundary, against trial, the cloned state that will become live
// only if the rest of block application succeeds. It runs entirely against
// the in-memory overlay; nothing is persisted here, that happens in the
// caller's commit step.
func runEpochTransition(trial *state.Engine, params config.Params, height uint64) error {
	validators, err := trial.GetAllValidators()
	if err != nil {
		return err
	}

	// 1. Clear counters of inactive validators, giving them a reentry shot.
	for _, v := range validators {
		if !v.IsActive {
			v.BlocksProposed = 0
			v.BlocksExpected = 0
		}
	}

	// 4. Jail validators that missed too many blocks in a row, before the
	// candidate filter runs so a freshly jailed validator is excluded.
	for _, v := range validators {
		if !v.IsActive || v.MissedBlocks < params.MaxMissedBlocksSeq {
			continue
		}
		jailValidator(v, params, height)
	}

	// 2 & 3. Candidate filter and performance score.
	var totalNetworkPower uint64
	for _, v := range validators {
		totalNetworkPower += v.Power
	}
	var candidates []*types.Validator
	for _, v := range validators {
		if !isEpochCandidate(v, params, height) {
			continue
		}
		v.PerformanceScore = performanceScore(v, totalNetworkPower, params)
		candidates = append(candidates, v)
	}

	// 5. Sort by performance score descending (address order breaks ties
	// deterministically); take the top MaxValidators.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PerformanceScore != candidates[j].PerformanceScore {
			return candidates[i].PerformanceScore > candidates[j].PerformanceScore
		}
		return candidates[i].ConsensusAddress < candidates[j].ConsensusAddress
	})
	activeSet := make(map[string]bool)
	limit := params.MaxValidators
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		activeSet[candidates[i].ConsensusAddress] = true
	}

	// 6. Mark active/inactive and seed next epoch's blocks_expected.
	var nextActive []*types.Validator
	for _, v := range validators {
		v.IsActive = activeSet[v.ConsensusAddress]
		if v.IsActive {
			nextActive = append(nextActive, v)
		} else {
			v.BlocksProposed = 0
			v.BlocksExpected = 0
		}
	}
	sort.Slice(nextActive, func(i, j int) bool {
		return nextActive[i].ConsensusAddress < nextActive[j].ConsensusAddress
	})
	n := uint64(len(nextActive))
	if n > 0 {
		base := params.EpochLengthBlocks / n
		remainder := params.EpochLengthBlocks % n
		for i, v := range nextActive {
			v.BlocksExpected = base
			if uint64(i) < remainder {
				v.BlocksExpected++
			}
			v.BlocksProposed = 0
		}
	}

	for _, v := range validators {
		trial.SetValidator(v)
	}

	// 7. Advance the epoch counter.
	trial.SetEpochIndex(trial.EpochIndex() + 1)
	return nil
}

// jailValidator applies the graduated slash and jail term for a validator
// whose consecutive missed-block count crossed the threshold.
func jailValidator(v *types.Validator, params config.Params, height uint64) {
	v.JailCount++
	var rate float64
	switch {
	case v.JailCount == 1:
		rate = params.SlashingBaseRate
	case v.JailCount == 2:
		rate = params.SlashingBaseRate * 2
	default:
		rate = 1.0
	}
	penalty := uint64(float64(v.Power) * rate)
	v.Power -= penalty
	v.TotalPenalties += penalty
	v.JailedUntilHeight = height + params.JailDurationBlocks
	v.IsActive = false
	v.MissedBlocks = 0

	if v.JailCount >= params.EjectionThreshold {
		v.Power = 0
	}
}

func isEpochCandidate(v *types.Validator, params config.Params, height uint64) bool {
	if v.Power < params.MinValidatorStake {
		return false
	}
	if v.JailedUntilHeight >= height {
		return false
	}
	if v.BlocksExpected == 0 {
		return true
	}
	return v.UptimeScore >= params.MinUptimeScore
}

func performanceScore(v *types.Validator, totalNetworkPower uint64, params config.Params) float64 {
	expected := v.BlocksExpected
	if expected == 0 {
		expected = 1
	}
	uptime := float64(v.BlocksProposed) / float64(expected)
	v.UptimeScore = uptime

	var stakeRatio float64
	if totalNetworkPower > 0 {
		stakeRatio = float64(v.Power) / float64(totalNetworkPower)
	}

	penaltyRatio := 0.0
	if v.Power > 0 {
		penaltyRatio = float64(v.TotalPenalties) / float64(v.Power)
	}
	if penaltyRatio > 0.5 {
		penaltyRatio = 0.5
	}

	score := 0.6*uptime + 0.2*stakeRatio + 0.2*(1-penaltyRatio)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
