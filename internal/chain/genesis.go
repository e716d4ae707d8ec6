package chain

import (
	"encoding/json"
	"fmt"
	"os"

	"computechain.dev/node/internal/types"
)

// GenesisValidator is one genesis-file validator entry.
type GenesisValidator struct {
	Address       string `json:"address"`
	PubKey        []byte `json:"pub_key"`
	Power         uint64 `json:"power"`
	IsActive      bool   `json:"is_active"`
	RewardAddress string `json:"reward_address,omitempty"`
}

// GenesisFile is the on-disk genesis document. An absent file yields an
// empty chain (no preloaded accounts or validators).
type GenesisFile struct {
	Alloc       map[string]uint64 `json:"alloc"`
	Validators  []GenesisValidator `json:"validators"`
	GenesisTime int64             `json:"genesis_time"`
}

// LoadGenesisFile reads and parses a genesis file from disk. A missing file
// yields an empty GenesisFile rather than an error.
func LoadGenesisFile(path string) (*GenesisFile, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &GenesisFile{Alloc: map[string]uint64{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: read genesis file: %w", err)
	}
	var g GenesisFile
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("chain: parse genesis file: %w", err)
	}
	return &g, nil
}

// ApplyGenesisAllocations preloads the state engine's overlay with the
// genesis premine accounts and validators, without persisting. Callers
// persist once, after the height-0 block that references this state is
// accepted by AddBlock.
func (c *Chain) ApplyGenesisAllocations(g *GenesisFile) error {
	for addr, amount := range g.Alloc {
		acc, err := c.state.GetAccount(addr)
		if err != nil {
			return err
		}
		acc.Balance += amount
		c.state.SetAccount(acc)
	}
	for _, gv := range g.Validators {
		v := &types.Validator{
			ConsensusAddress: gv.Address,
			PQPubKey:         gv.PubKey,
			SelfStake:        gv.Power,
			Power:            gv.Power,
			IsActive:         gv.IsActive,
			RewardAddress:    gv.RewardAddress,
		}
		if v.RewardAddress == "" {
			v.RewardAddress = gv.Address
		}
		c.state.SetValidator(v)
	}
	c.tip.GenesisTime = g.GenesisTime

	active, err := c.state.GetAllValidators()
	if err != nil {
		return err
	}
	var activeOnly []*types.Validator
	for _, v := range active {
		if v.IsActive {
			activeOnly = append(activeOnly, v)
		}
	}
	c.selector.UpdateValidatorSet(activeOnly)
	return nil
}
