package consensus_test

import (
	"testing"

	"computechain.dev/node/internal/consensus"
	"computechain.dev/node/internal/types"
)

func validatorSet(addrs ...string) []*types.Validator {
	out := make([]*types.Validator, len(addrs))
	for i, a := range addrs {
		out[i] = &types.Validator{ConsensusAddress: a}
	}
	return out
}

func TestGetProposerEmptySet(t *testing.T) {
	s := consensus.New()
	if _, ok := s.GetProposer(0, 0); ok {
		t.Errorf("GetProposer on empty set returned ok=true, want false")
	}
}

func TestGetProposerRoundRobinByHeight(t *testing.T) {
	s := consensus.New()
	s.UpdateValidatorSet(validatorSet("vc", "va", "vb"))

	// UpdateValidatorSet sorts by address, so order becomes va, vb, vc.
	want := []string{"va", "vb", "vc", "va", "vb"}
	for h := uint64(0); h < uint64(len(want)); h++ {
		v, ok := s.GetProposer(h, 0)
		if !ok {
			t.Fatalf("GetProposer(%d,0) returned ok=false", h)
		}
		if v.ConsensusAddress != want[h] {
			t.Errorf("GetProposer(%d,0) = %s, want %s", h, v.ConsensusAddress, want[h])
		}
	}
}

func TestGetProposerRoundAdvancesIndex(t *testing.T) {
	s := consensus.New()
	s.UpdateValidatorSet(validatorSet("va", "vb", "vc"))

	atHeight0Round0, _ := s.GetProposer(0, 0)
	atHeight0Round1, _ := s.GetProposer(0, 1)
	if atHeight0Round0.ConsensusAddress == atHeight0Round1.ConsensusAddress {
		t.Errorf("round 0 and round 1 selected the same proposer")
	}
}

func TestUpdateValidatorSetReplacesAtomically(t *testing.T) {
	s := consensus.New()
	s.UpdateValidatorSet(validatorSet("va", "vb"))
	if s.Size() != 2 {
		t.Fatalf("Size = %d, want 2", s.Size())
	}
	s.UpdateValidatorSet(validatorSet("vx"))
	if s.Size() != 1 {
		t.Fatalf("Size after replace = %d, want 1", s.Size())
	}
	v, _ := s.GetProposer(0, 0)
	if v.ConsensusAddress != "vx" {
		t.Errorf("GetProposer after replace = %s, want vx", v.ConsensusAddress)
	}
}
