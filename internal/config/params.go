// Package config holds the named network-parameter profiles every other
// component reads from instead of hard-coding constants. There is no
// env/flag-parsing library here: the profile set is small, closed, and
// selected once at startup by name.
package config

import "time"

// Decimals is the number of base units per whole native token.
const Decimals = 1_000_000

// Params is one network profile's full set of consensus-relevant constants.
type Params struct {
	NetworkID string

	// AccountHRP and ValidatorHRP are the Bech32 human-readable prefixes
	// used to derive reward/account addresses and consensus addresses,
	// respectively, from the same public key.
	AccountHRP   string
	ValidatorHRP string

	BlockTime           time.Duration
	MinGasPrice         uint64
	BlockGasLimit       uint64
	MaxTxPerBlock       int
	GenesisPremine      uint64
	EpochLengthBlocks   uint64
	MinValidatorStake   uint64
	MaxValidators       int
	MinDelegation       uint64
	MinUptimeScore      float64
	MaxMissedBlocksSeq  uint64
	JailDurationBlocks  uint64
	EjectionThreshold   uint64
	MaxRoundsPerHeight  uint64
	SlashingBaseRate    float64
	UnjailFee           uint64
	HalvingPeriod       uint64
	InitialBlockReward  uint64
	TreasuryAddress     string

	// P2P timing constants.
	StatusInterval         time.Duration
	PingInterval           time.Duration
	PeerTimeout            time.Duration
	SyncTimeout            time.Duration
	HandshakeGracePeriod   time.Duration
	SnapshotSyncThreshold  uint64
	HeaderSyncWindow       uint64
	MaxBlocksPerMessage    int
	SnapshotInterval       uint64
	SnapshotRetentionCount int
}

// profiles holds the three named network profiles. dev favors fast
// iteration (short block time, small stakes); main is production-scale;
// test sits between the two for integration-test suites that still want
// epoch transitions to happen in a reasonable number of blocks.
var profiles = map[string]Params{
	"dev": {
		NetworkID:              "computechain-dev",
		AccountHRP:             "tcc",
		ValidatorHRP:           "tccval",
		BlockTime:              2 * time.Second,
		MinGasPrice:            1,
		BlockGasLimit:          10_000_000,
		MaxTxPerBlock:          200,
		GenesisPremine:         1_000_000 * Decimals,
		EpochLengthBlocks:      50,
		MinValidatorStake:      100 * Decimals,
		MaxValidators:          10,
		MinDelegation:          1 * Decimals,
		MinUptimeScore:         0.5,
		MaxMissedBlocksSeq:     10,
		JailDurationBlocks:     20,
		EjectionThreshold:      3,
		MaxRoundsPerHeight:     10,
		SlashingBaseRate:       0.05,
		UnjailFee:              1000 * Decimals,
		HalvingPeriod:          10_000,
		InitialBlockReward:     50 * Decimals,
		TreasuryAddress:        "tcc1treasurydevaddressxxxxxxxxxxxxxxxxx",
		StatusInterval:         10 * time.Second,
		PingInterval:           15 * time.Second,
		PeerTimeout:            45 * time.Second,
		SyncTimeout:            30 * time.Second,
		HandshakeGracePeriod:   2 * time.Second,
		SnapshotSyncThreshold:  100,
		HeaderSyncWindow:       500,
		MaxBlocksPerMessage:    100,
		SnapshotInterval:       50,
		SnapshotRetentionCount: 5,
	},
	"test": {
		NetworkID:              "computechain-test",
		AccountHRP:             "tcc",
		ValidatorHRP:           "tccval",
		BlockTime:              5 * time.Second,
		MinGasPrice:            1000,
		BlockGasLimit:          20_000_000,
		MaxTxPerBlock:          500,
		GenesisPremine:         10_000_000 * Decimals,
		EpochLengthBlocks:      200,
		MinValidatorStake:      1_000 * Decimals,
		MaxValidators:          25,
		MinDelegation:          10 * Decimals,
		MinUptimeScore:         0.6,
		MaxMissedBlocksSeq:     20,
		JailDurationBlocks:     100,
		EjectionThreshold:      3,
		MaxRoundsPerHeight:     20,
		SlashingBaseRate:       0.05,
		UnjailFee:              1000 * Decimals,
		HalvingPeriod:          1_000_000,
		InitialBlockReward:     25 * Decimals,
		TreasuryAddress:        "tcc1treasurytestaddressxxxxxxxxxxxxxxxx",
		StatusInterval:         10 * time.Second,
		PingInterval:           15 * time.Second,
		PeerTimeout:            45 * time.Second,
		SyncTimeout:            30 * time.Second,
		HandshakeGracePeriod:   2 * time.Second,
		SnapshotSyncThreshold:  200,
		HeaderSyncWindow:       1000,
		MaxBlocksPerMessage:    200,
		SnapshotInterval:       200,
		SnapshotRetentionCount: 10,
	},
	"main": {
		NetworkID:              "computechain-mainnet",
		AccountHRP:             "cc",
		ValidatorHRP:           "ccval",
		BlockTime:              10 * time.Second,
		MinGasPrice:            1000,
		BlockGasLimit:          30_000_000,
		MaxTxPerBlock:          1000,
		GenesisPremine:         100_000_000 * Decimals,
		EpochLengthBlocks:      14_400,
		MinValidatorStake:      10_000 * Decimals,
		MaxValidators:          100,
		MinDelegation:          10 * Decimals,
		MinUptimeScore:         0.8,
		MaxMissedBlocksSeq:     50,
		JailDurationBlocks:     14_400,
		EjectionThreshold:      3,
		MaxRoundsPerHeight:     20,
		SlashingBaseRate:       0.05,
		UnjailFee:              1000 * Decimals,
		HalvingPeriod:          6_307_200,
		InitialBlockReward:     10 * Decimals,
		TreasuryAddress:        "cc1treasurymainaddressxxxxxxxxxxxxxxxxxx",
		StatusInterval:         10 * time.Second,
		PingInterval:           15 * time.Second,
		PeerTimeout:            45 * time.Second,
		SyncTimeout:            30 * time.Second,
		HandshakeGracePeriod:   2 * time.Second,
		SnapshotSyncThreshold:  500,
		HeaderSyncWindow:       2000,
		MaxBlocksPerMessage:    200,
		SnapshotInterval:       14_400,
		SnapshotRetentionCount: 10,
	},
}

// Profile returns the named network profile. ok is false for an unknown
// name; callers should treat that as a fatal configuration error.
func Profile(name string) (Params, bool) {
	p, ok := profiles[name]
	return p, ok
}
