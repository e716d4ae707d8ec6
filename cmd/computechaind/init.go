package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"computechain.dev/node/internal/chain"
	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
)

const validatorKeyFile = "validator.key"
const genesisFileName = "genesis.json"

func initCmd() *cobra.Command {
	var datadir, network string
	var genesisTimeOffset int64

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory, validator key, and genesis file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(datadir, network, genesisTimeOffset)
		},
	}
	cmd.Flags().StringVar(&datadir, "datadir", "./data", "data directory to initialize")
	cmd.Flags().StringVar(&network, "network", "dev", "network profile (dev, test, main)")
	cmd.Flags().Int64Var(&genesisTimeOffset, "genesis-offset-seconds", -10,
		"genesis_time is set to now plus this offset (negative means already due)")
	return cmd
}

func runInit(datadir, network string, genesisOffset int64) error {
	params, ok := config.Profile(network)
	if !ok {
		return fmt.Errorf("unknown network profile %q", network)
	}

	if err := os.MkdirAll(datadir, 0700); err != nil {
		return fmt.Errorf("create datadir: %w", err)
	}

	keyPath := filepath.Join(datadir, validatorKeyFile)
	if _, err := os.Stat(keyPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing validator key at %s", keyPath)
	}

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate validator key: %w", err)
	}
	if err := os.WriteFile(keyPath, priv.Bytes(), 0600); err != nil {
		return fmt.Errorf("write validator key: %w", err)
	}

	pub := priv.PublicKey()
	consensusAddr, err := crypto.DeriveAddress(params.ValidatorHRP, pub)
	if err != nil {
		return fmt.Errorf("derive validator address: %w", err)
	}
	accountAddr, err := crypto.DeriveAddress(params.AccountHRP, pub)
	if err != nil {
		return fmt.Errorf("derive reward address: %w", err)
	}

	genesis := chain.GenesisFile{
		Alloc: map[string]uint64{
			string(accountAddr): params.GenesisPremine,
		},
		Validators: []chain.GenesisValidator{
			{
				Address:       string(consensusAddr),
				PubKey:        pub,
				Power:         params.MinValidatorStake,
				IsActive:      true,
				RewardAddress: string(accountAddr),
			},
		},
		GenesisTime: time.Now().Unix() + genesisOffset,
	}

	genesisPath := filepath.Join(datadir, genesisFileName)
	raw, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return fmt.Errorf("encode genesis file: %w", err)
	}
	if err := os.WriteFile(genesisPath, raw, 0644); err != nil {
		return fmt.Errorf("write genesis file: %w", err)
	}

	fmt.Printf("initialized %s (network=%s)\n", datadir, network)
	fmt.Printf("validator consensus address: %s\n", consensusAddr)
	fmt.Printf("reward/account address:      %s\n", accountAddr)
	fmt.Printf("public key (base64):         %s\n", base64.StdEncoding.EncodeToString(pub))
	return nil
}
