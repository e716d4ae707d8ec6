package state_test

import (
	"path/filepath"
	"testing"

	"computechain.dev/node/internal/config"
	"computechain.dev/node/internal/crypto"
	"computechain.dev/node/internal/state"
	"computechain.dev/node/internal/storage"
	"computechain.dev/node/internal/types"
)

func newTestEngine(t *testing.T) (*state.Engine, config.Params) {
	t.Helper()
	params, ok := config.Profile("dev")
	if !ok {
		t.Fatal("dev profile not found")
	}
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e, err := state.New(store, params)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return e, params
}

func newSignedTx(t *testing.T, priv *crypto.PrivateKey, hrp string, ty config.TxType, to string, amount, fee, nonce, gasPrice, gasLimit uint64) *types.Transaction {
	t.Helper()
	from, err := crypto.DeriveAddress(hrp, priv.PublicKey())
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	tx := &types.Transaction{
		Type:     ty,
		From:     string(from),
		To:       to,
		Amount:   amount,
		Fee:      fee,
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestGetAccountZeroValueForUnseenAddress(t *testing.T) {
	e, _ := newTestEngine(t)
	acc, err := e.GetAccount("tcc1nonexistent")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Balance != 0 || acc.Nonce != 0 {
		t.Errorf("zero account = %+v, want balance=0 nonce=0", acc)
	}
}

func TestApplyTransferMovesBalance(t *testing.T) {
	e, params := newTestEngine(t)
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	from, _ := crypto.DeriveAddress(params.AccountHRP, priv.PublicKey())

	sender := types.NewAccount(string(from))
	sender.Balance = 100_000_000
	e.SetAccount(sender)

	tx := newSignedTx(t, priv, params.AccountHRP, config.TxTransfer, "tcc1recipient", 100, 21_000_000, 0, 1000, 21_000)
	if err := e.ApplyTransaction(tx, 1, false); err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	got, err := e.GetAccount(string(from))
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	wantBalance := uint64(100_000_000 - 100 - 21_000_000)
	if got.Balance != wantBalance {
		t.Errorf("sender balance = %d, want %d", got.Balance, wantBalance)
	}
	if got.Nonce != 1 {
		t.Errorf("sender nonce = %d, want 1", got.Nonce)
	}

	recipient, err := e.GetAccount("tcc1recipient")
	if err != nil {
		t.Fatalf("GetAccount(recipient): %v", err)
	}
	if recipient.Balance != 100 {
		t.Errorf("recipient balance = %d, want 100", recipient.Balance)
	}
}

func TestApplyTransactionRejectsWrongNonce(t *testing.T) {
	e, params := newTestEngine(t)
	priv, _ := crypto.GenerateKeyPair()
	from, _ := crypto.DeriveAddress(params.AccountHRP, priv.PublicKey())
	sender := types.NewAccount(string(from))
	sender.Balance = 1_000_000_000
	e.SetAccount(sender)

	tx := newSignedTx(t, priv, params.AccountHRP, config.TxTransfer, "tcc1recipient", 1, 21_000_000, 5, 1000, 21_000)
	err := e.ApplyTransaction(tx, 1, false)
	if err == nil {
		t.Fatal("expected nonce mismatch error")
	}
	expected, got, ok := state.ParseNonceMismatch(err)
	if !ok {
		t.Fatalf("ParseNonceMismatch could not parse: %v", err)
	}
	if expected != 0 || got != 5 {
		t.Errorf("ParseNonceMismatch = (%d,%d), want (0,5)", expected, got)
	}
	if !state.IsFutureNonce(err) {
		t.Errorf("IsFutureNonce = false, want true for nonce 5 > 0")
	}
}

func TestApplyTransactionRejectsInsufficientBalance(t *testing.T) {
	e, params := newTestEngine(t)
	priv, _ := crypto.GenerateKeyPair()
	from, _ := crypto.DeriveAddress(params.AccountHRP, priv.PublicKey())
	sender := types.NewAccount(string(from))
	sender.Balance = 100
	e.SetAccount(sender)

	tx := newSignedTx(t, priv, params.AccountHRP, config.TxTransfer, "tcc1recipient", 100, 21_000_000, 0, 1000, 21_000)
	if err := e.ApplyTransaction(tx, 1, false); err != state.ErrInsufficientBalance {
		t.Fatalf("ApplyTransaction error = %v, want ErrInsufficientBalance", err)
	}
}

func TestStakeThenUnstakeWhileJailed(t *testing.T) {
	e, params := newTestEngine(t)
	ownerPriv, _ := crypto.GenerateKeyPair()
	validatorPriv, _ := crypto.GenerateKeyPair()
	owner, _ := crypto.DeriveAddress(params.AccountHRP, ownerPriv.PublicKey())

	const startingBalance = 1_000_000
	ownerAcc := types.NewAccount(string(owner))
	ownerAcc.Balance = startingBalance
	e.SetAccount(ownerAcc)

	stakeBaseGas, _ := config.BaseGas(config.TxStake)
	stakeFee := stakeBaseGas * params.MinGasPrice
	stakeTx := newSignedTx(t, ownerPriv, params.AccountHRP, config.TxStake, "", 100, stakeFee, 0, params.MinGasPrice, stakeBaseGas)
	stakeTx.Payload.PubKey = validatorPriv.PublicKey()
	if err := stakeTx.Sign(ownerPriv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.ApplyTransaction(stakeTx, 1, false); err != nil {
		t.Fatalf("ApplyTransaction(STAKE): %v", err)
	}

	consensusAddr, _ := crypto.DeriveAddress(params.ValidatorHRP, validatorPriv.PublicKey())
	v, err := e.GetValidator(string(consensusAddr))
	if err != nil {
		t.Fatalf("GetValidator: %v", err)
	}
	if v.Power != 100 {
		t.Fatalf("validator power after stake = %d, want 100", v.Power)
	}
	v.JailedUntilHeight = 1000
	e.SetValidator(v)

	unstakeBaseGas, _ := config.BaseGas(config.TxUnstake)
	unstakeFee := unstakeBaseGas * params.MinGasPrice
	unstakeTx := newSignedTx(t, ownerPriv, params.AccountHRP, config.TxUnstake, "", 50, unstakeFee, 1, params.MinGasPrice, unstakeBaseGas)
	unstakeTx.Payload.PubKey = validatorPriv.PublicKey()
	if err := unstakeTx.Sign(ownerPriv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.ApplyTransaction(unstakeTx, 1, false); err != nil {
		t.Fatalf("ApplyTransaction(UNSTAKE): %v", err)
	}

	v, err = e.GetValidator(string(consensusAddr))
	if err != nil {
		t.Fatalf("GetValidator: %v", err)
	}
	if v.Power != 50 {
		t.Errorf("validator power after unstake = %d, want 50", v.Power)
	}
	ownerAfter, err := e.GetAccount(string(owner))
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	refund := uint64(45) // 50 withdrawn, 10% burned while jailed
	wantBalance := startingBalance - 100 - stakeFee - unstakeFee + refund
	if ownerAfter.Balance != wantBalance {
		t.Errorf("owner balance after jailed unstake = %d, want %d", ownerAfter.Balance, wantBalance)
	}
}

func TestComputeStateRootInvariantUnderInsertionOrder(t *testing.T) {
	e1, _ := newTestEngine(t)
	e2, _ := newTestEngine(t)

	accA := types.NewAccount("tcc1aaa")
	accA.Balance = 10
	accB := types.NewAccount("tcc1bbb")
	accB.Balance = 20

	e1.SetAccount(accA)
	e1.SetAccount(accB)

	e2.SetAccount(accB)
	e2.SetAccount(accA)

	root1, err := e1.ComputeStateRoot()
	if err != nil {
		t.Fatalf("ComputeStateRoot: %v", err)
	}
	root2, err := e2.ComputeStateRoot()
	if err != nil {
		t.Fatalf("ComputeStateRoot: %v", err)
	}
	if root1 != root2 {
		t.Errorf("state root depends on insertion order: %x != %x", root1, root2)
	}
}

func TestCloneIsolatesMutation(t *testing.T) {
	e, _ := newTestEngine(t)
	acc := types.NewAccount("tcc1aaa")
	acc.Balance = 10
	e.SetAccount(acc)

	clone := e.Clone()
	mutated, _ := clone.GetAccount("tcc1aaa")
	mutated.Balance = 999
	clone.SetAccount(mutated)

	original, err := e.GetAccount("tcc1aaa")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if original.Balance != 10 {
		t.Errorf("original engine mutated by clone: balance = %d, want 10", original.Balance)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	params, _ := config.Profile("dev")
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	e, err := state.New(store, params)
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	acc := types.NewAccount("tcc1persist")
	acc.Balance = 42
	e.SetAccount(acc)
	e.Mint(1000)
	if err := e.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reopened, err := state.New(store, params)
	if err != nil {
		t.Fatalf("state.New (reopen): %v", err)
	}
	got, err := reopened.GetAccount("tcc1persist")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 42 {
		t.Errorf("reopened account balance = %d, want 42", got.Balance)
	}
	if reopened.TotalMinted() != 1000 {
		t.Errorf("reopened TotalMinted = %d, want 1000", reopened.TotalMinted())
	}
}
