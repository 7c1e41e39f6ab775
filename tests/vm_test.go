package tests

import (
	"testing"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/validatorset"
	"github.com/tolelom/tolchain/vm"
	"github.com/tolelom/tolchain/wallet"

	// Register VM modules.
	_ "github.com/tolelom/tolchain/vm/modules/asset"
	_ "github.com/tolelom/tolchain/vm/modules/transfer"
)

func newInMemState(t *testing.T) core.State {
	t.Helper()
	state, err := testutil.NewStateDB()
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func applyOne(t *testing.T, state core.State, exec *vm.Executor, validators core.ValidatorRegistry, tx *core.Transaction) error {
	t.Helper()
	block := &core.Block{Header: core.BlockHeader{Slot: 1}, Transactions: []*core.Transaction{tx}}
	return exec.ApplyBlock(state, block, validators)
}

func TestTokenTransfer(t *testing.T) {
	state := newInMemState(t)
	emitter := events.NewEmitter()
	exec := vm.NewExecutor(emitter)
	validators := validatorset.New()

	sender, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(sender.PubKey(), core.NewAccount(1000)); err != nil {
		t.Fatal(err)
	}

	tx, err := sender.NewTx(receiver.PubKey(), 0, core.NativeTransfer{Amount: 300})
	if err != nil {
		t.Fatal(err)
	}
	if err := applyOne(t, state, exec, validators, tx); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	senderAcc, err := state.GetAccount(sender.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if senderAcc.Balance != 700 {
		t.Errorf("sender balance: got %d want 700", senderAcc.Balance)
	}
	receiverAcc, err := state.GetAccount(receiver.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if receiverAcc.Balance != 300 {
		t.Errorf("receiver balance: got %d want 300", receiverAcc.Balance)
	}
}

func TestCreateAndTransferAsset(t *testing.T) {
	state := newInMemState(t)
	emitter := events.NewEmitter()
	exec := vm.NewExecutor(emitter)
	validators := validatorset.New()

	issuer, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(issuer.PubKey(), core.NewAccount(0)); err != nil {
		t.Fatal(err)
	}

	createTx, err := issuer.NewTx("", 0, core.CreateAsset{Name: "Gold", Symbol: "GLD", Supply: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if err := applyOne(t, state, exec, validators, createTx); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	assetID := core.DeterministicID(createTx.Sender, createTx.Nonce, string(core.TxCreateAsset))
	issuerAcc, err := state.GetAccount(issuer.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if got := issuerAcc.Assets[hexEncode(assetID)]; got != 1000 {
		t.Fatalf("issuer should hold the full supply, got %d", got)
	}

	transferTx, err := issuer.NewTx(recipient.PubKey(), 1, core.TransferAsset{AssetID: assetID, Amount: 400})
	if err != nil {
		t.Fatal(err)
	}
	if err := applyOne(t, state, exec, validators, transferTx); err != nil {
		t.Fatalf("transfer asset: %v", err)
	}

	recipientAcc, err := state.GetAccount(recipient.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if got := recipientAcc.Assets[hexEncode(assetID)]; got != 400 {
		t.Errorf("recipient asset balance: got %d want 400", got)
	}
}

func TestNonceReplayRejected(t *testing.T) {
	state := newInMemState(t)
	exec := vm.NewExecutor(events.NewEmitter())
	validators := validatorset.New()

	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(w.PubKey(), core.NewAccount(1000)); err != nil {
		t.Fatal(err)
	}

	tx, err := w.NewTx(receiver.PubKey(), 0, core.NativeTransfer{Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := applyOne(t, state, exec, validators, tx); err != nil {
		t.Fatalf("first application: %v", err)
	}
	// Replaying the same tx means the same nonce=0 is presented again
	// against an account whose staged nonce has already advanced to 1.
	if err := applyOne(t, state, exec, validators, tx); err == nil {
		t.Error("replay should fail due to nonce mismatch")
	}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}
