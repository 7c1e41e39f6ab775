package tests

import (
	"testing"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/wallet"
)

func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	addr := pub.Address()
	if len(addr) != 40 {
		t.Errorf("address length: got %d want 40", len(addr))
	}
	if derived := priv.Public(); derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello tolchain")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	receiver, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := w.NewTx(receiver.Public().Hex(), 0, core.NativeTransfer{Amount: 100})
	if err != nil {
		t.Fatalf("NewTx: %v", err)
	}
	if tx.HashHex() == "" {
		t.Error("tx hash should be set after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	tx.Nonce = 999
	if err := tx.Verify(); err == nil {
		t.Error("tampered tx should fail verification (hash no longer matches signature)")
	}
}

func TestBlockHashDeterministic(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	header := core.BlockHeader{
		ParentHash:      "aa",
		Slot:            1,
		ValidatorPubkey: pub,
		Timestamp:       1000,
	}
	block := core.NewBlock(header, nil)
	block.Sign(priv)

	if block.Hash == "" {
		t.Error("hash should be set")
	}
	if err := block.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity: %v", err)
	}

	// Rebuilding from the same header must reproduce the same hash — the
	// signature is not part of the hashed encoding.
	rebuilt := core.NewBlock(header, nil)
	if rebuilt.Hash != block.Hash {
		t.Error("same header should hash identically")
	}
}

func TestMempool(t *testing.T) {
	state, err := testutil.NewStateDB()
	if err != nil {
		t.Fatal(err)
	}
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(w.PubKey(), core.NewAccount(1000)); err != nil {
		t.Fatal(err)
	}

	receiver, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	mp := core.NewMempool()
	tx, err := w.NewTx(receiver.Public().Hex(), 0, core.NativeTransfer{Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := mp.AddTransaction(tx, state); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if mp.Size() != 1 {
		t.Errorf("size: got %d want 1", mp.Size())
	}
	if err := mp.AddTransaction(tx, state); err == nil {
		t.Error("adding duplicate tx should fail")
	}

	pending := mp.GetTransactionsForBlock(10)
	if len(pending) != 1 {
		t.Errorf("pending: got %d want 1", len(pending))
	}

	mp.RemoveTransactions(pending)
	if mp.Size() != 0 {
		t.Error("pool should be empty after remove")
	}
}
