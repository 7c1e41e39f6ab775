package chain

import (
	"strings"
	"testing"

	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/validatorset"
	"github.com/tolelom/tolchain/vm"
	"github.com/tolelom/tolchain/wallet"

	_ "github.com/tolelom/tolchain/vm/modules/transfer"
)

// testChain wires a Chain directly over an in-memory store, bypassing the
// node/RPC/network layers entirely so these tests only exercise the block
// pipeline itself.
type testChain struct {
	c     *Chain
	state core.State
	clock consensus.Clock
}

func newTestChain(t *testing.T, genesisValidators []config.GenesisValidator, alloc map[string]uint64) *testChain {
	t.Helper()
	db := testutil.NewMemDB()
	store := storage.NewChainStore(db)
	state, err := storage.NewStateDB(db)
	if err != nil {
		t.Fatalf("state db: %v", err)
	}

	validators := validatorset.New()
	mempool := core.NewMempool()
	exec := vm.NewExecutor(events.NewEmitter())
	clock := consensus.NewClock(1000)

	cfg := &config.Config{
		Genesis: config.GenesisConfig{
			ChainID:    "test-chain",
			Timestamp:  1000,
			Alloc:      alloc,
			Validators: genesisValidators,
		},
	}
	placeholder, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("placeholder key: %v", err)
	}
	genesis, err := config.CreateGenesisBlock(cfg, state, validators, placeholder)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	c := New(store, state, validators, mempool, exec, events.NewEmitter(), clock)
	if err := c.Init(genesis); err != nil {
		t.Fatalf("init: %v", err)
	}
	return &testChain{c: c, state: state, clock: clock}
}

// validatorIdentity pairs a wallet's ed25519 identity with a freshly
// generated secp256k1 VRF keypair, the same pairing RegisterValidator
// establishes on a live chain.
type validatorIdentity struct {
	wallet  *wallet.Wallet
	vrfPriv crypto.VRFPrivateKey
	vrfPub  crypto.VRFPublicKey
}

func newValidatorIdentity(t *testing.T, w *wallet.Wallet) validatorIdentity {
	t.Helper()
	vrfPriv, vrfPub, err := crypto.GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("vrf key pair: %v", err)
	}
	return validatorIdentity{wallet: w, vrfPriv: vrfPriv, vrfPub: vrfPub}
}

func (id validatorIdentity) genesisEntry(stake uint64) config.GenesisValidator {
	return config.GenesisValidator{Pubkey: id.wallet.PubKey(), VRFPubkey: id.vrfPub.Hex(), Stake: stake}
}

// signBlock builds and signs a block extending parent at slot under id's
// identity, without adding it to the chain.
func signBlock(t *testing.T, parent *core.Block, slot uint64, id validatorIdentity, txs []*core.Transaction, timestampMS int64) *core.Block {
	t.Helper()
	seed := consensus.VRFSeed(parent.Header.VRFOutput, slot)
	vrfOutput, vrfProof, err := consensus.SealVRF(id.vrfPriv, seed)
	if err != nil {
		t.Fatalf("vrf seal: %v", err)
	}
	header := core.BlockHeader{
		ParentHash:      parent.Hash,
		Slot:            slot,
		Epoch:           consensus.Epoch(slot),
		VRFOutput:       vrfOutput,
		VRFProof:        vrfProof,
		ValidatorPubkey: id.wallet.PrivKey().Public(),
		Timestamp:       timestampMS,
	}
	block := core.NewBlock(header, txs)
	block.Sign(id.wallet.PrivKey())
	return block
}

// soleValidator registers id as the only validator, so it is the slot
// leader at every slot (its stake is 100% of total, and IsSlotLeader's
// vrf_value/2^64 ratio is always strictly below 1).
func soleValidator(id validatorIdentity, stake uint64) []config.GenesisValidator {
	return []config.GenesisValidator{id.genesisEntry(stake)}
}

// TestAddBlockAtomicRollback covers the block-level atomic rollback
// invariant: a block whose second transaction fails dispatch must leave
// state exactly as it was before the block was attempted, including the
// first transaction's otherwise-successful effect.
func TestAddBlockAtomicRollback(t *testing.T) {
	senderW, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	sender := newValidatorIdentity(t, senderW)

	h := newTestChain(t, soleValidator(sender, 2000), map[string]uint64{senderW.PubKey(): 1000})

	tx, err := senderW.NewTx(receiver.PubKey(), 0, core.NativeTransfer{Amount: 100})
	if err != nil {
		t.Fatal(err)
	}

	genesis, err := h.c.GetBlock(h.c.Head())
	if err != nil {
		t.Fatal(err)
	}
	// tx appears twice: the second application reuses nonce 0 against an
	// account whose staged nonce has already advanced to 1, so dispatch
	// fails and the whole block must be discarded atomically.
	block := signBlock(t, genesis, 1, sender, []*core.Transaction{tx, tx}, 3000)

	if err := h.c.AddBlock(block); err == nil {
		t.Fatal("expected block with an internally failing tx to be rejected")
	}
	if h.c.Head() != genesis.Hash {
		t.Fatalf("head moved despite rejected block: got %s want %s", h.c.Head(), genesis.Hash)
	}
	if bal := h.state.GetBalance(senderW.PubKey()); bal != 1000 {
		t.Fatalf("sender balance leaked from a discarded block: got %d want 1000", bal)
	}
	if bal := h.state.GetBalance(receiver.PubKey()); bal != 0 {
		t.Fatalf("receiver balance leaked from a discarded block: got %d want 0", bal)
	}
}

// TestAddBlockEquivocationSlashesProducer covers the equivocation path: a
// producer that signs two different blocks for the same slot must be
// slashed and the second block rejected, leaving the first as head.
func TestAddBlockEquivocationSlashesProducer(t *testing.T) {
	producerW, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	other, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	producer := newValidatorIdentity(t, producerW)

	h := newTestChain(t, soleValidator(producer, 2000), nil)
	genesis, err := h.c.GetBlock(h.c.Head())
	if err != nil {
		t.Fatal(err)
	}

	blockA := signBlock(t, genesis, 1, producer, nil, 3000)
	if err := h.c.AddBlock(blockA); err != nil {
		t.Fatalf("first block at slot 1: %v", err)
	}
	if h.c.Head() != blockA.Hash {
		t.Fatalf("head = %s, want %s", h.c.Head(), blockA.Hash)
	}

	tx, err := producerW.NewTx(other.PubKey(), 0, core.NativeTransfer{Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Same producer, same slot, a different body (and therefore a
	// different hash): a textbook equivocation.
	blockB := signBlock(t, genesis, 1, producer, []*core.Transaction{tx}, 3000)
	if blockB.Hash == blockA.Hash {
		t.Fatal("test setup: blockB must differ from blockA to exercise equivocation")
	}

	err = h.c.AddBlock(blockB)
	if err == nil || !strings.Contains(err.Error(), "equivocation") {
		t.Fatalf("expected an equivocation error, got %v", err)
	}
	if h.c.Head() != blockA.Hash {
		t.Fatalf("head changed after a rejected equivocating block: got %s want %s", h.c.Head(), blockA.Hash)
	}

	info, ok := h.c.Validators().Get(producerW.PrivKey().Public())
	if !ok {
		t.Fatal("producer should still be registered (slashed, not removed)")
	}
	if !info.Slashed {
		t.Fatal("equivocating producer should be slashed")
	}
	if h.c.Validators().TotalStake() != 0 {
		t.Fatalf("total stake after slash = %d, want 0", h.c.Validators().TotalStake())
	}
}

// TestFinalityCrossesTwoThirdsThreshold covers the >2/3 stake vote
// threshold: a block must stay unfinalized until enough distinct
// validators' stake crosses the boundary, then flip exactly once it does.
func TestFinalityCrossesTwoThirdsThreshold(t *testing.T) {
	v1w, err := wallet.Generate() // 2000 stake, acts as block producer
	if err != nil {
		t.Fatal(err)
	}
	v2w, err := wallet.Generate() // 1000 stake
	if err != nil {
		t.Fatal(err)
	}
	v3w, err := wallet.Generate() // 1000 stake, never votes in this test
	if err != nil {
		t.Fatal(err)
	}
	v1 := newValidatorIdentity(t, v1w)
	v2 := newValidatorIdentity(t, v2w)
	v3 := newValidatorIdentity(t, v3w)

	genesisValidators := []config.GenesisValidator{
		v1.genesisEntry(2000),
		v2.genesisEntry(1000),
		v3.genesisEntry(1000),
	}
	h := newTestChain(t, genesisValidators, nil)
	genesisHash := h.c.Head()

	// v1 holds exactly half of the 4000 total stake, so it is not
	// guaranteed to lead every slot; try slots until it is.
	var block *core.Block
	for slot := uint64(1); slot <= 50; slot++ {
		parent, err := h.c.GetBlock(h.c.Head())
		if err != nil {
			t.Fatal(err)
		}
		candidate := signBlock(t, parent, slot, v1, nil, 1000+int64(slot)*int64(config.SlotDurationMS))
		if !h.c.Validators().IsSlotLeader(v1w.PrivKey().Public(), candidate.Header.VRFOutput) {
			continue
		}
		if err := h.c.AddBlock(candidate); err != nil {
			t.Fatalf("add block at slot %d: %v", slot, err)
		}
		selfVote, err := core.NewVote(v1w.PrivKey(), candidate.Hash)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.c.AddVote(selfVote); err != nil {
			t.Fatalf("self vote: %v", err)
		}
		block = candidate
		break
	}
	if block == nil {
		t.Fatal("v1 never became slot leader within 50 slots")
	}

	// v1 alone holds 2000/4000 = 50%, below the 2/3 threshold.
	if h.c.FinalizedHead() != genesisHash {
		t.Fatalf("block finalized on minority stake alone: finalized head = %s", h.c.FinalizedHead())
	}

	v2Vote, err := core.NewVote(v2w.PrivKey(), block.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.c.AddVote(v2Vote); err != nil {
		t.Fatalf("v2 vote: %v", err)
	}

	// v1 + v2 now hold 3000/4000 = 75%, crossing 2/3.
	if h.c.FinalizedHead() != block.Hash {
		t.Fatalf("finalized head = %s, want %s after crossing 2/3 stake", h.c.FinalizedHead(), block.Hash)
	}
}
