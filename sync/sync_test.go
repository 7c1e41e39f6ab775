package sync

import (
	"testing"

	"github.com/tolelom/tolchain/chain"
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
)

// newIdenticalChains builds two independently-wired chains sharing the
// same genesis config (and therefore the same genesis hash, since
// producer signatures never enter the header hash), standing in for a
// synced peer and a fresh local node. Returns the proposer's VRF private
// key alongside, for driving block production on the peer chain.
func newIdenticalChains(t *testing.T, proposer *wallet.Wallet) (peerChain, localChain *chain.Chain, vrfPriv crypto.VRFPrivateKey) {
	t.Helper()
	vrfPriv, vrfPub, err := crypto.GenerateVRFKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Genesis: config.GenesisConfig{
			ChainID:    "test-chain",
			Timestamp:  1000,
			Validators: []config.GenesisValidator{{Pubkey: proposer.PubKey(), VRFPubkey: vrfPub.Hex(), Stake: 2000}},
		},
	}
	build := func() *chain.Chain {
		db := testutil.NewMemDB()
		store := storage.NewChainStore(db)
		state, err := storage.NewStateDB(db)
		if err != nil {
			t.Fatalf("state db: %v", err)
		}
		validators := validatorset.New()
		genesis, err := config.CreateGenesisBlock(cfg, state, validators, proposer.PrivKey())
		if err != nil {
			t.Fatalf("genesis: %v", err)
		}
		c := chain.New(store, state, validators, core.NewMempool(), vm.NewExecutor(events.NewEmitter()), events.NewEmitter(), consensus.NewClock(1000))
		if err := c.Init(genesis); err != nil {
			t.Fatalf("init: %v", err)
		}
		return c
	}
	return build(), build(), vrfPriv
}

// produceBlocks drives c's own local production loop for n slots. With a
// single validator holding all the stake, it is the slot leader every
// tick, so each call yields exactly one new block.
func produceBlocks(t *testing.T, c *chain.Chain, signingKey crypto.PrivateKey, vrfKey crypto.VRFPrivateKey, n int) []*core.Block {
	t.Helper()
	blocks := make([]*core.Block, 0, n)
	nowMS := int64(1000)
	for len(blocks) < n {
		nowMS += int64(config.SlotDurationMS)
		block, _, err := c.ProduceBlock(nowMS, signingKey, vrfKey, 0)
		if err != nil {
			t.Fatalf("produce block: %v", err)
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// TestSyncCatchUpToTargetHeight covers the happy-path S5 scenario: a node
// behind a peer's advertised height syncs by replaying the peer's blocks
// and transitions Idle -> Syncing -> Synced.
func TestSyncCatchUpToTargetHeight(t *testing.T) {
	proposer, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}

	peerChain, localChain, vrfPriv := newIdenticalChains(t, proposer)
	blocks := produceBlocks(t, peerChain, proposer.PrivKey(), vrfPriv, 3)

	m := New()
	if m.State() != Idle {
		t.Fatalf("new manager state = %s, want idle", m.State())
	}
	m.UpdatePeer(PeerInfo{ID: "peer1", Height: peerChain.Height()})

	peer, ok := m.ShouldSync(localChain.Height())
	if !ok || peer.ID != "peer1" {
		t.Fatalf("ShouldSync: got (%v, %v), want (peer1, true)", peer, ok)
	}
	m.StartSync(peer.ID, peer.Height)
	if m.State() != Syncing {
		t.Fatalf("state after StartSync = %s, want syncing", m.State())
	}

	if err := m.ProcessBlocks(blocks, localChain); err != nil {
		t.Fatalf("process_blocks: %v", err)
	}

	if m.State() != Synced {
		t.Fatalf("state after catching up = %s, want synced", m.State())
	}
	if localChain.Height() != peerChain.Height() {
		t.Fatalf("local height = %d, want %d", localChain.Height(), peerChain.Height())
	}
	if localChain.Head() != peerChain.Head() {
		t.Fatalf("local head = %s, want %s", localChain.Head(), peerChain.Head())
	}

	drained := m.DrainEvents()
	if len(drained) != 2 || drained[0] != SyncStarted || drained[1] != SyncCompleted {
		t.Fatalf("events = %v, want [sync_started sync_completed]", drained)
	}
}

// TestSyncStallOnEmptyBatch covers the stall-detection edge case: a peer
// that advertised a height it cannot actually serve hands back an empty
// batch, which must drop the manager back to Idle rather than spin
// forever in Syncing.
func TestSyncStallOnEmptyBatch(t *testing.T) {
	proposer, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	_, localChain, _ := newIdenticalChains(t, proposer)

	m := New()
	m.StartSync("flaky-peer", 10)
	m.DrainEvents() // discard the sync_started event, not under test here

	if err := m.ProcessBlocks(nil, localChain); err != nil {
		t.Fatalf("process_blocks with empty batch: %v", err)
	}

	if m.State() != Idle {
		t.Fatalf("state after stall = %s, want idle", m.State())
	}
	if m.Peer() != "" {
		t.Fatalf("peer after stall = %q, want empty", m.Peer())
	}

	drained := m.DrainEvents()
	if len(drained) != 1 || drained[0] != SyncFailed {
		t.Fatalf("events = %v, want [sync_failed]", drained)
	}
}

// TestProcessBlocksRequiresSyncingState covers the guard clause: calling
// ProcessBlocks outside Syncing is a usage error, not a silent no-op.
func TestProcessBlocksRequiresSyncingState(t *testing.T) {
	proposer, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	_, localChain, _ := newIdenticalChains(t, proposer)

	m := New()
	if err := m.ProcessBlocks(nil, localChain); err == nil {
		t.Fatal("expected an error calling ProcessBlocks while idle")
	}
}
