package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tolelom/tolchain/chain"
	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/indexer"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/node"
	"github.com/tolelom/tolchain/rpc"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/sync"
	"github.com/tolelom/tolchain/validatorset"
	"github.com/tolelom/tolchain/vm"
	"github.com/tolelom/tolchain/wallet"

	_ "github.com/tolelom/tolchain/vm/modules/asset"
	_ "github.com/tolelom/tolchain/vm/modules/transfer"
)

// testHarness wires a single node entirely in memory (MemDB, an
// unbound P2P listener, no seed peers) behind an httptest.Server, and
// drives node.Node.Run on a background goroutine for the life of the test.
type testHarness struct {
	srv *httptest.Server
}

func startHarness(t *testing.T, proposer *wallet.Wallet, alloc map[string]uint64) *testHarness {
	t.Helper()

	db := testutil.NewMemDB()
	chainStore := storage.NewChainStore(db)
	state, err := storage.NewStateDB(db)
	if err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(emitter)
	validators := validatorset.New()
	// Genesis is "now": the node stays at slot 0 (height 0) until slot 1
	// begins SlotDurationMS later, then produces its first block.
	genesisMS := time.Now().UnixMilli()
	clock := consensus.NewClock(genesisMS)

	vrfPriv, vrfPub, err := crypto.GenerateVRFKeyPair()
	if err != nil {
		t.Fatalf("vrf keygen: %v", err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     t.TempDir(),
		MaxBlockTxs: 100,
		Genesis: config.GenesisConfig{
			ChainID:   "test-chain",
			Timestamp: genesisMS,
			Alloc:     alloc,
			Validators: []config.GenesisValidator{
				{Pubkey: proposer.PubKey(), VRFPubkey: vrfPub.Hex(), Stake: validatorset.MinStake},
			},
		},
	}

	genesis, err := config.CreateGenesisBlock(cfg, state, validators, proposer.PrivKey())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	c := chain.New(chainStore, state, validators, mempool, exec, emitter, clock)
	if err := c.Init(genesis); err != nil {
		t.Fatalf("chain init: %v", err)
	}

	net := network.NewNode("test-node", ":0", nil)
	if err := net.Start(); err != nil {
		t.Fatalf("p2p start: %v", err)
	}
	syncMgr := sync.New()

	n := node.New(cfg, c, mempool, validators, idx, net, syncMgr, clock, proposer.PrivKey(), vrfPriv)

	handler := rpc.NewHandler(n)
	mux := http.NewServeMux()
	handler.Routes(mux)
	srv := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, nil) }()

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		net.Stop()
	})

	return &testHarness{srv: srv}
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestRESTStatsAndGenesisBlock(t *testing.T) {
	server, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	h := startHarness(t, server, map[string]uint64{server.PubKey(): 1_000_000})

	var stats rpc.StatsResult
	if code := get(t, h.srv.URL+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("GET /stats: status %d", code)
	}
	if stats.ChainID != "test-chain" {
		t.Errorf("chain_id: got %q want test-chain", stats.ChainID)
	}
	if stats.Height != 0 {
		t.Errorf("height: got %d want 0 at genesis", stats.Height)
	}

	var block core.Block
	if code := get(t, h.srv.URL+"/block/latest", &block); code != http.StatusOK {
		t.Fatalf("GET /block/latest: status %d", code)
	}
	if block.Hash != stats.Head {
		t.Errorf("latest block hash %q should match stats head %q", block.Hash, stats.Head)
	}
}

func TestRESTSendTransactionAndMine(t *testing.T) {
	server, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	h := startHarness(t, server, map[string]uint64{server.PubKey(): 1_000_000})

	tx, err := server.NewTx(recipient.PubKey(), 0, core.NativeTransfer{Amount: 500})
	if err != nil {
		t.Fatal(err)
	}
	var result rpc.SendTxResult
	code := postJSON(t, h.srv.URL+"/transaction/send", rpc.SendTxRequest{Tx: tx}, &result)
	if code != http.StatusOK {
		t.Fatalf("POST /transaction/send: status %d", code)
	}
	if result.TxHash != tx.HashHex() {
		t.Errorf("tx_hash: got %q want %q", result.TxHash, tx.HashHex())
	}

	var acc rpc.AccountResult
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		get(t, fmt.Sprintf("%s/account/%s", h.srv.URL, recipient.PubKey()), &acc)
		if acc.Account != nil && acc.Balance == 500 {
			break
		}
		time.Sleep(150 * time.Millisecond)
	}
	if acc.Account == nil || acc.Balance != 500 {
		t.Fatalf("recipient balance never reached 500 (got %+v)", acc.Account)
	}
}

func TestRESTUnknownAccountReturns404(t *testing.T) {
	server, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	h := startHarness(t, server, map[string]uint64{server.PubKey(): 1})

	code := get(t, h.srv.URL+"/account/"+fmt.Sprintf("%064x", 1), nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown account: got status %d want 404", code)
	}
}
