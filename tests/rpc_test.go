package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/rpc"
)

// fakeAPI is a minimal in-memory rpc.NodeAPI used to test Handler's HTTP
// translation and error-status mapping without a running node loop.
type fakeAPI struct {
	accounts map[string]*core.Account
	blocks   map[string]*core.Block
	head     *core.Block
	sentTx   *core.Transaction
}

func newFakeAPI() *fakeAPI {
	head := core.NewBlock(core.BlockHeader{ParentHash: "00", Slot: 0}, nil)
	return &fakeAPI{
		accounts: make(map[string]*core.Account),
		blocks:   map[string]*core.Block{head.Hash: head},
		head:     head,
	}
}

func (f *fakeAPI) Stats(ctx context.Context) (rpc.StatsResult, error) {
	return rpc.StatsResult{ChainID: "fake-chain", Head: f.head.Hash, FinalizedHead: f.head.Hash}, nil
}
func (f *fakeAPI) BlockLatest(ctx context.Context) (*core.Block, error) { return f.head, nil }
func (f *fakeAPI) BlockByHash(ctx context.Context, hash string) (*core.Block, error) {
	b, ok := f.blocks[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}
func (f *fakeAPI) Blocks(ctx context.Context, startHeight uint64, limit int) ([]*core.Block, error) {
	return []*core.Block{f.head}, nil
}
func (f *fakeAPI) Account(ctx context.Context, addr string) (*core.Account, error) {
	acc, ok := f.accounts[addr]
	if !ok {
		return nil, core.ErrNotFound
	}
	return acc, nil
}
func (f *fakeAPI) AccountHistory(ctx context.Context, addr string) ([]string, error) {
	return nil, nil
}
func (f *fakeAPI) TransactionByHash(ctx context.Context, hash string) (*rpc.TxRecord, error) {
	if f.sentTx == nil || f.sentTx.HashHex() != hash {
		return nil, core.ErrNotFound
	}
	return &rpc.TxRecord{Hash: hash, Type: string(f.sentTx.Data.Tag())}, nil
}
func (f *fakeAPI) SendTransaction(ctx context.Context, tx *core.Transaction) (string, error) {
	if err := tx.Verify(); err != nil {
		return "", fmt.Errorf("%w: %v", rpc.ErrValidation, err)
	}
	f.sentTx = tx
	return tx.HashHex(), nil
}
func (f *fakeAPI) Mempool(ctx context.Context) ([]*core.Transaction, error) { return nil, nil }
func (f *fakeAPI) Peers(ctx context.Context) ([]rpc.PeerResult, error)      { return nil, nil }
func (f *fakeAPI) Validator(ctx context.Context, addr string) (*rpc.ValidatorResult, error) {
	return nil, core.ErrNotFound
}
func (f *fakeAPI) Validators(ctx context.Context) ([]*rpc.ValidatorResult, error) { return nil, nil }
func (f *fakeAPI) Consensus(ctx context.Context) (*rpc.ConsensusResult, error) {
	return &rpc.ConsensusResult{Head: f.head.Hash}, nil
}
func (f *fakeAPI) Faucet(ctx context.Context, addr string) (string, error) {
	return "", fmt.Errorf("%w: faucet disabled in test", rpc.ErrValidation)
}

var _ rpc.NodeAPI = (*fakeAPI)(nil)

func newTestServer(t *testing.T, api *fakeAPI) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	rpc.NewHandler(api).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlerStats(t *testing.T) {
	srv := newTestServer(t, newFakeAPI())
	var stats rpc.StatsResult
	if code := get(t, srv.URL+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("status: got %d want 200", code)
	}
	if stats.ChainID != "fake-chain" {
		t.Errorf("chain_id: got %q", stats.ChainID)
	}
}

func TestHandlerBlockByHashNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeAPI())
	code := get(t, srv.URL+"/block/deadbeef", nil)
	if code != http.StatusNotFound {
		t.Errorf("status: got %d want 404", code)
	}
}

func TestHandlerAccountNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeAPI())
	code := get(t, srv.URL+"/account/nobody", nil)
	if code != http.StatusNotFound {
		t.Errorf("status: got %d want 404", code)
	}
}

func TestHandlerSendTransactionMalformedBody(t *testing.T) {
	srv := newTestServer(t, newFakeAPI())
	resp, err := http.Post(srv.URL+"/transaction/send", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d want 400", resp.StatusCode)
	}
}

func TestHandlerFaucetRejected(t *testing.T) {
	srv := newTestServer(t, newFakeAPI())
	code := postJSON(t, srv.URL+"/faucet", rpc.FaucetRequest{Address: "somebody"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status: got %d want 400", code)
	}
}
