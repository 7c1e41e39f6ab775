package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/wallet"
)

// NodeAPI is everything the HTTP layer needs from the block loop. Every
// method is a command the node loop answers over a one-shot reply
// channel (§5): a dropped channel surfaces here as ErrTimeout, an
// application-level failure as ErrValidation or ErrNotFound.
type NodeAPI interface {
	Stats(ctx context.Context) (StatsResult, error)
	BlockLatest(ctx context.Context) (*core.Block, error)
	BlockByHash(ctx context.Context, hash string) (*core.Block, error)
	Blocks(ctx context.Context, startHeight uint64, limit int) ([]*core.Block, error)
	Account(ctx context.Context, addr string) (*core.Account, error)
	AccountHistory(ctx context.Context, addr string) ([]string, error)
	TransactionByHash(ctx context.Context, hash string) (*TxRecord, error)
	SendTransaction(ctx context.Context, tx *core.Transaction) (string, error)
	Mempool(ctx context.Context) ([]*core.Transaction, error)
	Peers(ctx context.Context) ([]PeerResult, error)
	Validator(ctx context.Context, addr string) (*ValidatorResult, error)
	Validators(ctx context.Context) ([]*ValidatorResult, error)
	Consensus(ctx context.Context) (*ConsensusResult, error)
	Faucet(ctx context.Context, addr string) (string, error)
}

// Handler routes HTTP requests onto NodeAPI commands. It owns no chain
// state itself, so handlers never race the block loop.
type Handler struct {
	api NodeAPI
}

// NewHandler creates an RPC Handler over api.
func NewHandler(api NodeAPI) *Handler {
	return &Handler{api: api}
}

// Routes registers every endpoint in spec §6 onto mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /block/latest", h.blockLatest)
	mux.HandleFunc("GET /block/{hash}", h.blockByHash)
	mux.HandleFunc("GET /blocks", h.blocks)
	mux.HandleFunc("GET /account/{addr}", h.account)
	mux.HandleFunc("GET /account/{addr}/history", h.accountHistory)
	mux.HandleFunc("GET /transaction/{hash}", h.transaction)
	mux.HandleFunc("POST /transaction/send", h.sendTransaction)
	mux.HandleFunc("POST /transaction/create", h.createTransaction)
	mux.HandleFunc("GET /mempool", h.mempool)
	mux.HandleFunc("GET /peers", h.peers)
	mux.HandleFunc("POST /wallet/new", h.walletNew)
	mux.HandleFunc("POST /wallet/recover", h.walletRecover)
	mux.HandleFunc("GET /validator/{addr}", h.validatorOne)
	mux.HandleFunc("GET /validator", h.validators)
	mux.HandleFunc("GET /validators", h.validators)
	mux.HandleFunc("POST /validator/register", h.registerValidator)
	mux.HandleFunc("GET /consensus", h.consensus)
	mux.HandleFunc("POST /faucet", h.faucet)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	res, err := h.api.Stats(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) blockLatest(w http.ResponseWriter, r *http.Request) {
	b, err := h.api.BlockLatest(r.Context())
	writeResult(w, b, err)
}

func (h *Handler) blockByHash(w http.ResponseWriter, r *http.Request) {
	b, err := h.api.BlockByHash(r.Context(), r.PathValue("hash"))
	writeResult(w, b, err)
}

func (h *Handler) blocks(w http.ResponseWriter, r *http.Request) {
	start, err := parseUint(r.URL.Query().Get("start_height"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad start_height", ErrValidation))
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: bad limit", ErrValidation))
			return
		}
		limit = n
	}
	blocks, err := h.api.Blocks(r.Context(), start, limit)
	writeResult(w, blocks, err)
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	acc, err := h.api.Account(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, AccountResult{Address: addr, Account: acc}, nil)
}

func (h *Handler) accountHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.api.AccountHistory(r.Context(), r.PathValue("addr"))
	writeResult(w, hist, err)
}

func (h *Handler) transaction(w http.ResponseWriter, r *http.Request) {
	rec, err := h.api.TransactionByHash(r.Context(), r.PathValue("hash"))
	writeResult(w, rec, err)
}

func (h *Handler) sendTransaction(w http.ResponseWriter, r *http.Request) {
	var req SendTxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Tx == nil {
		writeError(w, fmt.Errorf("%w: tx is required", ErrValidation))
		return
	}
	hash, err := h.api.SendTransaction(r.Context(), req.Tx)
	writeResult(w, SendTxResult{TxHash: hash}, err)
}

// createTransaction builds and signs a transaction from a held private
// key, reusing core.Transaction's own {tag, data} JSON codec rather than
// re-implementing the per-variant decode switch. It never touches the
// mempool; callers forward the result to /transaction/send themselves.
func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	privBytes, err := hex.DecodeString(req.PrivKeyHex)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad priv_key_hex", ErrValidation))
		return
	}
	priv := crypto.PrivateKey(privBytes)
	pub := priv.Public()

	var receiver []byte
	if req.ReceiverHex != "" {
		receiver, err = hex.DecodeString(req.ReceiverHex)
		if err != nil {
			writeError(w, fmt.Errorf("%w: bad receiver_hex", ErrValidation))
			return
		}
	}

	wireTx := struct {
		Sender   []byte          `json:"sender"`
		Receiver []byte          `json:"receiver,omitempty"`
		Nonce    uint64          `json:"nonce"`
		Tag      core.TxType     `json:"tag"`
		Data     json.RawMessage `json:"data"`
	}{Sender: pub, Receiver: receiver, Nonce: req.Nonce, Tag: req.Tag, Data: req.Data}

	raw, err := json.Marshal(wireTx)
	if err != nil {
		writeError(w, err)
		return
	}
	var decoded core.Transaction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}

	tx := core.NewTransaction(priv, receiver, req.Nonce, decoded.Data)
	writeResult(w, CreateTxResult{Tx: tx}, nil)
}

func (h *Handler) mempool(w http.ResponseWriter, r *http.Request) {
	txs, err := h.api.Mempool(r.Context())
	writeResult(w, txs, err)
}

func (h *Handler) peers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.api.Peers(r.Context())
	writeResult(w, peers, err)
}

func (h *Handler) walletNew(w http.ResponseWriter, r *http.Request) {
	wal, err := wallet.Generate()
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, walletResultOf(wal), nil)
}

func (h *Handler) walletRecover(w http.ResponseWriter, r *http.Request) {
	var req WalletRecoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	privBytes, err := hex.DecodeString(req.PrivKeyHex)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad priv_key_hex", ErrValidation))
		return
	}
	wal := wallet.New(crypto.PrivateKey(privBytes))
	writeResult(w, walletResultOf(wal), nil)
}

func walletResultOf(wal *wallet.Wallet) WalletResult {
	return WalletResult{
		PubKeyHex:  wal.PubKey(),
		PrivKeyHex: hex.EncodeToString(wal.PrivKey()),
		Address:    wal.Address(),
	}
}

func (h *Handler) validatorOne(w http.ResponseWriter, r *http.Request) {
	v, err := h.api.Validator(r.Context(), r.PathValue("addr"))
	writeResult(w, v, err)
}

func (h *Handler) validators(w http.ResponseWriter, r *http.Request) {
	vs, err := h.api.Validators(r.Context())
	writeResult(w, vs, err)
}

func (h *Handler) registerValidator(w http.ResponseWriter, r *http.Request) {
	var req RegisterValidatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	privBytes, err := hex.DecodeString(req.PrivKeyHex)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad priv_key_hex", ErrValidation))
		return
	}
	vrfPub, err := hex.DecodeString(req.VRFPubKeyHex)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad vrf_pub_key_hex", ErrValidation))
		return
	}
	wal := wallet.New(crypto.PrivateKey(privBytes))
	tx, err := wal.RegisterValidator(req.Stake, req.Nonce, vrfPub)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	hash, err := h.api.SendTransaction(r.Context(), tx)
	writeResult(w, SendTxResult{TxHash: hash}, err)
}

func (h *Handler) consensus(w http.ResponseWriter, r *http.Request) {
	res, err := h.api.Consensus(r.Context())
	writeResult(w, res, err)
}

func (h *Handler) faucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == "" {
		writeError(w, fmt.Errorf("%w: address is required", ErrValidation))
		return
	}
	hash, err := h.api.Faucet(r.Context(), req.Address)
	writeResult(w, SendTxResult{TxHash: hash}, err)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// writeResult writes v as 200 JSON, or maps err to its status code.
func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err's kind to spec §6/§7's status codes: 400 on
// malformed/semantic rejection, 404 on missing, 408 on a dropped
// cross-task channel, 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		status = http.StatusRequestTimeout
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}
