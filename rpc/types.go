// Package rpc exposes the node's authoritative state over a REST-ish HTTP
// API. The server never touches Chain/State/Mempool directly: every
// handler issues a command against NodeAPI, which the node loop answers
// over a one-shot reply channel (see package node). A dropped channel
// surfaces here as ErrTimeout.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/tolchain/core"
)

// Sentinel error kinds the handler maps to HTTP status codes. NodeAPI
// implementations should wrap one of these with fmt.Errorf("...: %w", ...)
// so errors.Is still matches.
var (
	// ErrNotFound is core.ErrNotFound re-exported so NodeAPI implementations
	// can return storage-layer not-found errors straight through and still
	// have writeError map them to 404 via errors.Is.
	ErrNotFound     = core.ErrNotFound
	ErrValidation   = errors.New("validation error")
	ErrTimeout      = errors.New("request timed out")
	ErrUnauthorized = errors.New("unauthorized")
)

// StatsResult answers GET /stats.
type StatsResult struct {
	ChainID       string `json:"chain_id"`
	Head          string `json:"head"`
	FinalizedHead string `json:"finalized_head"`
	Height        uint64 `json:"height"`
	Slot          uint64 `json:"slot"`
	Epoch         uint64 `json:"epoch"`
	MempoolSize   int    `json:"mempool_size"`
	PeerCount     int    `json:"peer_count"`
}

// AccountResult answers GET /account/{addr}.
type AccountResult struct {
	Address string `json:"address"`
	*core.Account
}

// TxRecord answers GET /transaction/{hash}: an indexed transaction plus
// the block it landed in.
type TxRecord struct {
	Hash string `json:"hash"`
	Slot uint64 `json:"slot"`
	Type string `json:"type"`
}

// SendTxRequest is the body of POST /transaction/send: an already-signed
// transaction in core.Transaction's JSON shape ({tag, data} plus the
// envelope fields, byte fields base64-encoded).
type SendTxRequest struct {
	Tx *core.Transaction `json:"tx"`
}

// SendTxResult answers POST /transaction/send and POST /validator/register.
type SendTxResult struct {
	TxHash string `json:"tx_hash"`
}

// CreateTxRequest is the body of POST /transaction/create: builds and
// signs a transaction from a held private key without submitting it,
// for offline inspection or relaying through another node. Tag/Data use
// the same {tag, data} shape core.Transaction's own JSON codec accepts.
type CreateTxRequest struct {
	PrivKeyHex  string          `json:"priv_key_hex"`
	ReceiverHex string          `json:"receiver_hex,omitempty"`
	Nonce       uint64          `json:"nonce"`
	Tag         core.TxType     `json:"tag"`
	Data        json.RawMessage `json:"data"`
}

// CreateTxResult answers POST /transaction/create.
type CreateTxResult struct {
	Tx *core.Transaction `json:"tx"`
}

// PeerResult is one entry of GET /peers.
type PeerResult struct {
	ID     string `json:"id"`
	Addr   string `json:"addr"`
	Height uint64 `json:"height"`
}

// WalletResult answers POST /wallet/new and POST /wallet/recover.
type WalletResult struct {
	PubKeyHex  string `json:"pub_key_hex"`
	PrivKeyHex string `json:"priv_key_hex"`
	Address    string `json:"address"`
}

// WalletRecoverRequest is the body of POST /wallet/recover.
type WalletRecoverRequest struct {
	PrivKeyHex string `json:"priv_key_hex"`
}

// ValidatorResult is one entry of GET /validator[/{addr}] and GET /validators.
type ValidatorResult struct {
	PubKeyHex       string `json:"pub_key_hex"`
	VRFPubKeyHex    string `json:"vrf_pub_key_hex"`
	Stake           uint64 `json:"stake"`
	RegisteredEpoch uint64 `json:"registered_epoch"`
	Slashed         bool   `json:"slashed"`
}

// RegisterValidatorRequest is the body of POST /validator/register.
type RegisterValidatorRequest struct {
	PrivKeyHex    string `json:"priv_key_hex"`
	VRFPubKeyHex  string `json:"vrf_pub_key_hex"`
	Stake         uint64 `json:"stake"`
	Nonce         uint64 `json:"nonce"`
}

// ConsensusResult answers GET /consensus.
type ConsensusResult struct {
	Slot          uint64 `json:"slot"`
	Epoch         uint64 `json:"epoch"`
	Head          string `json:"head"`
	FinalizedHead string `json:"finalized_head"`
	TotalStake    uint64 `json:"total_stake"`
}

// FaucetRequest is the body of POST /faucet.
type FaucetRequest struct {
	Address string `json:"address"`
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}
