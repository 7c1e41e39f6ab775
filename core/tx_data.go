package core

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolchain/wire"
)

// TxType tags the kind of a transaction's payload. Adding a new kind means
// updating the switches over TxType in this package and in
// core/mempool.go's admission logic, and registering a handler for it in a
// vm/modules package; execution looks handlers up by tag in vm's registry,
// so a kind with no handler fails at execution time, not at compile time.
type TxType string

const (
	TxNativeTransfer    TxType = "NativeTransfer"
	TxCreateAsset       TxType = "CreateAsset"
	TxTransferAsset     TxType = "TransferAsset"
	TxCreateCollection  TxType = "CreateCollection"
	TxMintNFT           TxType = "MintNFT"
	TxTransferNFT       TxType = "TransferNFT"
	TxOpenChannel       TxType = "OpenChannel"
	TxCloseChannel      TxType = "CloseChannel"
	TxDelegateSpend     TxType = "DelegateSpend"
	TxRegisterValidator TxType = "RegisterValidator"
	TxUnregisterValidator TxType = "UnregisterValidator"
)

// TxData is the tagged-variant payload of a Transaction. Encode writes the
// variant's fields in the fixed order the hash formula requires.
type TxData interface {
	Tag() TxType
	Encode(w *wire.Writer)
}

type NativeTransfer struct {
	Amount uint64 `json:"amount"`
}

func (d NativeTransfer) Tag() TxType { return TxNativeTransfer }
func (d NativeTransfer) Encode(w *wire.Writer) {
	w.WriteUint64(d.Amount)
}

type CreateAsset struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Supply   uint64 `json:"supply"`
	Decimals uint8  `json:"decimals"`
	Metadata []byte `json:"metadata"`
}

func (d CreateAsset) Tag() TxType { return TxCreateAsset }
func (d CreateAsset) Encode(w *wire.Writer) {
	w.WriteString(d.Name)
	w.WriteString(d.Symbol)
	w.WriteUint64(d.Supply)
	w.WriteByte(d.Decimals)
	w.WriteBytes(d.Metadata)
}

type TransferAsset struct {
	AssetID []byte `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

func (d TransferAsset) Tag() TxType { return TxTransferAsset }
func (d TransferAsset) Encode(w *wire.Writer) {
	w.WriteBytes(d.AssetID)
	w.WriteUint64(d.Amount)
}

type CreateCollection struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Metadata []byte `json:"metadata"`
}

func (d CreateCollection) Tag() TxType { return TxCreateCollection }
func (d CreateCollection) Encode(w *wire.Writer) {
	w.WriteString(d.Name)
	w.WriteString(d.Symbol)
	w.WriteBytes(d.Metadata)
}

type MintNFT struct {
	CollectionID []byte `json:"collection_id"`
	ItemID       uint64 `json:"item_id"`
	ItemMetadata []byte `json:"item_metadata"`
	Recipient    []byte `json:"recipient"`
}

func (d MintNFT) Tag() TxType { return TxMintNFT }
func (d MintNFT) Encode(w *wire.Writer) {
	w.WriteBytes(d.CollectionID)
	w.WriteUint64(d.ItemID)
	w.WriteBytes(d.ItemMetadata)
	w.WriteBytes(d.Recipient)
}

type TransferNFT struct {
	CollectionID []byte `json:"collection_id"`
	ItemID       uint64 `json:"item_id"`
}

func (d TransferNFT) Tag() TxType { return TxTransferNFT }
func (d TransferNFT) Encode(w *wire.Writer) {
	w.WriteBytes(d.CollectionID)
	w.WriteUint64(d.ItemID)
}

type OpenChannel struct {
	Partner  []byte `json:"partner"`
	Amount   uint64 `json:"amount"`
	Duration uint64 `json:"duration"`
}

func (d OpenChannel) Tag() TxType { return TxOpenChannel }
func (d OpenChannel) Encode(w *wire.Writer) {
	w.WriteBytes(d.Partner)
	w.WriteUint64(d.Amount)
	w.WriteUint64(d.Duration)
}

type CloseChannel struct {
	ChannelID       []byte `json:"channel_id"`
	BalanceProof    []byte `json:"balance_proof"`
	FinalBalanceA   uint64 `json:"final_balance_a"`
	FinalBalanceB   uint64 `json:"final_balance_b"`
}

func (d CloseChannel) Tag() TxType { return TxCloseChannel }
func (d CloseChannel) Encode(w *wire.Writer) {
	w.WriteBytes(d.ChannelID)
	w.WriteBytes(d.BalanceProof)
	w.WriteUint64(d.FinalBalanceA)
	w.WriteUint64(d.FinalBalanceB)
}

type DelegateSpend struct {
	Delegate  []byte `json:"delegate"`
	Allowance uint64 `json:"allowance"`
	Expiry    uint64 `json:"expiry"`
}

func (d DelegateSpend) Tag() TxType { return TxDelegateSpend }
func (d DelegateSpend) Encode(w *wire.Writer) {
	w.WriteBytes(d.Delegate)
	w.WriteUint64(d.Allowance)
	w.WriteUint64(d.Expiry)
}

type RegisterValidator struct {
	Stake uint64 `json:"stake"`
	// VRFPubkey is the registrant's compressed secp256k1 VRF public key,
	// kept distinct from the ed25519 sender pubkey so a producer's block
	// signature and its leader-election proof never share a key.
	VRFPubkey []byte `json:"vrf_pubkey"`
}

func (d RegisterValidator) Tag() TxType { return TxRegisterValidator }
func (d RegisterValidator) Encode(w *wire.Writer) {
	w.WriteUint64(d.Stake)
	w.WriteBytes(d.VRFPubkey)
}

type UnregisterValidator struct{}

func (d UnregisterValidator) Tag() TxType   { return TxUnregisterValidator }
func (d UnregisterValidator) Encode(*wire.Writer) {}

// decodeTxData unmarshals raw JSON into the concrete TxData variant named
// by tag. Used by Transaction's JSON codec. Execution does not go through
// this switch: vm.Dispatch looks the handler up in vm's registry by the
// already-decoded TxData's Tag().
func decodeTxData(tag TxType, raw json.RawMessage) (TxData, error) {
	switch tag {
	case TxNativeTransfer:
		var v NativeTransfer
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxCreateAsset:
		var v CreateAsset
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxTransferAsset:
		var v TransferAsset
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxCreateCollection:
		var v CreateCollection
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxMintNFT:
		var v MintNFT
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxTransferNFT:
		var v TransferNFT
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxOpenChannel:
		var v OpenChannel
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxCloseChannel:
		var v CloseChannel
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxDelegateSpend:
		var v DelegateSpend
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxRegisterValidator:
		var v RegisterValidator
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TxUnregisterValidator:
		return UnregisterValidator{}, nil
	default:
		return nil, fmt.Errorf("unknown transaction tag %q", tag)
	}
}
