package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/wire"
)

// Transaction is a single signed state transition. Its hash is the SHA-256
// of sender || receiver || LE64(nonce) || tag || tagged fields in the
// order TxData.Encode writes them, and is what gets signed under the "tx"
// context and what mempool/tx_index key off of.
type Transaction struct {
	Sender    []byte `json:"sender"`
	Receiver  []byte `json:"receiver,omitempty"`
	Nonce     uint64 `json:"nonce"`
	Data      TxData `json:"data"`
	Signature []byte `json:"signature,omitempty"`
}

type txJSON struct {
	Sender    []byte          `json:"sender"`
	Receiver  []byte          `json:"receiver,omitempty"`
	Nonce     uint64          `json:"nonce"`
	Tag       TxType          `json:"tag"`
	Data      json.RawMessage `json:"data"`
	Signature []byte          `json:"signature,omitempty"`
}

// MarshalJSON flattens the tagged variant into {tag, data} alongside the
// envelope fields, the same shape the teacher's Payload/json.RawMessage
// pattern used, generalized to a typed Data field.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	if tx.Data == nil {
		return nil, errors.New("transaction: nil data")
	}
	raw, err := json.Marshal(tx.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(txJSON{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Nonce:     tx.Nonce,
		Tag:       tx.Data.Tag(),
		Data:      raw,
		Signature: tx.Signature,
	})
}

func (tx *Transaction) UnmarshalJSON(b []byte) error {
	var j txJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	data, err := decodeTxData(j.Tag, j.Data)
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	tx.Sender = j.Sender
	tx.Receiver = j.Receiver
	tx.Nonce = j.Nonce
	tx.Data = data
	tx.Signature = j.Signature
	return nil
}

// Hash computes the transaction's canonical hash per the §3 formula.
func (tx *Transaction) Hash() []byte {
	w := wire.NewWriter()
	w.WriteBytes(tx.Sender)
	w.WriteBytes(tx.Receiver)
	w.WriteUint64(tx.Nonce)
	w.WriteString(string(tx.Data.Tag()))
	tx.Data.Encode(w)
	return crypto.HashBytes(w.Bytes())
}

// HashHex returns Hash as lowercase hex, the form used for tx_index keys.
func (tx *Transaction) HashHex() string {
	return hex.EncodeToString(tx.Hash())
}

// Sign signs the transaction hash under the "tx" context and sets Sender
// from priv's public key.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.Sender = priv.Public()
	sigHex := crypto.SignContext(priv, crypto.ContextTx, tx.Hash())
	sig, _ := hex.DecodeString(sigHex)
	tx.Signature = sig
}

// Verify checks tx.Signature against tx.Hash() under the "tx" context.
func (tx *Transaction) Verify() error {
	if len(tx.Sender) == 0 {
		return errors.New("transaction: empty sender")
	}
	return crypto.VerifyContext(crypto.PublicKey(tx.Sender), crypto.ContextTx, tx.Hash(), hex.EncodeToString(tx.Signature))
}

// NewTransaction builds and signs a transaction.
func NewTransaction(priv crypto.PrivateKey, receiver []byte, nonce uint64, data TxData) *Transaction {
	tx := &Transaction{Receiver: receiver, Nonce: nonce, Data: data}
	tx.Sign(priv)
	return tx
}

// DeterministicID computes the H(sender || LE64(nonce) || label) id used
// for Asset/Collection/Channel identifiers, per §3's "deterministic id"
// clause. label is the creating variant's tag name (for example
// string(TxOpenChannel)).
func DeterministicID(sender []byte, nonce uint64, label string) []byte {
	w := wire.NewWriter()
	w.WriteBytes(sender)
	w.WriteUint64(nonce)
	w.WriteString(label)
	return crypto.HashBytes(w.Bytes())
}
