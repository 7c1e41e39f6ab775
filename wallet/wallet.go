package wallet

import (
	"encoding/hex"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key, the "sender" address.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of
// SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx builds and signs a transaction carrying data, addressed to
// receiverHex (empty for variants with no natural receiver). nonce must
// match the account's current on-chain nonce.
func (w *Wallet) NewTx(receiverHex string, nonce uint64, data core.TxData) (*core.Transaction, error) {
	var receiver []byte
	if receiverHex != "" {
		b, err := hex.DecodeString(receiverHex)
		if err != nil {
			return nil, err
		}
		receiver = b
	}
	return core.NewTransaction(w.priv, receiver, nonce, data), nil
}

// Transfer creates a signed NativeTransfer transaction.
func (w *Wallet) Transfer(toHex string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(toHex, nonce, core.NativeTransfer{Amount: amount})
}

// RegisterValidator creates a signed RegisterValidator transaction, pairing
// the wallet's ed25519 identity with a distinct secp256k1 VRF public key.
func (w *Wallet) RegisterValidator(stake, nonce uint64, vrfPubkey []byte) (*core.Transaction, error) {
	return w.NewTx("", nonce, core.RegisterValidator{Stake: stake, VRFPubkey: vrfPubkey})
}
