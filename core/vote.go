package core

import (
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/crypto"
)

// Vote is a validator's attestation that it considers BlockHash part of the
// canonical chain. Votes accumulate stake toward finality independently of
// fork-choice.
type Vote struct {
	BlockHash       string `json:"block_hash"`
	ValidatorPubkey []byte `json:"validator_pubkey"`
	Signature       []byte `json:"signature"`
}

// ValidatorHex returns the vote's validator pubkey as lowercase hex, the
// same addressing scheme used for account and validator-set keys.
func (v *Vote) ValidatorHex() string {
	return hex.EncodeToString(v.ValidatorPubkey)
}

// NewVote builds and signs a vote over blockHash under the vote context.
func NewVote(priv crypto.PrivateKey, blockHash string) (*Vote, error) {
	hashBytes, err := hex.DecodeString(blockHash)
	if err != nil {
		return nil, fmt.Errorf("invalid block hash: %w", err)
	}
	sigHex := crypto.SignContext(priv, crypto.ContextVote, hashBytes)
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, err
	}
	return &Vote{
		BlockHash:       blockHash,
		ValidatorPubkey: priv.Public(),
		Signature:       sig,
	}, nil
}

// Verify checks the vote's signature under the vote context.
func (v *Vote) Verify() error {
	hashBytes, err := hex.DecodeString(v.BlockHash)
	if err != nil {
		return fmt.Errorf("invalid block hash: %w", err)
	}
	return crypto.VerifyContext(crypto.PublicKey(v.ValidatorPubkey), crypto.ContextVote, hashBytes, hex.EncodeToString(v.Signature))
}
