package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/validatorset"
)

// GenesisHash is the canonical all-zeros parent hash for the genesis
// block, the same length as a SHA-256 hex digest.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock credits the config's Alloc accounts, seeds the
// validator set from Genesis.Validators, and builds and signs the fixed
// slot-0 block. Every node that runs this against an identical config and
// the same proposerPriv derives an identical hash: the timestamp and VRF
// fields are fixed rather than sampled, and proposerPriv's public key is
// hashed into the header as ValidatorPubkey.
func CreateGenesisBlock(cfg *Config, state core.State, validators *validatorset.Set, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := core.NewAccount(balance)
		if err := state.SetAccount(pubkeyHex, acc); err != nil {
			return nil, fmt.Errorf("alloc %q: %w", pubkeyHex, err)
		}
	}

	for i, v := range cfg.Genesis.Validators {
		pub, err := hex.DecodeString(v.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		vrfPub, err := hex.DecodeString(v.VRFPubkey)
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		if err := validators.RegisterVRF(pub, vrfPub, v.Stake, 0); err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
	}

	if err := state.ApplyChanges(); err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}

	proposerPub := proposerPriv.Public()
	header := core.BlockHeader{
		ParentHash:      GenesisHash,
		Slot:            0,
		Epoch:           0,
		VRFOutput:       crypto.GenesisVRFOutput,
		VRFProof:        crypto.GenesisVRFProof,
		ValidatorPubkey: proposerPub,
		StateRoot:       state.GetRootHash(),
		Timestamp:       cfg.Genesis.Timestamp,
	}
	block := core.NewBlock(header, nil)
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis
// parent-hash: all zeros at the width of a SHA-256 hex digest.
func IsGenesisHash(h string) bool {
	return len(h) == 64 && strings.Count(h, "0") == len(h)
}
