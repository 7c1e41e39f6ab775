package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/vechain/go-ecvrf"
)

// VRFPrivateKey wraps a secp256k1 private key used only for VRF proofs.
// Keeping the VRF keypair distinct from the ed25519 signing keypair means
// a producer's block signature and its leader-election proof can never be
// confused for one another even though both ultimately derive from the
// same validator identity at the config layer.
type VRFPrivateKey struct {
	key *secp256k1.PrivateKey
}

// VRFPublicKey wraps a secp256k1 public key.
type VRFPublicKey struct {
	key *secp256k1.PublicKey
}

// GenerateVRFKeyPair generates a new secp256k1 key pair for VRF proofs.
func GenerateVRFKeyPair() (VRFPrivateKey, VRFPublicKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return VRFPrivateKey{}, VRFPublicKey{}, fmt.Errorf("generate vrf key: %w", err)
	}
	return VRFPrivateKey{key: priv}, VRFPublicKey{key: priv.PubKey()}, nil
}

// Bytes returns the compressed public key encoding.
func (pub VRFPublicKey) Bytes() []byte {
	if pub.key == nil {
		return nil
	}
	return pub.key.SerializeCompressed()
}

// Hex returns the hex-encoded compressed public key.
func (pub VRFPublicKey) Hex() string {
	return hex.EncodeToString(pub.Bytes())
}

// VRFPubKeyFromBytes parses a compressed secp256k1 public key.
func VRFPubKeyFromBytes(b []byte) (VRFPublicKey, error) {
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return VRFPublicKey{}, fmt.Errorf("invalid vrf pubkey: %w", err)
	}
	return VRFPublicKey{key: pk}, nil
}

// Bytes returns the raw 32-byte scalar encoding of the private key, for
// config/keystore persistence alongside the ed25519 signing key.
func (priv VRFPrivateKey) Bytes() []byte {
	if priv.key == nil {
		return nil
	}
	return priv.key.Serialize()
}

// VRFPrivKeyFromBytes parses a raw 32-byte secp256k1 scalar into a
// VRFPrivateKey, deriving its paired public key.
func VRFPrivKeyFromBytes(b []byte) (VRFPrivateKey, error) {
	if len(b) != 32 {
		return VRFPrivateKey{}, fmt.Errorf("vrf private key must be 32 bytes, got %d", len(b))
	}
	k := secp256k1.PrivKeyFromBytes(b)
	return VRFPrivateKey{key: k}, nil
}

// GenesisVRFOutput and GenesisVRFProof are the fixed all-zero pre-output and
// proof values genesis blocks carry. VRFVerify accepts these only at slot 0
// per the well-known-value exception in crypto's contract.
var (
	GenesisVRFOutput = make([]byte, 32)
	GenesisVRFProof  = make([]byte, 81)
)

// VRFSign produces a VRF pre-output and proof over seed using the ECVRF
// construction over secp256k1 with SHA-256 (Try-And-Increment), the
// domain-separation context is folded into seed by the caller (consensus
// computes seed = H(parent.vrf_output || LE64(slot)), which already fixes
// the input; VRFSign itself does not re-hash under ContextVRF because the
// ECVRF construction already binds prover key, seed, and proof together).
func VRFSign(priv VRFPrivateKey, seed []byte) (preOutput, proof []byte, err error) {
	sk := secp256k1PrivateKeyToECDSA(priv.key)
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(sk, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("vrf prove: %w", err)
	}
	return beta, pi, nil
}

// VRFVerify checks that proof is a valid ECVRF proof of preOutput over seed
// under pub. At slot 0 it additionally accepts the fixed genesis
// pre-output/proof pair without running the cryptographic check.
func VRFVerify(pub VRFPublicKey, seed, preOutput, proof []byte, slot uint64) (bool, error) {
	if slot == 0 && isGenesisVRF(preOutput, proof) {
		return true, nil
	}
	if pub.key == nil {
		return false, errors.New("nil vrf public key")
	}
	pk := secp256k1PublicKeyToECDSA(pub.key)
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(pk, seed, proof)
	if err != nil {
		return false, nil
	}
	return hex.EncodeToString(beta) == hex.EncodeToString(preOutput), nil
}

func isGenesisVRF(preOutput, proof []byte) bool {
	return allZero(preOutput) && allZero(proof) && len(preOutput) == len(GenesisVRFOutput)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func secp256k1PrivateKeyToECDSA(k *secp256k1.PrivateKey) *ecdsa.PrivateKey {
	return k.ToECDSA()
}

func secp256k1PublicKeyToECDSA(k *secp256k1.PublicKey) *ecdsa.PublicKey {
	return k.ToECDSA()
}
