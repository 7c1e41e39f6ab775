package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signing contexts. Every signature produced by this package is domain
// separated by one of these fixed strings so a signature valid under one
// context (e.g. a vote) can never be replayed as valid under another
// (e.g. a transaction).
const (
	ContextTx   = "tx"
	ContextVote = "vote"
	ContextVRF  = "vrf"
)

// Sign signs data with the private key and returns a hex-encoded signature.
func Sign(priv PrivateKey, data []byte) string {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature against data using the public key.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// SignContext signs data under a fixed domain-separation context, matching
// the pattern produced by ContextualMessage.
func SignContext(priv PrivateKey, context string, data []byte) string {
	return Sign(priv, ContextualMessage(context, data))
}

// VerifyContext verifies a signature produced by SignContext.
func VerifyContext(pub PublicKey, context string, data []byte, sigHex string) error {
	return Verify(pub, ContextualMessage(context, data), sigHex)
}

// ContextualMessage prepends a fixed-length-prefixed context string to data,
// the same construction schnorrkel's signing_context applies before hashing.
func ContextualMessage(context string, data []byte) []byte {
	msg := make([]byte, 0, len(context)+1+len(data))
	msg = append(msg, byte(len(context)))
	msg = append(msg, context...)
	msg = append(msg, data...)
	return msg
}
