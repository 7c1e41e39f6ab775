package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/wire"
)

// BlockHeader carries everything needed to verify a block's consensus
// legality independently of its transactions.
type BlockHeader struct {
	ParentHash        string   `json:"parent_hash"` // hex
	Slot              uint64   `json:"slot"`
	Epoch             uint64   `json:"epoch"`
	VRFOutput         []byte   `json:"vrf_output"`
	VRFProof          []byte   `json:"vrf_proof"`
	ValidatorPubkey   []byte   `json:"validator_pubkey"`
	ProducerSignature []byte   `json:"producer_signature,omitempty"`
	StateRoot         string   `json:"state_root"` // hex, "" if omitted
	TxRoot            string   `json:"tx_root"`     // hex, "" for empty tx list
	Timestamp         int64    `json:"timestamp"`   // ms
	ExtraWitnesses    [][]byte `json:"extra_witnesses,omitempty"`
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
}

// encodeHeader writes the header's canonical binary form. producerSignature
// is always written as empty, per §6: "the hash of a BlockHeader is
// computed ... including an empty producer_signature placeholder" — the
// producer signs the hash itself afterward, so the signature field must
// never be part of what it signs over.
func encodeHeader(h BlockHeader) []byte {
	w := wire.NewWriter()
	w.WriteString(h.ParentHash)
	w.WriteUint64(h.Slot)
	w.WriteUint64(h.Epoch)
	w.WriteBytes(h.VRFOutput)
	w.WriteBytes(h.VRFProof)
	w.WriteBytes(h.ValidatorPubkey)
	w.WriteBytes(nil) // producer_signature placeholder, always empty
	w.WriteString(h.StateRoot)
	w.WriteString(h.TxRoot)
	w.WriteInt64(h.Timestamp)
	w.WriteBytesSlice(h.ExtraWitnesses)
	return w.Bytes()
}

// ComputeHeaderHash returns the hex SHA-256 hash of h's canonical encoding.
func ComputeHeaderHash(h BlockHeader) string {
	sum := sha256.Sum256(encodeHeader(h))
	return hex.EncodeToString(sum[:])
}

// ComputeMerkleRoot builds the pairwise SHA-256 Merkle root of txs,
// duplicating the last hash at each level with an odd count. An empty
// transaction list has root "".
func ComputeMerkleRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return ""
	}
	level := make([][]byte, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			if i+1 < len(level) {
				h.Write(level[i+1])
			} else {
				h.Write(level[i])
			}
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

// NewBlock builds a block from a header and its transactions: it computes
// and sets TxRoot, then derives Hash from the header (which now includes
// that TxRoot).
func NewBlock(header BlockHeader, txs []*Transaction) *Block {
	header.TxRoot = ComputeMerkleRoot(txs)
	return &Block{
		Header:       header,
		Transactions: txs,
		Hash:         ComputeHeaderHash(header),
	}
}

// Sign sets Header.ProducerSignature to a plain (non-contextual) ed25519
// signature over the block hash. Block signing has no fixed
// domain-separation context of its own in the data model (only tx, vote,
// and vrf do); the hash itself already binds parent, slot, VRF proof, and
// tx_root, so a plain signature over it is sufficient to bind the
// producer's identity to exactly this header.
func (b *Block) Sign(priv crypto.PrivateKey) {
	hashBytes, _ := hex.DecodeString(b.Hash)
	sigHex := crypto.Sign(priv, hashBytes)
	sig, _ := hex.DecodeString(sigHex)
	b.Header.ProducerSignature = sig
	// Signature is not part of the hashed encoding, so Hash is unaffected.
}

// VerifyIntegrity checks that b.Hash matches the recomputed header hash and
// that TxRoot matches the recomputed Merkle root, independent of the
// producer's signature.
func (b *Block) VerifyIntegrity() error {
	if computed := ComputeHeaderHash(b.Header); b.Hash != computed {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	if root := ComputeMerkleRoot(b.Transactions); b.Header.TxRoot != root {
		return fmt.Errorf("tx_root mismatch: header %s computed %s", b.Header.TxRoot, root)
	}
	return nil
}

// VerifySignature checks Header.ProducerSignature against the block hash
// under pub.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	hashBytes, err := hex.DecodeString(b.Hash)
	if err != nil {
		return fmt.Errorf("invalid block hash: %w", err)
	}
	return crypto.Verify(pub, hashBytes, hex.EncodeToString(b.Header.ProducerSignature))
}
