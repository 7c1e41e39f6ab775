// Package consensus implements VRF-based secret-leader-election slot
// production: a slot/epoch clock, the per-slot VRF seed, block validation
// against the seed and the active validator set, and the fork-choice rule
// nodes use to pick a preferred head among competing valid tips.
package consensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/validatorset"
)

// Clock converts wall-clock time into slots and epochs relative to a fixed
// genesis time. All nodes must agree on GenesisTimeMS for slot numbers to
// line up.
type Clock struct {
	GenesisTimeMS int64
}

// NewClock builds a Clock anchored at genesisTimeMS.
func NewClock(genesisTimeMS int64) Clock {
	return Clock{GenesisTimeMS: genesisTimeMS}
}

// CurrentSlot returns the slot nowMS falls in, clamped to 0 for any time at
// or before genesis.
func (c Clock) CurrentSlot(nowMS int64) uint64 {
	delta := nowMS - c.GenesisTimeMS
	if delta <= 0 {
		return 0
	}
	return uint64(delta) / config.SlotDurationMS
}

// Epoch returns the epoch a slot belongs to.
func Epoch(slot uint64) uint64 {
	return slot / config.SlotsPerEpoch
}

// VRFSeed computes the per-slot VRF input: SHA256(parentVRFOutput ||
// LE64(slot)). Binding the parent's own VRF output into the seed means no
// two slots, and no two forks at the same slot, ever share an input.
func VRFSeed(parentVRFOutput []byte, slot uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, slot)
	h := sha256.New()
	h.Write(parentVRFOutput)
	h.Write(buf)
	return h.Sum(nil)
}

// ValidateBlock checks b against parent and the active validator set:
// parent linkage, strictly-increasing slot, a verifying VRF proof over the
// recomputed seed, slot-leader eligibility, and a matching tx_root. It does
// not check equivocation or state transition; those belong to the chain
// pipeline.
func ValidateBlock(b, parent *core.Block, validators *validatorset.Set) error {
	if b.Header.ParentHash != parent.Hash {
		return fmt.Errorf("parent_hash mismatch: got %s want %s", b.Header.ParentHash, parent.Hash)
	}
	if b.Header.Slot <= parent.Header.Slot {
		return fmt.Errorf("slot %d must be greater than parent slot %d", b.Header.Slot, parent.Header.Slot)
	}

	producer, found := validators.Get(b.Header.ValidatorPubkey)
	if !found {
		return fmt.Errorf("unknown producer %s", hex.EncodeToString(b.Header.ValidatorPubkey))
	}
	vrfPub, err := crypto.VRFPubKeyFromBytes(producer.VRFPubkey)
	if err != nil {
		return fmt.Errorf("producer %s: invalid vrf pubkey: %w", hex.EncodeToString(b.Header.ValidatorPubkey), err)
	}
	seed := VRFSeed(parent.Header.VRFOutput, b.Header.Slot)
	ok, err := crypto.VRFVerify(vrfPub, seed, b.Header.VRFOutput, b.Header.VRFProof, b.Header.Slot)
	if err != nil {
		return fmt.Errorf("vrf verify: %w", err)
	}
	if !ok {
		return fmt.Errorf("invalid vrf proof at slot %d", b.Header.Slot)
	}

	if !validators.IsSlotLeader(b.Header.ValidatorPubkey, b.Header.VRFOutput) {
		return fmt.Errorf("producer %s is not the slot leader for slot %d", hex.EncodeToString(b.Header.ValidatorPubkey), b.Header.Slot)
	}

	if root := core.ComputeMerkleRoot(b.Transactions); b.Header.TxRoot != root {
		return fmt.Errorf("tx_root mismatch: header %s computed %s", b.Header.TxRoot, root)
	}
	return nil
}

// IsBetter reports whether candidate should replace head under the
// fork-choice rule: higher slot wins; on a tie, the lexicographically
// smaller vrf_output wins; otherwise head is kept.
func IsBetter(candidate, head *core.Block) bool {
	if candidate.Header.Slot != head.Header.Slot {
		return candidate.Header.Slot > head.Header.Slot
	}
	return bytes.Compare(candidate.Header.VRFOutput, head.Header.VRFOutput) < 0
}

// SealVRF signs seed with the producer's VRF key, for producers assembling
// a new header before calling core.NewBlock.
func SealVRF(vrfPriv crypto.VRFPrivateKey, seed []byte) (output, proof []byte, err error) {
	return crypto.VRFSign(vrfPriv, seed)
}
