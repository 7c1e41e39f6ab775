package consensus

import (
	"testing"

	"github.com/tolelom/tolchain/core"
)

func blockAt(slot uint64, vrfOutput []byte) *core.Block {
	return &core.Block{Header: core.BlockHeader{Slot: slot, VRFOutput: vrfOutput}}
}

// TestIsBetterPrefersHigherSlot covers the fork-choice rule's primary
// criterion: a strictly higher slot always wins, regardless of VRF output.
func TestIsBetterPrefersHigherSlot(t *testing.T) {
	head := blockAt(5, []byte{0xff})
	candidate := blockAt(6, []byte{0x00})
	if !IsBetter(candidate, head) {
		t.Fatal("a higher slot should always win fork-choice")
	}
	if IsBetter(head, candidate) {
		t.Fatal("a lower slot should never win fork-choice")
	}
}

// TestIsBetterTieBreaksOnSmallerVRFOutput covers the tie-break rule:
// among two blocks at the same slot, the lexicographically smaller
// vrf_output wins.
func TestIsBetterTieBreaksOnSmallerVRFOutput(t *testing.T) {
	head := blockAt(5, []byte{0x05, 0x00})
	smaller := blockAt(5, []byte{0x01, 0xff})
	larger := blockAt(5, []byte{0x09, 0x00})

	if !IsBetter(smaller, head) {
		t.Fatal("a smaller vrf_output at the same slot should win the tie-break")
	}
	if IsBetter(larger, head) {
		t.Fatal("a larger vrf_output at the same slot should lose the tie-break")
	}
}

// TestIsBetterKeepsHeadOnExactTie covers the degenerate case: identical
// slot and vrf_output (e.g. the same block compared to itself) must not
// be reported as an improvement.
func TestIsBetterKeepsHeadOnExactTie(t *testing.T) {
	head := blockAt(5, []byte{0x02, 0x02})
	same := blockAt(5, []byte{0x02, 0x02})
	if IsBetter(same, head) {
		t.Fatal("an exact tie must not replace the current head")
	}
}
