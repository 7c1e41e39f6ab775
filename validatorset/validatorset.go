// Package validatorset maintains the stake registry, equivocation
// slashing, and the stake-weighted slot-leader predicate.
package validatorset

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// MinStake is the minimum stake RegisterValidator requires.
const MinStake = 1000

// ErrAlreadySlashed is returned by Slash on a validator already slashed,
// letting callers (equivocation handling) treat a repeat slash as a no-op
// rather than a hard failure.
var ErrAlreadySlashed = errors.New("validator already slashed")

// ValidatorInfo is one registered validator's stake-accounting record.
type ValidatorInfo struct {
	Pubkey          []byte
	VRFPubkey       []byte // compressed secp256k1 VRF pubkey; nil if registered via Register
	Stake           uint64
	RegisteredEpoch uint64
	Slashed         bool
}

type snapshot struct {
	validators map[string]*ValidatorInfo
	totalStake uint64
}

// Set is the stake registry. A zero Set is not usable; use New.
type Set struct {
	validators map[string]*ValidatorInfo // hex pubkey -> info
	totalStake uint64
	snapshots  []snapshot
}

// New returns an empty validator set.
func New() *Set {
	return &Set{validators: make(map[string]*ValidatorInfo)}
}

// Register adds a new validator with the given stake. Fails if stake is
// below MinStake or the pubkey is already registered. The validator has no
// VRFPubkey on record, so it can never pass consensus.ValidateBlock as a
// producer; use RegisterVRF for validators that will propose blocks.
func (s *Set) Register(pubkey []byte, stake uint64, epoch uint64) error {
	return s.register(pubkey, nil, stake, epoch)
}

// RegisterVRF adds a new validator with the given stake and records its VRF
// public key, the one consensus.ValidateBlock looks up to verify the
// leader-election proof on blocks it produces.
func (s *Set) RegisterVRF(pubkey, vrfPubkey []byte, stake, epoch uint64) error {
	if len(vrfPubkey) == 0 {
		return errors.New("vrf pubkey must not be empty")
	}
	return s.register(pubkey, vrfPubkey, stake, epoch)
}

func (s *Set) register(pubkey, vrfPubkey []byte, stake, epoch uint64) error {
	if stake < MinStake {
		return fmt.Errorf("stake must be at least %d", MinStake)
	}
	key := hex.EncodeToString(pubkey)
	if _, exists := s.validators[key]; exists {
		return errors.New("validator already registered")
	}
	s.validators[key] = &ValidatorInfo{
		Pubkey:          pubkey,
		VRFPubkey:       vrfPubkey,
		Stake:           stake,
		RegisteredEpoch: epoch,
	}
	s.totalStake += stake
	return nil
}

// Unregister removes pubkey from the set and returns its stake for refund.
func (s *Set) Unregister(pubkey []byte) (uint64, error) {
	key := hex.EncodeToString(pubkey)
	v, ok := s.validators[key]
	if !ok {
		return 0, errors.New("validator not found")
	}
	if !v.Slashed {
		s.totalStake -= v.Stake
	}
	delete(s.validators, key)
	return v.Stake, nil
}

// Slash zeroes pubkey's stake and marks it excluded from consensus, for
// equivocation. A second call on an already-slashed validator is a no-op
// that reports the prior slash rather than subtracting stake twice.
func (s *Set) Slash(pubkey []byte) (uint64, error) {
	key := hex.EncodeToString(pubkey)
	v, ok := s.validators[key]
	if !ok {
		return 0, errors.New("validator not found")
	}
	if v.Slashed {
		return 0, ErrAlreadySlashed
	}
	amount := v.Stake
	v.Slashed = true
	v.Stake = 0
	s.totalStake -= amount
	return amount, nil
}

// Get returns the validator info for pubkey, if registered.
func (s *Set) Get(pubkey []byte) (*ValidatorInfo, bool) {
	v, ok := s.validators[hex.EncodeToString(pubkey)]
	return v, ok
}

// IsValidator reports whether pubkey is registered and not slashed.
func (s *Set) IsValidator(pubkey []byte) bool {
	v, ok := s.validators[hex.EncodeToString(pubkey)]
	return ok && !v.Slashed
}

// TotalStake returns the sum of stake across non-slashed validators.
func (s *Set) TotalStake() uint64 {
	return s.totalStake
}

// All returns every currently registered validator, slashed or not.
func (s *Set) All() []*ValidatorInfo {
	out := make([]*ValidatorInfo, 0, len(s.validators))
	for _, v := range s.validators {
		out = append(out, v)
	}
	return out
}

// ValidatorsForEpoch returns every validator registered at or before epoch.
func (s *Set) ValidatorsForEpoch(epoch uint64) []*ValidatorInfo {
	var out []*ValidatorInfo
	for _, v := range s.validators {
		if v.RegisteredEpoch <= epoch {
			out = append(out, v)
		}
	}
	return out
}

// IsSlotLeader reports whether pubkey wins leadership under vrfOutput:
// vrf_value < stake/total_stake, where vrf_value is the first 8 bytes of
// vrfOutput read little-endian over 2^64. Computed with a 128-bit integer
// cross-multiplication (vrf_value*total_stake compared against
// stake<<64) rather than floating point, so the comparison is exact and
// reproducible across nodes.
func (s *Set) IsSlotLeader(pubkey []byte, vrfOutput []byte) bool {
	if s.totalStake == 0 {
		return false
	}
	v, ok := s.validators[hex.EncodeToString(pubkey)]
	if !ok || v.Slashed {
		return false
	}

	vrfValue := vrfToUint64(vrfOutput)

	// vrf_value/2^64 < stake/total_stake
	// <=> vrf_value*total_stake < stake*2^64, a 128-bit comparison against
	// a right-hand side whose low 64 bits are always 0.
	hi, _ := bits.Mul64(vrfValue, s.totalStake)
	return hi < v.Stake
}

// vrfToUint64 reads the first 8 bytes of b as a little-endian u64. An
// empty b maps to the maximum value, which only a validator holding all of
// the stake still wins with.
func vrfToUint64(b []byte) uint64 {
	if len(b) == 0 {
		return ^uint64(0)
	}
	var buf [8]byte
	n := len(b)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], b[:n])
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// Snapshot saves the current registry state and returns a snapshot id.
func (s *Set) Snapshot() int {
	cp := make(map[string]*ValidatorInfo, len(s.validators))
	for k, v := range s.validators {
		vc := *v
		cp[k] = &vc
	}
	s.snapshots = append(s.snapshots, snapshot{validators: cp, totalStake: s.totalStake})
	return len(s.snapshots) - 1
}

// RevertToSnapshot restores the registry to a previously saved snapshot.
func (s *Set) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	cp := make(map[string]*ValidatorInfo, len(snap.validators))
	for k, v := range snap.validators {
		vc := *v
		cp[k] = &vc
	}
	s.validators = cp
	s.totalStake = snap.totalStake
	s.snapshots = s.snapshots[:id]
	return nil
}
