package validatorset

import "testing"

func TestRegisterAndTotalStake(t *testing.T) {
	s := New()
	if err := s.Register([]byte{1, 2, 3}, 2000, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.TotalStake() != 2000 {
		t.Fatalf("total stake = %d, want 2000", s.TotalStake())
	}
	if !s.IsValidator([]byte{1, 2, 3}) {
		t.Fatal("expected validator to be registered")
	}
}

func TestRegisterBelowMinStake(t *testing.T) {
	s := New()
	if err := s.Register([]byte{1, 2, 3}, 500, 0); err == nil {
		t.Fatal("expected error for stake below minimum")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 2000, 0)
	if err := s.Register([]byte{1, 2, 3}, 2000, 0); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestUnregisterRefundsStake(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 2000, 0)
	stake, err := s.Unregister([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if stake != 2000 {
		t.Fatalf("refund = %d, want 2000", stake)
	}
	if s.TotalStake() != 0 {
		t.Fatalf("total stake after unregister = %d, want 0", s.TotalStake())
	}
	if s.IsValidator([]byte{1, 2, 3}) {
		t.Fatal("expected validator to be gone")
	}
}

func TestSlashIsIdempotent(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 2000, 0)
	amount, err := s.Slash([]byte{1, 2, 3})
	if err != nil || amount != 2000 {
		t.Fatalf("first slash: amount=%d err=%v", amount, err)
	}
	if s.TotalStake() != 0 {
		t.Fatalf("total stake after slash = %d, want 0", s.TotalStake())
	}
	if s.IsValidator([]byte{1, 2, 3}) {
		t.Fatal("slashed validator must not count as a validator")
	}
	if _, err := s.Slash([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on second slash")
	}
	if s.TotalStake() != 0 {
		t.Fatalf("total stake changed on re-slash: %d", s.TotalStake())
	}
}

func TestIsSlotLeaderRequiresStake(t *testing.T) {
	s := New()
	vrf := make([]byte, 8)
	if s.IsSlotLeader([]byte{1, 2, 3}, vrf) {
		t.Fatal("non-validator must never be a leader")
	}
}

func TestIsSlotLeaderZeroVRFAlwaysWinsForAnyStake(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 1000, 0)
	vrf := make([]byte, 8) // vrf_value = 0, always < any positive ratio
	if !s.IsSlotLeader([]byte{1, 2, 3}, vrf) {
		t.Fatal("zero VRF output should win leadership against any positive stake ratio")
	}
}

func TestIsSlotLeaderMaxVRFNeverWins(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 1000, 0)
	// A second validator keeps the stake ratio below 1; a sole validator
	// holding all the stake wins at every VRF value, the maximum included.
	_ = s.Register([]byte{4, 5, 6}, 1000, 0)
	vrf := make([]byte, 8)
	for i := range vrf {
		vrf[i] = 0xff
	}
	if s.IsSlotLeader([]byte{1, 2, 3}, vrf) {
		t.Fatal("maximal VRF output should never win leadership")
	}
}

func TestSnapshotRevert(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1, 2, 3}, 2000, 0)
	id := s.Snapshot()
	_ = s.Register([]byte{4, 5, 6}, 3000, 0)
	if s.TotalStake() != 5000 {
		t.Fatalf("total stake = %d, want 5000", s.TotalStake())
	}
	if err := s.RevertToSnapshot(id); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if s.TotalStake() != 2000 {
		t.Fatalf("total stake after revert = %d, want 2000", s.TotalStake())
	}
	if s.IsValidator([]byte{4, 5, 6}) {
		t.Fatal("validator added after snapshot should be gone after revert")
	}
}

func TestValidatorsForEpoch(t *testing.T) {
	s := New()
	_ = s.Register([]byte{1}, 1000, 2)
	_ = s.Register([]byte{2}, 1000, 5)
	if len(s.ValidatorsForEpoch(3)) != 1 {
		t.Fatalf("expected 1 validator registered by epoch 3")
	}
	if len(s.ValidatorsForEpoch(5)) != 2 {
		t.Fatalf("expected 2 validators registered by epoch 5")
	}
}
