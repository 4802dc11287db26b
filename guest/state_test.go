package guest

import "testing"

func TestNewStateSetsEntry(t *testing.T) {
	s := NewState(0x401000)
	if s.RIP != 0x401000 {
		t.Errorf("RIP = %#x, want 0x401000", s.RIP)
	}
	for i, v := range s.GPR {
		if v != 0 {
			t.Errorf("GPR[%d] = %d, want 0", i, v)
		}
	}
}

func TestFlagRoundTrip(t *testing.T) {
	s := NewState(0)
	s.SetZF(true)
	s.SetCF(false)
	s.SetDF(true)
	if !s.ZF() {
		t.Error("ZF should be set")
	}
	if s.CF() {
		t.Error("CF should be clear")
	}
	if !s.DF() {
		t.Error("DF should be set")
	}
	// Setting one flag must not disturb the others.
	s.SetOF(true)
	if !s.ZF() || !s.DF() {
		t.Error("setting OF disturbed an unrelated flag")
	}
}

func TestDirectionStep(t *testing.T) {
	s := NewState(0)
	s.SetDF(false)
	if got := s.DirectionStep(4); got != 4 {
		t.Errorf("DirectionStep(4) with DF clear = %d, want 4", got)
	}
	s.SetDF(true)
	if got := s.DirectionStep(4); got != -4 {
		t.Errorf("DirectionStep(4) with DF set = %d, want -4", got)
	}
}

func TestUpdateSubFlagsZero(t *testing.T) {
	s := NewState(0)
	s.UpdateSubFlags(5, 5, 4)
	if !s.ZF() {
		t.Error("a-a should set ZF")
	}
	if s.SF() {
		t.Error("a-a should not set SF")
	}
}

func TestUpdateSubFlagsNegativeResult(t *testing.T) {
	s := NewState(0)
	s.UpdateSubFlags(0, 1, 1) // 0-1 within an 8-bit width wraps to 0xFF (sign bit set)
	if s.ZF() {
		t.Error("0-1 should not be zero")
	}
	if !s.SF() {
		t.Error("0-1 truncated to 8 bits should have its sign bit set")
	}
}

func TestStateGPROffsetsAreEightBytesApart(t *testing.T) {
	for i := 0; i < NumGPR-1; i++ {
		if StateGPROffset(i+1)-StateGPROffset(i) != 8 {
			t.Errorf("GPR offsets %d and %d are not 8 bytes apart", i, i+1)
		}
	}
	if StateRIPOffset != uint32(NumGPR*8) {
		t.Errorf("StateRIPOffset = %d, want %d", StateRIPOffset, NumGPR*8)
	}
}
