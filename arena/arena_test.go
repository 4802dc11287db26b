package arena

import "testing"

// TestAllocateBounds: every
// successful allocation's returned pointer must lie within [base, base+cap].
func TestAllocateBounds(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	base := a.BaseAddr()
	mem, addr, err := a.Allocate(64, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(mem) != 64 {
		t.Errorf("len(mem) = %d, want 64", len(mem))
	}
	if addr < base || addr+64 > base+uintptr(a.Cap()) {
		t.Errorf("addr %#x out of arena bounds [%#x, %#x]", addr, base, base+uintptr(a.Cap()))
	}
}

func TestAllocateAlignment(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	_, _, err = a.Allocate(3, 4) // cursor now at 3
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_, addr2, err := a.Allocate(4, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr2%16 != 0 {
		t.Errorf("addr2 = %#x, want 16-byte aligned", addr2)
	}
}

func TestAllocateExhaustionFails(t *testing.T) {
	a, err := New(128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Allocate(64, 4); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if _, _, err := a.Allocate(128, 4); err == nil {
		t.Fatal("Allocate beyond capacity should fail")
	}
}

func TestResetDoesNotZeroButRewindsCursor(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	mem, _, err := a.Allocate(16, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(mem, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if a.Len() != 16 {
		t.Fatalf("Len() = %d, want 16", a.Len())
	}

	a.Reset()
	if a.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", a.Len())
	}
	// Reset returns the cursor to zero but must not zero the bytes.
	mem2, _, err := a.Allocate(4, 4)
	if err != nil {
		t.Fatalf("Allocate after Reset: %v", err)
	}
	if mem2[0] != 0xDE || mem2[1] != 0xAD {
		t.Error("Reset should not have zeroed the underlying bytes")
	}
}

func TestMakeExecutableThenWritableRoundTrips(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Allocate(16, 4); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.MakeExecutable(); err != nil {
		t.Fatalf("MakeExecutable: %v", err)
	}
	if _, _, err := a.Allocate(16, 4); err == nil {
		t.Error("Allocate while executable (not writable) should fail")
	}
	if err := a.MakeWritable(); err != nil {
		t.Fatalf("MakeWritable: %v", err)
	}
	if _, _, err := a.Allocate(16, 4); err != nil {
		t.Errorf("Allocate after MakeWritable: %v", err)
	}
}

func TestSliceAndContains(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	buf, addr, err := a.Allocate(64, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf[0] = 0xAA

	if !a.Contains(addr, 64) {
		t.Error("Contains should cover the allocated range")
	}
	if a.Contains(addr+64, 1) {
		t.Error("Contains should reject a range past the cursor")
	}

	window, err := a.Slice(addr, 64)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if window[0] != 0xAA {
		t.Error("Slice should alias the allocated bytes")
	}

	if err := a.Sync(addr, 64); err != nil {
		t.Errorf("Sync over a live range: %v", err)
	}
	if err := a.Sync(addr+4096, 64); err == nil {
		t.Error("Sync outside the allocated region should fail")
	}
}

func TestSliceWhileExecutableFails(t *testing.T) {
	a, err := New(4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	_, addr, err := a.Allocate(16, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.MakeExecutable(); err != nil {
		t.Fatalf("MakeExecutable: %v", err)
	}
	if _, err := a.Slice(addr, 16); err == nil {
		t.Error("Slice while RX should be refused")
	}
}
