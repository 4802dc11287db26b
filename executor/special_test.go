package executor

import (
	"testing"

	"github.com/binxlate/dbt/guest"
)

func TestHandleSpecialCPUIDVendorLeaf(t *testing.T) {
	e := New(guest.NewState(0x401000))
	e.State.GPR[guest.RAX] = 0

	if !e.HandleSpecial(BlockExit{Reason: ExitCPUID}) {
		t.Fatal("CPUID exit should be consumed by the executor")
	}
	if e.State.GPR[guest.RBX] != cpuidVendorEBX ||
		e.State.GPR[guest.RDX] != cpuidVendorEDX ||
		e.State.GPR[guest.RCX] != cpuidVendorECX {
		t.Errorf("vendor words = %#x/%#x/%#x", e.State.GPR[guest.RBX], e.State.GPR[guest.RDX], e.State.GPR[guest.RCX])
	}
	if e.State.GPR[guest.RAX] != cpuidMaxLeaf {
		t.Errorf("max leaf = %#x, want %#x", e.State.GPR[guest.RAX], cpuidMaxLeaf)
	}
}

func TestHandleSpecialCPUIDIsStable(t *testing.T) {
	e := New(guest.NewState(0))

	run := func() [4]uint64 {
		e.State.GPR[guest.RAX] = 1
		e.HandleSpecial(BlockExit{Reason: ExitCPUID})
		return [4]uint64{e.State.GPR[guest.RAX], e.State.GPR[guest.RBX], e.State.GPR[guest.RCX], e.State.GPR[guest.RDX]}
	}
	first := run()
	second := run()
	if first != second {
		t.Errorf("CPUID leaf 1 not stable across calls: %v vs %v", first, second)
	}
}

func TestHandleSpecialRDTSCMonotonic(t *testing.T) {
	e := New(guest.NewState(0))

	read := func() uint64 {
		e.HandleSpecial(BlockExit{Reason: ExitRDTSC})
		return e.State.GPR[guest.RDX]<<32 | e.State.GPR[guest.RAX]&0xFFFFFFFF
	}
	prev := read()
	for i := 0; i < 10; i++ {
		cur := read()
		if cur <= prev {
			t.Fatalf("RDTSC not strictly monotonic: %d then %d", prev, cur)
		}
		prev = cur
	}
}

func TestHandleSpecialLeavesOtherExitsAlone(t *testing.T) {
	e := New(guest.NewState(0))
	for _, r := range []ExitReason{ExitRetToCache, ExitSyscall, ExitFault, ExitHalt, ExitTrap, ExitUndefined} {
		if e.HandleSpecial(BlockExit{Reason: r}) {
			t.Errorf("exit %v must be left to the caller's collaborator", r)
		}
	}
}
