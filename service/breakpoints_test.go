package service

import "testing"

func TestBreakpointManagerAddAndAt(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Add(0x1000, false, "")
	if bp.ID != 1 {
		t.Fatalf("expected first breakpoint ID 1, got %d", bp.ID)
	}
	if got := bm.At(0x1000); got == nil || got.Address != 0x1000 {
		t.Fatalf("At(0x1000) = %v, want breakpoint at 0x1000", got)
	}
	if bm.At(0x2000) != nil {
		t.Fatalf("At(0x2000) should be nil")
	}
}

func TestBreakpointManagerAddIsIdempotentPerAddress(t *testing.T) {
	bm := NewBreakpointManager()
	first := bm.Add(0x1000, false, "")
	second := bm.Add(0x1000, true, "rax == 1")
	if first.ID != second.ID {
		t.Fatalf("re-adding at the same address should return the same breakpoint, got IDs %d and %d", first.ID, second.ID)
	}
	if !second.Temporary || second.Condition != "rax == 1" {
		t.Fatalf("re-adding should update temporary/condition, got %+v", second)
	}
}

func TestBreakpointManagerDelete(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Add(0x1000, false, "")
	if err := bm.Delete(bp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if bm.At(0x1000) != nil {
		t.Fatalf("breakpoint should be gone after Delete")
	}
	if err := bm.Delete(bp.ID); err == nil {
		t.Fatalf("deleting an already-deleted breakpoint should error")
	}
}

func TestBreakpointManagerDeleteAt(t *testing.T) {
	bm := NewBreakpointManager()
	bm.Add(0x1000, false, "")
	if err := bm.DeleteAt(0x1000); err != nil {
		t.Fatalf("DeleteAt: %v", err)
	}
	if err := bm.DeleteAt(0x1000); err == nil {
		t.Fatalf("DeleteAt on a missing address should error")
	}
}

func TestBreakpointManagerSetEnabled(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Add(0x1000, false, "")
	if err := bm.SetEnabled(bp.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if bm.At(0x1000).Enabled {
		t.Fatalf("breakpoint should be disabled")
	}
	if err := bm.SetEnabled(999, true); err == nil {
		t.Fatalf("SetEnabled on unknown ID should error")
	}
}

func TestBreakpointManagerByIDAndAll(t *testing.T) {
	bm := NewBreakpointManager()
	bp1 := bm.Add(0x1000, false, "")
	bp2 := bm.Add(0x2000, false, "")
	if got := bm.ByID(bp1.ID); got == nil || got.Address != 0x1000 {
		t.Fatalf("ByID(%d) = %v", bp1.ID, got)
	}
	if bm.ByID(999) != nil {
		t.Fatalf("ByID on unknown ID should be nil")
	}
	all := bm.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
	if bm.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", bm.Count())
	}
	_ = bp2
}

func TestBreakpointManagerClear(t *testing.T) {
	bm := NewBreakpointManager()
	bm.Add(0x1000, false, "")
	bm.Add(0x2000, false, "")
	bm.Clear()
	if bm.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", bm.Count())
	}
}

func TestBreakpointManagerHitCountsAndTemporaryDeletes(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Add(0x1000, false, "")
	hit := bm.Hit(0x1000)
	if hit == nil || hit.HitCount != 1 {
		t.Fatalf("Hit() = %+v, want HitCount 1", hit)
	}
	if bm.At(0x1000) == nil {
		t.Fatalf("non-temporary breakpoint should survive a hit")
	}

	tbp := bm.Add(0x2000, true, "")
	bm.Hit(0x2000)
	if bm.At(0x2000) != nil {
		t.Fatalf("temporary breakpoint should be removed after being hit")
	}
	_ = bp
	_ = tbp
}
