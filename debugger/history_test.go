package debugger

import (
	"fmt"
	"testing"
)

func TestHistoryAddAndEntries(t *testing.T) {
	h := NewCommandHistory(10)

	h.Add("step")
	h.Add("info registers")
	h.Add("continue")

	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	entries := h.Entries()
	if entries[0] != "step" || entries[2] != "continue" {
		t.Errorf("Entries = %v, want oldest-first order", entries)
	}
}

func TestHistorySkipsBlanksAndRepeats(t *testing.T) {
	h := NewCommandHistory(10)

	h.Add("")
	h.Add("   ")
	h.Add("step")
	h.Add("step")

	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1 (blanks and repeats skipped)", h.Len())
	}
}

func TestHistoryTrimsToLimit(t *testing.T) {
	h := NewCommandHistory(3)

	for i := 0; i < 5; i++ {
		h.Add(fmt.Sprintf("cmd%d", i))
	}

	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	entries := h.Entries()
	if entries[0] != "cmd2" || entries[2] != "cmd4" {
		t.Errorf("Entries = %v, want the newest 3", entries)
	}
}

func TestHistoryNavigation(t *testing.T) {
	h := NewCommandHistory(10)
	h.Add("first")
	h.Add("second")
	h.Add("third")

	if got, ok := h.Previous(); !ok || got != "third" {
		t.Errorf("Previous = %q,%v, want third", got, ok)
	}
	if got, ok := h.Previous(); !ok || got != "second" {
		t.Errorf("Previous = %q,%v, want second", got, ok)
	}
	if got, ok := h.Next(); !ok || got != "third" {
		t.Errorf("Next = %q,%v, want third", got, ok)
	}
	// Stepping past the newest entry returns to a blank prompt.
	if _, ok := h.Next(); ok {
		t.Error("Next past the newest entry should report ok=false")
	}
}

func TestHistoryNavigationAtBounds(t *testing.T) {
	h := NewCommandHistory(10)

	if _, ok := h.Previous(); ok {
		t.Error("Previous on empty history should report ok=false")
	}

	h.Add("only")
	h.Previous()
	if _, ok := h.Previous(); ok {
		t.Error("Previous past the oldest entry should report ok=false")
	}
}

func TestHistoryAddResetsCursor(t *testing.T) {
	h := NewCommandHistory(10)
	h.Add("first")
	h.Previous()

	h.Add("second")
	if got, ok := h.Previous(); !ok || got != "second" {
		t.Errorf("Previous after Add = %q,%v, want second", got, ok)
	}
}

func TestHistorySearch(t *testing.T) {
	h := NewCommandHistory(10)
	h.Add("break 0x401000")
	h.Add("step")
	h.Add("break 0x402000")

	matches := h.Search("break")
	if len(matches) != 2 {
		t.Fatalf("Search returned %d matches, want 2", len(matches))
	}
	if matches[0] != "break 0x401000" {
		t.Errorf("Search order = %v, want oldest first", matches)
	}
}
