package debugger

import (
	"strings"
	"sync"
)

// CommandHistory is a bounded ring of executed debugger commands with a
// navigation cursor for up/down-arrow recall.
type CommandHistory struct {
	mu      sync.RWMutex
	entries []string
	limit   int
	cursor  int
}

// NewCommandHistory creates a history bounded to limit entries; a
// non-positive limit falls back to DefaultHistorySize.
func NewCommandHistory(limit int) *CommandHistory {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &CommandHistory{
		entries: make([]string, 0, 64),
		limit:   limit,
	}
}

// Add records cmd, skipping blanks and immediate repeats, and resets the
// navigation cursor past the newest entry.
func (h *CommandHistory) Add(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && h.entries[n-1] == cmd {
		h.cursor = n
		return
	}

	h.entries = append(h.entries, cmd)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	h.cursor = len(h.entries)
}

// Previous moves the cursor one entry back and returns it; ok is false
// at the oldest entry with nowhere further to go.
func (h *CommandHistory) Previous() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor == 0 {
		return "", false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Next moves the cursor one entry forward and returns it; past the
// newest entry it returns ok=false, meaning "back to a blank prompt".
func (h *CommandHistory) Next() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor >= len(h.entries) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.entries) {
		return "", false
	}
	return h.entries[h.cursor], true
}

// Len returns the number of stored commands.
func (h *CommandHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Entries returns a copy of the stored commands, oldest first.
func (h *CommandHistory) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Search returns stored commands containing substr, oldest first.
func (h *CommandHistory) Search(substr string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for _, e := range h.entries {
		if strings.Contains(e, substr) {
			out = append(out, e)
		}
	}
	return out
}
