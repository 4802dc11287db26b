package service

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/binxlate/dbt/guest"
)

// MemReader is the minimal guest-memory read view watchpoint checks and
// the expression evaluator need; loader.Image and engine.GuestMemory
// both satisfy it.
type MemReader interface {
	ReadAt(addr uint64, n int) ([]byte, error)
}

// Watchpoint monitors a register or a memory word for a value change.
// Only value-change detection is supported (not true read/write
// tracking), since nothing in the translated code path instruments
// individual memory accesses.
type Watchpoint struct {
	ID         int
	Expression string
	Address    uint64
	IsRegister bool
	Register   int // guest.State.GPR index when IsRegister
	Enabled    bool
	LastValue  uint64
	HitCount   int
}

// WatchpointManager manages all watchpoints for one session.
type WatchpointManager struct {
	mu          sync.RWMutex
	watchpoints map[int]*Watchpoint
	nextID      int
}

// NewWatchpointManager creates an empty watchpoint manager.
func NewWatchpointManager() *WatchpointManager {
	return &WatchpointManager{
		watchpoints: make(map[int]*Watchpoint),
		nextID:      1,
	}
}

// Add registers a new watchpoint.
func (wm *WatchpointManager) Add(expression string, address uint64, isRegister bool, register int) *Watchpoint {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wp := &Watchpoint{
		ID:         wm.nextID,
		Expression: expression,
		Address:    address,
		IsRegister: isRegister,
		Register:   register,
		Enabled:    true,
	}
	wm.watchpoints[wp.ID] = wp
	wm.nextID++
	return wp
}

// Delete removes a watchpoint by ID.
func (wm *WatchpointManager) Delete(id int) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if _, exists := wm.watchpoints[id]; !exists {
		return fmt.Errorf("watchpoint %d not found", id)
	}
	delete(wm.watchpoints, id)
	return nil
}

// SetEnabled toggles a watchpoint's enabled state by ID.
func (wm *WatchpointManager) SetEnabled(id int, enabled bool) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wp, exists := wm.watchpoints[id]
	if !exists {
		return fmt.Errorf("watchpoint %d not found", id)
	}
	wp.Enabled = enabled
	return nil
}

// ByID returns the watchpoint with the given ID, or nil.
func (wm *WatchpointManager) ByID(id int) *Watchpoint {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.watchpoints[id]
}

// All returns every watchpoint, in no particular order.
func (wm *WatchpointManager) All() []*Watchpoint {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	out := make([]*Watchpoint, 0, len(wm.watchpoints))
	for _, wp := range wm.watchpoints {
		out = append(out, wp)
	}
	return out
}

// Clear removes every watchpoint.
func (wm *WatchpointManager) Clear() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.watchpoints = make(map[int]*Watchpoint)
}

// Count returns the number of watchpoints.
func (wm *WatchpointManager) Count() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.watchpoints)
}

func readWatched(wp *Watchpoint, state *guest.State, mem MemReader) (uint64, error) {
	if wp.IsRegister {
		return state.GPR[wp.Register], nil
	}
	b, err := mem.ReadAt(wp.Address, 8)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Check scans every enabled watchpoint and returns the first whose value
// has changed since the last check.
func (wm *WatchpointManager) Check(state *guest.State, mem MemReader) (*Watchpoint, bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	for _, wp := range wm.watchpoints {
		if !wp.Enabled {
			continue
		}
		current, err := readWatched(wp, state, mem)
		if err != nil {
			continue
		}
		if current != wp.LastValue {
			wp.HitCount++
			wp.LastValue = current
			return wp, true
		}
	}
	return nil, false
}

// Initialize seeds a watchpoint's last-known value without counting it as
// a hit, called right after the watchpoint is created.
func (wm *WatchpointManager) Initialize(id int, state *guest.State, mem MemReader) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wp, exists := wm.watchpoints[id]
	if !exists {
		return fmt.Errorf("watchpoint %d not found", id)
	}
	value, err := readWatched(wp, state, mem)
	if err != nil {
		return fmt.Errorf("failed to initialize watchpoint: %w", err)
	}
	wp.LastValue = value
	return nil
}
