package service

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/engine"
	"github.com/binxlate/dbt/executor"
	"github.com/binxlate/dbt/guest"
	"github.com/binxlate/dbt/loader"
)

// Image is the guest memory view a session is built over: readable and
// writable guest address space plus a symbol table. loader.Image
// implements this.
type Image interface {
	MemReader
	WriteAt(addr uint64, data []byte) error
	SortedSymbols() []loader.SymbolEntry
}

// DebuggerService owns one guest thread's worth of state: the
// translation engine, the executor running blocks against guest.State,
// and the breakpoint/watchpoint tables the CLI, TUI, and HTTP API all
// share.
type DebuggerService struct {
	mu sync.Mutex

	Engine *engine.Engine
	Exec   *executor.Executor
	Image  Image

	Breakpoints *BreakpointManager
	Watchpoints *WatchpointManager

	entry     uint64
	blocksRun uint64
	lastExit  executor.BlockExit
	fault     error
}

// NewDebuggerService constructs a session over image, entering at entry.
func NewDebuggerService(image Image, cfg engine.Config, entry uint64) (*DebuggerService, error) {
	eng, err := engine.New(cfg, image)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	state := guest.NewState(entry)
	return &DebuggerService{
		Engine:      eng,
		Exec:        executor.New(state),
		Image:       image,
		Breakpoints: NewBreakpointManager(),
		Watchpoints: NewWatchpointManager(),
		entry:       entry,
	}, nil
}

// Entry returns the guest address the session started execution at.
func (s *DebuggerService) Entry() uint64 {
	return s.entry
}

// Close releases the underlying engine's arena.
func (s *DebuggerService) Close() error {
	return s.Engine.Close()
}

// Reset rewinds guest state to entry and flushes the engine's cache and
// arena, used by the "reset"/"run" commands.
func (s *DebuggerService) Reset(entry uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Exec.State = guest.NewState(entry)
	s.Engine.Reset()
	s.blocksRun = 0
	s.lastExit = executor.BlockExit{}
	s.fault = nil
}

// Registers returns a snapshot of the guest thread's architectural state.
func (s *DebuggerService) Registers() RegisterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.Exec.State
	return RegisterState{
		GPR: st.GPR,
		RIP: st.RIP,
		Flags: FlagsState{
			CF: st.CF(), ZF: st.ZF(), SF: st.SF(), DF: st.DF(), OF: st.OF(),
		},
		Blocks: s.blocksRun,
	}
}

// SetRegister writes val into the named register or pseudo-register.
func (s *DebuggerService) SetRegister(name string, val uint64) error {
	idx, ok := RegisterIndex(name)
	if !ok {
		return ErrUnknownRegister(name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch idx {
	case RIPIndex:
		s.Exec.State.RIP = val
	case FlagsIndex:
		s.Exec.State.Flags = val
	default:
		s.Exec.State.GPR[idx] = val
	}
	return nil
}

// GetRegister reads the named register or pseudo-register.
func (s *DebuggerService) GetRegister(name string) (uint64, error) {
	idx, ok := RegisterIndex(name)
	if !ok {
		return 0, ErrUnknownRegister(name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch idx {
	case RIPIndex:
		return s.Exec.State.RIP, nil
	case FlagsIndex:
		return s.Exec.State.Flags, nil
	default:
		return s.Exec.State.GPR[idx], nil
	}
}

// ReadMemory reads n bytes of guest memory at addr.
func (s *DebuggerService) ReadMemory(addr uint64, n int) ([]byte, error) {
	return s.Image.ReadAt(addr, n)
}

// WriteMemory writes data into guest memory at addr.
func (s *DebuggerService) WriteMemory(addr uint64, data []byte) error {
	return s.Image.WriteAt(addr, data)
}

// Step resolves and runs exactly one translated block at the current
// guest IP. Execution is interruptible only at block boundaries, so
// single-instruction stepping in the interpreter sense doesn't exist
// here; one step is one block.
func (s *DebuggerService) Step() (executor.BlockExit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked()
}

func (s *DebuggerService) stepLocked() (executor.BlockExit, error) {
	entry, err := s.Engine.Resolve(s.Exec.State.RIP)
	if err != nil {
		s.fault = err
		return executor.BlockExit{}, err
	}
	exit, err := s.Exec.Run(entry)
	if err != nil {
		s.fault = err
		return exit, err
	}
	if s.Exec.HandleSpecial(exit) {
		// CPUID/RDTSC were serviced in place; execution proceeds as if
		// the block had exited normally.
		exit.Reason = executor.ExitRetToCache
	}
	s.blocksRun++
	s.lastExit = exit
	s.Exec.State.RIP = exit.GuestIP
	return exit, nil
}

// StopFunc decides whether execution should pause before running the
// block at guestIP, and why. The debugger CLI supplies one that checks
// breakpoints/watchpoints and evaluates conditions; the HTTP API supplies
// one that only checks address-keyed breakpoints.
type StopFunc func(guestIP uint64) (stop bool, reason string)

// Continue runs blocks until stop reports true, a block exits with a
// reason other than ExitRetToCache, or maxBlocks blocks have run
// (0 means unbounded).
func (s *DebuggerService) Continue(stop StopFunc, maxBlocks uint64) (executor.BlockExit, string, error) {
	for {
		s.mu.Lock()
		ip := s.Exec.State.RIP
		s.mu.Unlock()

		if stop != nil {
			if halt, reason := stop(ip); halt {
				return s.lastExit, reason, nil
			}
		}

		s.mu.Lock()
		exit, err := s.stepLocked()
		ran := s.blocksRun
		s.mu.Unlock()

		if err != nil {
			return exit, "", err
		}
		if exit.Reason != executor.ExitRetToCache {
			return exit, exit.Reason.String(), nil
		}
		if maxBlocks != 0 && ran >= maxBlocks {
			return exit, "block limit reached", nil
		}
	}
}

// State reports the session's coarse execution status from the last
// block exit observed.
func (s *DebuggerService) State() ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return StateError
	}
	switch s.lastExit.Reason {
	case executor.ExitHalt:
		return StateHalted
	case executor.ExitFault:
		return StateFault
	default:
		return StateRunning
	}
}

// Disassemble decodes count instructions starting at addr, formatted
// for display, decoding raw guest bytes on the fly.
func (s *DebuggerService) Disassemble(addr uint64, count int) ([]DisassemblyLine, error) {
	symbols := s.Image.SortedSymbols()
	out := make([]DisassemblyLine, 0, count)
	ip := addr
	for i := 0; i < count; i++ {
		window, err := s.Image.ReadAt(ip, 16)
		if err != nil {
			return out, err
		}
		in, length, err := decode.Decode(window, len(window), ip)
		if err != nil || length == 0 {
			n := 1
			if len(window) < n {
				n = len(window)
			}
			out = append(out, DisassemblyLine{Address: ip, Length: 1, Category: "undecodable", Bytes: hex.EncodeToString(window[:n])})
			ip++
			continue
		}
		out = append(out, DisassemblyLine{
			Address:  ip,
			Length:   length,
			Category: in.Classify().String(),
			Bytes:    hex.EncodeToString(window[:length]),
			Symbol:   symbolAt(symbols, ip),
		})
		ip += uint64(length)
	}
	return out, nil
}

func symbolAt(symbols []loader.SymbolEntry, addr uint64) string {
	for _, sym := range symbols {
		if sym.Addr == addr {
			return sym.Name
		}
	}
	return ""
}

// Stack reads count 64-bit words starting at RSP.
func (s *DebuggerService) Stack(count int) ([]StackEntry, error) {
	s.mu.Lock()
	rsp := s.Exec.State.GPR[guest.RSP]
	s.mu.Unlock()

	out := make([]StackEntry, 0, count)
	for i := 0; i < count; i++ {
		addr := rsp + uint64(i*8)
		b, err := s.Image.ReadAt(addr, 8)
		if err != nil {
			break
		}
		var buf [8]byte
		copy(buf[:], b)
		out = append(out, StackEntry{Address: addr, Value: binary.LittleEndian.Uint64(buf[:])})
	}
	return out, nil
}

// CacheStats reports the translation cache's lookup/hit/miss counters and
// occupancy fraction, for the debugger's "info cache" command and the
// API's statistics endpoint.
func (s *DebuggerService) CacheStats() (lookups, hits, misses uint64, occupancy float64) {
	lookups, hits, misses = s.Engine.Cache().Stats()
	occupancy = s.Engine.Cache().Occupancy()
	return
}

// ArenaUsage reports the code arena's used and total byte counts.
func (s *DebuggerService) ArenaUsage() (used, capacity int) {
	return s.Engine.Arena().Len(), s.Engine.Arena().Cap()
}
