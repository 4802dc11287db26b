// Package executor runs already-translated blocks
// of host ARM64 code against a guest.State, materialising guest registers
// into host registers on entry and spilling them back out on exit.
package executor

import (
	"fmt"
	"time"

	"github.com/binxlate/dbt/guest"
)

// ExitReason tags why a translated block returned control to the
// executor instead of chaining directly into the next block, so the
// caller can branch on it without the executor ever panicking on
// guest-triggered conditions.
type ExitReason int

const (
	ExitRetToCache ExitReason = iota // ordinary fall-through/branch back into the cache
	ExitSyscall
	ExitFault
	ExitHalt
	ExitTrap
	ExitUndefined
	ExitRDTSC
	ExitCPUID
)

func (r ExitReason) String() string {
	switch r {
	case ExitRetToCache:
		return "ret_to_cache"
	case ExitSyscall:
		return "syscall"
	case ExitFault:
		return "fault"
	case ExitHalt:
		return "halt"
	case ExitTrap:
		return "trap"
	case ExitUndefined:
		return "undefined"
	case ExitRDTSC:
		return "rdtsc"
	case ExitCPUID:
		return "cpuid"
	default:
		return "unknown"
	}
}

// FaultKind distinguishes the guest-visible faults a block can raise.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultUndecodable
	FaultMemoryAccess
	FaultDivideByZero
)

// BlockExit is the result of running one translated block: the reason
// control returned and the guest IP to resume from. Run does not fill in
// Kind or Addr; they stay zero for every reason, ExitFault included.
type BlockExit struct {
	Reason  ExitReason
	Kind    FaultKind
	Addr    uint64
	GuestIP uint64 // guest IP the next block lookup should resume from
}

// BlockEntry is the function signature a translated, linked-in-memory
// block presents to the executor: it receives a pointer to the guest
// state and returns a packed exit-reason code the executor unpacks into
// a BlockExit; the executor never inspects translated bytes directly,
// only the tagged result it produces.
type BlockEntry func(state *guest.State) uint64

// Executor runs translated blocks for one guest thread.
type Executor struct {
	State *guest.State

	// RDTSC state: the executor's timebase and the last value handed out.
	epoch   time.Time
	lastTSC uint64
}

// New returns an executor bound to state.
func New(state *guest.State) *Executor {
	return &Executor{State: state}
}

// Run invokes entry once against the executor's guest state and decodes
// its packed return value into a BlockExit. Entry points are expected to
// leave guest.State fully spilled before returning (the calling
// convention engine/ establishes), so Run never has to reconcile host
// register contents itself.
func (e *Executor) Run(entry BlockEntry) (BlockExit, error) {
	if entry == nil {
		return BlockExit{}, fmt.Errorf("executor: nil block entry at guest IP %#x", e.State.RIP)
	}
	packed := entry(e.State)
	return unpackExit(packed, e.State.RIP), nil
}

// unpackExit takes the reason tag from the low byte of the value a block
// returns in X0 (emitEpilogue in engine/ writes it before RET). The
// remaining bits are not decoded, so Kind and Addr are left zero.
func unpackExit(packed uint64, resumeIP uint64) BlockExit {
	reason := ExitReason(packed & 0xFF)
	return BlockExit{
		Reason:  reason,
		GuestIP: resumeIP,
	}
}
