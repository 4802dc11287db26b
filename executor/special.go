package executor

import (
	"time"

	"github.com/binxlate/dbt/guest"
)

// CPUID identity constants: a stable vendor string and a fixed
// family/model/stepping word, identical on every call for the same
// leaf/subleaf so guest feature probing is deterministic.
const (
	cpuidMaxLeaf   = 0x0D
	cpuidVendorEBX = 0x756E6547 // "Genu"
	cpuidVendorEDX = 0x49656E69 // "ineI"
	cpuidVendorECX = 0x6C65746E // "ntel"
	cpuidSignature = 0x000306A9 // family 6, model 0x3A, stepping 9
	cpuidFeatEDX   = 0x0F8BFBFF // FPU/TSC/CX8/CMOV/MMX/SSE/SSE2 baseline
	cpuidFeatECX   = 0x00000201 // SSE3 (bit 0) + SSSE3 (bit 9)
)

// HandleSpecial services the block exits the executor can resolve
// without any external collaborator: CPUID writes its identification
// words into the guest's EAX/EBX/ECX/EDX slots, RDTSC writes a monotonic
// timestamp split across EDX:EAX. Returns true when the exit was
// consumed and execution can proceed at exit.GuestIP; syscalls, traps,
// and faults return false for the caller's collaborator to handle.
func (e *Executor) HandleSpecial(exit BlockExit) bool {
	switch exit.Reason {
	case ExitCPUID:
		e.handleCPUID()
		return true
	case ExitRDTSC:
		e.handleRDTSC()
		return true
	}
	return false
}

func (e *Executor) handleCPUID() {
	st := e.State
	leaf := uint32(st.GPR[guest.RAX])

	switch leaf {
	case 0:
		st.GPR[guest.RAX] = cpuidMaxLeaf
		st.GPR[guest.RBX] = cpuidVendorEBX
		st.GPR[guest.RDX] = cpuidVendorEDX
		st.GPR[guest.RCX] = cpuidVendorECX
	case 1:
		st.GPR[guest.RAX] = cpuidSignature
		st.GPR[guest.RBX] = 0
		st.GPR[guest.RCX] = cpuidFeatECX
		st.GPR[guest.RDX] = cpuidFeatEDX
	default:
		st.GPR[guest.RAX] = 0
		st.GPR[guest.RBX] = 0
		st.GPR[guest.RCX] = 0
		st.GPR[guest.RDX] = 0
	}
}

func (e *Executor) handleRDTSC() {
	if e.epoch.IsZero() {
		e.epoch = time.Now()
	}
	tsc := uint64(time.Since(e.epoch).Nanoseconds())
	if tsc <= e.lastTSC {
		tsc = e.lastTSC + 1 // keep the counter strictly monotonic
	}
	e.lastTSC = tsc

	e.State.GPR[guest.RAX] = tsc & 0xFFFFFFFF
	e.State.GPR[guest.RDX] = tsc >> 32
}
