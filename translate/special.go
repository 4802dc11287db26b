package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/executor"
)

// translateSpecial lowers the SPECIAL category:
// NOP, CBW/CWDE/CDQE, CWD/CDQ/CQO, HLT, CLI/STI, INT3/INT, SYSCALL, UD2,
// multi-byte NOP, RDTSC, CPUID. Most of these have no faithful ARM64
// analogue and instead exit the block back to the executor with a tagged
// reason, which is how the executor
// distinguishes a guest syscall from an undecodable trap without either
// one panicking.
func translateSpecial(ctx *Context, in *decode.Instruction) Result {
	switch in.PrimaryOpcode {
	case 0x90: // NOP
		ctx.Buf.EmitNOPARM64()
		return ok2(in)
	case 0x98: // CBW/CWDE/CDQE: sign-extend RAX's low half into itself,
		// lowered as a left/arithmetic-right shift pair over the halfwidth
		rax := hostReg(0)
		half := uint32(16)
		if in.REXW {
			half = 32
		}
		ctx.Buf.EmitShiftImm(shiftLSL, rax, rax, half, in.REXW)
		ctx.Buf.EmitShiftImm(shiftASR, rax, rax, half, in.REXW)
		return ok2(in)
	case 0x99: // CWD/CDQ/CQO: sign-extend RAX into RDX:RAX
		return translateSignExtendWide(ctx, in)
	case 0xF4: // HLT
		return okExit(executor.ExitHalt, in.Length)
	case 0xFA, 0xFB: // CLI, STI
		ctx.Buf.EmitNOPARM64() // interrupt flag has no meaning in user-mode translation
		return ok2(in)
	case 0xCC, 0xCD: // INT3, INT imm8
		return okExit(executor.ExitTrap, in.Length)
	}
	if in.HasSecondary {
		switch in.SecondaryOpcode {
		case 0x05: // SYSCALL
			return okExit(executor.ExitSyscall, in.Length)
		case 0x0B: // UD2
			return okExit(executor.ExitUndefined, in.Length)
		case 0x1F: // multi-byte NOP Ev
			ctx.Buf.EmitNOPARM64()
			return ok2(in)
		case 0x31: // RDTSC
			return okExit(executor.ExitRDTSC, in.Length)
		case 0xA2: // CPUID
			return okExit(executor.ExitCPUID, in.Length)
		}
	}
	return fail()
}

func translateSignExtendWide(ctx *Context, in *decode.Instruction) Result {
	rax := hostReg(0)
	rdx := hostReg(2)
	width := uint32(32)
	if in.REXW {
		width = 64
	}
	ctx.Buf.EmitShiftImm(shiftASR, rdx, rax, width-1, in.REXW)
	return ok2(in)
}
