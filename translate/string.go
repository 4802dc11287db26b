package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
	"github.com/binxlate/dbt/guest"
)

// translateString lowers the STRING category:
// MOVS, CMPS, STOS, LODS, SCAS, each stepping RSI/RDI by the operand
// width in the direction the guest DF flag names, and each optionally
// wrapped in a REP/REPE/REPNE loop counted down in RCX. DF is runtime
// guest state, not something the translator can resolve statically, so
// every string lowering begins by deriving the signed step (+size or
// -size) from the flags word reachable through the state base register,
// leaving it in hostScratch1 for the per-iteration advance.
func translateString(ctx *Context, in *decode.Instruction) Result {
	size := stringOpSize(in)
	rcx := hostReg(1)
	repeated := in.RepPrefix != 0
	compares := in.PrimaryOpcode == 0xA6 || in.PrimaryOpcode == 0xA7 ||
		in.PrimaryOpcode == 0xAE || in.PrimaryOpcode == 0xAF

	emitDirectionStep(ctx, size)

	var headOff, cbzOff int
	if repeated {
		headOff = ctx.Buf.Len()
		cbzOff = ctx.Buf.EmitCBZ(rcx, true)
	}

	if !emitStringBody(ctx, in, size) {
		return fail()
	}
	if compares {
		// CMPS and SCAS MUST leave the sign and zero bits of the final
		// subtraction in the guest flag word;
		// writing them every iteration leaves the last one standing and
		// keeps a zero-count REP from touching the flags at all.
		emitSubFlagsUpdate(ctx)
	}

	if repeated {
		ctx.Buf.EmitAddSubImm(aluSub, rcx, rcx, 1, false, true)
		exitOff := -1
		if compares {
			// REPE stops on the first non-match, REPNE on the first match.
			cond := emitter.CondNE
			if in.RepPrefix == 0xF2 {
				cond = emitter.CondEQ
			}
			exitOff = ctx.Buf.EmitBCond(cond)
		}
		ctx.Buf.EmitB(int64(headOff - ctx.Buf.Len()))
		end := ctx.Buf.Len()
		ctx.Buf.PatchCBZCBNZ(cbzOff, int64(end-cbzOff))
		if exitOff >= 0 {
			ctx.Buf.PatchBCond(exitOff, int64(end-exitOff))
		}
	}
	return ok2(in)
}

// emitStringBody emits one element's worth of the operation plus the
// RSI/RDI advance; the step value is already in hostScratch1.
func emitStringBody(ctx *Context, in *decode.Instruction, size uint32) bool {
	rsi := hostReg(6)
	rdi := hostReg(7)
	rax := hostReg(0)
	second := hostScratch2

	step := func(dst emitter.ARM64Reg) {
		ctx.Buf.EmitAddSubReg(aluAdd, dst, dst, hostScratch1, false, true)
	}

	switch in.PrimaryOpcode {
	case 0xA4, 0xA5: // MOVS
		ctx.Buf.EmitLDR(hostScratch0, rsi, 0, size)
		ctx.Buf.EmitSTR(hostScratch0, rdi, 0, size)
		step(rsi)
		step(rdi)
	case 0xA6, 0xA7: // CMPS
		ctx.Buf.EmitLDR(hostScratch0, rsi, 0, size)
		ctx.Buf.EmitLDR(second, rdi, 0, size)
		ctx.Buf.EmitAddSubReg(aluSub, emitter.ARM64ZR, hostScratch0, second, true, true)
		step(rsi)
		step(rdi)
	case 0xAA, 0xAB: // STOS
		ctx.Buf.EmitSTR(rax, rdi, 0, size)
		step(rdi)
	case 0xAC, 0xAD: // LODS
		ctx.Buf.EmitLDR(rax, rsi, 0, size)
		step(rsi)
	case 0xAE, 0xAF: // SCAS
		ctx.Buf.EmitLDR(second, rdi, 0, size)
		ctx.Buf.EmitAddSubReg(aluSub, emitter.ARM64ZR, rax, second, true, true)
		step(rdi)
	default:
		return false
	}
	return true
}

// emitDirectionStep leaves +size (DF clear) or -size (DF set) in
// hostScratch1: load the guest flags word, isolate DF, then select
// between the two materialised step constants.
func emitDirectionStep(ctx *Context, size uint32) {
	ctx.Buf.EmitLDR(hostScratch1, hostStateReg, guest.StateFlagsOffset, 8)
	ctx.Buf.EmitUBFX(hostScratch1, hostScratch1, guest.FlagDF, 1, true)
	ctx.Buf.EmitAddSubImm(aluSub, emitter.ARM64ZR, hostScratch1, 0, true, true) // Z set iff DF clear
	ctx.Buf.EmitMOVZ(hostScratch0, uint16(size), 0, true)
	ctx.Buf.EmitMOVN(hostScratch2, uint16(size-1), 0, true) // ~(size-1) == -size
	ctx.Buf.EmitCSEL(hostScratch1, hostScratch0, hostScratch2, emitter.CondEQ, true)
}

// emitSubFlagsUpdate folds the host Z and N bits of the preceding SUBS
// into the guest flag word's ZF and SF positions, leaving the other bits
// untouched.
func emitSubFlagsUpdate(ctx *Context) {
	const zfsfMask = 1<<guest.FlagZF | 1<<guest.FlagSF

	ctx.Buf.EmitLDR(hostScratch0, hostStateReg, guest.StateFlagsOffset, 8)
	ctx.Buf.EmitMOVZ(hostScratch2, zfsfMask, 0, true)
	ctx.Buf.EmitMVN(hostScratch2, hostScratch2, true)
	ctx.Buf.EmitLogicalReg(logicalAnd, hostScratch0, hostScratch0, hostScratch2, true)
	ctx.Buf.EmitCSET(hostScratch2, emitter.CondEQ, true)
	ctx.Buf.EmitShiftImm(shiftLSL, hostScratch2, hostScratch2, guest.FlagZF, true)
	ctx.Buf.EmitLogicalReg(logicalOrr, hostScratch0, hostScratch0, hostScratch2, true)
	ctx.Buf.EmitCSET(hostScratch2, emitter.CondMI, true)
	ctx.Buf.EmitShiftImm(shiftLSL, hostScratch2, hostScratch2, guest.FlagSF, true)
	ctx.Buf.EmitLogicalReg(logicalOrr, hostScratch0, hostScratch0, hostScratch2, true)
	ctx.Buf.EmitSTR(hostScratch0, hostStateReg, guest.StateFlagsOffset, 8)
}

// stringOpSize derives the element width: the even opcode of each pair is
// the byte form, the odd one the word/dword/qword form per operand size.
func stringOpSize(in *decode.Instruction) uint32 {
	if in.PrimaryOpcode&1 == 0 {
		return 1
	}
	if in.REXW {
		return 8
	}
	if in.OperandSize16 {
		return 2
	}
	return 4
}
