package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
)

// translateBranch lowers the BRANCH category:
// Jcc, CALL/JMP (relative and register-indirect), RET, XCHG, CMOVcc and
// SETcc. Only Jcc/CALL/JMP/RET end the block: CMOVcc,
// SETcc, and XCHG are ordinary data operations that merely consult a
// condition or exchange registers and execution continues past them.
func translateBranch(ctx *Context, in *decode.Instruction) Result {
	switch {
	case in.PrimaryOpcode >= 0x70 && in.PrimaryOpcode <= 0x7F: // Jcc rel8
		return translateJcc(ctx, in, in.PrimaryOpcode)
	case in.HasSecondary && in.SecondaryOpcode >= 0x80 && in.SecondaryOpcode <= 0x8F: // Jcc rel32
		return translateJcc(ctx, in, in.SecondaryOpcode)
	case in.PrimaryOpcode == 0xE8: // CALL rel32
		return translateCallRel(ctx, in)
	case in.PrimaryOpcode == 0xE9 || in.PrimaryOpcode == 0xEB: // JMP rel32/rel8
		return translateJmpRel(ctx, in)
	case in.PrimaryOpcode == 0xC2 || in.PrimaryOpcode == 0xC3: // RET
		return translateRet(ctx, in)
	case in.PrimaryOpcode == 0x86 || in.PrimaryOpcode == 0x87: // XCHG
		return translateXCHG(ctx, in)
	case in.PrimaryOpcode == 0xFF:
		return translateIndirectCallJmp(ctx, in)
	case in.HasSecondary && in.SecondaryOpcode >= 0x40 && in.SecondaryOpcode <= 0x4F: // CMOVcc
		return translateCMOVcc(ctx, in)
	case in.HasSecondary && in.SecondaryOpcode >= 0x90 && in.SecondaryOpcode <= 0x9F: // SETcc
		return translateSETcc(ctx, in)
	}
	return fail()
}

// jccOpToARM64Cond derives the ARM64 condition that tests the same guest
// condition as the given x86 Jcc/SETcc/CMOVcc opcode low nibble, reusing
// the symmetric table emitter/condition.go builds for the reverse
// direction, since the x86->ARM64 direction needs exactly its inverse
// lookup.
func jccOpToARM64Cond(x86opcodeLowNibble byte) (emitter.ARM64Cond, bool) {
	return emitter.ARM64ConditionFor(0x70 + x86opcodeLowNibble)
}

// translateJcc resolves both edges of a conditional branch to absolute
// guest addresses at translation time (the rel8/rel32 displacement is
// relative to ctx.NextIP, the address of the following instruction) and
// selects between them with CSEL into HostScratch2, rather than emitting
// a host conditional branch with an unresolved target: the direct host
// jump into an already-resident successor is the linker's job, applied
// after the block exists by patching the trailing RET the shared
// epilogue always emits. The translator's only contract is to leave the
// correct next
// guest RIP where the epilogue can find it.
func translateJcc(ctx *Context, in *decode.Instruction, opcode byte) Result {
	cond, ok := jccOpToARM64Cond(opcode & 0x0F)
	if !ok {
		return fail()
	}
	taken := ctx.NextIP + uint64(in.Imm)
	ctx.Buf.EmitMOVImm64(HostScratch0, taken)
	ctx.Buf.EmitMOVImm64(HostScratch1, ctx.NextIP)
	ctx.Buf.EmitCSEL(HostScratch2, HostScratch0, HostScratch1, cond, true)
	return okControlFlow(in.Length)
}

// translateCallRel resolves the call target the same way, and pushes the
// guest return address (ctx.NextIP) onto the guest stack first.
func translateCallRel(ctx *Context, in *decode.Instruction) Result {
	target := ctx.NextIP + uint64(in.Imm)
	ctx.Buf.EmitMOVImm64(HostScratch1, ctx.NextIP)
	ctx.Buf.EmitSTRPreIndex(HostScratch1, hostReg(4 /* RSP */), -8)
	ctx.Buf.EmitMOVImm64(HostScratch2, target)
	return okControlFlow(in.Length)
}

func translateJmpRel(ctx *Context, in *decode.Instruction) Result {
	target := ctx.NextIP + uint64(in.Imm)
	ctx.Buf.EmitMOVImm64(HostScratch2, target)
	return okControlFlow(in.Length)
}

// translateIndirectCallJmp copies the register-held target into
// HostScratch2 (CALL also pushes a return address first); the value was
// already materialised into a mapped host GPR by earlier instructions in
// this block, so no address computation is needed here.
func translateIndirectCallJmp(ctx *Context, in *decode.Instruction) Result {
	if !in.IsRegisterOperand() {
		return fail()
	}
	target := hostReg(byte(in.RmField()))
	switch groupRegOf(in) {
	case 2: // CALL r/m
		ctx.Buf.EmitMOVImm64(HostScratch0, ctx.NextIP)
		ctx.Buf.EmitSTRPreIndex(HostScratch0, hostReg(4), -8)
		ctx.Buf.EmitLogicalReg(logicalOrr, HostScratch2, emitter.ARM64ZR, target, true)
	case 4: // JMP r/m
		ctx.Buf.EmitLogicalReg(logicalOrr, HostScratch2, emitter.ARM64ZR, target, true)
	default:
		return fail()
	}
	return okControlFlow(in.Length)
}

// translateRet pops the guest return address off the guest stack into
// HostScratch2 for the epilogue to install as the next RIP; RSP's
// post-increment is already reflected in the mapped host register, so
// the shared GPR spill picks it up without further help.
func translateRet(ctx *Context, in *decode.Instruction) Result {
	ctx.Buf.EmitLDRPostIndex(HostScratch2, hostReg(4), 8)
	return okControlFlow(in.Length)
}

// translateXCHG swaps two registers with the three-EOR no-temporary
// trick, so no scratch register has to be reserved: a^=b; b^=a; a^=b.
func translateXCHG(ctx *Context, in *decode.Instruction) Result {
	if !in.IsRegisterOperand() {
		return fail()
	}
	a := hostReg(byte(in.RegField()))
	b := hostReg(byte(in.RmField()))
	if a == b {
		return ok2(in)
	}
	ctx.Buf.EmitLogicalReg(logicalEor, a, a, b, in.REXW)
	ctx.Buf.EmitLogicalReg(logicalEor, b, b, a, in.REXW)
	ctx.Buf.EmitLogicalReg(logicalEor, a, a, b, in.REXW)
	return ok2(in)
}

func translateCMOVcc(ctx *Context, in *decode.Instruction) Result {
	if !in.IsRegisterOperand() {
		return fail()
	}
	cond, ok := jccOpToARM64Cond(in.SecondaryOpcode & 0x0F)
	if !ok {
		return fail()
	}
	dst := hostReg(byte(in.RegField()))
	src := hostReg(byte(in.RmField()))
	ctx.Buf.EmitCSEL(dst, src, dst, cond, in.REXW)
	return ok2(in)
}

func translateSETcc(ctx *Context, in *decode.Instruction) Result {
	if !in.IsRegisterOperand() {
		return fail()
	}
	cond, ok := jccOpToARM64Cond(in.SecondaryOpcode & 0x0F)
	if !ok {
		return fail()
	}
	dst := hostReg(byte(in.RmField()))
	ctx.Buf.EmitCSET(dst, cond, false)
	return ok2(in)
}
