package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
)

// translateALU lowers the ALU category: the eight
// ADD/OR/ADC/SBB/AND/SUB/XOR/CMP rows (register and immediate forms,
// including the accumulator-immediate encodings), INC/DEC, IMUL, the
// group2 shifts/rotates, and the group3 NOT/NEG/MUL/IMUL/DIV/IDIV forms.
// Memory-destination forms are not lowered here; they fall through to
// the dispatcher's NOP fallback.
func translateALU(ctx *Context, in *decode.Instruction) Result {
	is64 := in.REXW

	// Accumulator-immediate rows (e.g. 0x05 ADD EAX, imm32) carry no
	// ModR/M: the destination is implicitly RAX.
	if off, isRow := aluRowOffsetOf(in.PrimaryOpcode); isRow && off >= 4 {
		op, _ := aluOpFor(in)
		return emitALUImm(ctx, in, op, hostReg(0), is64)
	}

	if !in.IsRegisterOperand() {
		return fail()
	}
	dst := hostReg(byte(in.RmField()))
	src := hostReg(byte(in.RegField()))

	if op, ok := aluOpFor(in); ok {
		if in.HasImmediate() {
			return emitALUImm(ctx, in, op, dst, is64)
		}
		return emitALUReg(ctx, in, op, dst, src, is64)
	}

	switch in.PrimaryOpcode {
	case 0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3: // group2 shifts/rotates
		return translateShift(ctx, in, dst, is64)
	case 0xFE, 0xFF: // INC/DEC: ADD/SUB by #1
		kind := aluAdd
		if groupRegOf(in) == 1 {
			kind = aluSub
		}
		ctx.Buf.EmitAddSubImm(kind, dst, dst, 1, false, is64)
		return ok2(in)
	case 0xF6, 0xF7: // group3
		switch groupRegOf(in) {
		case 2: // NOT
			ctx.Buf.EmitMVN(dst, dst, is64)
			return ok2(in)
		case 3: // NEG
			ctx.Buf.EmitAddSubReg(aluSub, dst, emitter.ARM64ZR, dst, false, is64)
			return ok2(in)
		case 4, 5: // MUL/IMUL (one-operand): RDX:RAX = RAX * r/m
			return emitWideningMul(ctx, in, dst, groupRegOf(in) == 5, is64)
		case 6, 7: // DIV/IDIV: RAX = RAX / r/m, RDX = remainder
			// (divide-by-zero yields zero natively on the host)
			return emitDivRem(ctx, in, dst, groupRegOf(in) == 7, is64)
		}
	}

	if in.HasSecondary && in.SecondaryOpcode == 0xAF { // IMUL Gv, Ev
		ctx.Buf.EmitMUL(src, src, dst, is64)
		return ok2(in)
	}
	if in.PrimaryOpcode == 0x69 || in.PrimaryOpcode == 0x6B { // IMUL Gv, Ev, imm
		ctx.Buf.EmitMOVImm64(hostScratch1, uint64(in.Imm))
		ctx.Buf.EmitMUL(src, dst, hostScratch1, is64)
		return ok2(in)
	}

	return fail()
}

// emitALUReg lowers the register-register form of one of the eight rows.
func emitALUReg(ctx *Context, in *decode.Instruction, op aluOpKind, dst, src emitter.ARM64Reg, is64 bool) Result {
	switch op {
	case aluOpADD:
		ctx.Buf.EmitAddSubReg(aluAdd, dst, dst, src, false, is64)
	case aluOpSUB:
		ctx.Buf.EmitAddSubReg(aluSub, dst, dst, src, false, is64)
	case aluOpCMP: // flag-setting subtract into scratch; dst untouched
		ctx.Buf.EmitAddSubReg(aluSub, hostScratch0, dst, src, true, is64)
	case aluOpAND:
		ctx.Buf.EmitLogicalReg(logicalAnd, dst, dst, src, is64)
	case aluOpOR:
		ctx.Buf.EmitLogicalReg(logicalOrr, dst, dst, src, is64)
	case aluOpXOR:
		ctx.Buf.EmitLogicalReg(logicalEor, dst, dst, src, is64)
	case aluOpADC, aluOpSBB:
		// Carry-in is folded in as a plain add/sub; a carry-correct
		// lowering needs ADCS/SBCS, which the host path does not expose
		// yet (see DESIGN.md).
		kind := aluAdd
		if op == aluOpSBB {
			kind = aluSub
		}
		ctx.Buf.EmitAddSubReg(kind, dst, dst, src, false, is64)
	}
	return ok2(in)
}

// emitALUImm lowers the register-immediate form. Immediates that fit the
// 12-bit ADD/SUB field go straight in; everything else is materialised
// into scratch first.
func emitALUImm(ctx *Context, in *decode.Instruction, op aluOpKind, dst emitter.ARM64Reg, is64 bool) Result {
	imm := in.Imm
	fitsImm12 := imm >= 0 && imm < 1<<12

	switch op {
	case aluOpADD, aluOpSUB, aluOpADC, aluOpSBB:
		kind := aluAdd
		if op == aluOpSUB || op == aluOpSBB {
			kind = aluSub
		}
		if fitsImm12 {
			ctx.Buf.EmitAddSubImm(kind, dst, dst, uint32(imm), false, is64)
		} else {
			ctx.Buf.EmitMOVImm64(hostScratch1, uint64(imm))
			ctx.Buf.EmitAddSubReg(kind, dst, dst, hostScratch1, false, is64)
		}
	case aluOpCMP:
		if fitsImm12 {
			ctx.Buf.EmitAddSubImm(aluSub, hostScratch0, dst, uint32(imm), true, is64)
		} else {
			ctx.Buf.EmitMOVImm64(hostScratch1, uint64(imm))
			ctx.Buf.EmitAddSubReg(aluSub, hostScratch0, dst, hostScratch1, true, is64)
		}
	case aluOpAND, aluOpOR, aluOpXOR:
		kind := logicalAnd
		switch op {
		case aluOpOR:
			kind = logicalOrr
		case aluOpXOR:
			kind = logicalEor
		}
		ctx.Buf.EmitMOVImm64(hostScratch1, uint64(imm))
		ctx.Buf.EmitLogicalReg(kind, dst, dst, hostScratch1, is64)
	}
	return ok2(in)
}

// emitWideningMul lowers the group3 one-operand multiply into the fixed
// (RAX, RDX) pair: RAX gets the low half of the product, RDX the high
// half. The high half is computed into scratch first so an src aliasing
// RAX or RDX still reads its pre-multiply value.
func emitWideningMul(ctx *Context, in *decode.Instruction, src emitter.ARM64Reg, signed, is64 bool) Result {
	rax := hostReg(0)
	rdx := hostReg(2)

	if is64 {
		ctx.Buf.EmitMULH(hostScratch0, rax, src, signed)
		ctx.Buf.EmitMUL(rax, rax, src, true)
		ctx.Buf.EmitLogicalReg(logicalOrr, rdx, emitter.ARM64ZR, hostScratch0, true)
		return ok2(in)
	}

	// 32-bit form: widen both operands to 64 bits, take one 64-bit
	// product, then split it: EAX = low 32, EDX = high 32.
	if signed {
		ctx.Buf.EmitShiftImm(shiftLSL, hostScratch0, rax, 32, true)
		ctx.Buf.EmitShiftImm(shiftASR, hostScratch0, hostScratch0, 32, true)
		ctx.Buf.EmitShiftImm(shiftLSL, hostScratch1, src, 32, true)
		ctx.Buf.EmitShiftImm(shiftASR, hostScratch1, hostScratch1, 32, true)
	} else {
		ctx.Buf.EmitUBFX(hostScratch0, rax, 0, 32, true)
		ctx.Buf.EmitUBFX(hostScratch1, src, 0, 32, true)
	}
	ctx.Buf.EmitMUL(hostScratch0, hostScratch0, hostScratch1, true)
	ctx.Buf.EmitUBFX(rax, hostScratch0, 0, 32, true)
	ctx.Buf.EmitUBFX(rdx, hostScratch0, 32, 32, true)
	return ok2(in)
}

// emitDivRem lowers the group3 one-operand divide into the fixed
// (RAX, RDX) pair: quotient into scratch first (so the MSUB still sees
// the original dividend), remainder = RAX - quotient*src into RDX via
// MSUB, then the quotient moves into RAX.
func emitDivRem(ctx *Context, in *decode.Instruction, src emitter.ARM64Reg, signed, is64 bool) Result {
	rax := hostReg(0)
	rdx := hostReg(2)

	ctx.Buf.EmitDIV(hostScratch0, rax, src, signed, is64)
	ctx.Buf.EmitMSUB(rdx, hostScratch0, src, rax, is64)
	ctx.Buf.EmitLogicalReg(logicalOrr, rax, emitter.ARM64ZR, hostScratch0, is64)
	return ok2(in)
}

// translateShift lowers group2: reg selector 4=SHL, 5=SHR, 7=SAR,
// 0=ROL, 1=ROR. Rotate-through-carry (RCL/RCR, 2/3) is not lowered.
func translateShift(ctx *Context, in *decode.Instruction, dst emitter.ARM64Reg, is64 bool) Result {
	width := uint32(32)
	if is64 {
		width = 64
	}

	byCL := in.PrimaryOpcode == 0xD2 || in.PrimaryOpcode == 0xD3
	amount := uint32(1) // 0xD0/0xD1 shift by one
	if in.HasImmediate() {
		amount = uint32(in.Imm) & (width - 1)
	}

	sel := groupRegOf(in)
	if byCL {
		cl := hostReg(1) // RCX
		switch sel {
		case 4:
			ctx.Buf.EmitShiftReg(shiftLSL, dst, dst, cl, is64)
		case 5:
			ctx.Buf.EmitShiftReg(shiftLSR, dst, dst, cl, is64)
		case 7:
			ctx.Buf.EmitShiftReg(shiftASR, dst, dst, cl, is64)
		case 1:
			ctx.Buf.EmitShiftReg(shiftROR, dst, dst, cl, is64)
		case 0: // ROL by CL = ROR by (width - CL), i.e. ROR by negated count
			ctx.Buf.EmitAddSubReg(aluSub, hostScratch0, emitter.ARM64ZR, cl, false, is64)
			ctx.Buf.EmitShiftReg(shiftROR, dst, dst, hostScratch0, is64)
		default:
			return fail()
		}
		return ok2(in)
	}

	switch sel {
	case 4:
		ctx.Buf.EmitShiftImm(shiftLSL, dst, dst, amount, is64)
	case 5:
		ctx.Buf.EmitShiftImm(shiftLSR, dst, dst, amount, is64)
	case 7:
		ctx.Buf.EmitShiftImm(shiftASR, dst, dst, amount, is64)
	case 1: // ROR #n is EXTR rd, rn, rn, #n
		ctx.Buf.EmitEXTR(dst, dst, dst, amount, is64)
	case 0: // ROL #n = ROR #(width-n)
		ctx.Buf.EmitEXTR(dst, dst, dst, (width-amount)&(width-1), is64)
	default:
		return fail()
	}
	return ok2(in)
}

type aluOpKind int

const (
	aluOpADD aluOpKind = iota
	aluOpOR
	aluOpADC
	aluOpSBB
	aluOpAND
	aluOpSUB
	aluOpXOR
	aluOpCMP
)

// aluRowOffsetOf mirrors decode's row arithmetic: for an opcode inside
// one of the eight ALU rows, the offset 0-5 within the row.
func aluRowOffsetOf(opcode byte) (int, bool) {
	row := opcode &^ 0x07
	if row > 0x38 || opcode-row > 5 {
		return 0, false
	}
	return int(opcode - row), true
}

func aluOpFor(in *decode.Instruction) (aluOpKind, bool) {
	if in.PrimaryOpcode == 0x80 || in.PrimaryOpcode == 0x81 || in.PrimaryOpcode == 0x83 {
		ops := [8]aluOpKind{aluOpADD, aluOpOR, aluOpADC, aluOpSBB, aluOpAND, aluOpSUB, aluOpXOR, aluOpCMP}
		return ops[groupRegOf(in)], true
	}
	if _, isRow := aluRowOffsetOf(in.PrimaryOpcode); !isRow {
		return 0, false
	}
	switch in.PrimaryOpcode &^ 0x07 {
	case 0x00:
		return aluOpADD, true
	case 0x08:
		return aluOpOR, true
	case 0x10:
		return aluOpADC, true
	case 0x18:
		return aluOpSBB, true
	case 0x20:
		return aluOpAND, true
	case 0x28:
		return aluOpSUB, true
	case 0x30:
		return aluOpXOR, true
	case 0x38:
		return aluOpCMP, true
	}
	return 0, false
}

func groupRegOf(in *decode.Instruction) byte { return in.Reg }

func ok2(in *decode.Instruction) Result {
	return ok(false, in.Length)
}
