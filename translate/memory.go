package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
)

// translateMemory lowers the MEMORY category:
// MOV in all its forms, LEA, PUSH/POP, TEST, and MOVZX/MOVSX/MOVSXD.
// MOV loads and stores address [base + disp] with the mapped host
// register of ModRM.rm as the base; a SIB byte's base, index and scale
// are not applied there. Only LEA decodes SIB addressing.
func translateMemory(ctx *Context, in *decode.Instruction) Result {
	switch {
	case in.PrimaryOpcode == 0x8D: // LEA
		return translateLEA(ctx, in)
	case in.PrimaryOpcode >= 0x50 && in.PrimaryOpcode <= 0x57: // PUSH r
		reg := hostReg(in.PrimaryOpcode - 0x50)
		ctx.Buf.EmitSTRPreIndex(reg, hostReg(4 /* RSP */), -8)
		return ok2(in)
	case in.PrimaryOpcode >= 0x58 && in.PrimaryOpcode <= 0x5F: // POP r
		reg := hostReg(in.PrimaryOpcode - 0x58)
		ctx.Buf.EmitLDRPostIndex(reg, hostReg(4), 8)
		return ok2(in)
	case in.PrimaryOpcode == 0x8F: // POP r/m (only register form handled)
		if !in.IsRegisterOperand() {
			return fail()
		}
		ctx.Buf.EmitLDRPostIndex(hostReg(byte(in.RmField())), hostReg(4), 8)
		return ok2(in)
	case in.PrimaryOpcode == 0x88 || in.PrimaryOpcode == 0x89: // MOV r/m, r
		return translateMovStore(ctx, in)
	case in.PrimaryOpcode == 0x8A || in.PrimaryOpcode == 0x8B: // MOV r, r/m
		return translateMovLoad(ctx, in)
	case in.PrimaryOpcode >= 0xB0 && in.PrimaryOpcode <= 0xB7: // MOV r8, imm8
		ctx.Buf.EmitMOVZ(hostReg(in.PrimaryOpcode-0xB0), uint16(in.Imm), 0, false)
		return ok2(in)
	case in.PrimaryOpcode >= 0xB8 && in.PrimaryOpcode <= 0xBF: // MOV r, imm32/64
		reg := hostReg(in.PrimaryOpcode - 0xB8)
		if in.REXW {
			ctx.Buf.EmitMOVImm64(reg, uint64(in.Imm))
		} else {
			ctx.Buf.EmitMOVZ(reg, uint16(in.Imm), 0, false)
			if hi := uint16(uint64(in.Imm) >> 16); hi != 0 {
				ctx.Buf.EmitMOVK(reg, hi, 1, false)
			}
		}
		return ok2(in)
	case in.PrimaryOpcode == 0xC6 || in.PrimaryOpcode == 0xC7: // MOV Eb/Ev, Ib/Iz
		if !in.IsRegisterOperand() {
			return fail()
		}
		dst := hostReg(byte(in.RmField()))
		ctx.Buf.EmitMOVZ(dst, uint16(in.Imm), 0, in.REXW)
		return ok2(in)
	case in.PrimaryOpcode == 0x63: // MOVSXD
		if !in.IsRegisterOperand() {
			return fail()
		}
		dst := hostReg(byte(in.RegField()))
		src := hostReg(byte(in.RmField()))
		if !in.REXW {
			// Without REX.W this is an ordinary 32-bit move.
			ctx.Buf.EmitLogicalReg(logicalOrr, dst, emitter.ARM64ZR, src, false)
			return ok2(in)
		}
		// Sign-extend the 32-bit source into the full 64-bit destination;
		// a plain 32-bit move would zero-extend instead.
		ctx.Buf.EmitShiftImm(shiftLSL, dst, src, 32, true)
		ctx.Buf.EmitShiftImm(shiftASR, dst, dst, 32, true)
		return ok2(in)
	case in.PrimaryOpcode == 0x84 || in.PrimaryOpcode == 0x85: // TEST r/m, r
		if !in.IsRegisterOperand() {
			return fail()
		}
		dst := hostReg(byte(in.RmField()))
		src := hostReg(byte(in.RegField()))
		ctx.Buf.EmitLogicalReg(logicalAnd, hostScratch0, dst, src, in.REXW)
		return ok2(in)
	case in.HasSecondary:
		switch in.SecondaryOpcode {
		case 0xB6, 0xB7: // MOVZX
			if !in.IsRegisterOperand() {
				return fail()
			}
			dst := hostReg(byte(in.RegField()))
			src := hostReg(byte(in.RmField()))
			width := uint32(8)
			if in.SecondaryOpcode == 0xB7 {
				width = 16
			}
			ctx.Buf.EmitUBFX(dst, src, 0, width, in.REXW)
			return ok2(in)
		case 0xBE, 0xBF: // MOVSX: sign-extend keyed on the source width,
			// the same shift-pair lowering CBW/CWDE/CDQE uses
			if !in.IsRegisterOperand() {
				return fail()
			}
			dst := hostReg(byte(in.RegField()))
			src := hostReg(byte(in.RmField()))
			srcWidth := uint32(8)
			if in.SecondaryOpcode == 0xBF {
				srcWidth = 16
			}
			dstWidth := uint32(32)
			if in.REXW {
				dstWidth = 64
			}
			shift := dstWidth - srcWidth
			ctx.Buf.EmitShiftImm(shiftLSL, dst, src, shift, in.REXW)
			ctx.Buf.EmitShiftImm(shiftASR, dst, dst, shift, in.REXW)
			return ok2(in)
		}
	}
	return fail()
}

func translateLEA(ctx *Context, in *decode.Instruction) Result {
	if !in.HasModRM || in.Mod == 3 {
		return fail()
	}
	dst := hostReg(byte(in.RegField()))

	// base + index<<scale first. With a SIB byte the base/index come from
	// its fields (widened by REX.B/REX.X); without one the ModRM.rm field
	// is the base and there is no index.
	if in.HasSIB {
		sibBase := int(in.SIB & 0x7)
		sibIndex := int((in.SIB >> 3) & 0x7)
		scale := uint32(in.SIB >> 6)
		if in.REXB {
			sibBase |= 8
		}
		if in.REXX {
			sibIndex |= 8
		}
		// base register 5 with mod 00 means "no base, disp32 only".
		hasBase := !(in.Mod == 0 && in.SIB&0x7 == 5)
		switch {
		case sibIndex == 4 && hasBase: // "no index" encoding
			ctx.Buf.EmitLogicalReg(logicalOrr, dst, emitter.ARM64ZR, hostReg(byte(sibBase)), true)
		case sibIndex == 4: // neither base nor index
			ctx.Buf.EmitMOVZ(dst, 0, 0, true)
		case hasBase:
			index := hostReg(byte(sibIndex))
			ctx.Buf.EmitShiftImm(shiftLSL, hostScratch0, index, scale, true)
			ctx.Buf.EmitAddSubReg(aluAdd, dst, hostReg(byte(sibBase)), hostScratch0, false, true)
		default:
			index := hostReg(byte(sibIndex))
			ctx.Buf.EmitShiftImm(shiftLSL, dst, index, scale, true)
		}
	} else if in.Mod == 0 && in.Rm == 5 {
		// RIP-relative: the effective address is a translation-time
		// constant relative to the next instruction.
		ctx.Buf.EmitMOVImm64(dst, ctx.NextIP+uint64(in.Disp))
		return ok2(in)
	} else {
		base := hostReg(byte(in.RmField()))
		ctx.Buf.EmitLogicalReg(logicalOrr, dst, emitter.ARM64ZR, base, true)
	}

	// Then the displacement: a small positive one goes straight into the
	// add immediate, a small negative one into a subtract, and anything
	// wider is materialised into scratch with movz/movk and added.
	switch disp := in.Disp; {
	case disp == 0:
	case disp > 0 && disp < 1<<12:
		ctx.Buf.EmitAddSubImm(aluAdd, dst, dst, uint32(disp), false, true)
	case disp < 0 && -disp < 1<<12:
		ctx.Buf.EmitAddSubImm(aluSub, dst, dst, uint32(-disp), false, true)
	default:
		ctx.Buf.EmitMOVImm64(hostScratch1, uint64(disp))
		ctx.Buf.EmitAddSubReg(aluAdd, dst, dst, hostScratch1, false, true)
	}
	return ok2(in)
}

func translateMovStore(ctx *Context, in *decode.Instruction) Result {
	src := hostReg(byte(in.RegField()))
	if in.IsRegisterOperand() {
		dst := hostReg(byte(in.RmField()))
		ctx.Buf.EmitLogicalReg(logicalOrr, dst, emitter.ARM64ZR, src, in.REXW)
		return ok2(in)
	}
	base := hostReg(byte(in.RmField()))
	size := storeSize(in)
	ctx.Buf.EmitSTR(src, base, uint32(in.Disp), size)
	return ok2(in)
}

func translateMovLoad(ctx *Context, in *decode.Instruction) Result {
	dst := hostReg(byte(in.RegField()))
	if in.IsRegisterOperand() {
		src := hostReg(byte(in.RmField()))
		ctx.Buf.EmitLogicalReg(logicalOrr, dst, emitter.ARM64ZR, src, in.REXW)
		return ok2(in)
	}
	base := hostReg(byte(in.RmField()))
	size := storeSize(in)
	ctx.Buf.EmitLDR(dst, base, uint32(in.Disp), size)
	return ok2(in)
}

func storeSize(in *decode.Instruction) uint32 {
	if in.REXW {
		return 8
	}
	if in.OperandSize16 {
		return 2
	}
	return 4
}
