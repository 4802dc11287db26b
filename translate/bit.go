package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
)

// translateBit lowers the BIT category: BSF, BSR,
// POPCNT, the BT/BTS/BTR/BTC family, and SHLD/SHRD. ARM64 has no direct
// bit-scan or bit-test primitives matching x86's semantics exactly, so
// each maps to the nearest composition: RBIT+CLZ for scan-from-bottom,
// CNT+UADDLV through a vector scratch for population count, a shifted
// one-bit mask for test-and-modify, EXTR for the double-precision
// shifts.
func translateBit(ctx *Context, in *decode.Instruction) Result {
	if !in.HasSecondary || !in.IsRegisterOperand() {
		return fail()
	}
	is64 := in.REXW

	switch in.SecondaryOpcode {
	case 0xBC: // BSF dst, src: index of lowest set bit = CLZ(RBIT(src))
		dst := hostReg(byte(in.RegField()))
		src := hostReg(byte(in.RmField()))
		ctx.Buf.EmitRBIT(hostScratch0, src, is64)
		ctx.Buf.EmitCLZ(dst, hostScratch0, is64)
		return ok2(in)

	case 0xBD: // BSR dst, src: index of highest set bit = (width-1) - CLZ(src)
		dst := hostReg(byte(in.RegField()))
		src := hostReg(byte(in.RmField()))
		width := uint32(32)
		if is64 {
			width = 64
		}
		ctx.Buf.EmitCLZ(hostScratch0, src, is64)
		ctx.Buf.EmitAddSubImm(aluAdd, dst, emitter.ARM64ZR, width-1, false, is64)
		ctx.Buf.EmitAddSubReg(aluSub, dst, dst, hostScratch0, false, is64)
		return ok2(in)

	case 0xB8: // POPCNT dst, src: route through a vector lane, count per
		// byte, sum across lanes.
		dst := hostReg(byte(in.RegField()))
		src := hostReg(byte(in.RmField()))
		if !is64 {
			// 32-bit form counts only the low word.
			ctx.Buf.EmitUBFX(hostScratch0, src, 0, 32, true)
			src = hostScratch0
		}
		ctx.Buf.EmitFMOVToVec(emitter.VecScratch, src)
		ctx.Buf.EmitCNT(emitter.VecScratch, emitter.VecScratch)
		ctx.Buf.EmitUADDLV(emitter.VecScratch, emitter.VecScratch)
		ctx.Buf.EmitFMOVFromVec(dst, emitter.VecScratch)
		return ok2(in)

	case 0xA3, 0xAB, 0xB3, 0xBB: // BT/BTS/BTR/BTC dst, reg (dynamic index)
		dst := hostReg(byte(in.RmField())) // ModRM.rm is the bit base
		idx := hostReg(byte(in.RegField()))
		// Tested bit into scratch0 (the lowered CF surrogate the flag
		// helpers read): shift it down, then isolate bit 0.
		ctx.Buf.EmitShiftReg(shiftLSR, hostScratch0, dst, idx, is64)
		ctx.Buf.EmitUBFX(hostScratch0, hostScratch0, 0, 1, is64)
		if in.SecondaryOpcode != 0xA3 {
			// Build the one-bit mask in scratch1, then apply the modify half.
			ctx.Buf.EmitMOVZ(hostScratch1, 1, 0, is64)
			ctx.Buf.EmitShiftReg(shiftLSL, hostScratch1, hostScratch1, idx, is64)
			emitBitModify(ctx, in.SecondaryOpcode, dst, is64)
		}
		return ok2(in)

	case 0xBA: // group8: BT/BTS/BTR/BTC dst, imm8 (static index)
		dst := hostReg(byte(in.RmField()))
		width := uint32(32)
		if is64 {
			width = 64
		}
		bit := uint32(in.Imm) & (width - 1)
		ctx.Buf.EmitUBFX(hostScratch0, dst, bit, 1, is64)
		if in.Reg != 4 { // 4=BT (test only), 5=BTS, 6=BTR, 7=BTC
			ctx.Buf.EmitMOVZ(hostScratch1, 1, 0, is64)
			ctx.Buf.EmitShiftImm(shiftLSL, hostScratch1, hostScratch1, bit, is64)
			op := [3]byte{0xAB, 0xB3, 0xBB}[in.Reg-5]
			emitBitModify(ctx, op, dst, is64)
		}
		return ok2(in)

	case 0xA4, 0xAC: // SHLD/SHRD dst, src, imm8 -> EXTR
		dst := hostReg(byte(in.RmField()))
		src := hostReg(byte(in.RegField()))
		width := uint32(32)
		if is64 {
			width = 64
		}
		lsb := uint32(in.Imm) & (width - 1)
		if in.SecondaryOpcode == 0xA4 {
			ctx.Buf.EmitEXTR(dst, dst, src, (width-lsb)&(width-1), is64)
		} else {
			ctx.Buf.EmitEXTR(dst, src, dst, lsb, is64)
		}
		return ok2(in)

	case 0xA5, 0xAD: // SHLD/SHRD by CL: count known only at run time;
		// EXTR needs an immediate, so this form stays untranslated and
		// the dispatcher's NOP fallback applies.
		return fail()
	}
	return fail()
}

// emitBitModify applies the modify half of BTS/BTR/BTC; the one-bit mask
// is already in hostScratch1.
func emitBitModify(ctx *Context, op byte, dst emitter.ARM64Reg, is64 bool) {
	switch op {
	case 0xAB: // BTS: set
		ctx.Buf.EmitLogicalReg(logicalOrr, dst, dst, hostScratch1, is64)
	case 0xB3: // BTR: clear = AND with the inverted mask
		ctx.Buf.EmitMVN(hostScratch1, hostScratch1, is64)
		ctx.Buf.EmitLogicalReg(logicalAnd, dst, dst, hostScratch1, is64)
	case 0xBB: // BTC: toggle
		ctx.Buf.EmitLogicalReg(logicalEor, dst, dst, hostScratch1, is64)
	}
}
