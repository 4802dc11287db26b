package emitter

// x86_64 encoders for the ARM64-guest-to-x86_64-host helper path, which
// reuses the same CodeBuffer contract to emit x86_64 host instructions.
// These cover the operand forms the per-category translators in
// translate/ actually need rather than the full x86_64 instruction set.

// X86Reg is a host x86_64 GPR number in [0,15] (post-REX), matching the
// REX.B/REX.R extension convention already used in decode/.
type X86Reg uint8

const (
	X86RAX X86Reg = iota
	X86RCX
	X86RDX
	X86RBX
	X86RSP
	X86RBP
	X86RSI
	X86RDI
	X86R8
	X86R9
	X86R10
	X86R11
	X86R12
	X86R13
	X86R14
	X86R15
)

func needsRexB(r X86Reg) bool { return r >= X86R8 }
func lowBits(r X86Reg) byte   { return byte(r) & 0x7 }

// rex builds a REX prefix byte; w selects 64-bit operand size, r/x/b
// extend the ModR/M reg/SIB index/ModR/M or SIB base fields respectively.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&0x7)<<3 | (rm & 0x7)
}

// EmitMovRegReg emits "MOV dst, src" (64-bit register-to-register).
func (b *CodeBuffer) EmitMovRegReg(dst, src X86Reg) {
	b.AppendByte(rex(true, needsRexB(src), false, needsRexB(dst)))
	b.AppendByte(0x89) // MOV r/m64, r64
	b.AppendByte(modrm(0b11, lowBits(src), lowBits(dst)))
}

// EmitMovRegImm64 emits "MOVABS dst, imm64".
func (b *CodeBuffer) EmitMovRegImm64(dst X86Reg, imm uint64) {
	b.AppendByte(rex(true, false, false, needsRexB(dst)))
	b.AppendByte(0xB8 + lowBits(dst))
	b.AppendU64LE(imm)
}

// EmitMovRegImm32 emits "MOV dst, imm32" (zero-extended into the 64-bit
// register, matching the guest's 32-bit-result-zero-extends semantics).
func (b *CodeBuffer) EmitMovRegImm32(dst X86Reg, imm uint32) {
	if needsRexB(dst) {
		b.AppendByte(rex(false, false, false, true))
	}
	b.AppendByte(0xB8 + lowBits(dst))
	b.AppendU32LE(imm)
}

type x86AluOp byte

const (
	x86Add x86AluOp = 0x00
	x86Or  x86AluOp = 0x08
	x86Adc x86AluOp = 0x10
	x86Sbb x86AluOp = 0x18
	x86And x86AluOp = 0x20
	x86Sub x86AluOp = 0x28
	x86Xor x86AluOp = 0x30
	x86Cmp x86AluOp = 0x38
)

// EmitAluRegReg emits "<op> dst, src" in register/register form, e.g.
// ADD/SUB/AND/OR/XOR/CMP rax, rbx.
func (b *CodeBuffer) EmitAluRegReg(op x86AluOp, dst, src X86Reg) {
	b.AppendByte(rex(true, needsRexB(src), false, needsRexB(dst)))
	b.AppendByte(byte(op) + 0x01) // <op> r/m64, r64
	b.AppendByte(modrm(0b11, lowBits(src), lowBits(dst)))
}

// EmitAluRegImm32 emits "<op> dst, imm32" (sign-extended to 64 bits).
func (b *CodeBuffer) EmitAluRegImm32(op x86AluOp, dst X86Reg, imm uint32) {
	b.AppendByte(rex(true, false, false, needsRexB(dst)))
	b.AppendByte(0x81) // group1 Ev, Iz
	b.AppendByte(modrm(0b11, byte(op)>>3, lowBits(dst)))
	b.AppendU32LE(imm)
}

// EmitTestRegReg emits "TEST dst, src".
func (b *CodeBuffer) EmitTestRegReg(dst, src X86Reg) {
	b.AppendByte(rex(true, needsRexB(src), false, needsRexB(dst)))
	b.AppendByte(0x85)
	b.AppendByte(modrm(0b11, lowBits(src), lowBits(dst)))
}

// EmitLEA emits "LEA dst, [base + disp32]".
func (b *CodeBuffer) EmitLEA(dst, base X86Reg, disp int32) {
	b.AppendByte(rex(true, needsRexB(dst), false, needsRexB(base)))
	b.AppendByte(0x8D)
	b.AppendByte(modrm(0b10, lowBits(dst), lowBits(base)))
	b.AppendU32LE(uint32(disp))
}

// EmitPush emits "PUSH reg".
func (b *CodeBuffer) EmitPush(reg X86Reg) {
	if needsRexB(reg) {
		b.AppendByte(rex(false, false, false, true))
	}
	b.AppendByte(0x50 + lowBits(reg))
}

// EmitPop emits "POP reg".
func (b *CodeBuffer) EmitPop(reg X86Reg) {
	if needsRexB(reg) {
		b.AppendByte(rex(false, false, false, true))
	}
	b.AppendByte(0x58 + lowBits(reg))
}

// EmitJcc reserves and emits a near "Jcc rel32" with a placeholder
// displacement, returning the byte offset of the displacement field for
// later patching via PatchJccRel32.
func (b *CodeBuffer) EmitJcc(opcode byte) (patchOffset int) {
	b.AppendByte(0x0F)
	b.AppendByte(0x80 + (opcode & 0x0F))
	patchOffset = b.Len()
	b.AppendU32LE(0)
	return patchOffset
}

// PatchJccRel32 resolves a Jcc placeholder: displacement is relative to
// the byte immediately following the 4-byte displacement field.
func (b *CodeBuffer) PatchJccRel32(patchOffset int, targetOffset int) {
	rel := int32(targetOffset - (patchOffset + 4))
	b.PatchU32LE(patchOffset, uint32(rel))
}

// EmitJmpRel32 reserves and emits an unconditional near "JMP rel32".
func (b *CodeBuffer) EmitJmpRel32() (patchOffset int) {
	b.AppendByte(0xE9)
	patchOffset = b.Len()
	b.AppendU32LE(0)
	return patchOffset
}

// EmitCallRel32 reserves and emits a near "CALL rel32".
func (b *CodeBuffer) EmitCallRel32() (patchOffset int) {
	b.AppendByte(0xE8)
	patchOffset = b.Len()
	b.AppendU32LE(0)
	return patchOffset
}

// EmitCallReg emits an indirect "CALL reg".
func (b *CodeBuffer) EmitCallReg(reg X86Reg) {
	if needsRexB(reg) {
		b.AppendByte(rex(false, false, false, true))
	}
	b.AppendByte(0xFF)
	b.AppendByte(modrm(0b11, 2, lowBits(reg)))
}

// EmitJmpReg emits an indirect "JMP reg".
func (b *CodeBuffer) EmitJmpReg(reg X86Reg) {
	if needsRexB(reg) {
		b.AppendByte(rex(false, false, false, true))
	}
	b.AppendByte(0xFF)
	b.AppendByte(modrm(0b11, 4, lowBits(reg)))
}

// EmitRet emits a near "RET".
func (b *CodeBuffer) EmitRet() {
	b.AppendByte(0xC3)
}

// EmitNop emits a single-byte "NOP".
func (b *CodeBuffer) EmitNop() {
	b.AppendByte(0x90)
}

// EmitUD2 emits "UD2", used to materialise an undecodable-instruction
// trap at the point of translation failure.
func (b *CodeBuffer) EmitUD2() {
	b.AppendByte(0x0F)
	b.AppendByte(0x0B)
}

// EmitLoadMem64 emits "MOV dst, [base + disp32]".
func (b *CodeBuffer) EmitLoadMem64(dst, base X86Reg, disp int32) {
	b.AppendByte(rex(true, needsRexB(dst), false, needsRexB(base)))
	b.AppendByte(0x8B)
	b.emitMemOperand(dst, base, disp)
}

// EmitStoreMem64 emits "MOV [base + disp32], src".
func (b *CodeBuffer) EmitStoreMem64(base, src X86Reg, disp int32) {
	b.AppendByte(rex(true, needsRexB(src), false, needsRexB(base)))
	b.AppendByte(0x89)
	b.emitMemOperand(src, base, disp)
}

func (b *CodeBuffer) emitMemOperand(reg, base X86Reg, disp int32) {
	if lowBits(base) == 0x4 { // RSP/R12 require a SIB byte
		if disp == 0 {
			b.AppendByte(modrm(0b00, lowBits(reg), 0b100))
			b.AppendByte(0x24) // SIB: scale=0, index=none, base=RSP
			return
		}
		b.AppendByte(modrm(0b10, lowBits(reg), 0b100))
		b.AppendByte(0x24)
		b.AppendU32LE(uint32(disp))
		return
	}
	if disp == 0 && lowBits(base) != 0x5 { // RBP/R13 have no mod=00 form; they take the disp32 form below
		b.AppendByte(modrm(0b00, lowBits(reg), lowBits(base)))
		return
	}
	b.AppendByte(modrm(0b10, lowBits(reg), lowBits(base)))
	b.AppendU32LE(uint32(disp))
}

// EmitShiftRegImm emits "<op> dst, imm8" for SHL/SHR/SAR (group2 /4,/5,/7).
type x86ShiftOp byte

const (
	x86Shl x86ShiftOp = 4
	x86Shr x86ShiftOp = 5
	x86Sar x86ShiftOp = 7
	x86Rol x86ShiftOp = 0
	x86Ror x86ShiftOp = 1
)

func (b *CodeBuffer) EmitShiftRegImm(op x86ShiftOp, dst X86Reg, imm8 byte) {
	b.AppendByte(rex(true, false, false, needsRexB(dst)))
	b.AppendByte(0xC1)
	b.AppendByte(modrm(0b11, byte(op), lowBits(dst)))
	b.AppendByte(imm8)
}

// EmitShiftRegCL emits "<op> dst, cl".
func (b *CodeBuffer) EmitShiftRegCL(op x86ShiftOp, dst X86Reg) {
	b.AppendByte(rex(true, false, false, needsRexB(dst)))
	b.AppendByte(0xD3)
	b.AppendByte(modrm(0b11, byte(op), lowBits(dst)))
}

// EmitSetcc emits "SETcc dst8" (byte-register destination, low 8 bits).
func (b *CodeBuffer) EmitSetcc(opcode byte, dst X86Reg) {
	if dst >= X86RSP { // without REX, 4-7 would select AH/CH/DH/BH
		b.AppendByte(rex(false, false, false, needsRexB(dst)))
	}
	b.AppendByte(0x0F)
	b.AppendByte(0x90 + (opcode & 0x0F))
	b.AppendByte(modrm(0b11, 0, lowBits(dst)))
}

// EmitCmovcc emits "CMOVcc dst, src".
func (b *CodeBuffer) EmitCmovcc(opcode byte, dst, src X86Reg) {
	b.AppendByte(rex(true, needsRexB(dst), false, needsRexB(src)))
	b.AppendByte(0x0F)
	b.AppendByte(0x40 + (opcode & 0x0F))
	b.AppendByte(modrm(0b11, lowBits(dst), lowBits(src)))
}
