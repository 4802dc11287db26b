package decode

// aluRowBases are the eight arithmetic opcode rows
// (ADD, OR, ADC, SBB, AND, SUB, XOR, CMP). Each row spans 6 opcodes:
// base+0..3 are the /r register-or-memory forms (need ModR/M), base+4..5
// are the AL/eAX,imm forms (no ModR/M, immediate only).
var aluRowBases = [8]byte{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38}

func aluRowOffset(opcode byte) (offset int, isRow bool) {
	for _, base := range aluRowBases {
		if opcode >= base && opcode < base+6 {
			return int(opcode - base), true
		}
	}
	return 0, false
}

// needsModRM reports whether this opcode family's next byte is a ModR/M
// byte.
func needsModRM(in *Instruction) bool {
	if in.HasSecondary {
		return secondaryNeedsModRM(in.SecondaryOpcode)
	}
	op := in.PrimaryOpcode

	if off, ok := aluRowOffset(op); ok {
		return off <= 3
	}

	switch {
	case op >= 0x50 && op <= 0x5F: // PUSH/POP reg
		return false
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		return false
	case op >= 0x91 && op <= 0x97: // XCHG r,eAX
		return false
	case op >= 0xA0 && op <= 0xA3: // MOV moffs forms
		return false
	case op >= 0xA4 && op <= 0xA7: // MOVS/CMPS
		return false
	case op >= 0xAA && op <= 0xAF: // STOS/LODS/SCAS
		return false
	case op >= 0xB0 && op <= 0xBF: // MOV r,imm
		return false
	case op >= 0xD0 && op <= 0xD3: // shift group2, count=1 or CL
		return true
	}

	switch op {
	case 0x63: // MOVSXD
		return true
	case 0x68, 0x6A: // PUSH imm
		return false
	case 0x69, 0x6B: // IMUL r,r/m,imm
		return true
	case 0x80, 0x81, 0x83: // group1 Eb/Ev,Ib/Iz
		return true
	case 0x84, 0x85, 0x86, 0x87: // TEST, XCHG
		return true
	case 0x88, 0x89, 0x8A, 0x8B: // MOV r/m,r and r,r/m
		return true
	case 0x8D: // LEA
		return true
	case 0x8F: // POP r/m
		return true
	case 0x90, 0x98, 0x99, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F: // NOP, CBW/CWD family, FWAIT, PUSHF/POPF, SAHF/LAHF
		return false
	case 0xA8, 0xA9: // TEST AL/eAX,imm
		return false
	case 0xC0, 0xC1: // shift group2 Eb/Ev,Ib
		return true
	case 0xC2, 0xC3: // RET
		return false
	case 0xC6, 0xC7: // MOV Eb/Ev,Ib/Iz (group11)
		return true
	case 0xC9, 0xCC, 0xCD: // LEAVE, INT3, INT imm8
		return false
	case 0xE8, 0xE9, 0xEB: // CALL/JMP rel
		return false
	case 0xF4: // HLT
		return false
	case 0xF6, 0xF7: // group3 TEST/NOT/NEG/MUL/IMUL/DIV/IDIV
		return true
	case 0xFA, 0xFB: // CLI/STI
		return false
	case 0xFE, 0xFF: // group4/group5 INC/DEC/CALL/JMP/PUSH
		return true
	}
	return false
}

func secondaryNeedsModRM(op byte) bool {
	switch {
	case op >= 0x40 && op <= 0x4F: // CMOVcc
		return true
	case op >= 0x80 && op <= 0x8F: // Jcc rel32
		return false
	case op >= 0x90 && op <= 0x9F: // SETcc
		return true
	}
	switch op {
	case 0x05, 0x0B, 0x31, 0xA2: // SYSCALL, UD2, RDTSC, CPUID
		return false
	}
	// Default: the rest of the two-byte opcode map (SSE moves/arith, BT*,
	// BSF/BSR, SHLD/SHRD, MOVZX/MOVSX, IMUL Gv,Ev, POPCNT, NOP Ev) all
	// take a ModR/M byte.
	return true
}

// immediateSize returns the number of immediate bytes the opcode family
// encodes (e.g. 0x81 -> 32-bit, 0x83 -> 8-bit sign-extended,
// 0xB8..0xBF with REX.W -> 64-bit).
func immediateSize(in *Instruction) byte {
	opSize32or16 := func() byte {
		if in.OperandSize16 {
			return 2
		}
		return 4
	}

	if in.HasSecondary {
		switch {
		case in.SecondaryOpcode >= 0x80 && in.SecondaryOpcode <= 0x8F: // Jcc rel32
			return 4
		}
		switch in.SecondaryOpcode {
		case 0xA4, 0xAC: // SHLD/SHRD Ib
			return 1
		case 0xBA: // group8 BT/BTS/BTR/BTC Ev,Ib
			return 1
		}
		return 0
	}

	op := in.PrimaryOpcode
	if off, ok := aluRowOffset(op); ok && off >= 4 {
		if off == 4 {
			return 1 // AL, imm8
		}
		return opSize32or16() // eAX, imm32/16
	}

	switch {
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		return 1
	case op >= 0xA0 && op <= 0xA3: // MOV moffs: 8-byte guest-linear address
		return 8
	case op >= 0xB0 && op <= 0xB7: // MOV r8,imm8
		return 1
	case op >= 0xB8 && op <= 0xBF: // MOV r32/r64,imm32/imm64
		if in.REXW {
			return 8
		}
		return opSize32or16()
	}

	switch op {
	case 0x68: // PUSH imm32
		return opSize32or16()
	case 0x69: // IMUL r,r/m,imm32
		return opSize32or16()
	case 0x6A, 0x6B: // PUSH imm8, IMUL r,r/m,imm8
		return 1
	case 0x80, 0x83: // group1 Eb,Ib / Ev,Ib
		return 1
	case 0x81: // group1 Ev,Iz
		return opSize32or16()
	case 0xA8: // TEST AL,imm8
		return 1
	case 0xA9: // TEST eAX,imm32
		return opSize32or16()
	case 0xC0, 0xC1: // shift group2 Eb/Ev,Ib
		return 1
	case 0xC2: // RET imm16
		return 2
	case 0xC6: // MOV Eb,Ib (group11)
		return 1
	case 0xC7: // MOV Ev,Iz (group11)
		return opSize32or16()
	case 0xCD: // INT imm8
		return 1
	case 0xE8, 0xE9: // CALL/JMP rel32
		return 4
	case 0xEB: // JMP rel8
		return 1
	case 0xF6: // group3 Eb: only TEST (reg 0 or 1) has an immediate
		if groupReg(in) <= 1 {
			return 1
		}
		return 0
	case 0xF7: // group3 Ev: only TEST has an immediate
		if groupReg(in) <= 1 {
			return opSize32or16()
		}
		return 0
	}
	return 0
}

// groupReg returns ModRM.reg, the sub-opcode selector for opcode-group
// instructions (0xF6/0xF7 group3, 0xFE/0xFF group4/5, 0x80/0x81/0x83
// group1, 0xC0/0xC1/0xD0-0xD3 group2).
func groupReg(in *Instruction) byte {
	return in.Reg
}
