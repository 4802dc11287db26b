// Package decode implements the guest x86_64 instruction decoder:
// it recovers ModR/M, REX, displacement, and immediate fields from raw
// bytes and reports the consumed length.
//
// Decoding is a position-tracked walk-and-record scan over the raw
// bytes, recording which prefixes, opcode bytes, and trailing fields
// were consumed.
package decode

// Instruction is the decoded record the translators consume:
// primary/secondary opcode, REX bits, ModR/M fields, a
// sign-extended displacement and its size, a sign-extended immediate and
// its size, total length, and the 64-bit operand size flag.
type Instruction struct {
	PrimaryOpcode   byte
	HasSecondary    bool
	SecondaryOpcode byte

	REXPresent bool
	REXW       bool // operand size is 64-bit
	REXR       bool // ModRM.reg extension
	REXX       bool // SIB.index extension
	REXB       bool // ModRM.rm / opcode-reg extension

	HasModRM bool
	Mod      byte
	Reg      byte // raw 3-bit field; REX.R extension folded in via RegField()
	Rm       byte // raw 3-bit field; REX.B extension folded in via RmField()

	HasSIB bool
	SIB    byte

	Disp     int64
	DispSize byte // bytes: 0, 1, 2, or 4

	Imm     int64
	ImmSize byte // bytes: 0, 1, 2, 4, or 8

	RepPrefix       byte // 0, 0xF2 (REPNE), or 0xF3 (REP/REPE)
	LockPrefix      bool
	SegOverride     byte // 0 or one of 0x26,0x2E,0x36,0x3E,0x64,0x65
	OperandSize16   bool // 0x66 prefix seen (set even when REX.W is also present)
	AddressSize32   bool // 0x67 prefix seen

	Length int // total bytes consumed; 0 means undecodable
}

// OperandSize64 reports whether this instruction's default operand is
// 64 bits wide (REX.W set).
func (in *Instruction) OperandSize64() bool { return in.REXW }

// RegField returns ModRM.reg widened by REX.R, in [0,16).
func (in *Instruction) RegField() int {
	r := int(in.Reg)
	if in.REXR {
		r |= 8
	}
	return r
}

// RmField returns ModRM.rm widened by REX.B, in [0,16).
func (in *Instruction) RmField() int {
	r := int(in.Rm)
	if in.REXB {
		r |= 8
	}
	return r
}

// IsRegisterOperand reports whether ModR/M encodes a register operand
// (mod == 3) rather than a memory operand.
func (in *Instruction) IsRegisterOperand() bool {
	return in.HasModRM && in.Mod == 3
}

// HasImmediate reports whether an immediate field was decoded.
func (in *Instruction) HasImmediate() bool { return in.ImmSize > 0 }

// HasDisplacement reports whether a displacement field was decoded.
func (in *Instruction) HasDisplacement() bool { return in.DispSize > 0 }
