package emitter

import "testing"

func emittedWord(t *testing.T, f func(b *CodeBuffer)) uint32 {
	t.Helper()
	b := NewCodeBuffer(64)
	f(b)
	if b.Len() != 4 {
		t.Fatalf("expected exactly one instruction word, got %d bytes", b.Len())
	}
	code := b.Bytes()
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
}

// Expected words cross-checked against an independent assembler's output
// for the same mnemonics.
func TestARM64EncodingWords(t *testing.T) {
	cases := []struct {
		name string
		emit func(b *CodeBuffer)
		want uint32
	}{
		{"MOVZ X0, #1", func(b *CodeBuffer) { b.EmitMOVZ(0, 1, 0, true) }, 0xD2800020},
		{"MOVK X0, #2, LSL 16", func(b *CodeBuffer) { b.EmitMOVK(0, 2, 1, true) }, 0xF2A00040},
		{"ADD X0, X1, #16", func(b *CodeBuffer) { b.EmitAddSubImm(AluAdd, 0, 1, 16, false, true) }, 0x91004020},
		{"SUBS X0, X1, #1", func(b *CodeBuffer) { b.EmitAddSubImm(AluSub, 0, 1, 1, true, true) }, 0xF1000420},
		{"ADD X0, X1, X2", func(b *CodeBuffer) { b.EmitAddSubReg(AluAdd, 0, 1, 2, false, true) }, 0x8B020020},
		{"ORR X5, XZR, X6", func(b *CodeBuffer) { b.EmitLogicalReg(LogicalOrr, 5, ARM64ZR, 6, true) }, 0xAA0603E5},
		{"EOR W1, W1, W1", func(b *CodeBuffer) { b.EmitLogicalReg(LogicalEor, 1, 1, 1, false) }, 0x4A010021},
		{"MVN X1, X2", func(b *CodeBuffer) { b.EmitMVN(1, 2, true) }, 0xAA2203E1},
		{"MUL X0, X1, X2", func(b *CodeBuffer) { b.EmitMUL(0, 1, 2, true) }, 0x9B027C20},
		{"UMULH X0, X1, X2", func(b *CodeBuffer) { b.EmitMULH(0, 1, 2, false) }, 0x9BC27C20},
		{"SMULH X0, X1, X2", func(b *CodeBuffer) { b.EmitMULH(0, 1, 2, true) }, 0x9B427C20},
		{"MSUB X0, X1, X2, X3", func(b *CodeBuffer) { b.EmitMSUB(0, 1, 2, 3, true) }, 0x9B028C20},
		{"MSUB W0, W1, W2, W3", func(b *CodeBuffer) { b.EmitMSUB(0, 1, 2, 3, false) }, 0x1B028C20},
		{"UDIV X0, X1, X2", func(b *CodeBuffer) { b.EmitDIV(0, 1, 2, false, true) }, 0x9AC20820},
		{"SDIV X0, X1, X2", func(b *CodeBuffer) { b.EmitDIV(0, 1, 2, true, true) }, 0x9AC20C20},
		{"LSLV X0, X1, X2", func(b *CodeBuffer) { b.EmitShiftReg(ShiftLSL, 0, 1, 2, true) }, 0x9AC22020},
		{"RORV X0, X1, X2", func(b *CodeBuffer) { b.EmitShiftReg(ShiftROR, 0, 1, 2, true) }, 0x9AC22C20},
		{"CLZ X0, X1", func(b *CodeBuffer) { b.EmitCLZ(0, 1, true) }, 0xDAC01020},
		{"RBIT W3, W4", func(b *CodeBuffer) { b.EmitRBIT(3, 4, false) }, 0x5AC00083},
		{"RET", func(b *CodeBuffer) { b.EmitRET() }, 0xD65F03C0},
		{"B #8", func(b *CodeBuffer) { b.EmitB(8) }, 0x14000002},
		{"BR X16", func(b *CodeBuffer) { b.EmitBR(16) }, 0xD61F0200},
		{"BLR X16", func(b *CodeBuffer) { b.EmitBLR(16) }, 0xD63F0200},
		{"LDR X0, [X1]", func(b *CodeBuffer) { b.EmitLDR(0, 1, 0, 8) }, 0xF9400020},
		{"STR X0, [X1, #8]", func(b *CodeBuffer) { b.EmitSTR(0, 1, 8, 8) }, 0xF9000420},
		{"STR X0, [X4, #-8]!", func(b *CodeBuffer) { b.EmitSTRPreIndex(0, 4, -8) }, 0xF81F8C80},
		{"LDR X0, [X4], #8", func(b *CodeBuffer) { b.EmitLDRPostIndex(0, 4, 8) }, 0xF8408480},
		{"NOP", func(b *CodeBuffer) { b.EmitNOPARM64() }, 0xD503201F},
	}

	for _, tc := range cases {
		got := emittedWord(t, tc.emit)
		if got != tc.want {
			t.Errorf("%s = %#08x, want %#08x", tc.name, got, tc.want)
		}
	}
}

func TestARM64ShiftImmAliases(t *testing.T) {
	// LSL X0, X1, #4 is UBFM X0, X1, #60, #59.
	if got := emittedWord(t, func(b *CodeBuffer) { b.EmitShiftImm(ShiftLSL, 0, 1, 4, true) }); got != 0xD37CEC20 {
		t.Errorf("LSL X0,X1,#4 = %#08x, want 0xD37CEC20", got)
	}
	// LSR X0, X1, #4 is UBFM X0, X1, #4, #63.
	if got := emittedWord(t, func(b *CodeBuffer) { b.EmitShiftImm(ShiftLSR, 0, 1, 4, true) }); got != 0xD344FC20 {
		t.Errorf("LSR X0,X1,#4 = %#08x, want 0xD344FC20", got)
	}
	// ASR W2, W3, #1 is SBFM W2, W3, #1, #31.
	if got := emittedWord(t, func(b *CodeBuffer) { b.EmitShiftImm(ShiftASR, 2, 3, 1, false) }); got != 0x13017C62 {
		t.Errorf("ASR W2,W3,#1 = %#08x, want 0x13017C62", got)
	}
}

func TestARM64BranchPatching(t *testing.T) {
	b := NewCodeBuffer(64)
	off := b.EmitBCond(CondEQ)
	b.EmitNOPARM64()
	b.EmitNOPARM64()
	b.PatchBCond(off, 12) // three words forward

	code := b.Bytes()
	got := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	if got != 0x54000060 {
		t.Errorf("patched B.EQ = %#08x, want 0x54000060", got)
	}
}
