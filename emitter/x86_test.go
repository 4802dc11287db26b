package emitter

import (
	"bytes"
	"testing"
)

func emitted(f func(b *CodeBuffer)) []byte {
	b := NewCodeBuffer(64)
	f(b)
	return append([]byte(nil), b.Bytes()...)
}

func TestX86MovRegReg(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitMovRegReg(X86RAX, X86RCX) })
	want := []byte{0x48, 0x89, 0xC8} // MOV RAX, RCX
	if !bytes.Equal(got, want) {
		t.Errorf("MOV RAX,RCX = % X, want % X", got, want)
	}
}

func TestX86MovRegImm64(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitMovRegImm64(X86RAX, 0xDEADBEEF) })
	want := []byte{0x48, 0xB8, 0xEF, 0xBE, 0xAD, 0xDE, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("MOVABS RAX,0xDEADBEEF = % X, want % X", got, want)
	}
}

func TestX86MovRegImm32(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitMovRegImm32(X86RAX, 42) })
	want := []byte{0xB8, 0x2A, 0x00, 0x00, 0x00} // MOV EAX, 42
	if !bytes.Equal(got, want) {
		t.Errorf("MOV EAX,42 = % X, want % X", got, want)
	}
}

func TestX86AluRegReg(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitAluRegReg(x86Add, X86RAX, X86RCX) })
	want := []byte{0x48, 0x01, 0xC8} // ADD RAX, RCX
	if !bytes.Equal(got, want) {
		t.Errorf("ADD RAX,RCX = % X, want % X", got, want)
	}

	got = emitted(func(b *CodeBuffer) { b.EmitAluRegReg(x86Cmp, X86RDX, X86R8) })
	want = []byte{0x4C, 0x39, 0xC2} // CMP RDX, R8
	if !bytes.Equal(got, want) {
		t.Errorf("CMP RDX,R8 = % X, want % X", got, want)
	}
}

func TestX86PushPopHighRegisters(t *testing.T) {
	got := emitted(func(b *CodeBuffer) {
		b.EmitPush(X86R9)
		b.EmitPop(X86RBX)
	})
	want := []byte{0x41, 0x51, 0x5B}
	if !bytes.Equal(got, want) {
		t.Errorf("PUSH R9; POP RBX = % X, want % X", got, want)
	}
}

func TestX86JccPlaceholderAndPatch(t *testing.T) {
	b := NewCodeBuffer(64)
	off := b.EmitJcc(0x4) // JE
	b.EmitNop()
	b.PatchJccRel32(off, b.Len())

	code := b.Bytes()
	if code[0] != 0x0F || code[1] != 0x84 {
		t.Fatalf("JE opcode = % X", code[:2])
	}
	// Displacement = target - (placeholder offset + 4) = 7 - 6 = 1.
	if code[2] != 0x01 || code[3] != 0 || code[4] != 0 || code[5] != 0 {
		t.Errorf("patched displacement = % X, want 01 00 00 00", code[2:6])
	}
}

func TestX86SSEMoves(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitMovdqa(1, 2) })
	want := []byte{0x66, 0x0F, 0x6F, 0xCA} // MOVDQA XMM1, XMM2
	if !bytes.Equal(got, want) {
		t.Errorf("MOVDQA XMM1,XMM2 = % X, want % X", got, want)
	}

	got = emitted(func(b *CodeBuffer) { b.EmitMovsd(0, 3) })
	want = []byte{0xF2, 0x0F, 0x10, 0xC3} // MOVSD XMM0, XMM3
	if !bytes.Equal(got, want) {
		t.Errorf("MOVSD XMM0,XMM3 = % X, want % X", got, want)
	}

	got = emitted(func(b *CodeBuffer) { b.EmitMovqToXmm(0, X86RAX) })
	want = []byte{0x66, 0x48, 0x0F, 0x6E, 0xC0} // MOVQ XMM0, RAX
	if !bytes.Equal(got, want) {
		t.Errorf("MOVQ XMM0,RAX = % X, want % X", got, want)
	}
}

func TestX86SSEArith(t *testing.T) {
	got := emitted(func(b *CodeBuffer) { b.EmitFPArith(FPAdd, 0, 1) })
	want := []byte{0xF2, 0x0F, 0x58, 0xC1} // ADDSD XMM0, XMM1
	if !bytes.Equal(got, want) {
		t.Errorf("ADDSD XMM0,XMM1 = % X, want % X", got, want)
	}

	got = emitted(func(b *CodeBuffer) { b.EmitPackedArith(PackedXor, 2, 2) })
	want = []byte{0x66, 0x0F, 0xEF, 0xD2} // PXOR XMM2, XMM2
	if !bytes.Equal(got, want) {
		t.Errorf("PXOR XMM2,XMM2 = % X, want % X", got, want)
	}

	got = emitted(func(b *CodeBuffer) { b.EmitPsllqImm(1, 8) })
	want = []byte{0x66, 0x0F, 0x73, 0xF1, 0x08} // PSLLQ XMM1, 8
	if !bytes.Equal(got, want) {
		t.Errorf("PSLLQ XMM1,8 = % X, want % X", got, want)
	}
}

func TestARM64PopcntSequenceWords(t *testing.T) {
	b := NewCodeBuffer(64)
	b.EmitFMOVToVec(VecScratch, 3)
	b.EmitCNT(VecScratch, VecScratch)
	b.EmitUADDLV(VecScratch, VecScratch)
	b.EmitFMOVFromVec(4, VecScratch)

	words := []uint32{
		0x9E670070, // FMOV D16, X3
		0x0E205A10, // CNT V16.8B, V16.8B
		0x0E303A10, // UADDLV H16, V16.8B
		0x9E660204, // FMOV X4, D16
	}
	code := b.Bytes()
	for i, want := range words {
		got := uint32(code[i*4]) | uint32(code[i*4+1])<<8 | uint32(code[i*4+2])<<16 | uint32(code[i*4+3])<<24
		if got != want {
			t.Errorf("word %d = %#08x, want %#08x", i, got, want)
		}
	}
}
