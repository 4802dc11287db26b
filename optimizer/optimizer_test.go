package optimizer

import "testing"

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// TestPeepholeRedundantMove exercises the "MOV r,r identical src/dst"
// pattern, expressed here as the ARM64 ORR encoding isRegMoveSelf
// matches: ORR rd, rd, xzr (31 at bit 16, rd repeated at bit 5).
func TestPeepholeRedundantMove(t *testing.T) {
	// ORR X0, X0, XZR in isRegMoveSelf's own field layout: the 31 (xzr)
	// sits in the bit-16 slot it reads as "rn", and the repeated
	// register sits in both the bit-5 "rm" slot and the low "rd" slot.
	word := uint32(0xAA000000) | 31<<16 | 0<<5 | 0
	code := u32le(word)

	changed := PeepholePass(code)
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if readWord(code, 0) != 0xD503201F {
		t.Errorf("word = %#x, want NOP encoding", readWord(code, 0))
	}
}

func TestPeepholeBlankedXorBeforeMov(t *testing.T) {
	// EOR X0, X0, X0 followed by MOVZ X0, #imm.
	xor := uint32(0xCA000000) | 0<<16 | 0<<5 | 0
	movz := uint32(0xD2800000) | 42<<5 // MOVZ Xd, #42, shift 0
	code := append(u32le(xor), u32le(movz)...)

	changed := PeepholePass(code)
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if readWord(code, 0) != 0xD503201F {
		t.Error("XOR should have been blanked to a NOP")
	}
	if readWord(code, 4) == 0xD503201F {
		t.Error("the MOVZ itself must survive untouched")
	}
}

// TestPeepholeNeutrality: the peephole pass must never change the byte
// length of the block, whatever it rewrites.
func TestPeepholeNeutrality(t *testing.T) {
	cases := [][]byte{
		u32le(0xAA000000 | 31<<5), // redundant move
		append(u32le(uint32(0xCA000000)), u32le(uint32(0xD2800000|42<<5))...),
		u32le(0xD65F03C0), // a RET, should be left alone
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, // odd trailing bytes
	}
	for i, code := range cases {
		before := len(code)
		PeepholePass(code)
		if len(code) != before {
			t.Errorf("case %d: length changed from %d to %d", i, before, len(code))
		}
	}
}

func TestPeepholeLeavesUnrelatedCodeAlone(t *testing.T) {
	// An ordinary ADD instruction should never be touched.
	add := uint32(0x8B000000) | 1<<16 | 0<<5 | 2 // ADD X2, X0, X1
	code := u32le(add)
	orig := readWord(code, 0)

	if PeepholePass(code) != 0 {
		t.Error("unrelated ADD should not be rewritten")
	}
	if readWord(code, 0) != orig {
		t.Error("bytes should be unchanged")
	}
}

// TestLinkReachability: link succeeds iff the displacement fits the
// 26-bit word-granularity signed immediate, and on success the patched
// word decodes back to exactly that displacement.
func TestLinkReachability(t *testing.T) {
	block := u32le(0xD65F03C0) // a lone RET
	var l Linker

	const blockAddr = 0x10000
	targetAddr := uintptr(blockAddr + 4*1000) // well within 26-bit word range

	if !l.TryLink(block, 0, blockAddr, targetAddr) {
		t.Fatal("TryLink should succeed for an in-range target")
	}
	word := readWord(block, 0)
	if word>>26 != 0b101 {
		t.Fatalf("patched opcode bits = %#b, want unconditional B (0b101)", word>>26)
	}
	imm26 := int32(word&0x3FFFFFF) << 6 >> 6 // sign-extend 26-bit field
	gotDisp := int64(imm26) * 4
	wantDisp := int64(targetAddr) - int64(blockAddr) - 0
	if gotDisp != wantDisp {
		t.Errorf("decoded displacement = %d, want %d", gotDisp, wantDisp)
	}
}

func TestLinkOutOfRangeLeavesTrampoline(t *testing.T) {
	block := u32le(0xD65F03C0)
	orig := readWord(block, 0)
	var l Linker

	const blockAddr = 0x10000
	// Far beyond the 26-bit word-granularity signed reach (~256 MiB).
	targetAddr := uintptr(blockAddr) + (1 << 30)

	if l.TryLink(block, 0, blockAddr, targetAddr) {
		t.Fatal("TryLink should fail for an out-of-range target")
	}
	if readWord(block, 0) != orig {
		t.Error("failed link must preserve the original RET trampoline")
	}
}

func TestLinkRejectsNonRet(t *testing.T) {
	block := u32le(0x8B000000) // an ADD, not a RET
	var l Linker
	if l.TryLink(block, 0, 0x1000, 0x2000) {
		t.Error("TryLink should refuse to patch a non-RET instruction")
	}
}

func TestFindTrailingRet(t *testing.T) {
	ret := []byte{0xC0, 0x03, 0x5F, 0xD6}
	nop := []byte{0x1F, 0x20, 0x03, 0xD5}

	var block []byte
	for i := 0; i < 8; i++ {
		block = append(block, nop...)
	}
	block = append(block, ret...)
	block = append(block, nop...)

	if got := FindTrailingRet(block); got != 32 {
		t.Errorf("FindTrailingRet = %d, want 32", got)
	}

	// A RET further back than the last 16 bytes must not be found.
	var buried []byte
	buried = append(buried, ret...)
	for i := 0; i < 8; i++ {
		buried = append(buried, nop...)
	}
	if got := FindTrailingRet(buried); got != -1 {
		t.Errorf("FindTrailingRet(buried) = %d, want -1", got)
	}

	if got := FindTrailingRet(nil); got != -1 {
		t.Errorf("FindTrailingRet(nil) = %d, want -1", got)
	}
}
