// Package optimizer implements the block optimizer and linker: a
// peephole pass over a just-translated block's host bytes, and a
// block-linking pass that rewrites a block's trailing return into a
// direct jump once its target is known to be in the cache. Both are
// single forward passes over raw instruction words, mutating in place.
package optimizer

// FindingKind enumerates what a peephole pass can do at a given offset.
type FindingKind int

const (
	FindingNone FindingKind = iota
	FindingRedundantMove
	FindingBlankedXor
)

// arm64NOP is the fixed NOP instruction word.
const arm64NOP = 0xD503201F

// classifyAt reports which rewritable pattern starts at off: a
// register-to-itself MOV (alias of ORR rd, xzr, rm with rd==rm), or an
// XOR rd,rd immediately followed by a MOV rd,imm, where the XOR is
// redundant since the MOV fully overwrites the register.
func classifyAt(code []byte, off int) FindingKind {
	word := readWord(code, off)
	if isRegMoveSelf(word) {
		return FindingRedundantMove
	}
	if off+8 <= len(code) && isXorSelf(word) {
		next := readWord(code, off+4)
		if isMovzOrMovn(next) && next&0x1F == word&0x1F {
			return FindingBlankedXor
		}
	}
	return FindingNone
}

// PeepholePass scans code (a just-assembled block's host instruction
// words) and blanks each finding to a NOP, preserving the block's byte
// length. It mutates code in place and returns how many words it
// changed.
func PeepholePass(code []byte) int {
	changed := 0
	for off := 0; off+4 <= len(code); off += 4 {
		if classifyAt(code, off) != FindingNone {
			writeWord(code, off, arm64NOP)
			changed++
		}
	}
	return changed
}

func readWord(code []byte, off int) uint32 {
	return uint32(code[off]) | uint32(code[off+1])<<8 | uint32(code[off+2])<<16 | uint32(code[off+3])<<24
}

func writeWord(code []byte, off int, v uint32) {
	code[off+0] = byte(v)
	code[off+1] = byte(v >> 8)
	code[off+2] = byte(v >> 16)
	code[off+3] = byte(v >> 24)
}

// isRegMoveSelf reports whether word is an ORR (shifted register) with 31
// in the bit-16 field and rd repeated in the bit-5 field, i.e.
// "ORR rd, rd, xzr". The emitter's MOV alias "ORR rd, xzr, rm" puts the
// 31 in the bit-5 field and is not matched.
func isRegMoveSelf(word uint32) bool {
	if word&0xFF000000 != 0x2A000000 && word&0xFF000000 != 0xAA000000 {
		return false
	}
	rn := (word >> 16) & 0x1F
	rd := word & 0x1F
	rm := (word >> 5) & 0x1F
	return rn == 31 && rd == rm
}

func isXorSelf(word uint32) bool {
	if word&0xFF000000 != 0x4A000000 && word&0xFF000000 != 0xCA000000 {
		return false
	}
	rn := (word >> 5) & 0x1F
	rm := (word >> 16) & 0x1F
	return rn == rm
}

func isMovzOrMovn(word uint32) bool {
	opc := (word >> 29) & 0x3
	return (word>>23)&0x3F == 0b100101 && (opc == 0b10 || opc == 0b00)
}

// Linker rewrites a translated block's trailing epilogue to jump straight
// into another already-cached block instead of returning to the
// executor, when the branch displacement fits a 26-bit
// signed word-aligned B immediate; otherwise the original RET is left in
// place (a trampoline through the executor is always correct, just
// slower).
type Linker struct{}

// FindTrailingRet locates the last RET instruction word within the final
// 16 bytes of block; the linker only rewrites a trailing exit
// trampoline, never a RET buried mid-block. Returns -1 when none is
// found.
func FindTrailingRet(block []byte) int {
	start := len(block) - 16
	if start < 0 {
		start = 0
	}
	start = (start + 3) &^ 3
	for off := (len(block) &^ 3) - 4; off >= start; off -= 4 {
		if readWord(block, off) == 0xD65F03C0 {
			return off
		}
	}
	return -1
}

// TryLink patches the RET at the end of block (relative offset retOffset,
// byte length 4) into a direct "B" to targetHostAddr, provided the
// displacement fits. It returns whether the patch was applied.
func (Linker) TryLink(block []byte, retOffset int, blockHostAddr, targetHostAddr uintptr) bool {
	if retOffset < 0 || retOffset+4 > len(block) {
		return false
	}
	if readWord(block, retOffset) != 0xD65F03C0 { // RET
		return false
	}
	disp := int64(targetHostAddr) - int64(blockHostAddr) - int64(retOffset)
	const maxDisp = 1 << 27 // 26-bit word-granularity immediate, signed
	if disp >= maxDisp || disp < -maxDisp {
		return false
	}
	imm26 := uint32((disp / 4) & 0x3FFFFFF)
	writeWord(block, retOffset, 0b101<<26|imm26)
	return true
}
