package decode

// legacy prefix bytes walked before REX.
const (
	prefixLock      = 0xF0
	prefixRepne     = 0xF2
	prefixRep       = 0xF3
	prefixOpSize    = 0x66
	prefixAddrSize  = 0x67
	prefixSegCS     = 0x2E
	prefixSegSS     = 0x36
	prefixSegDS     = 0x3E
	prefixSegES     = 0x26
	prefixSegFS     = 0x64
	prefixSegGS     = 0x65
	secondaryEscape = 0x0F
)

func isLegacyPrefix(b byte) bool {
	switch b {
	case prefixLock, prefixRepne, prefixRep, prefixOpSize, prefixAddrSize,
		prefixSegCS, prefixSegSS, prefixSegDS, prefixSegES, prefixSegFS, prefixSegGS:
		return true
	}
	return false
}

func isREX(b byte) bool { return b&0xF0 == 0x40 }

// Decode parses one x86_64 instruction starting at bytes[0], up to at most
// limit bytes. It returns the decoded record and the number of bytes
// consumed. A returned length of 0 means the sequence is undecodable and
// the caller (the block translator) must terminate the block.
//
// ip is used only for diagnostic context in the returned error; it does not
// affect decoding.
func Decode(bytes []byte, limit int, ip uint64) (Instruction, int, error) {
	if limit > len(bytes) {
		limit = len(bytes)
	}
	var in Instruction
	pos := 0

	// 1. Legacy prefixes.
	for pos < limit && isLegacyPrefix(bytes[pos]) {
		switch bytes[pos] {
		case prefixLock:
			in.LockPrefix = true
		case prefixRepne, prefixRep:
			in.RepPrefix = bytes[pos]
		case prefixOpSize:
			in.OperandSize16 = true
		case prefixAddrSize:
			in.AddressSize32 = true
		case prefixSegCS, prefixSegSS, prefixSegDS, prefixSegES, prefixSegFS, prefixSegGS:
			in.SegOverride = bytes[pos]
		}
		pos++
	}
	if pos >= limit {
		return Instruction{}, 0, newDecodeError(ip, pos, "truncated before opcode")
	}

	// 2. At most one REX byte.
	if isREX(bytes[pos]) {
		rex := bytes[pos]
		in.REXPresent = true
		in.REXW = rex&0x08 != 0
		in.REXR = rex&0x04 != 0
		in.REXX = rex&0x02 != 0
		in.REXB = rex&0x01 != 0
		pos++
	}
	if pos >= limit {
		return Instruction{}, 0, newDecodeError(ip, pos, "truncated after REX")
	}

	// 3. Primary opcode, and secondary escape.
	in.PrimaryOpcode = bytes[pos]
	pos++
	if in.PrimaryOpcode == secondaryEscape {
		if pos >= limit {
			return Instruction{}, 0, newDecodeError(ip, pos, "truncated after 0x0F escape")
		}
		in.HasSecondary = true
		in.SecondaryOpcode = bytes[pos]
		pos++
	}

	// 4. ModR/M + SIB, where the opcode family requires it.
	if needsModRM(&in) {
		if pos >= limit {
			return Instruction{}, 0, newDecodeError(ip, pos, "truncated before ModR/M")
		}
		modrm := bytes[pos]
		pos++
		in.HasModRM = true
		in.Mod = (modrm >> 6) & 0x3
		in.Reg = (modrm >> 3) & 0x7
		in.Rm = modrm & 0x7

		sibBase := byte(0xFF)
		if in.Mod != 3 && in.Rm == 4 {
			if pos >= limit {
				return Instruction{}, 0, newDecodeError(ip, pos, "truncated before SIB")
			}
			in.HasSIB = true
			in.SIB = bytes[pos]
			sibBase = in.SIB & 0x7
			pos++
		}

		// Displacement size per the standard x86_64 rules.
		switch {
		case in.Mod == 1:
			in.DispSize = 1
		case in.Mod == 2:
			in.DispSize = 4
		case in.Mod == 0 && in.Rm == 5 && !in.HasSIB:
			in.DispSize = 4 // RIP-relative
		case in.Mod == 0 && in.HasSIB && sibBase == 5:
			in.DispSize = 4
		}
		if in.DispSize > 0 {
			if pos+int(in.DispSize) > limit {
				return Instruction{}, 0, newDecodeError(ip, pos, "truncated displacement")
			}
			in.Disp = signExtend(readLE(bytes[pos:pos+int(in.DispSize)]), int(in.DispSize)*8)
			pos += int(in.DispSize)
		}
	}

	// 5. Immediate, sized from the opcode family.
	immSize := immediateSize(&in)
	if immSize > 0 {
		if pos+int(immSize) > limit {
			return Instruction{}, 0, newDecodeError(ip, pos, "truncated immediate")
		}
		in.ImmSize = immSize
		in.Imm = signExtend(readLE(bytes[pos:pos+int(immSize)]), int(immSize)*8)
		pos += int(immSize)
	}

	in.Length = pos
	return in, pos, nil
}

func readLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// signExtend sign-extends a bits-wide value to 64 bits; every decoded
// displacement and immediate is widened to 64 bits before storing.
func signExtend(v uint64, bits int) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := uint(64 - bits)
	return int64(v<<shift) >> shift
}
