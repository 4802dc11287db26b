package emitter

// Advanced-SIMD encoders for the scalar-assisted sequences the bit
// translators need: population count routes a GPR value through a vector
// register: FMOV in, CNT per byte, UADDLV across lanes, FMOV back.

// ARM64VReg is a SIMD/FP register number in [0,31].
type ARM64VReg uint32

// VecScratch is the vector register the translators use for transient
// SIMD work. Guest vector registers map onto V0-V15 (regmap wraps
// modulo 16), so V16 and up are free for scratch.
const VecScratch ARM64VReg = 16

// EmitFMOVToVec emits "FMOV Dd, Xn" (general register to vector D lane).
func (b *CodeBuffer) EmitFMOVToVec(vd ARM64VReg, rn ARM64Reg) {
	b.AppendU32LE(0x9E670000 | uint32(rn)<<5 | uint32(vd))
}

// EmitFMOVFromVec emits "FMOV Xd, Dn" (vector D lane to general register).
func (b *CodeBuffer) EmitFMOVFromVec(rd ARM64Reg, vn ARM64VReg) {
	b.AppendU32LE(0x9E660000 | uint32(vn)<<5 | uint32(rd))
}

// EmitCNT emits "CNT Vd.8B, Vn.8B": per-byte population count.
func (b *CodeBuffer) EmitCNT(vd, vn ARM64VReg) {
	b.AppendU32LE(0x0E205800 | uint32(vn)<<5 | uint32(vd))
}

// EmitUADDLV emits "UADDLV Hd, Vn.8B": unsigned sum across the eight
// byte lanes, leaving the total in element 0.
func (b *CodeBuffer) EmitUADDLV(vd, vn ARM64VReg) {
	b.AppendU32LE(0x0E303800 | uint32(vn)<<5 | uint32(vd))
}
