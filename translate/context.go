// Package translate implements the per-category translators and their
// dispatcher: one function per instruction category that
// lowers a decode.Instruction into ARM64 host code, and a single
// dispatcher that routes each decoded instruction to its translator in
// the category order decode.ClassifyOrder mandates.
package translate

import (
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
	"github.com/binxlate/dbt/executor"
	"github.com/binxlate/dbt/regmap"
)

// Context carries everything a single instruction's translation needs:
// the scratch CodeBuffer the block is being assembled into, the guest
// instruction pointer of the instruction being translated (for PC-relative
// fixups), and the guest IP of the instruction that follows it (the base
// that relative branch and RIP-relative displacements are added to).
type Context struct {
	Buf      *emitter.CodeBuffer
	GuestIP  uint64
	NextIP   uint64 // guest IP of the instruction immediately following this one
}

// scratch host registers reserved by the calling convention the block
// translator establishes (engine/ documents the full register assignment):
// X0-X15 hold the mapped guest GPRs, X16-X18 are translator scratch, X19
// holds the guest-state base pointer, X30 is the host link register.
const (
	hostScratch0 = emitter.ARM64Reg(16)
	hostScratch1 = emitter.ARM64Reg(17)
	hostScratch2 = emitter.ARM64Reg(18)
	hostStateReg = emitter.ARM64Reg(19)
)

// Exported aliases of the same four registers, so engine/ (which builds
// the per-block prologue/epilogue around these per-instruction
// translations) addresses the identical registers rather than
// maintaining a second copy of this assignment.
const (
	HostScratch0 = hostScratch0
	HostScratch1 = hostScratch1
	HostScratch2 = hostScratch2
	HostStateReg = hostStateReg
)

func hostReg(guestReg byte) emitter.ARM64Reg {
	return emitter.ARM64Reg(regmap.MapGPR(int(guestReg)))
}

// Local aliases for emitter's ALU/logical/shift op enums, so the
// per-category translators below read as plain lowercase operation names
// rather than repeating the emitter. qualifier at every call site.
const (
	aluAdd     = emitter.AluAdd
	aluSub     = emitter.AluSub
	logicalAnd = emitter.LogicalAnd
	logicalOrr = emitter.LogicalOrr
	logicalEor = emitter.LogicalEor
	shiftLSL   = emitter.ShiftLSL
	shiftLSR   = emitter.ShiftLSR
	shiftASR   = emitter.ShiftASR
	shiftROR   = emitter.ShiftROR
)

// Result is what every per-category translator and the dispatcher
// return: whether translation succeeded, whether the instruction ends
// the block, how many guest
// bytes it consumed (already known from decode.Decode, carried here
// only so the block translator doesn't need a second lookup), which
// BlockExit reason the engine's shared epilogue should report when this
// instruction ends the block, and whether the translator already left
// the resolved next guest RIP value in HostScratch2 for the epilogue to
// spill (control-transfer instructions do this; trap-like SPECIAL exits
// leave the engine to fill in the instruction-following address itself).
type Result struct {
	Success   bool
	EndsBlock bool
	Length    int
	ExitCode  executor.ExitReason
	SetsRIP   bool
}

func fail() Result { return Result{} }

func ok(endsBlock bool, length int) Result {
	return Result{Success: true, EndsBlock: endsBlock, Length: length}
}

// okControlFlow reports a block-ending control-transfer instruction
// (Jcc/JMP/CALL/RET) that has already computed its resolved next guest
// RIP into HostScratch2. The actual direct
// host branch is left to the optimizer's linker once the target block is
// resident, so the translator itself only ever exits through the shared
// trampoline epilogue engine/ appends.
func okControlFlow(length int) Result {
	return Result{Success: true, EndsBlock: true, Length: length, SetsRIP: true}
}

// okExit reports a block-ending SPECIAL instruction (the
// syscall/trap/fault surface of BlockExit) that resumes, once the
// collaborator handles it, at the guest address immediately following
// this instruction; the engine fills that address in itself.
func okExit(reason executor.ExitReason, length int) Result {
	return Result{Success: true, EndsBlock: true, Length: length, ExitCode: reason}
}

// Translate routes a decoded instruction to its category translator,
// evaluating categories in the fixed order {ALU, MEMORY, BRANCH, BIT,
// STRING, SPECIAL}. Since decode.Instruction.Classify() already performs
// that ordered evaluation structurally, the dispatcher is a single
// switch on its result rather than a repeated predicate walk.
func Translate(ctx *Context, in *decode.Instruction) Result {
	var res Result
	switch in.Classify() {
	case decode.CategoryALU:
		res = translateALU(ctx, in)
	case decode.CategoryMemory:
		res = translateMemory(ctx, in)
	case decode.CategoryBranch:
		res = translateBranch(ctx, in)
	case decode.CategoryBit:
		res = translateBit(ctx, in)
	case decode.CategoryString:
		res = translateString(ctx, in)
	case decode.CategorySpecial:
		res = translateSpecial(ctx, in)
	}
	if !res.Success {
		// When nothing matches, emit a host NOP and report failure; the
		// caller decides whether to continue or terminate. This applies
		// equally to an unknown category and to an operand form a
		// category translator declined; both are recoverable at the
		// instruction level.
		ctx.Buf.EmitNOPARM64()
		return Result{Success: false, EndsBlock: false, Length: in.Length}
	}
	return res
}
