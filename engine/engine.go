// Package engine wires together the cache, arena, dispatcher, and
// executor into the single owning object the rest of the program drives;
// there is no package-level mutable state.
package engine

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/binxlate/dbt/arena"
	"github.com/binxlate/dbt/cache"
	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/emitter"
	"github.com/binxlate/dbt/executor"
	"github.com/binxlate/dbt/guest"
	"github.com/binxlate/dbt/optimizer"
	"github.com/binxlate/dbt/translate"
)

// MaxBlockInstructions bounds how many guest instructions a single
// translation may contain before it is forcibly closed, even with no
// control-flow reason to stop.
const MaxBlockInstructions = 64

// Config holds the tunables config.Config maps onto an Engine.
type Config struct {
	ArenaSize      int
	CacheIndexBits uint
	HotThreshold   uint64
	EnableOptimize bool
}

// Engine owns one guest address space's worth of translation state: the
// code arena, the translation cache, and the memory reader the decoder
// pulls guest bytes from.
type Engine struct {
	cfg   Config
	arena *arena.Arena
	cache *cache.Cache
	image GuestMemory
}

// GuestMemory is the minimal view of guest address space the block
// translator needs: a byte window starting at a guest virtual address.
// loader.Image implements this.
type GuestMemory interface {
	ReadAt(addr uint64, n int) ([]byte, error)
}

// New constructs an Engine over a guest image, allocating its arena and
// cache per cfg.
func New(cfg Config, image GuestMemory) (*Engine, error) {
	a, err := arena.New(cfg.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		cfg:   cfg,
		arena: a,
		cache: cache.New(cfg.CacheIndexBits, cfg.HotThreshold),
		image: image,
	}, nil
}

// Close releases the engine's arena.
func (e *Engine) Close() error {
	return e.arena.Close()
}

// Cache exposes the translation cache for diagnostics (debugger/api).
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Arena exposes the code arena for diagnostics.
func (e *Engine) Arena() *arena.Arena { return e.arena }

// TranslationResult is what Translate hands back for one guest basic
// block: where the host copy lives,
// how big it is, where the guest block started, how many instructions it
// covered, whether it ended on an explicit control transfer, and whether
// it was served from the cache rather than freshly translated.
type TranslationResult struct {
	HostAddr   uintptr
	Size       int
	GuestIP    uint64
	InsnCount  int
	EndsBranch bool
	Cached     bool
}

// Translate implements the spec's translate(guest_pc) surface: consult
// the cache, translate on a miss, install, and report. On arena
// exhaustion it flushes once and retries exactly once.
func (e *Engine) Translate(guestIP uint64) (TranslationResult, error) {
	if hostAddr, ok := e.cache.Lookup(guestIP); ok {
		entry, _ := e.cache.EntryAt(guestIP)
		// Instruction count and the ends-with-branch flag aren't part of
		// the cache entry; a hit reports only what the entry stores.
		return TranslationResult{
			HostAddr: hostAddr,
			Size:     entry.Size,
			GuestIP:  guestIP,
			Cached:   true,
		}, nil
	}

	res, err := e.translateBlock(guestIP)
	if errors.Is(err, arena.ErrExhausted) {
		e.Reset()
		res, err = e.translateBlock(guestIP)
	}
	if err != nil {
		return TranslationResult{}, err
	}
	e.cache.Insert(guestIP, res.HostAddr, res.Size)
	return res, nil
}

// Resolve returns a runnable entry point for guestIP, translating a new
// block if the cache doesn't already have one.
func (e *Engine) Resolve(guestIP uint64) (executor.BlockEntry, error) {
	res, err := e.Translate(guestIP)
	if err != nil {
		return nil, err
	}
	return makeBlockEntry(res.HostAddr), nil
}

// Link patches fromIP's block so its exit trampoline jumps straight to
// toIP's block instead of returning to the executor.
// Both blocks must be cached; the patch is applied under the arena's
// writable window and re-synced before return. Linking failure (no
// trailing RET, or the target out of branch reach) leaves the trampoline
// intact; the block still runs, just slower.
func (e *Engine) Link(fromIP, toIP uint64, slot int) (bool, error) {
	from, ok := e.cache.EntryAt(fromIP)
	if !ok {
		return false, nil
	}
	to, ok := e.cache.EntryAt(toIP)
	if !ok {
		return false, nil
	}
	if !e.cache.Chain(fromIP, toIP, slot) {
		return false, nil
	}

	if err := e.arena.MakeWritable(); err != nil {
		return false, err
	}
	block, err := e.arena.Slice(from.HostAddr, from.Size)
	if err != nil {
		return false, err
	}

	linked := false
	if retOffset := optimizer.FindTrailingRet(block); retOffset >= 0 {
		linked = optimizer.Linker{}.TryLink(block, retOffset, from.HostAddr, to.HostAddr)
	}

	if err := e.arena.MakeExecutable(); err != nil {
		return false, err
	}
	if err := e.arena.Sync(from.HostAddr, from.Size); err != nil {
		return false, err
	}

	if linked {
		e.cache.SetLinked(fromIP, true)
	} else {
		e.cache.ClearChains(fromIP)
	}
	return linked, nil
}

// Unlink drops ip's recorded chain pointers.
// The patched branch bytes are not restored; callers rely on
// invalidation or a flush to retire the block itself.
func (e *Engine) Unlink(ip uint64) error {
	entry, ok := e.cache.EntryAt(ip)
	if !ok {
		return nil
	}
	e.cache.ClearChains(ip)
	return e.arena.Sync(entry.HostAddr, entry.Size)
}

// emitPrologue materialises the guest register file into host registers
// on block entry: X0 arrives holding the
// *guest.State pointer per AAPCS64, which is saved into
// translate.HostStateReg before it gets overwritten by GPR 0's own
// value, then all 16 GPRs are loaded from the state struct.
func emitPrologue(buf *emitter.CodeBuffer) {
	buf.EmitLogicalReg(emitter.LogicalOrr, translate.HostStateReg, emitter.ARM64ZR, emitter.ARM64Reg(0), true)
	for i := 0; i < guest.NumGPR; i++ {
		buf.EmitLDR(emitter.ARM64Reg(i), translate.HostStateReg, guest.StateGPROffset(i), 8)
	}
}

// emitEpilogue spills host registers back into guest.State on block
// exit and returns the tagged BlockExit the
// executor unpacks: every GPR, the resolved next RIP (either already
// computed by a control-transfer translator into translate.HostScratch2,
// or the straight-line address the caller supplies), and the exit
// reason in X0.
func emitEpilogue(buf *emitter.CodeBuffer, ripFromScratch bool, fallbackRIP uint64, reason executor.ExitReason) {
	for i := 0; i < guest.NumGPR; i++ {
		buf.EmitSTR(emitter.ARM64Reg(i), translate.HostStateReg, guest.StateGPROffset(i), 8)
	}
	if !ripFromScratch {
		buf.EmitMOVImm64(translate.HostScratch2, fallbackRIP)
	}
	buf.EmitSTR(translate.HostScratch2, translate.HostStateReg, guest.StateRIPOffset, 8)
	buf.EmitMOVZ(emitter.ARM64Reg(0), uint16(reason), 0, false)
	buf.EmitRET()
}

// translateBlock translates one basic block: decode and dispatch instructions into a
// scratch buffer until a block boundary or the instruction cap, then
// copies the result into the arena and installs it.
func (e *Engine) translateBlock(guestIP uint64) (TranslationResult, error) {
	const scratchSize = 64 << 10 // block code cap; far above what 64 instructions can emit
	buf := emitter.NewCodeBuffer(scratchSize)
	emitPrologue(buf)
	ip := guestIP

	var (
		last           translate.Result
		haveTerminator bool
		resumeIP       uint64
		reason         executor.ExitReason
		insnCount      int
	)

loop:
	for i := 0; i < MaxBlockInstructions; i++ {
		window, err := e.image.ReadAt(ip, 16)
		if err != nil {
			return TranslationResult{}, fmt.Errorf("engine: reading guest bytes at %#x: %w", ip, err)
		}
		in, length, err := decode.Decode(window, len(window), ip)
		if err != nil {
			// Undecodable: abandon the block at the instruction level
			// rather than propagating a decode error.
			resumeIP = ip
			reason = executor.ExitUndefined
			break loop
		}
		ctx := &translate.Context{Buf: buf, GuestIP: ip, NextIP: ip + uint64(length)}
		res := translate.Translate(ctx, &in)
		ip += uint64(length)
		insnCount++
		if !res.Success {
			// Recoverable at instruction level: the
			// dispatcher already emitted a host NOP; keep translating.
			continue
		}
		if res.EndsBlock {
			last = res
			haveTerminator = true
			resumeIP = ctx.NextIP
			reason = res.ExitCode
			break loop
		}
		if i == MaxBlockInstructions-1 {
			resumeIP = ip
			reason = executor.ExitRetToCache
		}
	}
	if !haveTerminator && resumeIP == 0 {
		resumeIP = ip
	}

	if buf.Overflowed() {
		return TranslationResult{}, fmt.Errorf("engine: block at %#x overflowed the scratch buffer", guestIP)
	}

	emitEpilogue(buf, haveTerminator && last.SetsRIP, resumeIP, reason)

	if buf.Overflowed() {
		return TranslationResult{}, fmt.Errorf("engine: block at %#x overflowed the scratch buffer", guestIP)
	}

	if e.cfg.EnableOptimize {
		optimizer.PeepholePass(buf.Bytes())
	}

	if err := e.arena.MakeWritable(); err != nil {
		return TranslationResult{}, err
	}
	dst, hostAddr, err := e.arena.Allocate(buf.Len(), 4)
	if err != nil {
		return TranslationResult{}, fmt.Errorf("engine: %w", err)
	}
	copy(dst, buf.Bytes())
	if err := e.arena.MakeExecutable(); err != nil {
		return TranslationResult{}, err
	}
	if err := e.arena.Sync(hostAddr, buf.Len()); err != nil {
		return TranslationResult{}, err
	}
	return TranslationResult{
		HostAddr:   hostAddr,
		Size:       buf.Len(),
		GuestIP:    guestIP,
		InsnCount:  insnCount,
		EndsBranch: haveTerminator,
	}, nil
}

// Reset flushes the cache and rewinds the arena, used when the engine
// needs to reclaim space; an arena reset implies a cache flush since
// every cached host address becomes stale.
func (e *Engine) Reset() {
	e.arena.Reset()
	e.cache.Flush()
}

// makeBlockEntry reinterprets a raw host code address as a callable Go
// function value following the AAPCS64 convention the translators emit
// against: X0 holds the *guest.State argument, the return value comes
// back in X0. This is the same unsafe-function-pointer trick small Go
// JIT experiments use in lieu of a cgo trampoline.
func makeBlockEntry(hostAddr uintptr) executor.BlockEntry {
	type blockFn = func(*guest.State) uint64
	return *(*blockFn)(unsafe.Pointer(&hostAddr))
}
