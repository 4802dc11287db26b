package engine

import (
	"testing"
)

// fakeImage serves guest bytes from a flat in-memory program for the
// block translator to decode from.
type fakeImage struct {
	base uint64
	code []byte
}

func (f *fakeImage) ReadAt(addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)
	off := int(addr - f.base)
	for i := 0; i < n; i++ {
		if off+i >= 0 && off+i < len(f.code) {
			out[i] = f.code[off+i]
		}
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		ArenaSize:      1 << 20,
		CacheIndexBits: 8,
		HotThreshold:   4,
		EnableOptimize: true,
	}
}

// TestResolveCachesOnSecondCall exercises the lazy
// translate-once contract: a miss translates and installs, a subsequent
// lookup of the same guest PC must be a cache hit, not a fresh
// translation.
func TestResolveCachesOnSecondCall(t *testing.T) {
	img := &fakeImage{base: 0x401000, code: []byte{0x48, 0x89, 0xC8, 0xC3}} // MOV RAX,RCX; RET
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	entry1, err := e.Resolve(0x401000)
	if err != nil {
		t.Fatalf("Resolve (miss): %v", err)
	}
	if entry1 == nil {
		t.Fatal("Resolve should return a non-nil entry")
	}
	lookups, hits, misses := func() (uint64, uint64, uint64) {
		l, h, m := e.Cache().Stats()
		return l, h, m
	}()
	if misses != 1 {
		t.Errorf("after first Resolve: misses = %d, want 1", misses)
	}

	entry2, err := e.Resolve(0x401000)
	if err != nil {
		t.Fatalf("Resolve (hit): %v", err)
	}
	if entry2 == nil {
		t.Fatal("second Resolve should also return a non-nil entry")
	}
	_, hits2, _ := e.Cache().Stats()
	if hits2 != hits+1 {
		t.Errorf("second Resolve should register a cache hit")
	}
	_ = lookups
}

// TestResolveTranslatesDistinctBlocksSeparately checks that two different
// guest PCs (far enough apart to land in different cache slots) each get
// their own host address.
func TestResolveTranslatesDistinctBlocksSeparately(t *testing.T) {
	code := make([]byte, 0x200)
	copy(code[0:], []byte{0x48, 0x89, 0xC8, 0xC3})     // at 0x401000
	copy(code[0x100:], []byte{0x48, 0x01, 0xC8, 0xC3}) // ADD RAX,RCX; RET, at 0x401100
	img := &fakeImage{base: 0x401000, code: code}

	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	h1, err := e.Resolve(0x401000)
	if err != nil {
		t.Fatalf("Resolve(0x401000): %v", err)
	}
	h2, err := e.Resolve(0x401100)
	if err != nil {
		t.Fatalf("Resolve(0x401100): %v", err)
	}
	if h1 == nil || h2 == nil {
		t.Fatal("both blocks should translate successfully")
	}
}

func TestResetFlushesCacheAndArena(t *testing.T) {
	img := &fakeImage{base: 0x401000, code: []byte{0x48, 0x89, 0xC8, 0xC3}}
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Resolve(0x401000); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if e.Arena().Len() == 0 {
		t.Fatal("arena should have grown after translating a block")
	}

	e.Reset()
	if e.Arena().Len() != 0 {
		t.Error("Reset should rewind the arena cursor to zero")
	}
	if _, ok := e.Cache().Lookup(0x401000); ok {
		t.Error("Reset should have flushed the cache")
	}
}

func TestResolveStopsAtMaxBlockInstructions(t *testing.T) {
	// A long straight-line run of single-byte NOPs with no terminator:
	// the block translator must still stop at MaxBlockInstructions and
	// install a valid (RET-trampoline) translation rather than looping
	// forever or overflowing.
	code := make([]byte, MaxBlockInstructions+16)
	for i := range code {
		code[i] = 0x90 // NOP
	}
	img := &fakeImage{base: 0x401000, code: code}
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Resolve(0x401000); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolveHandlesShortTrailingCode(t *testing.T) {
	// The guest program ends after a single byte; ReadAt pads the rest of
	// its 16-byte lookahead window with zeros (decodable as ADD Eb,Gb),
	// so this exercises that reading past the end of a short image
	// doesn't panic or corrupt the translation, even though it doesn't
	// hit genuine truncation (the window is always fully populated).
	img := &fakeImage{base: 0x401000, code: []byte{0x48}}
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Resolve(0x401000); err != nil {
		t.Fatalf("Resolve should still succeed: %v", err)
	}
}

// TestResolveReturnsCallableEntry only checks that Resolve hands back a
// non-nil BlockEntry; the entry itself is emitted ARM64 machine code and
// is only safe to invoke as a function on an actual ARM64 host, which is
// the executor's concern (executor package), not this package's tests.
func TestResolveReturnsCallableEntry(t *testing.T) {
	img := &fakeImage{base: 0x401000, code: []byte{0xC3}} // RET
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	entry, err := e.Resolve(0x401000)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry == nil {
		t.Fatal("Resolve should return a non-nil BlockEntry")
	}
}

func TestTranslateReportsResultFields(t *testing.T) {
	img := &fakeImage{base: 0x401000, code: []byte{0x48, 0x89, 0xC8, 0xC3}}
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	res, err := e.Translate(0x401000)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Cached {
		t.Error("first translation should not be marked cached")
	}
	if res.GuestIP != 0x401000 || res.Size == 0 || res.HostAddr == 0 {
		t.Errorf("result = %+v, want populated host/size/guest fields", res)
	}
	if res.InsnCount != 2 {
		t.Errorf("InsnCount = %d, want 2 (MOV + RET)", res.InsnCount)
	}
	if !res.EndsBranch {
		t.Error("a block terminated by RET should report EndsBranch")
	}

	again, err := e.Translate(0x401000)
	if err != nil {
		t.Fatalf("Translate (hit): %v", err)
	}
	if !again.Cached {
		t.Error("second translation should come from the cache")
	}
	if again.HostAddr != res.HostAddr || again.Size != res.Size {
		t.Error("cache hit should report the installed block's address and size")
	}
}

// TestTranslateRetriesAfterExhaustion exercises the flush-and-retry-once
// contract: a tiny arena fills up, the next
// translation flushes everything and succeeds on the retry.
func TestTranslateRetriesAfterExhaustion(t *testing.T) {
	code := make([]byte, 0x4000)
	for i := 0; i < len(code); i += 4 {
		copy(code[i:], []byte{0x48, 0x89, 0xC8, 0xC3})
	}
	cfg := testConfig()
	cfg.ArenaSize = 4096 // page-sized: fits only a handful of blocks
	e, err := New(cfg, &fakeImage{base: 0x401000, code: code})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	var flushedAt uint64
	for pc := uint64(0x401000); pc < 0x401000+uint64(len(code)); pc += 4 {
		if _, err := e.Translate(pc); err != nil {
			t.Fatalf("Translate(%#x): %v", pc, err)
		}
		if e.Cache().FlushCount() > 0 {
			flushedAt = pc
			break
		}
	}
	if flushedAt == 0 {
		t.Fatal("arena never filled; test needs a smaller arena or more blocks")
	}
	// The block translated right after the flush must be resident.
	if _, ok := e.Cache().Lookup(flushedAt); !ok {
		t.Error("the retried translation should be installed after the flush")
	}
}

func TestLinkPatchesTrailingRet(t *testing.T) {
	code := make([]byte, 0x200)
	copy(code[0:], []byte{0x48, 0x89, 0xC8, 0xC3})
	copy(code[0x100:], []byte{0x48, 0x01, 0xC8, 0xC3})
	e, err := New(testConfig(), &fakeImage{base: 0x401000, code: code})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Translate(0x401000); err != nil {
		t.Fatalf("Translate(A): %v", err)
	}
	if _, err := e.Translate(0x401100); err != nil {
		t.Fatalf("Translate(B): %v", err)
	}

	linked, err := e.Link(0x401000, 0x401100, 1)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !linked {
		t.Fatal("two adjacent arena blocks are always within branch reach")
	}

	entry, ok := e.Cache().EntryAt(0x401000)
	if !ok {
		t.Fatal("linked block should still be cached")
	}
	if !entry.Linked {
		t.Error("Link should set the entry's linked flag")
	}
	to, _ := e.Cache().EntryAt(0x401100)
	if entry.Chain[1] != to.HostAddr {
		t.Error("Link should record the successor in chain slot 1")
	}

	if err := e.Unlink(0x401000); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	entry, _ = e.Cache().EntryAt(0x401000)
	if entry.Linked || entry.Chain[1] != 0 {
		t.Error("Unlink should clear the linked flag and chain pointers")
	}
}

func TestLinkUncachedBlocksFails(t *testing.T) {
	img := &fakeImage{base: 0x401000, code: []byte{0xC3}}
	e, err := New(testConfig(), img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	linked, err := e.Link(0x401000, 0x402000, 0)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if linked {
		t.Error("Link with neither block cached must fail")
	}
}
