package emitter

import "testing"

func TestAppendAndBytes(t *testing.T) {
	b := NewCodeBuffer(16)
	b.AppendByte(0x90)
	b.AppendU32LE(0xDEADBEEF)
	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}
	want := []byte{0x90, 0xEF, 0xBE, 0xAD, 0xDE}
	got := b.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Bytes() = %x, want %x", got, want)
		}
	}
}

// TestOverflowIsSticky checks the poison rule: once overflow is set, no
// further bytes are appended and every subsequent append is a no-op.
func TestOverflowIsSticky(t *testing.T) {
	b := NewCodeBuffer(4)
	b.AppendU32LE(1) // fills exactly
	if b.Overflowed() {
		t.Fatal("buffer should not be overflowed yet")
	}
	b.AppendByte(0xFF) // one past capacity
	if !b.Overflowed() {
		t.Fatal("buffer should be overflowed")
	}
	lenBefore := b.Len()
	b.AppendU64LE(0x1122334455667788)
	if b.Len() != lenBefore {
		t.Error("append after overflow must no-op")
	}
}

func TestPatchU32LE(t *testing.T) {
	b := NewCodeBuffer(16)
	b.AppendU32LE(0) // placeholder
	off := 0
	b.PatchU32LE(off, 0x12345678)
	got := b.Bytes()
	if got[0] != 0x78 || got[1] != 0x56 || got[2] != 0x34 || got[3] != 0x12 {
		t.Errorf("patched bytes = %x, want little-endian 0x12345678", got)
	}
}

func TestPatchAfterOverflowIsNoOp(t *testing.T) {
	b := NewCodeBuffer(2)
	b.AppendU32LE(1) // overflows immediately (needs 4, has 2)
	if !b.Overflowed() {
		t.Fatal("expected overflow")
	}
	b.PatchU32LE(0, 0xFFFFFFFF) // must not panic or write
}

func TestWrapCodeBufferIsExternal(t *testing.T) {
	storage := make([]byte, 8)
	b := WrapCodeBuffer(storage)
	if !b.External() {
		t.Error("WrapCodeBuffer should report External() = true")
	}
	b.AppendU32LE(0xCAFEBABE)
	if storage[0] != 0xBE {
		t.Error("writes should land directly in the caller-owned storage")
	}
}
