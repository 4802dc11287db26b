// Package arena implements the code arena: a bump-allocated pool of
// executable host memory that enforces W^X (never simultaneously
// writable and executable) by toggling real page protection through
// golang.org/x/sys/unix, the idiom the other_examples/ wazero reference
// material uses for its own JIT code buffers.
package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrExhausted is returned by Allocate when the arena has no room left
// for the requested size.
var ErrExhausted = fmt.Errorf("arena: exhausted")

// Arena is one mmap'd region, bump-allocated from the front. Every
// Allocate either extends the writable high-water mark or fails outright;
// there is no per-allocation free, only a single whole-arena reset.
type Arena struct {
	mem      []byte
	cursor   int
	capacity int
	writable bool // current mprotect state: true=RW, false=RX
}

// New mmaps a fresh anonymous region of size bytes, initially writable
// so the first block can be copied in.
func New(size int) (*Arena, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}
	return &Arena{mem: mem, capacity: size, writable: true}, nil
}

// Close unmaps the backing region. The caller must not touch any address
// obtained from this arena afterward.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Len returns the number of bytes currently allocated.
func (a *Arena) Len() int { return a.cursor }

// Cap returns the arena's total capacity.
func (a *Arena) Cap() int { return a.capacity }

// Remaining returns the number of bytes still available.
func (a *Arena) Remaining() int { return a.capacity - a.cursor }

// alignUp rounds n up to the next multiple of align, which must be a
// power of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Allocate reserves size bytes aligned to align (use 4 for ARM64
// instruction words, 16 for SIMD alignment if ever needed) and returns a
// writable slice over them. The arena must be in its writable state
// (MakeWritable) before calling this.
func (a *Arena) Allocate(size, align int) ([]byte, uintptr, error) {
	if !a.writable {
		return nil, 0, fmt.Errorf("arena: allocate called while executable (must MakeWritable first)")
	}
	start := alignUp(a.cursor, align)
	if start+size > a.capacity {
		return nil, 0, ErrExhausted
	}
	a.cursor = start + size
	base := uintptr(unsafe.Pointer(&a.mem[0]))
	return a.mem[start : start+size], base + uintptr(start), nil
}

// MakeExecutable flips the whole arena from RW to RX, the execute half of
// the W^X toggle, and must be called before any translated code in it
// runs.
func (a *Arena) MakeExecutable() error {
	if !a.writable {
		return nil
	}
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("arena: mprotect RX: %w", err)
	}
	a.writable = false
	return nil
}

// MakeWritable flips the arena back from RX to RW so new blocks can be
// copied in. Callers toggle this around every batch of installs rather
// than per-instruction, since mprotect is a syscall.
func (a *Arena) MakeWritable() error {
	if a.writable {
		return nil
	}
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("arena: mprotect RW: %w", err)
	}
	a.writable = true
	return nil
}

// Reset rewinds the bump cursor to zero without zeroing memory. The
// caller is responsible for also flushing the translation cache, since
// every previously-valid host address is now considered garbage.
func (a *Arena) Reset() {
	a.cursor = 0
}

// BaseAddr returns the arena's starting host address.
func (a *Arena) BaseAddr() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// Contains reports whether [addr, addr+size) lies inside the arena's
// allocated prefix.
func (a *Arena) Contains(addr uintptr, size int) bool {
	base := a.BaseAddr()
	return addr >= base && addr+uintptr(size) <= base+uintptr(a.cursor)
}

// Slice returns the writable byte window over [addr, addr+size), used by
// the linker to patch an already-installed block in place. The range must
// lie inside the allocated prefix and the arena must be writable.
func (a *Arena) Slice(addr uintptr, size int) ([]byte, error) {
	if !a.writable {
		return nil, fmt.Errorf("arena: slice requested while executable (must MakeWritable first)")
	}
	if !a.Contains(addr, size) {
		return nil, fmt.Errorf("arena: range %#x+%d outside allocated region", addr, size)
	}
	off := int(addr - a.BaseAddr())
	return a.mem[off : off+size], nil
}

// Sync performs the range-based instruction-cache synchronisation
// required between writing a region and executing it. On
// Linux the RW->RX mprotect transition in MakeExecutable already
// performs the necessary icache maintenance when the pages regain
// execute permission, so on this platform Sync only validates the range;
// it is the single hook a port to a platform with an explicit
// range-invalidate primitive (e.g. __builtin___clear_cache via a cgo
// shim) replaces.
func (a *Arena) Sync(addr uintptr, size int) error {
	if !a.Contains(addr, size) {
		return fmt.Errorf("arena: sync range %#x+%d outside allocated region", addr, size)
	}
	return nil
}
