// Package loader reads a raw guest x86_64 code image into a flat guest
// address space and resolves its entry point and symbol table, the
// engine.GuestMemory the block translator decodes from.
package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// Permission mirrors vm/memory.go's MemoryPermission bitset, trimmed to
// what a guest code segment needs: read, write, and execute.
type Permission byte

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermExecute
)

// segment is one contiguous region of guest address space.
type segment struct {
	name  string
	start uint64
	data  []byte
	perm  Permission
}

// DefaultLoadAddr is where a flat (headerless) guest image is mapped
// when the caller doesn't specify one, chosen clear of the null page.
const DefaultLoadAddr = 0x0040_0000

// magic identifies the loader's own minimal container format: a guest
// code image preceded by an entry point and load address, for test
// fixtures and tooling that don't want to fight a flat raw-binary
// convention. Files without this magic are treated as flat.
var magic = [4]byte{'D', 'B', 'T', '1'}

// Image is a loaded guest program: its code/data segments plus the
// guest instruction pointer execution should begin at. It implements
// engine.GuestMemory.
type Image struct {
	segments []segment
	Entry    uint64
	Symbols  map[string]uint64
}

// ReadAt returns up to n bytes of guest memory starting at addr, short
// reads happening only at the tail of a segment (the decoder only ever
// asks for a bounded lookahead window, so a short read is not an error
// unless it returns zero bytes).
func (im *Image) ReadAt(addr uint64, n int) ([]byte, error) {
	seg := im.segmentFor(addr)
	if seg == nil {
		return nil, fmt.Errorf("loader: read at %#x: unmapped guest address", addr)
	}
	off := int(addr - seg.start)
	end := off + n
	if end > len(seg.data) {
		end = len(seg.data)
	}
	if end <= off {
		return nil, fmt.Errorf("loader: read at %#x: past end of segment %q", addr, seg.name)
	}
	return seg.data[off:end], nil
}

// WriteAt writes data into the segment covering addr, used by the
// executor/syscall collaborator to materialise guest-visible side
// effects (e.g. a stack write) back into loaded memory.
func (im *Image) WriteAt(addr uint64, data []byte) error {
	seg := im.segmentFor(addr)
	if seg == nil || seg.perm&PermWrite == 0 {
		return fmt.Errorf("loader: write at %#x: not a writable guest address", addr)
	}
	off := int(addr - seg.start)
	if off+len(data) > len(seg.data) {
		return fmt.Errorf("loader: write at %#x: past end of segment %q", addr, seg.name)
	}
	copy(seg.data[off:], data)
	return nil
}

func (im *Image) segmentFor(addr uint64) *segment {
	for i := range im.segments {
		s := &im.segments[i]
		if addr >= s.start && addr < s.start+uint64(len(s.data)) {
			return s
		}
	}
	return nil
}

// Segments reports (name, start, size, perm) for every loaded region,
// used by the lint tool.
type SegmentInfo struct {
	Name  string
	Start uint64
	Size  int
	Perm  Permission
}

func (im *Image) Segments() []SegmentInfo {
	out := make([]SegmentInfo, 0, len(im.segments))
	for _, s := range im.segments {
		out = append(out, SegmentInfo{Name: s.name, Start: s.start, Size: len(s.data), Perm: s.perm})
	}
	return out
}

// SortedSymbols returns the image's symbol table ordered by address,
// the shape the disassembly formatter and debugger want for nearest-
// symbol lookups.
func (im *Image) SortedSymbols() []SymbolEntry {
	out := make([]SymbolEntry, 0, len(im.Symbols))
	for name, addr := range im.Symbols {
		out = append(out, SymbolEntry{Name: name, Addr: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

type SymbolEntry struct {
	Name string
	Addr uint64
}

// LoadFile opens path and loads it as a guest image. loadAddr and entry
// are used only for flat (headerless) images; a DBT1-container image
// carries its own.
func LoadFile(path string, loadAddr, entry uint64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()
	return Load(bufio.NewReader(f), loadAddr, entry)
}

// Load reads a guest image from r. See magic and loadContainer for the
// two supported encodings (DBT1 container or flat raw bytes).
func Load(r io.Reader, loadAddr, entry uint64) (*Image, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: reading image: %w", err)
	}
	if len(buf) >= 4 && [4]byte{buf[0], buf[1], buf[2], buf[3]} == magic {
		return loadContainer(buf)
	}
	return loadFlat(buf, loadAddr, entry), nil
}

func loadFlat(code []byte, loadAddr, entry uint64) *Image {
	if entry == 0 {
		entry = loadAddr
	}
	return &Image{
		segments: []segment{
			{name: "code", start: loadAddr, data: code, perm: PermRead | PermExecute | PermWrite},
		},
		Entry:   entry,
		Symbols: map[string]uint64{},
	}
}

// loadContainer decodes the DBT1 format:
//
//	4  bytes  magic "DBT1"
//	8  bytes  entry point (LE u64)
//	8  bytes  code load address (LE u64)
//	8  bytes  code length (LE u64)
//	N  bytes  code
//	4  bytes  symbol count (LE u32)
//	repeated: 2-byte name length, name bytes, 8-byte address (LE u64)
func loadContainer(buf []byte) (*Image, error) {
	const headerLen = 4 + 8 + 8 + 8
	if len(buf) < headerLen {
		return nil, fmt.Errorf("loader: truncated DBT1 header")
	}
	entry := binary.LittleEndian.Uint64(buf[4:12])
	loadAddr := binary.LittleEndian.Uint64(buf[12:20])
	codeLen := binary.LittleEndian.Uint64(buf[20:28])
	off := headerLen
	if uint64(len(buf)-off) < codeLen {
		return nil, fmt.Errorf("loader: truncated DBT1 code section")
	}
	code := make([]byte, codeLen)
	copy(code, buf[off:off+int(codeLen)])
	off += int(codeLen)

	symbols := map[string]uint64{}
	if off+4 <= len(buf) {
		count := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		for i := uint32(0); i < count; i++ {
			if off+2 > len(buf) {
				return nil, fmt.Errorf("loader: truncated DBT1 symbol table")
			}
			nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
			off += 2
			if off+nameLen+8 > len(buf) {
				return nil, fmt.Errorf("loader: truncated DBT1 symbol entry")
			}
			name := string(buf[off : off+nameLen])
			off += nameLen
			addr := binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
			symbols[name] = addr
		}
	}

	return &Image{
		segments: []segment{
			{name: "code", start: loadAddr, data: code, perm: PermRead | PermExecute | PermWrite},
		},
		Entry:   entry,
		Symbols: symbols,
	}, nil
}
