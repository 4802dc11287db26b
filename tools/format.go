// Package tools hosts the disassembly pretty-printer, the guest-image
// linter, and the guest-address cross-referencer built on top of the
// decoder and loader packages, all operating over decoded raw guest
// bytes.
package tools

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/loader"
)

// FormatStyle selects a disassembly layout.
type FormatStyle int

const (
	FormatDefault  FormatStyle = iota // address, bytes, category, symbol in fixed columns
	FormatCompact                     // single space-separated line per instruction
	FormatExpanded                    // wider columns, bytes grouped for readability
)

// FormatOptions controls the pretty-printer's disassembly column layout
// (address/bytes/category/symbol).
type FormatOptions struct {
	Style          FormatStyle
	ShowBytes      bool
	AddressColumn  int
	BytesColumn    int
	CategoryColumn int
	SymbolColumn   int
}

// DefaultFormatOptions returns the standard column layout.
func DefaultFormatOptions() *FormatOptions {
	return &FormatOptions{
		Style:          FormatDefault,
		ShowBytes:      true,
		AddressColumn:  0,
		BytesColumn:    19,
		CategoryColumn: 40,
		SymbolColumn:   50,
	}
}

// CompactFormatOptions returns a minimal-whitespace layout.
func CompactFormatOptions() *FormatOptions {
	opts := DefaultFormatOptions()
	opts.Style = FormatCompact
	opts.ShowBytes = false
	return opts
}

// ExpandedFormatOptions returns a wide layout with extra spacing.
func ExpandedFormatOptions() *FormatOptions {
	opts := DefaultFormatOptions()
	opts.Style = FormatExpanded
	opts.BytesColumn = 24
	opts.CategoryColumn = 50
	opts.SymbolColumn = 64
	return opts
}

// DecodedLine is one decoded guest instruction ready for display, the
// tools-package analogue of service.DisassemblyLine kept dependency-free
// of the service package.
type DecodedLine struct {
	Address  uint64
	Length   int
	Category string
	Bytes    []byte
	Symbol   string
}

// Formatter renders DecodedLines as text.
type Formatter struct {
	options *FormatOptions
}

// NewFormatter creates a formatter; a nil options uses the defaults.
func NewFormatter(options *FormatOptions) *Formatter {
	if options == nil {
		options = DefaultFormatOptions()
	}
	return &Formatter{options: options}
}

// FormatLine renders a single decoded instruction.
func (f *Formatter) FormatLine(line DecodedLine) string {
	var b strings.Builder

	addr := fmt.Sprintf("%#016x", line.Address)
	if f.options.Style == FormatCompact {
		b.WriteString(addr)
		if f.options.ShowBytes {
			b.WriteString(" ")
			b.WriteString(hex.EncodeToString(line.Bytes))
		}
		b.WriteString(" ")
		b.WriteString(line.Category)
		if line.Symbol != "" {
			b.WriteString(" <")
			b.WriteString(line.Symbol)
			b.WriteString(">")
		}
		return b.String()
	}

	b.WriteString(addr)
	padTo(&b, f.options.BytesColumn)
	if f.options.ShowBytes {
		b.WriteString(hex.EncodeToString(line.Bytes))
	}
	padTo(&b, f.options.CategoryColumn)
	b.WriteString(line.Category)
	if line.Symbol != "" {
		padTo(&b, f.options.SymbolColumn)
		b.WriteString("; ")
		b.WriteString(line.Symbol)
	}
	return b.String()
}

// FormatLines renders a sequence of decoded instructions, one per line.
func (f *Formatter) FormatLines(lines []DecodedLine) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(f.FormatLine(line))
		b.WriteString("\n")
	}
	return b.String()
}

func padTo(b *strings.Builder, column int) {
	if b.Len() >= column {
		b.WriteString(" ")
		return
	}
	b.WriteString(strings.Repeat(" ", column-b.Len()))
}

// DecodeRange decodes up to count instructions from image starting at
// addr, recovering from an undecodable byte the same way
// service.DebuggerService.Disassemble does: emit a one-byte "undecodable"
// entry and advance past it rather than aborting.
func DecodeRange(image *loader.Image, addr uint64, count int) ([]DecodedLine, error) {
	symbols := image.SortedSymbols()
	out := make([]DecodedLine, 0, count)
	ip := addr
	for i := 0; i < count; i++ {
		window, err := image.ReadAt(ip, 16)
		if err != nil {
			return out, err
		}
		in, length, err := decode.Decode(window, len(window), ip)
		if err != nil || length == 0 {
			n := 1
			if len(window) < n {
				n = len(window)
			}
			out = append(out, DecodedLine{Address: ip, Length: 1, Category: "undecodable", Bytes: append([]byte(nil), window[:n]...)})
			ip++
			continue
		}
		out = append(out, DecodedLine{
			Address:  ip,
			Length:   length,
			Category: in.Classify().String(),
			Bytes:    append([]byte(nil), window[:length]...),
			Symbol:   symbolAt(symbols, ip),
		})
		ip += uint64(length)
	}
	return out, nil
}

func symbolAt(symbols []loader.SymbolEntry, addr uint64) string {
	for _, sym := range symbols {
		if sym.Addr == addr {
			return sym.Name
		}
	}
	return ""
}

// FormatImage decodes count instructions from image starting at addr and
// renders them with the given options (nil for the defaults).
func FormatImage(image *loader.Image, addr uint64, count int, opts *FormatOptions) (string, error) {
	lines, err := DecodeRange(image, addr, count)
	if err != nil && len(lines) == 0 {
		return "", err
	}
	return NewFormatter(opts).FormatLines(lines), nil
}
