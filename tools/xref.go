package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/loader"
)

// ReferenceType indicates how an address is referenced by a decoded
// instruction.
type ReferenceType int

const (
	RefDefinition ReferenceType = iota // a symbol is defined here
	RefBranch                          // a conditional or unconditional jump targets it
	RefCall                            // a CALL targets it
)

func (r ReferenceType) String() string {
	switch r {
	case RefDefinition:
		return "definition"
	case RefBranch:
		return "branch"
	case RefCall:
		return "call"
	default:
		return "unknown"
	}
}

// Reference is a single use of an address, recording where it came from.
type Reference struct {
	Type ReferenceType
	From uint64
}

// XRefSymbol is an address and every reference found to it. Named
// addresses carry the loader's symbol table entry; unnamed branch/call
// targets get a synthesized "loc_"/"sub_" name the way a disassembler
// would.
type XRefSymbol struct {
	Name       string
	Address    uint64
	References []*Reference
	IsFunction bool // has at least one RefCall reference
}

// XRefGenerator builds a cross-reference table for a decoded guest
// address range: every branch and call target found, keyed by address.
type XRefGenerator struct {
	symbols map[uint64]*XRefSymbol
}

// NewXRefGenerator creates an empty cross-reference generator.
func NewXRefGenerator() *XRefGenerator {
	return &XRefGenerator{symbols: make(map[uint64]*XRefSymbol)}
}

func (x *XRefGenerator) entry(addr uint64, name string) *XRefSymbol {
	sym, ok := x.symbols[addr]
	if !ok {
		sym = &XRefSymbol{Name: name, Address: addr}
		x.symbols[addr] = sym
	} else if sym.Name == "" {
		sym.Name = name
	}
	return sym
}

// Generate decodes up to count instructions from image starting at addr
// and records every named symbol and every branch/call target found.
func (x *XRefGenerator) Generate(image *loader.Image, addr uint64, count int) (map[uint64]*XRefSymbol, error) {
	for _, sym := range image.SortedSymbols() {
		x.entry(sym.Addr, sym.Name)
	}

	ip := addr
	for i := 0; i < count; i++ {
		window, err := image.ReadAt(ip, 16)
		if err != nil {
			return x.symbols, err
		}
		if len(window) == 0 {
			break
		}

		in, length, err := decode.Decode(window, len(window), ip)
		if err != nil || length == 0 {
			ip++
			continue
		}

		if in.Classify() == decode.CategoryBranch {
			if target, ok := directBranchTarget(&in, ip, length); ok {
				refType := RefBranch
				name := fmt.Sprintf("loc_%x", target)
				if in.PrimaryOpcode == 0xE8 {
					refType = RefCall
					name = fmt.Sprintf("sub_%x", target)
				}
				sym := x.entry(target, name)
				sym.References = append(sym.References, &Reference{Type: refType, From: ip})
				if refType == RefCall {
					sym.IsFunction = true
				}
			}
		}

		ip += uint64(length)
	}

	return x.symbols, nil
}

// GetSymbols returns every address recorded so far.
func (x *XRefGenerator) GetSymbols() map[uint64]*XRefSymbol {
	return x.symbols
}

// GetSymbol looks up a single address.
func (x *XRefGenerator) GetSymbol(addr uint64) (*XRefSymbol, bool) {
	sym, ok := x.symbols[addr]
	return sym, ok
}

// GetFunctions returns every address reached by at least one CALL,
// sorted by address.
func (x *XRefGenerator) GetFunctions() []*XRefSymbol {
	var out []*XRefSymbol
	for _, sym := range x.symbols {
		if sym.IsFunction {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// GetUnreferenced returns every named symbol nothing in the decoded
// range branches or calls into.
func (x *XRefGenerator) GetUnreferenced() []*XRefSymbol {
	var out []*XRefSymbol
	for _, sym := range x.symbols {
		if sym.Name != "" && len(sym.References) == 0 {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// String renders a human-readable cross-reference report, symbols sorted
// by address.
func (x *XRefGenerator) String() string {
	var addrs []uint64
	for addr := range x.symbols {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var b strings.Builder
	for _, addr := range addrs {
		sym := x.symbols[addr]
		label := sym.Name
		if label == "" {
			label = fmt.Sprintf("%#x", addr)
		}
		fmt.Fprintf(&b, "%s (%#x):\n", label, addr)
		for _, ref := range sym.References {
			fmt.Fprintf(&b, "  %s from %#x\n", ref.Type, ref.From)
		}
	}
	return b.String()
}

// GenerateXRef is a convenience wrapper returning the rendered report.
func GenerateXRef(image *loader.Image, addr uint64, count int) (string, error) {
	gen := NewXRefGenerator()
	if _, err := gen.Generate(image, addr, count); err != nil && len(gen.symbols) == 0 {
		return "", err
	}
	return gen.String(), nil
}
