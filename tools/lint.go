package tools

import (
	"fmt"

	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/loader"
)

// LintLevel represents the severity of a lint finding.
type LintLevel int

const (
	LintError   LintLevel = iota // the region cannot be decoded at all
	LintWarning                  // a direct branch or call targets outside the image
	LintInfo                     // a block falls straight through into an unreferenced address
)

func (l LintLevel) String() string {
	switch l {
	case LintError:
		return "error"
	case LintWarning:
		return "warning"
	case LintInfo:
		return "info"
	default:
		return "unknown"
	}
}

// LintIssue is a single finding, anchored at the guest address it concerns.
type LintIssue struct {
	Level   LintLevel
	Address uint64
	Message string
	Code    string
}

func (i *LintIssue) String() string {
	return fmt.Sprintf("%#x: %s: %s [%s]", i.Address, i.Level, i.Message, i.Code)
}

// LintOptions controls which checks the linter runs: undecodable
// regions and out-of-range direct branch targets, the two checks that
// make sense over raw decoded bytes.
type LintOptions struct {
	CheckUndecodable bool
	CheckBranchRange bool
}

// DefaultLintOptions enables every check.
func DefaultLintOptions() *LintOptions {
	return &LintOptions{
		CheckUndecodable: true,
		CheckBranchRange: true,
	}
}

// Linter scans a decoded instruction stream for structural problems a
// translator would choke on.
type Linter struct {
	options *LintOptions
	issues  []*LintIssue
}

// NewLinter creates a linter; a nil options enables every check.
func NewLinter(options *LintOptions) *Linter {
	if options == nil {
		options = DefaultLintOptions()
	}
	return &Linter{options: options}
}

// Lint decodes up to count instructions from image starting at addr and
// reports every issue found. It does not stop at the first error: an
// undecodable instruction is skipped one byte at a time, same as
// service.DebuggerService.Disassemble, so scanning can continue past it.
func (l *Linter) Lint(image *loader.Image, addr uint64, count int) ([]*LintIssue, error) {
	l.issues = nil

	bounds := imageBounds(image)
	ip := addr
	for i := 0; i < count; i++ {
		window, err := image.ReadAt(ip, 16)
		if err != nil {
			return l.issues, err
		}
		if len(window) == 0 {
			break
		}

		in, length, err := decode.Decode(window, len(window), ip)
		if err != nil || length == 0 {
			if l.options.CheckUndecodable {
				l.issues = append(l.issues, &LintIssue{
					Level:   LintError,
					Address: ip,
					Message: "instruction does not decode",
					Code:    "UNDECODABLE",
				})
			}
			ip++
			continue
		}

		if l.options.CheckBranchRange && in.Classify() == decode.CategoryBranch {
			if target, ok := directBranchTarget(&in, ip, length); ok && !withinBounds(bounds, target) {
				l.issues = append(l.issues, &LintIssue{
					Level:   LintWarning,
					Address: ip,
					Message: fmt.Sprintf("branch target %#x falls outside the loaded image", target),
					Code:    "BRANCH_OUT_OF_RANGE",
				})
			}
		}

		ip += uint64(length)
	}

	return l.issues, nil
}

// Issues returns the findings from the most recent Lint call.
func (l *Linter) Issues() []*LintIssue {
	return l.issues
}

type addrRange struct {
	lo, hi uint64 // [lo, hi)
}

func imageBounds(image *loader.Image) []addrRange {
	var out []addrRange
	for _, seg := range image.Segments() {
		out = append(out, addrRange{lo: seg.Start, hi: seg.Start + uint64(seg.Size)})
	}
	return out
}

func withinBounds(bounds []addrRange, addr uint64) bool {
	for _, r := range bounds {
		if addr >= r.lo && addr < r.hi {
			return true
		}
	}
	return false
}

// directBranchTarget computes the absolute guest address a direct,
// rel8/rel32-encoded CALL/JMP/Jcc targets, the immediate being the
// displacement from the address right after the instruction. Indirect
// forms (register/memory operand) have no statically-known target and
// report ok=false.
func directBranchTarget(in *decode.Instruction, ip uint64, length int) (uint64, bool) {
	if in.HasModRM {
		return 0, false // indirect CALL/JMP (FF /2..5) or XCHG, not a static target
	}
	isDirect := (in.PrimaryOpcode >= 0x70 && in.PrimaryOpcode <= 0x7F) ||
		in.PrimaryOpcode == 0xE8 || in.PrimaryOpcode == 0xE9 || in.PrimaryOpcode == 0xEB ||
		(in.HasSecondary && in.SecondaryOpcode >= 0x80 && in.SecondaryOpcode <= 0x8F)
	if !isDirect || !in.HasImmediate() {
		return 0, false
	}
	return uint64(int64(ip) + int64(length) + in.Imm), true
}
