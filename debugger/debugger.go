// Package debugger implements the interactive command-line and TUI
// front ends driving one service.DebuggerService session: breakpoints,
// watchpoints, expression evaluation, and step/continue control at the
// block granularity the translator executes at (execution is
// interruptible only at block boundaries).
package debugger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/binxlate/dbt/decode"
	"github.com/binxlate/dbt/service"
)

// Debugger wraps a service.DebuggerService with the interactive-session
// state a REPL or TUI needs on top of it: command history, the
// expression evaluator, and step-mode bookkeeping.
type Debugger struct {
	Svc *service.DebuggerService

	History   *CommandHistory
	Evaluator *ExpressionEvaluator

	Running           bool
	StepMode          StepMode
	StepOverReturnRIP uint64 // guest RIP the current "next" should return to

	Symbols   map[string]uint64
	SourceMap map[uint64]string

	LastCommand string
	Output      strings.Builder
}

// StepMode represents different stepping modes.
type StepMode int

const (
	StepNone   StepMode = iota
	StepSingle          // run exactly one block
	StepOver            // run blocks until a call's return address is reached
)

// NewDebugger creates a new debugger session over svc.
func NewDebugger(svc *service.DebuggerService) *Debugger {
	return &Debugger{
		Svc:       svc,
		History:   NewCommandHistory(DefaultHistorySize),
		Evaluator: NewExpressionEvaluator(),
		StepMode:  StepNone,
		Symbols:   make(map[string]uint64),
		SourceMap: make(map[uint64]string),
	}
}

// LoadSymbols loads the symbol table for label resolution.
func (d *Debugger) LoadSymbols(symbols map[string]uint64) {
	d.Symbols = symbols
}

// LoadSourceMap loads an address-to-source-line mapping, when available.
func (d *Debugger) LoadSourceMap(sourceMap map[uint64]string) {
	d.SourceMap = sourceMap
}

// ResolveAddress resolves a label to an address, or parses a numeric
// address.
func (d *Debugger) ResolveAddress(addrStr string) (uint64, error) {
	if addr, exists := d.Symbols[addrStr]; exists {
		return addr, nil
	}

	var addr uint64
	var err error
	if strings.HasPrefix(addrStr, "0x") || strings.HasPrefix(addrStr, "0X") {
		_, err = fmt.Sscanf(addrStr, "0x%x", &addr)
	} else {
		_, err = fmt.Sscanf(addrStr, "%d", &addr)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address: %s", addrStr)
	}
	return addr, nil
}

// ExecuteCommand processes and executes a debugger command.
func (d *Debugger) ExecuteCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)

	if cmdLine == "" {
		cmdLine = d.LastCommand
	}
	if cmdLine != "" {
		d.History.Add(cmdLine)
		d.LastCommand = cmdLine
	}

	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	return d.handleCommand(cmd, args)
}

// handleCommand dispatches commands to appropriate handlers.
func (d *Debugger) handleCommand(cmd string, args []string) error {
	switch cmd {
	case "run", "r":
		return d.cmdRun(args)
	case "continue", "c":
		return d.cmdContinue(args)
	case "step", "s", "si":
		return d.cmdStep(args)
	case "next", "n":
		return d.cmdNext(args)

	case "break", "b":
		return d.cmdBreak(args)
	case "tbreak", "tb":
		return d.cmdTBreak(args)
	case "delete", "d":
		return d.cmdDelete(args)
	case "enable":
		return d.cmdEnable(args)
	case "disable":
		return d.cmdDisable(args)

	case "watch", "w":
		return d.cmdWatch(args)

	case "print", "p":
		return d.cmdPrint(args)
	case "x":
		return d.cmdExamine(args)
	case "info", "i":
		return d.cmdInfo(args)
	case "backtrace", "bt", "where":
		return d.cmdBacktrace(args)

	case "set":
		return d.cmdSet(args)

	case "reset":
		return d.cmdReset(args)

	case "history":
		return d.cmdHistory(args)

	case "help", "h", "?":
		return d.cmdHelp(args)

	case "quit", "q":
		return ErrQuit

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// ErrQuit is the sentinel ExecuteCommand returns for "quit"/"q", letting
// a REPL front end distinguish a clean exit request from a real error.
var ErrQuit = errors.New("exit")

// ShouldStop is the service.StopFunc the REPL's "continue"/"next" loops
// supply: it checks step mode, breakpoints (with conditions), and
// watchpoints at each block boundary.
func (d *Debugger) ShouldStop(rip uint64) (bool, string) {
	switch d.StepMode {
	case StepSingle:
		d.StepMode = StepNone
		return true, "single step"

	case StepOver:
		if rip == d.StepOverReturnRIP {
			d.StepMode = StepNone
			return true, "step over complete"
		}
		return false, ""
	}

	if bp := d.Svc.Breakpoints.At(rip); bp != nil && bp.Enabled {
		if bp.Condition != "" {
			result, err := d.Evaluator.Evaluate(bp.Condition, d.Svc.Exec.State, d.Svc.Image, d.Symbols)
			if err != nil {
				return true, fmt.Sprintf("breakpoint %d (condition error: %v)", bp.ID, err)
			}
			if !result {
				return false, ""
			}
		}
		d.Svc.Breakpoints.Hit(rip)
		return true, fmt.Sprintf("breakpoint %d", bp.ID)
	}

	if wp, changed := d.Svc.Watchpoints.Check(d.Svc.Exec.State, d.Svc.Image); wp != nil && changed {
		return true, fmt.Sprintf("watchpoint %d: %s", wp.ID, wp.Expression)
	}

	return false, ""
}

// GetOutput returns and clears the output buffer.
func (d *Debugger) GetOutput() string {
	output := d.Output.String()
	d.Output.Reset()
	return output
}

// Printf writes formatted output to the output buffer.
func (d *Debugger) Printf(format string, args ...interface{}) {
	d.Output.WriteString(fmt.Sprintf(format, args...))
}

// Println writes a line to the output buffer.
func (d *Debugger) Println(args ...interface{}) {
	d.Output.WriteString(fmt.Sprintln(args...))
}

// isCallInstruction reports whether in is an x86_64 CALL (E8 rel32, or
// FF /2 indirect), the only case "next" needs to distinguish from a
// plain "step": stepping over a call means running blocks until guest
// execution returns past it rather than stopping at its first callee
// block.
func isCallInstruction(in *decode.Instruction) bool {
	if in.PrimaryOpcode == 0xE8 {
		return true
	}
	if in.PrimaryOpcode == 0xFF && in.HasModRM && in.RegField()&7 == 2 {
		return true
	}
	return false
}

// SetStepOver configures the debugger to step over the call at the
// current RIP, falling back to a single step when the current
// instruction isn't a call.
func (d *Debugger) SetStepOver() {
	rip := d.Svc.Exec.State.RIP
	window, err := d.Svc.Image.ReadAt(rip, 16)
	if err != nil {
		d.StepMode = StepSingle
		d.Running = true
		return
	}

	in, length, err := decode.Decode(window, len(window), rip)
	if err != nil || !isCallInstruction(&in) {
		d.StepMode = StepSingle
		d.Running = true
		return
	}

	d.StepOverReturnRIP = rip + uint64(length)
	d.StepMode = StepOver
	d.Running = true
}
