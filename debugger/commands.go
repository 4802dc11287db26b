package debugger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/binxlate/dbt/guest"
	"github.com/binxlate/dbt/service"
)

// Command handler implementations over service.DebuggerService's 64-bit
// guest registers and guest address space.
// "finish"/"rwatch"/"awatch"/"list" are deliberately absent:
// block-granularity execution has no call-stack tracking to step out of
// and no read/write-specific memory instrumentation to distinguish, and
// source-line mapping doesn't apply to a loaded binary image.

// cmdRun resets the session to its entry point and starts execution.
func (d *Debugger) cmdRun(args []string) error {
	d.Svc.Reset(d.Svc.Entry())
	d.Running = true
	d.StepMode = StepNone
	d.Println("Starting program execution...")
	return nil
}

// cmdContinue continues execution from the current point.
func (d *Debugger) cmdContinue(args []string) error {
	d.Running = true
	d.StepMode = StepNone
	d.Println("Continuing...")
	return nil
}

// cmdStep runs exactly one translated block.
func (d *Debugger) cmdStep(args []string) error {
	d.StepMode = StepSingle
	d.Running = true
	return nil
}

// cmdNext steps over a call instruction at the current RIP.
func (d *Debugger) cmdNext(args []string) error {
	d.SetStepOver()
	return nil
}

// cmdBreak sets a breakpoint.
func (d *Debugger) cmdBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <address|label> [if <condition>]")
	}

	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}

	var condition string
	if len(args) > 1 && strings.ToLower(args[1]) == "if" {
		condition = strings.Join(args[2:], " ")
	}

	bp := d.Svc.Breakpoints.Add(address, false, condition)
	if condition != "" {
		d.Printf("Breakpoint %d at %#x (condition: %s)\n", bp.ID, address, condition)
	} else {
		d.Printf("Breakpoint %d at %#x\n", bp.ID, address)
	}
	return nil
}

// cmdTBreak sets a temporary breakpoint (auto-delete after hit).
func (d *Debugger) cmdTBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tbreak <address|label>")
	}
	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}
	bp := d.Svc.Breakpoints.Add(address, true, "")
	d.Printf("Temporary breakpoint %d at %#x\n", bp.ID, address)
	return nil
}

// cmdDelete deletes breakpoint(s).
func (d *Debugger) cmdDelete(args []string) error {
	if len(args) == 0 {
		d.Svc.Breakpoints.Clear()
		d.Println("All breakpoints deleted")
		return nil
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}
	if err := d.Svc.Breakpoints.Delete(id); err != nil {
		return err
	}
	d.Printf("Breakpoint %d deleted\n", id)
	return nil
}

// cmdEnable enables a breakpoint by ID.
func (d *Debugger) cmdEnable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: enable <breakpoint-id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}
	if err := d.Svc.Breakpoints.SetEnabled(id, true); err != nil {
		return err
	}
	d.Printf("Breakpoint %d enabled\n", id)
	return nil
}

// cmdDisable disables a breakpoint by ID.
func (d *Debugger) cmdDisable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: disable <breakpoint-id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}
	if err := d.Svc.Breakpoints.SetEnabled(id, false); err != nil {
		return err
	}
	d.Printf("Breakpoint %d disabled\n", id)
	return nil
}

// cmdWatch sets a watchpoint on a register or memory word.
func (d *Debugger) cmdWatch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: watch <expression>")
	}

	expression := strings.Join(args, " ")
	isRegister, register, address, err := d.parseWatchExpression(expression)
	if err != nil {
		return err
	}

	wp := d.Svc.Watchpoints.Add(expression, address, isRegister, register)
	if err := d.Svc.Watchpoints.Initialize(wp.ID, d.Svc.Exec.State, d.Svc.Image); err != nil {
		d.Svc.Watchpoints.Delete(wp.ID)
		return err
	}
	d.Printf("Watchpoint %d: %s\n", wp.ID, expression)
	return nil
}

// parseWatchExpression parses a watch expression (register or memory
// address).
func (d *Debugger) parseWatchExpression(expr string) (isRegister bool, register int, address uint64, err error) {
	expr = strings.ToLower(strings.TrimSpace(expr))

	if idx, ok := service.RegisterIndex(expr); ok && idx >= 0 {
		return true, idx, 0, nil
	}

	if strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]") {
		addrStr := strings.TrimSuffix(strings.TrimPrefix(expr, "["), "]")
		addr, err := d.ResolveAddress(addrStr)
		if err != nil {
			return false, 0, 0, err
		}
		return false, 0, addr, nil
	}

	addr, err := d.ResolveAddress(expr)
	if err != nil {
		return false, 0, 0, fmt.Errorf("invalid watch expression: %s", expr)
	}
	return false, 0, addr, nil
}

// cmdPrint evaluates and prints an expression.
func (d *Debugger) cmdPrint(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <expression>")
	}

	expression := strings.Join(args, " ")
	result, err := d.Evaluator.EvaluateExpression(expression, d.Svc.Exec.State, d.Svc.Image, d.Symbols)
	if err != nil {
		return err
	}

	d.Printf("$%d = %#x (%d)\n", d.Evaluator.GetValueNumber(), result, int64(result))
	return nil
}

// cmdExamine examines memory at an address.
func (d *Debugger) cmdExamine(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: x[/nfu] <address>\n  n: count, f: format (x/d/u/o/t), u: unit size (b/h/w/g)")
	}

	count := 1
	format := 'x'
	unit := 'g'
	addrArg := args[0]

	if strings.HasPrefix(args[0], "/") {
		formatStr := args[0][1:]
		if len(args) < 2 {
			return fmt.Errorf("missing address")
		}
		addrArg = args[1]

		i := 0
		for i < len(formatStr) && formatStr[i] >= '0' && formatStr[i] <= '9' {
			i++
		}
		if i > 0 {
			if n, err := strconv.Atoi(formatStr[:i]); err == nil {
				count = n
			}
			formatStr = formatStr[i:]
		}
		if len(formatStr) > 0 {
			format = rune(formatStr[0])
			formatStr = formatStr[1:]
		}
		if len(formatStr) > 0 {
			unit = rune(formatStr[0])
		}
	}

	address, err := d.ResolveAddress(addrArg)
	if err != nil {
		return err
	}

	unitSize := 8
	switch unit {
	case 'b':
		unitSize = 1
	case 'h':
		unitSize = 2
	case 'w':
		unitSize = 4
	}

	d.Printf("%#x:", address)
	for i := 0; i < count; i++ {
		b, err := d.Svc.ReadMemory(address, unitSize)
		if err != nil {
			return err
		}
		var buf [8]byte
		copy(buf[:], b)
		value := binary.LittleEndian.Uint64(buf[:])
		address += uint64(unitSize)

		switch format {
		case 'd':
			d.Printf(" %d", int64(value))
		case 'u':
			d.Printf(" %d", value)
		case 'o':
			d.Printf(" %o", value)
		case 't':
			d.Printf(" %b", value)
		default:
			d.Printf(" %#x", value)
		}
	}
	d.Println()

	return nil
}

// cmdHistory prints the command history, optionally filtered by a
// substring.
func (d *Debugger) cmdHistory(args []string) error {
	entries := d.History.Entries()
	if len(args) > 0 {
		entries = d.History.Search(strings.Join(args, " "))
	}
	for i, e := range entries {
		d.Printf("  %d  %s\n", i+1, e)
	}
	return nil
}

// cmdInfo displays information about program state.
func (d *Debugger) cmdInfo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: info <registers|breakpoints|watchpoints|stack|cache|arena>")
	}

	switch strings.ToLower(args[0]) {
	case "registers", "reg", "r":
		return d.showRegisters()
	case "breakpoints", "break", "b":
		return d.showBreakpoints()
	case "watchpoints", "watch", "w":
		return d.showWatchpoints()
	case "stack", "s":
		return d.showStack()
	case "cache":
		return d.showCache()
	case "arena":
		return d.showArena()
	default:
		return fmt.Errorf("unknown info command: %s", args[0])
	}
}

func (d *Debugger) showRegisters() error {
	regs := d.Svc.Registers()
	d.Println("Registers:")
	for i, name := range service.RegisterNameList() {
		d.Printf("  %-4s = %#018x (%d)\n", strings.ToUpper(name), regs.GPR[i], int64(regs.GPR[i]))
	}
	d.Printf("  RIP  = %#018x\n", regs.RIP)

	flags := ""
	for _, f := range []struct {
		name string
		set  bool
	}{{"CF", regs.Flags.CF}, {"ZF", regs.Flags.ZF}, {"SF", regs.Flags.SF}, {"DF", regs.Flags.DF}, {"OF", regs.Flags.OF}} {
		if f.set {
			flags += f.name + " "
		}
	}
	d.Printf("  FLAGS = [%s]\n", strings.TrimSpace(flags))
	d.Printf("  blocks executed = %d\n", regs.Blocks)

	return nil
}

func (d *Debugger) showBreakpoints() error {
	breakpoints := d.Svc.Breakpoints.All()
	if len(breakpoints) == 0 {
		d.Println("No breakpoints")
		return nil
	}

	d.Println("Breakpoints:")
	for _, bp := range breakpoints {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}
		temp := ""
		if bp.Temporary {
			temp = " (temporary)"
		}
		condition := ""
		if bp.Condition != "" {
			condition = fmt.Sprintf(" if %s", bp.Condition)
		}
		d.Printf("  %d: %#x %s%s%s (hit %d times)\n", bp.ID, bp.Address, status, temp, condition, bp.HitCount)
	}
	return nil
}

func (d *Debugger) showWatchpoints() error {
	watchpoints := d.Svc.Watchpoints.All()
	if len(watchpoints) == 0 {
		d.Println("No watchpoints")
		return nil
	}

	d.Println("Watchpoints:")
	for _, wp := range watchpoints {
		status := "enabled"
		if !wp.Enabled {
			status = "disabled"
		}
		d.Printf("  %d: %s %s (hit %d times, last value: %#x)\n", wp.ID, wp.Expression, status, wp.HitCount, wp.LastValue)
	}
	return nil
}

func (d *Debugger) showStack() error {
	regs := d.Svc.Registers()
	d.Printf("Stack (RSP = %#x):\n", regs.GPR[guest.RSP])

	entries, err := d.Svc.Stack(StackListWords)
	if err != nil {
		return err
	}
	for _, e := range entries {
		d.Printf("  %#x: %#x (%d)\n", e.Address, e.Value, int64(e.Value))
	}
	return nil
}

func (d *Debugger) showCache() error {
	lookups, hits, misses, occupancy := d.Svc.CacheStats()
	d.Printf("Cache: %d lookups, %d hits, %d misses (%.1f%% occupancy)\n",
		lookups, hits, misses, occupancy*100)
	return nil
}

func (d *Debugger) showArena() error {
	used, capacity := d.Svc.ArenaUsage()
	d.Printf("Arena: %d/%d bytes used (%.1f%%)\n", used, capacity, 100*float64(used)/float64(capacity))
	return nil
}

// cmdBacktrace shows a best-effort call stack: the current RIP and the
// topmost guest-stack word, since block-granularity translation doesn't
// maintain a shadow call stack of its own.
func (d *Debugger) cmdBacktrace(args []string) error {
	regs := d.Svc.Registers()
	d.Println("Call stack:")
	d.Printf("  #0  RIP=%#x\n", regs.RIP)

	entries, err := d.Svc.Stack(1)
	if err == nil && len(entries) == 1 {
		d.Printf("  #1  return address (guess) = %#x\n", entries[0].Value)
	}
	return nil
}

// cmdSet modifies a register or memory value.
func (d *Debugger) cmdSet(args []string) error {
	if len(args) < 3 || args[1] != "=" {
		return fmt.Errorf("usage: set <register|*address> = <value>")
	}

	target := strings.ToLower(args[0])
	valueStr := args[2]

	value, err := d.Evaluator.EvaluateExpression(valueStr, d.Svc.Exec.State, d.Svc.Image, d.Symbols)
	if err != nil {
		return err
	}

	if strings.HasPrefix(target, "*") {
		address, err := d.ResolveAddress(target[1:])
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], value)
		if err := d.Svc.WriteMemory(address, buf[:]); err != nil {
			return err
		}
		d.Printf("Memory %#x set to %#x\n", address, value)
		return nil
	}

	if err := d.Svc.SetRegister(target, value); err != nil {
		return err
	}
	d.Printf("Register %s set to %#x\n", target, value)
	return nil
}

// cmdReset resets guest execution back to the image's entry point.
func (d *Debugger) cmdReset(args []string) error {
	d.Svc.Reset(d.Svc.Entry())
	d.Println("Execution reset")
	return nil
}

// cmdHelp displays help information.
func (d *Debugger) cmdHelp(args []string) error {
	if len(args) > 0 {
		return d.showCommandHelp(args[0])
	}

	d.Println("Debugger commands:")
	d.Println()
	d.Println("Execution control:")
	d.Println("  run (r)           - Start program execution")
	d.Println("  continue (c)      - Continue execution")
	d.Println("  step (s, si)      - Run a single translated block")
	d.Println("  next (n)          - Step over a call instruction")
	d.Println()
	d.Println("Breakpoints:")
	d.Println("  break (b) <addr>  - Set breakpoint")
	d.Println("  tbreak (tb) <addr>- Set temporary breakpoint")
	d.Println("  delete (d) [id]   - Delete breakpoint(s)")
	d.Println("  enable <id>       - Enable breakpoint")
	d.Println("  disable <id>      - Disable breakpoint")
	d.Println()
	d.Println("Watchpoints:")
	d.Println("  watch (w) <expr>  - Watch a register or memory word")
	d.Println()
	d.Println("Inspection:")
	d.Println("  print (p) <expr>  - Evaluate expression")
	d.Println("  x[/nfu] <addr>    - Examine memory")
	d.Println("  info (i) <what>   - Show registers/breakpoints/watchpoints/stack/cache/arena")
	d.Println("  backtrace (bt)    - Best-effort call stack")
	d.Println("  history [substr]  - Show command history")
	d.Println()
	d.Println("Modification:")
	d.Println("  set <var> = <val> - Modify register/memory")
	d.Println()
	d.Println("Control:")
	d.Println("  reset             - Reset execution to entry")
	d.Println("  help (h, ?)       - Show this help")
	d.Println()
	d.Println("Type 'help <command>' for detailed help on a specific command.")

	return nil
}

func (d *Debugger) showCommandHelp(cmd string) error {
	helpText := map[string]string{
		"break": "break <address|label> [if <condition>]\n  Set a breakpoint at the specified address or label.\n  Optional condition is evaluated each time the block boundary is reached.",
		"step":  "step\n  Run a single translated block.",
		"next":  "next\n  Step over a call instruction (run blocks until its return address is reached).",
		"print": "print <expression>\n  Evaluate and print an expression.\n  Expressions can include registers, memory, symbols, and arithmetic.",
		"x":     "x[/nfu] <address>\n  Examine memory.\n  n: count, f: format (x/d/u/o/t), u: unit (b/h/w/g)",
		"info":  "info <registers|breakpoints|watchpoints|stack|cache|arena>\n  Display information about program state.",
	}

	if help, exists := helpText[cmd]; exists {
		d.Println(help)
		return nil
	}
	return fmt.Errorf("no help available for command: %s", cmd)
}
