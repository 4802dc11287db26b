package debugger

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUI is the tview-based full-screen debugger front end, rendering a
// service.DebuggerService session's 64-bit guest state and calling
// service.Disassemble over raw
// guest bytes.
type TUI struct {
	Debugger *Debugger
	App      *tview.Application
	Pages    *tview.Pages

	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	DisassemblyView *tview.TextView
	RegisterView    *tview.TextView
	MemoryView      *tview.TextView
	StackView       *tview.TextView
	BreakpointsView *tview.TextView
	OutputView      *tview.TextView
	CommandInput    *tview.InputField

	MemoryAddress uint64
	Running       bool
}

// NewTUI creates a new text user interface over dbg.
func NewTUI(dbg *Debugger) *TUI {
	return newTUI(dbg, tview.NewApplication())
}

// NewTUIWithScreen creates a TUI bound to an explicit tcell.Screen,
// letting tests drive it against a simulation screen instead of a real
// terminal.
func NewTUIWithScreen(dbg *Debugger, screen tcell.Screen) *TUI {
	app := tview.NewApplication().SetScreen(screen)
	return newTUI(dbg, app)
}

func newTUI(dbg *Debugger, app *tview.Application) *TUI {
	tui := &TUI{
		Debugger: dbg,
		App:      app,
	}

	tui.initializeViews()
	tui.buildLayout()
	tui.setupKeyBindings()

	return tui
}

func (t *TUI) initializeViews() {
	t.DisassemblyView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	t.RegisterView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	t.RegisterView.SetBorder(true).SetTitle(" Registers ")

	t.MemoryView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.MemoryView.SetBorder(true).SetTitle(" Memory ")

	t.StackView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.StackView.SetBorder(true).SetTitle(" Stack ")

	t.BreakpointsView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.BreakpointsView.SetBorder(true).SetTitle(" Breakpoints/Watchpoints ")

	t.OutputView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.CommandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	t.CommandInput.SetBorder(true).SetTitle(" Command ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	rightTop := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.RegisterView, 12, 0, false).
		AddItem(t.MemoryView, 0, 1, false).
		AddItem(t.StackView, 0, 1, false)

	t.RightPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(t.BreakpointsView, 8, 0, false)

	t.LeftPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.DisassemblyView, 0, 1, false)

	mainContent := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.LeftPanel, 0, 2, false).
		AddItem(t.RightPanel, 0, 1, false)

	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainContent, 0, 4, false).
		AddItem(t.OutputView, 8, 0, false).
		AddItem(t.CommandInput, 3, 0, true)

	t.Pages = tview.NewPages().
		AddPage("main", t.MainLayout, true, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			t.executeCommand("help")
			return nil
		case tcell.KeyF5:
			t.executeCommand("continue")
			return nil
		case tcell.KeyF9:
			t.executeCommand("break")
			return nil
		case tcell.KeyF10:
			t.executeCommand("next")
			return nil
		case tcell.KeyF11:
			t.executeCommand("step")
			return nil
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			t.RefreshAll()
			return nil
		}
		return event
	})
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key == tcell.KeyEnter {
		cmd := t.CommandInput.GetText()
		if cmd != "" {
			t.executeCommand(cmd)
			t.CommandInput.SetText("")
		}
	}
}

func (t *TUI) executeCommand(cmd string) {
	t.Debugger.Output.Reset()

	err := t.Debugger.ExecuteCommand(cmd)
	output := t.Debugger.GetOutput()

	if err != nil {
		t.WriteOutput(fmt.Sprintf("[red]Error:[white] %v\n", err))
	}
	if output != "" {
		t.WriteOutput(output)
	}

	if t.Debugger.Running {
		exit, reason, runErr := t.Debugger.Svc.Continue(t.Debugger.ShouldStop, 0)
		t.Debugger.Running = false
		if runErr != nil {
			t.WriteOutput(fmt.Sprintf("[red]Runtime error:[white] %v\n", runErr))
		} else {
			t.WriteOutput(fmt.Sprintf("Stopped: %s (%v) at RIP=%#x\n", reason, exit.Reason, t.Debugger.Svc.Exec.State.RIP))
		}
	}

	t.RefreshAll()
}

// WriteOutput writes to the output view.
func (t *TUI) WriteOutput(text string) {
	_, _ = t.OutputView.Write([]byte(text))
	t.OutputView.ScrollToEnd()
}

// RefreshAll refreshes all view panels. It does not call App.Draw, which
// waits on the event loop; the application redraws when Run starts and
// after each event it handles.
func (t *TUI) RefreshAll() {
	t.UpdateRegisterView()
	t.UpdateMemoryView()
	t.UpdateStackView()
	t.UpdateDisassemblyView()
	t.UpdateBreakpointsView()
}

func (t *TUI) UpdateRegisterView() {
	t.RegisterView.Clear()

	regs := t.Debugger.Svc.Registers()
	var lines []string

	names := []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	for i := 0; i < 4; i++ {
		var cols []string
		for j := 0; j < 4; j++ {
			reg := i*4 + j
			cols = append(cols, fmt.Sprintf("%-4s: 0x%016X", strings.ToUpper(names[reg]), regs.GPR[reg]))
		}
		lines = append(lines, strings.Join(cols, "  "))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("RIP : 0x%016X", regs.RIP))

	flag := func(set bool, c string) string {
		if set {
			return "[green]" + c + "[white]"
		}
		return strings.ToLower(c)
	}
	flags := flag(regs.Flags.CF, "C") + flag(regs.Flags.ZF, "Z") + flag(regs.Flags.SF, "S") +
		flag(regs.Flags.DF, "D") + flag(regs.Flags.OF, "O")
	lines = append(lines, fmt.Sprintf("Flags: %s", flags))
	lines = append(lines, fmt.Sprintf("Blocks executed: %d", regs.Blocks))

	t.RegisterView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) UpdateMemoryView() {
	t.MemoryView.Clear()

	addr := t.MemoryAddress
	if addr == 0 {
		addr = t.Debugger.Svc.Exec.State.RIP
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]Address: 0x%016X[white]", addr))

	for row := 0; row < MemoryViewRows; row++ {
		rowAddr := addr + uint64(row*MemoryViewBytesPerRow)

		window, err := t.Debugger.Svc.ReadMemory(rowAddr, MemoryViewBytesPerRow)
		if err != nil {
			lines = append(lines, fmt.Sprintf("0x%016X: <unreadable>", rowAddr))
			continue
		}

		var hexBytes []string
		var asciiBytes []byte
		for _, b := range window {
			hexBytes = append(hexBytes, fmt.Sprintf("%02X", b))
			if b >= 32 && b < 127 {
				asciiBytes = append(asciiBytes, b)
			} else {
				asciiBytes = append(asciiBytes, '.')
			}
		}

		line := fmt.Sprintf("0x%016X: %s  %s", rowAddr, strings.Join(hexBytes, " "), string(asciiBytes))
		lines = append(lines, line)
	}

	t.MemoryView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) UpdateStackView() {
	t.StackView.Clear()

	regs := t.Debugger.Svc.Registers()
	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]RSP: 0x%016X[white]", regs.GPR[4]))

	entries, err := t.Debugger.Svc.Stack(StackViewWords)
	if err != nil {
		t.StackView.SetText(strings.Join(append(lines, fmt.Sprintf("<error: %v>", err)), "\n"))
		return
	}

	for _, e := range entries {
		marker := "  "
		if e.Address == regs.GPR[4] {
			marker = "->"
		}
		line := fmt.Sprintf("%s 0x%016X: 0x%016X", marker, e.Address, e.Value)
		if sym := t.findSymbolForAddress(e.Value); sym != "" {
			line += fmt.Sprintf(" <%s>", sym)
		}
		lines = append(lines, line)
	}

	t.StackView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) UpdateDisassemblyView() {
	t.DisassemblyView.Clear()

	rip := t.Debugger.Svc.Exec.State.RIP

	lines, err := t.Debugger.Svc.Disassemble(rip, DisassemblyViewLines)
	if err != nil && len(lines) == 0 {
		t.DisassemblyView.SetText(fmt.Sprintf("<error: %v>", err))
		return
	}

	var out []string
	for _, ln := range lines {
		marker := "  "
		color := "white"
		if ln.Address == rip {
			marker = "->"
			color = "yellow"
		}
		if bp := t.Debugger.Svc.Breakpoints.At(ln.Address); bp != nil {
			marker = "* "
		}

		text := fmt.Sprintf("[%s]%s 0x%016X: %-20s %s", color, marker, ln.Address, ln.Bytes, ln.Category)
		if ln.Symbol != "" {
			text += fmt.Sprintf("  <%s>", ln.Symbol)
		}
		text += "[white]"
		out = append(out, text)
	}

	t.DisassemblyView.SetText(strings.Join(out, "\n"))
}

func (t *TUI) UpdateBreakpointsView() {
	t.BreakpointsView.Clear()

	var lines []string

	bps := t.Debugger.Svc.Breakpoints.All()
	if len(bps) > 0 {
		lines = append(lines, "[yellow]Breakpoints:[white]")
		for _, bp := range bps {
			status, color := "enabled", "green"
			if !bp.Enabled {
				status, color = "disabled", "red"
			}
			line := fmt.Sprintf("  %d: [%s]%s[white] 0x%016X", bp.ID, color, status, bp.Address)
			if sym := t.findSymbolForAddress(bp.Address); sym != "" {
				line += fmt.Sprintf(" <%s>", sym)
			}
			if bp.Condition != "" {
				line += fmt.Sprintf(" if %s", bp.Condition)
			}
			line += fmt.Sprintf(" (hits: %d)", bp.HitCount)
			lines = append(lines, line)
		}
	} else {
		lines = append(lines, "[yellow]No breakpoints set[white]")
	}

	lines = append(lines, "")

	wps := t.Debugger.Svc.Watchpoints.All()
	if len(wps) > 0 {
		lines = append(lines, "[yellow]Watchpoints:[white]")
		for _, wp := range wps {
			lines = append(lines, fmt.Sprintf("  %d: %s = 0x%016X (hits: %d)", wp.ID, wp.Expression, wp.LastValue, wp.HitCount))
		}
	}

	t.BreakpointsView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) findSymbolForAddress(addr uint64) string {
	for sym, symAddr := range t.Debugger.Symbols {
		if symAddr == addr {
			return sym
		}
	}
	return ""
}

// Run starts the TUI application.
func (t *TUI) Run() error {
	t.RefreshAll()

	t.WriteOutput("[green]DBT Debugger TUI[white]\n")
	t.WriteOutput("Press F1 for help, F5 to continue, F10 to step over, F11 to step\n")
	t.WriteOutput("Type 'help' for command list\n\n")

	return t.App.SetRoot(t.Pages, true).SetFocus(t.CommandInput).Run()
}

// Stop stops the TUI application.
func (t *TUI) Stop() {
	t.App.Stop()
}
