package debugger

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/binxlate/dbt/executor"
)

// RunCLI runs the command-line debugger interface.
func RunCLI(dbg *Debugger) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("(dbt) ")

		if !scanner.Scan() {
			break
		}

		cmdLine := strings.TrimSpace(scanner.Text())

		if cmdLine == "quit" || cmdLine == "q" || cmdLine == "exit" {
			fmt.Println("Exiting debugger...")
			break
		}

		if err := dbg.ExecuteCommand(cmdLine); err != nil {
			fmt.Printf("Error: %v\n", err)
		}

		output := dbg.GetOutput()
		if output != "" {
			fmt.Print(output)
		}

		if dbg.Running {
			exit, reason, err := dbg.Svc.Continue(dbg.ShouldStop, 0)
			dbg.Running = false
			if err != nil {
				fmt.Printf("Runtime error: %v\n", err)
				continue
			}
			switch exit.Reason {
			case executor.ExitHalt:
				fmt.Println("Program halted")
			case executor.ExitFault:
				fmt.Printf("Fault: %v at %#x\n", exit.Kind, exit.Addr)
			default:
				fmt.Printf("Stopped: %s at RIP=%#x\n", reason, dbg.Svc.Exec.State.RIP)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}

	return nil
}

// RunTUI runs the text user interface debugger.
func RunTUI(dbg *Debugger) error {
	tui := NewTUI(dbg)
	return tui.Run()
}
