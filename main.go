package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/binxlate/dbt/api"
	"github.com/binxlate/dbt/config"
	"github.com/binxlate/dbt/debugger"
	"github.com/binxlate/dbt/engine"
	"github.com/binxlate/dbt/executor"
	"github.com/binxlate/dbt/loader"
	"github.com/binxlate/dbt/service"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		debugMode   = flag.Bool("debug", false, "Start in debugger mode")
		tuiMode     = flag.Bool("tui", false, "Use TUI (Text User Interface) debugger")
		apiServer   = flag.Bool("api-server", false, "Start HTTP API server mode")
		apiPort     = flag.Int("port", 0, "API server port (used with -api-server; 0 uses config default)")
		maxBlocks   = flag.Uint64("max-blocks", 0, "Maximum translated blocks before halt (direct run mode; 0 uses config default)")
		entryPoint  = flag.String("entry", "", "Entry point address (hex or decimal); default reads the image's own entry")
		loadAddr    = flag.String("load-addr", "", "Guest load address (hex or decimal); default reads config.toml")
		verboseMode = flag.Bool("verbose", false, "Verbose output")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("dbt %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *apiServer {
		port := cfg.API.Port
		if *apiPort != 0 {
			port = *apiPort
		}
		runAPIServer(port)
		return
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	imagePath := flag.Arg(0)
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", imagePath)
		os.Exit(1)
	}

	var parsedLoad uint64
	if *loadAddr != "" {
		parsedLoad, err = parseAddr(*loadAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid load address: %s\n", *loadAddr)
			os.Exit(1)
		}
	} else {
		parsedLoad, err = parseAddr(cfg.Execution.LoadAddr)
		if err != nil {
			parsedLoad = loader.DefaultLoadAddr
		}
	}

	var entryOverride uint64
	haveEntryOverride := false
	if *entryPoint != "" {
		entryOverride, err = parseAddr(*entryPoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid entry point: %s\n", *entryPoint)
			os.Exit(1)
		}
		haveEntryOverride = true
	}

	image, err := loader.LoadFile(imagePath, parsedLoad, parsedLoad)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading guest image: %v\n", err)
		os.Exit(1)
	}

	entry := image.Entry
	if haveEntryOverride {
		entry = entryOverride
	}

	if *verboseMode {
		fmt.Printf("Loaded %s: entry 0x%016X, %d symbols\n", imagePath, entry, len(image.Symbols))
	}

	engineCfg := engine.Config{
		ArenaSize:      cfg.Engine.ArenaSize,
		CacheIndexBits: cfg.Engine.CacheIndexBits,
		HotThreshold:   cfg.Engine.HotThreshold,
		EnableOptimize: cfg.Engine.EnableOptimizer,
	}

	svc, err := service.NewDebuggerService(image, engineCfg, entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing translator session: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close session: %v\n", err)
		}
	}()

	if *debugMode || *tuiMode {
		dbg := debugger.NewDebugger(svc)
		dbg.LoadSymbols(image.Symbols)

		if *tuiMode {
			tui := debugger.NewTUI(dbg)
			if err := tui.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
				os.Exit(1)
			}
		} else {
			runCLI(dbg, imagePath)
		}
		return
	}

	effectiveMaxBlocks := cfg.Execution.MaxBlocks
	if *maxBlocks != 0 {
		effectiveMaxBlocks = *maxBlocks
	}

	if *verboseMode {
		fmt.Println("Starting execution...")
		fmt.Println("----------------------------------------")
	}

	exit, reason, err := svc.Continue(nil, effectiveMaxBlocks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nRuntime error at RIP=0x%016X: %v\n", svc.Exec.State.RIP, err)
		os.Exit(1)
	}

	if *verboseMode {
		fmt.Println("----------------------------------------")
		fmt.Printf("Execution stopped: %s (RIP=0x%016X)\n", reason, exit.GuestIP)
		lookups, hits, misses, occ := svc.CacheStats()
		fmt.Printf("Cache: %d lookups, %d hits, %d misses, %.1f%% occupied\n", lookups, hits, misses, occ*100)
	}

	if exit.Reason == executor.ExitFault {
		os.Exit(1)
	}
}

// runCLI drives the command-line debugger REPL: read a command line,
// execute it against svc through dbg, print whatever it buffered.
func runCLI(dbg *debugger.Debugger, imagePath string) {
	fmt.Println("dbt debugger - Type 'help' for commands")
	fmt.Printf("Image loaded: %s\n", imagePath)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("(dbt) ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if err := dbg.ExecuteCommand(line); err != nil {
			if errors.Is(err, debugger.ErrQuit) {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if out := dbg.GetOutput(); out != "" {
			fmt.Print(out)
		}
	}
}

// runAPIServer starts the HTTP API server and blocks until it is
// signalled to shut down.
func runAPIServer(port int) {
	server := api.NewServer(port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			fmt.Println("\nShutting down API server...")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
				os.Exit(1)
			}

			fmt.Println("API server stopped")
			os.Exit(0)
		})
	}

	monitor := api.NewProcessMonitor(performShutdown)
	monitor.Start()

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
}

func parseAddr(s string) (uint64, error) {
	var addr uint64
	if _, err := fmt.Sscanf(s, "0x%x", &addr); err == nil {
		return addr, nil
	}
	if _, err := fmt.Sscanf(s, "%d", &addr); err == nil {
		return addr, nil
	}
	return 0, fmt.Errorf("invalid address: %s", s)
}

func printHelp() {
	fmt.Printf(`dbt %s - x86_64-to-ARM64 dynamic binary translator

Usage: dbt [options] <guest-image-file>
       dbt -api-server [-port N]

Options:
  -help              Show this help message
  -version           Show version information
  -api-server        Start HTTP API server mode (no guest image required)
  -port N            API server port (default: from config.toml, 8080)
  -debug             Start in debugger mode (CLI)
  -tui               Start in TUI debugger mode
  -max-blocks N      Maximum translated blocks before halt (default: from config.toml)
  -entry ADDR        Override entry point address (hex or decimal)
  -load-addr ADDR    Override guest load address (hex or decimal)
  -verbose           Enable verbose output

Examples:
  # Run a guest image directly
  dbt program.bin

  # Run with the CLI debugger
  dbt -debug program.bin

  # Run with the TUI debugger
  dbt -tui program.bin

  # Start the HTTP API server for GUI front ends
  dbt -api-server -port 3000
`, Version)
}
