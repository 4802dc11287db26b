package debugger

// Memory panel dimensions.
const (
	// MemoryViewRows is the number of hex-dump rows in the TUI memory panel.
	MemoryViewRows = 12

	// MemoryViewBytesPerRow is the number of guest bytes per hex-dump row.
	MemoryViewBytesPerRow = 16
)

// Stack panel dimensions. Guest stack slots are 64-bit words.
const (
	// StackViewWords is the number of stack words shown in the TUI stack panel.
	StackViewWords = 12

	// StackListWords is the number of stack words the CLI "info stack"
	// command prints.
	StackListWords = 8
)

// Disassembly dimensions.
const (
	// DisassemblyViewLines is the number of decoded instructions shown in
	// the TUI disassembly panel, starting at RIP.
	DisassemblyViewLines = 20
)

// Command history.
const (
	// DefaultHistorySize bounds the command-history ring when the config
	// file doesn't override it.
	DefaultHistorySize = 1000
)
