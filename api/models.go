package api

import (
	"encoding/hex"

	"github.com/binxlate/dbt/service"
)

// SessionCreateRequest creates a session over a guest image. Code is the
// hex-encoded guest x86_64 byte image; LoadAddr and Entry default to the
// loader's defaults when zero.
type SessionCreateRequest struct {
	Code     string `json:"code"`
	LoadAddr uint64 `json:"loadAddr,omitempty"`
	Entry    uint64 `json:"entry,omitempty"`

	// Engine tunables; zero values fall back to the server's defaults.
	ArenaSize      int    `json:"arenaSize,omitempty"`
	CacheIndexBits uint   `json:"cacheIndexBits,omitempty"`
	HotThreshold   uint64 `json:"hotThreshold,omitempty"`
}

// SessionCreateResponse reports the new session's ID and entry point.
type SessionCreateResponse struct {
	SessionID string `json:"sessionId"`
	Entry     uint64 `json:"entry"`
	Status    string `json:"status"`
}

// SessionStatusResponse is a session's coarse execution status.
type SessionStatusResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	RIP       uint64 `json:"rip"`
	Blocks    uint64 `json:"blocksExecuted"`
	CreatedAt string `json:"createdAt"`
}

// RegistersResponse carries a full guest-state snapshot.
type RegistersResponse struct {
	GPR    map[string]uint64  `json:"gpr"`
	RIP    uint64             `json:"rip"`
	Flags  service.FlagsState `json:"flags"`
	Blocks uint64             `json:"blocksExecuted"`
}

// SetRegisterRequest writes one register by name.
type SetRegisterRequest struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// MemoryResponse is a hex-encoded window of guest memory.
type MemoryResponse struct {
	Address uint64 `json:"address"`
	Length  int    `json:"length"`
	Data    string `json:"data"`
}

// MemoryWriteRequest patches guest memory at Address with hex-encoded
// Data. The server invalidates the translation cache entry for any block
// starting inside the written range.
type MemoryWriteRequest struct {
	Address uint64 `json:"address"`
	Data    string `json:"data"`
}

// DisassemblyResponse lists decoded guest instructions.
type DisassemblyResponse struct {
	Address      uint64                    `json:"address"`
	Instructions []service.DisassemblyLine `json:"instructions"`
}

// BreakpointRequest adds or removes a guest-PC breakpoint.
type BreakpointRequest struct {
	Address   uint64 `json:"address"`
	Temporary bool   `json:"temporary,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// BreakpointsResponse lists a session's breakpoints.
type BreakpointsResponse struct {
	Breakpoints []service.BreakpointInfo `json:"breakpoints"`
}

// RunRequest bounds a continue operation. MaxBlocks of zero means
// unbounded (until a breakpoint or a non-trivial block exit).
type RunRequest struct {
	MaxBlocks uint64 `json:"maxBlocks,omitempty"`
}

// RunResponse reports why a run stopped.
type RunResponse struct {
	Status     string `json:"status"`
	StopReason string `json:"stopReason,omitempty"`
	RIP        uint64 `json:"rip"`
	Blocks     uint64 `json:"blocksExecuted"`
}

// StepResponse reports one block step's exit.
type StepResponse struct {
	ExitReason string             `json:"exitReason"`
	NextRIP    uint64             `json:"nextRip"`
	Registers  *RegistersResponse `json:"registers"`
}

// CacheStatsResponse reports translation-cache counters and occupancy.
type CacheStatsResponse struct {
	Lookups   uint64  `json:"lookups"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Occupancy float64 `json:"occupancy"`
	Slots     int     `json:"slots"`
}

// ArenaResponse reports the code arena's cursor and capacity.
type ArenaResponse struct {
	UsedBytes     int `json:"usedBytes"`
	CapacityBytes int `json:"capacityBytes"`
}

// StatsResponse aggregates cache and arena statistics for one session.
type StatsResponse struct {
	SessionID string             `json:"sessionId"`
	Cache     CacheStatsResponse `json:"cache"`
	Arena     ArenaResponse      `json:"arena"`
	Blocks    uint64             `json:"blocksExecuted"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is the uniform success body for endpoints with no
// payload of their own.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ToRegistersResponse flattens a service snapshot into named-register
// JSON the way remote front ends expect it.
func ToRegistersResponse(regs service.RegisterState) *RegistersResponse {
	gpr := make(map[string]uint64, 16)
	for i, name := range service.RegisterNameList() {
		gpr[name] = regs.GPR[i]
	}
	return &RegistersResponse{
		GPR:    gpr,
		RIP:    regs.RIP,
		Flags:  regs.Flags,
		Blocks: regs.Blocks,
	}
}

// decodeHexField parses a hex-encoded request field, tolerating an
// optional 0x prefix.
func decodeHexField(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
