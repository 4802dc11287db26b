package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/binxlate/dbt/executor"
	"github.com/binxlate/dbt/service"
)

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debugLog("writeJSON: %v", err)
	}
}

// writeError writes the uniform error body.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: status})
}

// handleCreateSession handles POST /api/v1/session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("code field is required"))
		return
	}

	session, err := s.sessions.CreateSession(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionCreateResponse{
		SessionID: session.ID,
		Entry:     session.Service.Entry(),
		Status:    string(session.Service.State()),
	})
}

// handleListSessions handles GET /api/v1/session.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.sessions.ListSessions(),
		"count":    s.sessions.Count(),
	})
}

// handleGetSessionStatus handles GET /api/v1/session/{id}.
func (s *Server) handleGetSessionStatus(w http.ResponseWriter, _ *http.Request, session *Session) {
	regs := session.Service.Registers()
	writeJSON(w, http.StatusOK, SessionStatusResponse{
		SessionID: session.ID,
		Status:    string(session.Service.State()),
		RIP:       regs.RIP,
		Blocks:    regs.Blocks,
		CreatedAt: session.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// handleDestroySession handles DELETE /api/v1/session/{id}.
func (s *Server) handleDestroySession(w http.ResponseWriter, _ *http.Request, session *Session) {
	if err := s.sessions.DestroySession(session.ID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "session destroyed"})
}

// handleStep handles POST /api/v1/session/{id}/step: resolve and run
// exactly one translated block.
func (s *Server) handleStep(w http.ResponseWriter, _ *http.Request, session *Session) {
	exit, err := session.Service.Step()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	regs := session.Service.Registers()
	fmt.Fprintf(session.Trace, "block exit=%s next=%#x\n", exit.Reason, exit.GuestIP)
	s.broadcastBlockExit(session.ID, exit)
	s.broadcastState(session.ID, regs, session.Service.State())

	writeJSON(w, http.StatusOK, StepResponse{
		ExitReason: exit.Reason.String(),
		NextRIP:    exit.GuestIP,
		Registers:  ToRegistersResponse(regs),
	})
}

// handleRun handles POST /api/v1/session/{id}/run: continue until a
// breakpoint, a stop request, a non-trivial block exit, or the block
// bound. The run happens on a background goroutine; stop points are
// block boundaries only.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, session *Session) {
	var req RunRequest
	if r.Body != nil {
		// An empty body means an unbounded run.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if !session.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, fmt.Errorf("session is already running"))
		return
	}
	session.stopRequested.Store(false)

	go func() {
		defer session.running.Store(false)

		stop := func(guestIP uint64) (bool, string) {
			if session.stopRequested.Load() {
				return true, "stop requested"
			}
			if bp := session.Service.Breakpoints.Hit(guestIP); bp != nil {
				return true, fmt.Sprintf("breakpoint %d at %#x", bp.ID, guestIP)
			}
			return false, ""
		}

		exit, reason, err := session.Service.Continue(stop, req.MaxBlocks)
		regs := session.Service.Registers()

		if err != nil {
			s.broadcaster.BroadcastExecutionEvent(session.ID, "error", map[string]interface{}{
				"message": err.Error(),
				"rip":     regs.RIP,
			})
		} else {
			fmt.Fprintf(session.Trace, "run stopped: %s (exit=%s rip=%#x)\n", reason, exit.Reason, regs.RIP)
			s.broadcaster.BroadcastExecutionEvent(session.ID, "stopped", map[string]interface{}{
				"reason": reason,
				"exit":   exit.Reason.String(),
				"rip":    regs.RIP,
			})
		}
		s.broadcastState(session.ID, regs, session.Service.State())
	}()

	writeJSON(w, http.StatusAccepted, SuccessResponse{Success: true, Message: "run started"})
}

// handleStop handles POST /api/v1/session/{id}/stop.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request, session *Session) {
	session.RequestStop()
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "stop requested"})
}

// handleReset handles POST /api/v1/session/{id}/reset: rewind guest state
// to the entry point and flush the translation cache and arena.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, session *Session) {
	session.RequestStop()
	session.Service.Reset(session.Service.Entry())
	s.broadcaster.BroadcastTranslation(session.ID, "flush", nil)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "session reset"})
}

// handleGetRegisters handles GET /api/v1/session/{id}/registers.
func (s *Server) handleGetRegisters(w http.ResponseWriter, _ *http.Request, session *Session) {
	writeJSON(w, http.StatusOK, ToRegistersResponse(session.Service.Registers()))
}

// handleSetRegister handles PUT /api/v1/session/{id}/registers.
func (s *Server) handleSetRegister(w http.ResponseWriter, r *http.Request, session *Session) {
	var req SetRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := session.Service.SetRegister(req.Name, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleGetMemory handles GET /api/v1/session/{id}/memory?address=&length=.
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request, session *Session) {
	addr, err := parseHexOrDec(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
		return
	}
	length := 256
	if ls := r.URL.Query().Get("length"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 || n > 1<<20 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid length"))
			return
		}
		length = n
	}

	data, err := session.Service.ReadMemory(addr, length)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, MemoryResponse{
		Address: addr,
		Length:  len(data),
		Data:    hex.EncodeToString(data),
	})
}

// handleWriteMemory handles PUT /api/v1/session/{id}/memory. Written
// ranges invalidate any cached translation starting inside them, the
// explicit invalidation hook self-modifying guests rely on.
func (s *Server) handleWriteMemory(w http.ResponseWriter, r *http.Request, session *Session) {
	var req MemoryWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	data, err := decodeHexField(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid data: %w", err))
		return
	}
	if err := session.Service.WriteMemory(req.Address, data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tc := session.Service.Engine.Cache()
	for off := range data {
		tc.Invalidate(req.Address + uint64(off))
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleGetDisassembly handles GET /api/v1/session/{id}/disassembly.
func (s *Server) handleGetDisassembly(w http.ResponseWriter, r *http.Request, session *Session) {
	q := r.URL.Query()

	addr := session.Service.Registers().RIP
	if as := q.Get("address"); as != "" {
		a, err := parseHexOrDec(as)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
			return
		}
		addr = a
	}
	count := 16
	if cs := q.Get("count"); cs != "" {
		n, err := strconv.Atoi(cs)
		if err != nil || n <= 0 || n > 1024 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid count"))
			return
		}
		count = n
	}

	lines, err := session.Service.Disassemble(addr, count)
	if err != nil && len(lines) == 0 {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, DisassemblyResponse{Address: addr, Instructions: lines})
}

// handleBreakpoint handles POST and DELETE on
// /api/v1/session/{id}/breakpoint.
func (s *Server) handleBreakpoint(w http.ResponseWriter, r *http.Request, session *Session) {
	var req BreakpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	switch r.Method {
	case http.MethodPost:
		bp := session.Service.Breakpoints.Add(req.Address, req.Temporary, req.Condition)
		writeJSON(w, http.StatusCreated, service.BreakpointInfo{
			ID:        bp.ID,
			Address:   bp.Address,
			Enabled:   bp.Enabled,
			Temporary: bp.Temporary,
			Condition: bp.Condition,
		})
	case http.MethodDelete:
		if err := session.Service.Breakpoints.DeleteAt(req.Address); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// handleListBreakpoints handles GET /api/v1/session/{id}/breakpoints.
func (s *Server) handleListBreakpoints(w http.ResponseWriter, _ *http.Request, session *Session) {
	all := session.Service.Breakpoints.All()
	infos := make([]service.BreakpointInfo, 0, len(all))
	for _, bp := range all {
		infos = append(infos, service.BreakpointInfo{
			ID:        bp.ID,
			Address:   bp.Address,
			Enabled:   bp.Enabled,
			Temporary: bp.Temporary,
			Condition: bp.Condition,
			HitCount:  bp.HitCount,
		})
	}
	writeJSON(w, http.StatusOK, BreakpointsResponse{Breakpoints: infos})
}

// handleTrace handles GET /api/v1/session/{id}/trace: drain the trace
// text accumulated since the last read.
func (s *Server) handleTrace(w http.ResponseWriter, _ *http.Request, session *Session) {
	writeJSON(w, http.StatusOK, map[string]string{"trace": session.Trace.Drain()})
}

// handleCacheStats handles GET /api/v1/session/{id}/cache.
func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request, session *Session) {
	writeJSON(w, http.StatusOK, s.cacheStats(session))
}

// handleCacheFlush handles POST /api/v1/session/{id}/cache/flush: drop
// every translation and rewind the arena without touching guest state.
func (s *Server) handleCacheFlush(w http.ResponseWriter, _ *http.Request, session *Session) {
	session.Service.Engine.Reset()
	s.broadcaster.BroadcastTranslation(session.ID, "flush", nil)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "cache flushed"})
}

// handleArena handles GET /api/v1/session/{id}/arena.
func (s *Server) handleArena(w http.ResponseWriter, _ *http.Request, session *Session) {
	used, capacity := session.Service.ArenaUsage()
	writeJSON(w, http.StatusOK, ArenaResponse{UsedBytes: used, CapacityBytes: capacity})
}

// handleStats handles GET /api/v1/session/{id}/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, session *Session) {
	used, capacity := session.Service.ArenaUsage()
	writeJSON(w, http.StatusOK, StatsResponse{
		SessionID: session.ID,
		Cache:     s.cacheStats(session),
		Arena:     ArenaResponse{UsedBytes: used, CapacityBytes: capacity},
		Blocks:    session.Service.Registers().Blocks,
	})
}

func (s *Server) cacheStats(session *Session) CacheStatsResponse {
	lookups, hits, misses, occupancy := session.Service.CacheStats()
	return CacheStatsResponse{
		Lookups:   lookups,
		Hits:      hits,
		Misses:    misses,
		Occupancy: occupancy,
		Slots:     session.Service.Engine.Cache().Len(),
	}
}

// parseHexOrDec accepts 0x-prefixed hex or plain decimal addresses.
func parseHexOrDec(v string) (uint64, error) {
	if v == "" {
		return 0, fmt.Errorf("missing value")
	}
	if len(v) >= 2 && (v[:2] == "0x" || v[:2] == "0X") {
		return strconv.ParseUint(v[2:], 16, 64)
	}
	return strconv.ParseUint(v, 10, 64)
}

// broadcastState fans out a guest-state snapshot.
func (s *Server) broadcastState(sessionID string, regs service.RegisterState, state service.ExecutionState) {
	s.broadcaster.BroadcastState(sessionID, map[string]interface{}{
		"status": string(state),
		"rip":    regs.RIP,
		"blocks": regs.Blocks,
	})
}

// broadcastBlockExit fans out one block exit as an execution event.
func (s *Server) broadcastBlockExit(sessionID string, exit executor.BlockExit) {
	details := map[string]interface{}{
		"reason": exit.Reason.String(),
		"rip":    exit.GuestIP,
	}
	if exit.Reason == executor.ExitFault {
		details["faultKind"] = int(exit.Kind)
		details["faultAddr"] = exit.Addr
	}
	s.broadcaster.BroadcastExecutionEvent(sessionID, "block_exit", details)
}
