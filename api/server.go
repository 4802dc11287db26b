// Package api is the HTTP/WebSocket front end remote GUIs drive the
// translation engine through: JSON endpoints for session control,
// registers, memory, disassembly, breakpoints, and cache/arena
// statistics, plus a WebSocket event stream of translation and
// block-exit events.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Server is the HTTP API server.
type Server struct {
	sessions    *SessionManager
	broadcaster *Broadcaster
	mux         *http.ServeMux
	server      *http.Server
	port        int
}

// NewServer creates an API server listening on port when started.
func NewServer(port int) *Server {
	broadcaster := NewBroadcaster()

	s := &Server{
		sessions:    NewSessionManager(broadcaster),
		broadcaster: broadcaster,
		mux:         http.NewServeMux(),
		port:        port,
	}

	s.registerRoutes()

	return s
}

// Handler returns the HTTP handler with CORS middleware applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	// WebSocket event stream.
	s.mux.HandleFunc("/api/v1/ws", s.handleWebSocket)

	// Session collection and per-session routes.
	s.mux.HandleFunc("/api/v1/session", s.handleSession)
	s.mux.HandleFunc("/api/v1/session/", s.handleSessionRoute)
}

// handleHealth reports liveness plus coarse server stats.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"sessions":    s.sessions.Count(),
		"subscribers": s.broadcaster.SubscriptionCount(),
	})
}

// handleSession routes the session collection endpoint.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// handleSessionRoute dispatches /api/v1/session/{id}[/action] paths. A
// flat ServeMux with manual path-split dispatch avoids introducing a
// router dependency for a dozen routes.
func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/session/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing session ID"))
		return
	}

	session, err := s.sessions.GetSession(parts[0])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSessionStatus(w, r, session)
		case http.MethodDelete:
			s.handleDestroySession(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	action := parts[1]
	switch {
	case action == "step" && r.Method == http.MethodPost:
		s.handleStep(w, r, session)
	case action == "run" && r.Method == http.MethodPost:
		s.handleRun(w, r, session)
	case action == "stop" && r.Method == http.MethodPost:
		s.handleStop(w, r, session)
	case action == "reset" && r.Method == http.MethodPost:
		s.handleReset(w, r, session)
	case action == "registers" && r.Method == http.MethodGet:
		s.handleGetRegisters(w, r, session)
	case action == "registers" && r.Method == http.MethodPut:
		s.handleSetRegister(w, r, session)
	case action == "memory" && r.Method == http.MethodGet:
		s.handleGetMemory(w, r, session)
	case action == "memory" && r.Method == http.MethodPut:
		s.handleWriteMemory(w, r, session)
	case action == "disassembly" && r.Method == http.MethodGet:
		s.handleGetDisassembly(w, r, session)
	case action == "breakpoint":
		s.handleBreakpoint(w, r, session)
	case action == "breakpoints" && r.Method == http.MethodGet:
		s.handleListBreakpoints(w, r, session)
	case action == "cache" && len(parts) > 2 && parts[2] == "flush" && r.Method == http.MethodPost:
		s.handleCacheFlush(w, r, session)
	case action == "cache" && r.Method == http.MethodGet:
		s.handleCacheStats(w, r, session)
	case action == "trace" && r.Method == http.MethodGet:
		s.handleTrace(w, r, session)
	case action == "arena" && r.Method == http.MethodGet:
		s.handleArena(w, r, session)
	case action == "stats" && r.Method == http.MethodGet:
		s.handleStats(w, r, session)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
	}
}

// corsMiddleware allows cross-origin access from local GUI front ends.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the server until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("API server listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server, destroys every session, and closes the
// broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.CloseAll()
	s.broadcaster.Close()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
