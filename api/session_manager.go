package api

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/binxlate/dbt/config"
	"github.com/binxlate/dbt/engine"
	"github.com/binxlate/dbt/loader"
	"github.com/binxlate/dbt/service"
)

var (
	// ErrSessionNotFound is returned when a session ID resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists is returned on a session-ID collision.
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Session is one guest thread's worth of remote-debuggable state: the
// debugger service over a loaded image, plus the run-control flags the
// HTTP handlers share with the background run goroutine.
type Session struct {
	ID        string
	Service   *service.DebuggerService
	Trace     *TraceWriter
	CreatedAt time.Time

	// stopRequested is polled by the run loop's StopFunc between blocks
	// (the only interruption points the engine has).
	stopRequested atomic.Bool
	// running guards against two concurrent run requests on one session.
	running atomic.Bool
}

// RequestStop asks a running session to pause at the next block boundary.
func (s *Session) RequestStop() {
	s.stopRequested.Store(true)
}

// SessionManager owns every live session and hands engine events to the
// broadcaster as they happen.
type SessionManager struct {
	sessions    map[string]*Session
	broadcaster *Broadcaster
	defaults    *config.Config
	mu          sync.RWMutex
}

// NewSessionManager creates a session manager broadcasting through b.
func NewSessionManager(b *Broadcaster) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		broadcaster: b,
		defaults:    config.DefaultConfig(),
	}
}

// CreateSession loads the request's guest image and builds an engine
// session over it.
func (sm *SessionManager) CreateSession(opts SessionCreateRequest) (*Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	code, err := decodeHexField(opts.Code)
	if err != nil {
		return nil, err
	}

	loadAddr := opts.LoadAddr
	if loadAddr == 0 {
		loadAddr = loader.DefaultLoadAddr
	}
	entry := opts.Entry
	if entry == 0 {
		entry = loadAddr
	}

	image, err := loader.Load(bytes.NewReader(code), loadAddr, entry)
	if err != nil {
		return nil, err
	}

	cfg := engine.Config{
		ArenaSize:      sm.defaults.Engine.ArenaSize,
		CacheIndexBits: sm.defaults.Engine.CacheIndexBits,
		HotThreshold:   sm.defaults.Engine.HotThreshold,
		EnableOptimize: sm.defaults.Engine.EnableOptimizer,
	}
	if opts.ArenaSize > 0 {
		cfg.ArenaSize = opts.ArenaSize
	}
	if opts.CacheIndexBits > 0 {
		cfg.CacheIndexBits = opts.CacheIndexBits
	}
	if opts.HotThreshold > 0 {
		cfg.HotThreshold = opts.HotThreshold
	}

	svc, err := service.NewDebuggerService(image, cfg, entry)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        sessionID,
		Service:   svc,
		Trace:     NewTraceWriter(sm.broadcaster, sessionID),
		CreatedAt: time.Now(),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[sessionID]; exists {
		svc.Close()
		return nil, ErrSessionAlreadyExists
	}

	sm.sessions[sessionID] = session
	debugLog("Session %s: created (entry %#x, arena %d bytes)", sessionID, entry, cfg.ArenaSize)

	if sm.broadcaster != nil {
		sm.broadcaster.BroadcastTranslation(sessionID, "session_created", map[string]interface{}{
			"entry": entry,
		})
	}
	return session, nil
}

// GetSession resolves a session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// DestroySession stops and removes a session, releasing its arena.
func (sm *SessionManager) DestroySession(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.RequestStop()
	if session.Service != nil {
		if err := session.Service.Close(); err != nil {
			debugLog("Session %s: close error: %v", sessionID, err)
		}
	}

	delete(sm.sessions, sessionID)
	return nil
}

// ListSessions returns every live session ID.
func (sm *SessionManager) ListSessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.sessions)
}

// CloseAll destroys every session, used at server shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.RequestStop()
		if session.Service != nil {
			session.Service.Close()
		}
		delete(sm.sessions, id)
	}
}

func generateSessionID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
