package api

import (
	"bytes"
	"io"
	"sync"
)

// TraceWriter is an io.Writer that broadcasts each written chunk as a
// trace event while also accumulating it, so the per-block trace lines
// the engine emits when tracing is enabled reach WebSocket subscribers
// live and remain retrievable afterwards.
type TraceWriter struct {
	broadcaster *Broadcaster
	sessionID   string
	buffer      bytes.Buffer
	mu          sync.Mutex
}

// NewTraceWriter creates a trace writer for one session.
func NewTraceWriter(broadcaster *Broadcaster, sessionID string) *TraceWriter {
	return &TraceWriter{
		broadcaster: broadcaster,
		sessionID:   sessionID,
	}
}

// Write broadcasts p as a trace event and buffers it.
func (w *TraceWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.buffer.Write(p)
	if err == nil && n > 0 && w.broadcaster != nil {
		w.broadcaster.BroadcastTrace(w.sessionID, string(p))
	}
	return n, err
}

// Drain returns the accumulated trace text and clears the buffer.
func (w *TraceWriter) Drain() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.buffer.String()
	w.buffer.Reset()
	return out
}

var _ io.Writer = (*TraceWriter)(nil)
