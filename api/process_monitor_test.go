package api

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMonitor_Initialization(t *testing.T) {
	var shutdownCalled atomic.Bool
	monitor := NewProcessMonitor(func() { shutdownCalled.Store(true) })

	assert.Equal(t, os.Getppid(), monitor.parentPID)
	assert.Equal(t, 2*time.Second, monitor.checkInterval)
	require.NotNil(t, monitor.shutdownFunc)
	require.NotNil(t, monitor.stopChan)
	assert.False(t, shutdownCalled.Load(), "shutdown must not fire during construction")
}

func TestProcessMonitor_GracefulStop(t *testing.T) {
	var shutdownCalled atomic.Bool
	monitor := NewProcessMonitor(func() { shutdownCalled.Store(true) })
	monitor.Start()

	time.Sleep(50 * time.Millisecond)
	monitor.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.False(t, shutdownCalled.Load(), "graceful stop must not invoke the shutdown callback")
}

func TestProcessMonitor_StopIsIdempotent(t *testing.T) {
	monitor := NewProcessMonitor(func() {})
	monitor.Start()

	// A second Stop must not panic on the already-closed channel.
	monitor.Stop()
	monitor.Stop()
}

func TestProcessMonitor_DetectsReparent(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	monitor := NewProcessMonitor(func() { wg.Done() })
	// Simulate the parent dying: a PPID the poll can never observe.
	monitor.parentPID = -1
	monitor.checkInterval = 10 * time.Millisecond
	monitor.Start()
	defer monitor.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback was not invoked after PPID change")
	}
}
