package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(limit int64, heap *atomic.Uint64) *Monitor {
	m := NewMonitor(Config{
		MemoryLimitBytes:  limit,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     10 * time.Millisecond,
	})
	m.readHeap = heap.Load
	return m
}

func TestNewMonitor(t *testing.T) {
	monitor := NewMonitor(Config{
		MemoryLimitBytes:  100 << 20,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	})
	if monitor.limit != 100<<20 {
		t.Errorf("limit = %d, want %d", monitor.limit, 100<<20)
	}
	if monitor.IsPaused() {
		t.Error("new monitor should not be paused")
	}
}

func TestMonitorPauseAndResume(t *testing.T) {
	var heap atomic.Uint64
	m := newTestMonitor(1000, &heap)

	heap.Store(500)
	m.checkMemory()
	if m.IsPaused() || m.ShouldThrottle() {
		t.Fatal("50% usage should neither pause nor throttle")
	}

	heap.Store(750)
	m.checkMemory()
	if m.IsPaused() {
		t.Error("75% usage should not pause")
	}
	if !m.ShouldThrottle() {
		t.Error("75% usage should throttle")
	}

	heap.Store(900)
	m.checkMemory()
	if !m.IsPaused() {
		t.Fatal("90% usage should pause")
	}

	released := make(chan bool, 1)
	go func() { released <- m.WaitIfPaused() }()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	// Between the watermarks the pause holds.
	heap.Store(800)
	m.checkMemory()
	if !m.IsPaused() {
		t.Error("pause should hold above the high water mark")
	}

	heap.Store(100)
	m.checkMemory()
	select {
	case ok := <-released:
		if !ok {
			t.Error("WaitIfPaused returned false after recovery")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after recovery")
	}
}

func TestMonitorWaitIfPausedStop(t *testing.T) {
	var heap atomic.Uint64
	m := newTestMonitor(1000, &heap)
	heap.Store(950)
	m.checkMemory()

	released := make(chan bool, 1)
	go func() { released <- m.WaitIfPaused() }()

	m.Stop()
	m.Stop()

	select {
	case ok := <-released:
		if ok {
			t.Error("WaitIfPaused returned true after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after Stop")
	}
}

func TestMonitorWaitIfPausedCtx(t *testing.T) {
	var heap atomic.Uint64
	m := newTestMonitor(1000, &heap)
	t.Cleanup(m.Stop)

	if !m.WaitIfPausedCtx(context.Background()) {
		t.Fatal("WaitIfPausedCtx returned false while running")
	}

	heap.Store(950)
	m.checkMemory()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan bool, 1)
	go func() { released <- m.WaitIfPausedCtx(ctx) }()

	select {
	case <-released:
		t.Fatal("WaitIfPausedCtx returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case ok := <-released:
		if ok {
			t.Error("WaitIfPausedCtx returned true after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPausedCtx did not return after cancel")
	}
	if !m.IsPaused() {
		t.Error("cancelling a waiter should not resume the monitor")
	}
}

func TestMonitorSample(t *testing.T) {
	var heap atomic.Uint64
	m := newTestMonitor(1000, &heap)

	heap.Store(250)
	if got := m.Sample(); got != 0.25 {
		t.Errorf("Sample() = %v, want 0.25", got)
	}

	current, limit, usage := m.GetStats()
	if current != 250 || limit != 1000 || usage != 0.25 {
		t.Errorf("GetStats() = (%d, %d, %v), want (250, 1000, 0.25)", current, limit, usage)
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	var heap atomic.Uint64
	heap.Store(1 << 40)
	m := newTestMonitor(0, &heap)
	m.limit = 0

	if got := m.Sample(); got != 0 {
		t.Errorf("Sample() = %v, want 0 without a limit", got)
	}
	if m.ShouldThrottle() {
		t.Error("ShouldThrottle() = true without a limit")
	}
	m.Start()
	m.Stop()
}

func TestMonitorStartStop(_ *testing.T) {
	var heap atomic.Uint64
	m := newTestMonitor(100<<20, &heap)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
}
