package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"imgcat/internal/logging"
	"imgcat/internal/metrics"
)

// Config sets the watermarks the Monitor compares heap usage against.
type Config struct {
	// MemoryLimitBytes is the reference limit. 0 falls back to GOMEMLIMIT.
	MemoryLimitBytes int64
	// HighWaterMark is the usage fraction that throttles the pool and ends
	// a pause.
	HighWaterMark float64
	// CriticalWaterMark is the usage fraction that pauses extraction.
	CriticalWaterMark float64
	CheckInterval     time.Duration
}

// DefaultConfig returns the watermarks used by the fingerprint pool.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Validate reports whether the watermarks and interval are usable.
func (c Config) Validate() bool {
	inRange := func(f float64) bool { return f > 0 && f <= 1 }
	return c.CheckInterval > 0 &&
		c.MemoryLimitBytes >= 0 &&
		inRange(c.HighWaterMark) &&
		inRange(c.CriticalWaterMark) &&
		c.HighWaterMark <= c.CriticalWaterMark
}

// Monitor samples heap allocation against a limit. Crossing the critical
// mark pauses extraction until usage falls below the high mark again.
type Monitor struct {
	cfg      Config
	limit    int64
	readHeap func() uint64

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	heap    uint64
	resumed chan struct{} // nil unless paused; closed on resume
}

// NewMonitor returns a monitor for cfg. Without a configured limit it uses
// GOMEMLIMIT; with neither it never pauses.
func NewMonitor(cfg Config) *Monitor {
	limit := cfg.MemoryLimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			limit = l
			logging.Info("Memory monitor using GOMEMLIMIT: %s", formatBytes(limit))
		} else {
			logging.Debug("Memory monitor: no limit, backpressure disabled")
		}
	}
	return &Monitor{
		cfg:      cfg,
		limit:    limit,
		readHeap: heapAlloc,
		done:     make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc
}

// Start samples every CheckInterval until Stop. It does nothing without a
// limit.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		t := time.NewTicker(m.cfg.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-t.C:
				m.checkMemory()
			}
		}
	}()
}

// Stop ends sampling and releases every WaitIfPaused caller. It is
// idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) ratio(heap uint64) float64 {
	if m.limit == 0 {
		return 0
	}
	return float64(heap) / float64(m.limit)
}

func (m *Monitor) checkMemory() {
	heap := m.readHeap()
	usage := m.ratio(heap)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.heap = heap
	if m.limit == 0 {
		return
	}
	metrics.MemoryUsageRatio.Set(usage)

	switch paused := m.resumed != nil; {
	case !paused && usage >= m.cfg.CriticalWaterMark:
		logging.Warn("Memory critical (%.1f%% of %s), pausing extraction", usage*100, formatBytes(m.limit))
		m.resumed = make(chan struct{})
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case paused && usage < m.cfg.HighWaterMark:
		logging.Info("Memory recovered (%.1f%% of %s), resuming extraction", usage*100, formatBytes(m.limit))
		close(m.resumed)
		m.resumed = nil
		metrics.MemoryPaused.Set(0)
	}
}

// Sample takes a fresh reading and returns heap usage as a fraction of the
// limit, or 0 without one.
func (m *Monitor) Sample() float64 {
	if m.limit == 0 {
		return 0
	}
	m.checkMemory()
	return m.GetUsage()
}

// WaitIfPaused blocks while extraction is paused. It returns false when the
// monitor stopped first.
func (m *Monitor) WaitIfPaused() bool {
	return m.WaitIfPausedCtx(context.Background())
}

// WaitIfPausedCtx is WaitIfPaused that also gives up, returning false,
// once ctx is done.
func (m *Monitor) WaitIfPausedCtx(ctx context.Context) bool {
	m.mu.RLock()
	resumed := m.resumed
	m.mu.RUnlock()
	if resumed == nil {
		return true
	}
	select {
	case <-resumed:
		return true
	case <-m.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ShouldThrottle reports whether the last reading is at or above the high
// water mark.
func (m *Monitor) ShouldThrottle() bool {
	return m.limit > 0 && m.GetUsage() >= m.cfg.HighWaterMark
}

// IsPaused reports whether extraction is paused.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resumed != nil
}

// GetUsage returns the last reading as a fraction of the limit.
func (m *Monitor) GetUsage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratio(m.heap)
}

// GetStats returns the last heap reading, the limit and their ratio.
func (m *Monitor) GetStats() (current, limit int64, usage float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	current = math.MaxInt64
	if m.heap < math.MaxInt64 {
		current = int64(m.heap)
	}
	return current, m.limit, m.ratio(m.heap)
}
