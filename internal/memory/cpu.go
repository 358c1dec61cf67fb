package memory

import (
	"sync"

	"github.com/prometheus/procfs"

	"imgcat/internal/logging"
	"imgcat/internal/metrics"
)

// cpuTimes is the subset of /proc/stat the sampler needs.
type cpuTimes struct {
	busy  float64
	total float64
}

// CPUSampler reports host CPU utilisation between consecutive calls to
// Sample, read from /proc/stat.
type CPUSampler struct {
	mu   sync.Mutex
	read func() (cpuTimes, error)
	prev cpuTimes
	have bool
	warn sync.Once
}

// NewCPUSampler returns a sampler backed by procfs. On systems without
// /proc every sample reads as 0, which never triggers a CPU scale-up.
func NewCPUSampler() *CPUSampler {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logging.Debug("procfs unavailable, CPU sampling disabled: %v", err)
		return &CPUSampler{}
	}
	return &CPUSampler{read: func() (cpuTimes, error) {
		stat, err := fs.Stat()
		if err != nil {
			return cpuTimes{}, err
		}
		c := stat.CPUTotal
		idle := c.Idle + c.Iowait
		busy := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
		return cpuTimes{busy: busy, total: busy + idle}, nil
	}}
}

// Sample returns the busy fraction (0.0-1.0) since the previous call.
// The first call primes the sampler and returns 0.
func (s *CPUSampler) Sample() float64 {
	if s == nil || s.read == nil {
		return 0
	}

	cur, err := s.read()
	if err != nil {
		s.warn.Do(func() { logging.Warn("CPU sampling failed, reporting 0: %v", err) })
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.prev, s.have
	s.prev, s.have = cur, true
	if !had {
		return 0
	}

	dTotal := cur.total - prev.total
	if dTotal <= 0 {
		return 0
	}
	ratio := (cur.busy - prev.busy) / dTotal
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	metrics.CPUUsageRatio.Set(ratio)
	return ratio
}
