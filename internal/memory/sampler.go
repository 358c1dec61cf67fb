package memory

// Sampler combines CPU and heap readings for the worker pool's autoscaler.
// It satisfies workers.LoadSampler.
type Sampler struct {
	CPU    *CPUSampler
	Memory *Monitor
}

// NewSampler returns a Sampler over a fresh CPU sampler and the given
// monitor. monitor may be nil.
func NewSampler(monitor *Monitor) *Sampler {
	return &Sampler{CPU: NewCPUSampler(), Memory: monitor}
}

// CPUUsage returns the CPU busy fraction since the previous call.
func (s *Sampler) CPUUsage() float64 {
	return s.CPU.Sample()
}

// MemoryUsage returns heap usage as a fraction of the configured limit.
func (s *Sampler) MemoryUsage() float64 {
	if s.Memory == nil {
		return 0
	}
	return s.Memory.Sample()
}
