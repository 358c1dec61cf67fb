package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvWorkers overrides the computed worker count when set to a positive
// integer.
const EnvWorkers = "IMGCAT_WORKERS"

// Workload describes where a pool's tasks spend their time.
type Workload int

const (
	// CPUBound tasks decode, hash and run inference.
	CPUBound Workload = iota
	// IOBound tasks mostly wait on storage, such as digesting files on a
	// network mount.
	IOBound
	// Mixed tasks do both.
	Mixed
)

func (w Workload) perCPU() float64 {
	switch w {
	case IOBound:
		return 2
	case Mixed:
		return 1.5
	default:
		return 1
	}
}

func (w Workload) String() string {
	switch w {
	case CPUBound:
		return "cpu"
	case IOBound:
		return "io"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Count sizes a pool for a workload from GOMAXPROCS, which follows
// container CPU limits. EnvWorkers wins when set. limit caps the result;
// 0 means no cap.
func Count(w Workload, limit int) int {
	n, err := strconv.Atoi(os.Getenv(EnvWorkers))
	if err != nil || n <= 0 {
		n = max(1, int(float64(runtime.GOMAXPROCS(0))*w.perCPU()))
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// ForCPU returns the worker count for CPU-bound extraction.
func ForCPU(limit int) int {
	return Count(CPUBound, limit)
}
