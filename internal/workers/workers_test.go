package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	t.Setenv(EnvWorkers, "")
	available := runtime.GOMAXPROCS(0)

	tests := []struct {
		name     string
		workload Workload
		limit    int
		want     int
	}{
		{name: "cpu bound", workload: CPUBound, want: available},
		{name: "io bound", workload: IOBound, want: available * 2},
		{name: "mixed", workload: Mixed, want: max(1, int(float64(available)*1.5))},
		{name: "capped by limit", workload: IOBound, limit: 1, want: 1},
		{name: "unknown workload counts as cpu", workload: Workload(42), want: available},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.workload, tt.limit); got != tt.want {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.workload, tt.limit, got, tt.want)
			}
		})
	}
}

func TestCountWithEnvOverride(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		limit    int
		expected int // -1: falls back to the computed value
	}{
		{name: "valid override", envValue: "8", expected: 8},
		{name: "override capped by limit", envValue: "20", limit: 10, expected: 10},
		{name: "override below limit", envValue: "5", limit: 10, expected: 5},
		{name: "non-numeric", envValue: "many", expected: -1},
		{name: "zero", envValue: "0", expected: -1},
		{name: "negative", envValue: "-5", expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvWorkers, tt.envValue)
			got := Count(CPUBound, tt.limit)
			want := tt.expected
			if want == -1 {
				want = runtime.GOMAXPROCS(0)
				if tt.limit > 0 && want > tt.limit {
					want = tt.limit
				}
			}
			if got != want {
				t.Errorf("Count(cpu, %d) with %s=%s = %d, want %d", tt.limit, EnvWorkers, tt.envValue, got, want)
			}
		})
	}
}

func TestForCPU(t *testing.T) {
	t.Setenv(EnvWorkers, "")
	if got := ForCPU(1); got != 1 {
		t.Errorf("ForCPU(1) = %d, want 1", got)
	}
	if got := ForCPU(0); got != runtime.GOMAXPROCS(0) {
		t.Errorf("ForCPU(0) = %d, want GOMAXPROCS", got)
	}
}

func TestWorkloadString(t *testing.T) {
	for w, want := range map[Workload]string{CPUBound: "cpu", IOBound: "io", Mixed: "mixed", Workload(9): "unknown"} {
		if got := w.String(); got != want {
			t.Errorf("Workload(%d).String() = %q, want %q", int(w), got, want)
		}
	}
}
