package similarity

import "sync/atomic"

// ExpandPolicy bounds the "rescan and retry" step taken when a search
// returns too few results.
type ExpandPolicy struct {
	// MaxRescans is how many directory rescans one search may trigger.
	MaxRescans int `yaml:"max_rescans"`
	// MinResults is the result count below which expansion is attempted.
	MinResults int `yaml:"min_results"`
}

// DefaultExpandPolicy allows one rescan when a search finds nothing.
func DefaultExpandPolicy() ExpandPolicy {
	return ExpandPolicy{MaxRescans: 1, MinResults: 1}
}

// Wants reports whether n results are too few.
func (p ExpandPolicy) Wants(n int) bool {
	return p.MaxRescans > 0 && n < p.MinResults
}

// Budget tracks the rescans left for one search.
type Budget struct {
	remaining atomic.Int32
}

// NewBudget returns a fresh budget for one search.
func (p ExpandPolicy) NewBudget() *Budget {
	b := &Budget{}
	b.remaining.Store(int32(max(0, p.MaxRescans)))
	return b
}

// Take consumes one rescan, reporting false once the budget is spent.
func (b *Budget) Take() bool {
	for {
		n := b.remaining.Load()
		if n <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Remaining returns the rescans left.
func (b *Budget) Remaining() int {
	return int(b.remaining.Load())
}
