package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrIndexUnavailable means the index is not built, not loaded or failed
	// a query. Callers fall back to a linear scan.
	ErrIndexUnavailable = errors.New("vector: index unavailable")

	// ErrIndexNotReady is the ErrIndexUnavailable flavor returned before the
	// first build or snapshot load.
	ErrIndexNotReady = fmt.Errorf("%w: not built or loaded", ErrIndexUnavailable)

	// ErrDimensionMismatch is returned for vectors whose length differs from
	// the index dimensionality.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")
)

// Entry pairs a catalog record id with its embedding.
type Entry struct {
	ID     int64
	Vector []float32
}

// Result is one neighbor. Distance is cosine distance (1 - cosine
// similarity), so smaller is closer.
type Result struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}

// Index is a nearest-neighbor structure over embeddings.
type Index interface {
	Build(ctx context.Context, entries []Entry) error
	Add(ctx context.Context, entries ...Entry) error
	Remove(ids ...int64) int
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
}

// normalized returns a unit-length copy of v, or false when v is empty,
// zero or not finite.
func normalized(v []float32) ([]float32, bool) {
	if len(v) == 0 {
		return nil, false
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, false
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, true
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// cosineDistance expects unit vectors.
func cosineDistance(a, b []float32) float64 {
	d := 1 - dot(a, b)
	if d < 0 {
		return 0
	}
	return d
}
