package similarity

import (
	"errors"
	"fmt"
	"math"

	"imgcat/internal/fingerprint"
)

// DefaultShapeNormalization leaves the bounded shape distance as is.
const DefaultShapeNormalization = 1.0

var errVectorLength = errors.New("similarity: vector lengths differ")

// HashSimilarity is 1 minus the normalized Hamming distance.
func HashSimilarity(a, b fingerprint.Hash) (float64, error) {
	d, err := fingerprint.HammingDistance(a, b)
	if err != nil {
		return 0, err
	}
	bits := a.Len()
	if bits == 0 {
		return 0, errors.New("similarity: empty hash")
	}
	return 1 - float64(d)/float64(bits), nil
}

// CosineSimilarity returns the cosine of the angle between a and b clamped
// to [0, 1]. Zero vectors have no direction and are an error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", errVectorLength, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, errors.New("similarity: zero vector")
	}
	return clamp01(dot / math.Sqrt(na*nb)), nil
}

// ShapeSimilarity converts the Euclidean distance between two HOG
// descriptors into a similarity. Each descriptor block is unit length, so
// the distance is bounded by sqrt(2*blocks); that bound maps distance into
// [0, 1] and norm rescales it before clamping.
func ShapeSimilarity(a, b []float32, blockLen int, norm float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", errVectorLength, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("similarity: empty shape descriptor")
	}
	if blockLen <= 0 {
		blockLen = len(a)
	}
	if norm <= 0 {
		norm = DefaultShapeNormalization
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	blocks := math.Max(1, float64(len(a))/float64(blockLen))
	dist := math.Sqrt(sum) / math.Sqrt(2*blocks)
	return clamp01(1 - dist/norm), nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Measure computes per-modality similarities between two fingerprints.
type Measure struct {
	// ShapeBlockLen is the length of one HOG block in the shape descriptor.
	ShapeBlockLen int
	// ShapeNormalization rescales shape distance; see ShapeSimilarity.
	ShapeNormalization float64
}

// DefaultMeasure matches the extractor's default options.
func DefaultMeasure() Measure {
	return Measure{
		ShapeBlockLen:      fingerprint.ShapeBlockLen(fingerprint.DefaultOptions().ShapeBins),
		ShapeNormalization: DefaultShapeNormalization,
	}
}

// Modality returns the similarity for m and whether it could be computed.
// A modality absent on either side, or stored with an incompatible length,
// is reported as not comparable rather than as zero.
func (ms Measure) Modality(m fingerprint.Modality, q, c *fingerprint.Fingerprint) (float64, bool) {
	if !q.Has(m) || !c.Has(m) {
		return 0, false
	}

	var (
		s   float64
		err error
	)
	switch m {
	case fingerprint.PHash, fingerprint.DHash, fingerprint.BlockHash:
		s, err = HashSimilarity(q.Hash(m), c.Hash(m))
	case fingerprint.Color, fingerprint.Embedding:
		s, err = CosineSimilarity(q.Vector(m), c.Vector(m))
	case fingerprint.Shape:
		s, err = ShapeSimilarity(q.Shape, c.Shape, ms.ShapeBlockLen, ms.ShapeNormalization)
	default:
		return 0, false
	}
	if err != nil {
		return 0, false
	}
	return s, true
}

// Compare computes the similarity of every modality in w that both
// fingerprints carry.
func (ms Measure) Compare(w Weights, q, c *fingerprint.Fingerprint) map[fingerprint.Modality]float64 {
	sims := make(map[fingerprint.Modality]float64, len(w))
	for m := range w {
		if s, ok := ms.Modality(m, q, c); ok {
			sims[m] = s
		}
	}
	return sims
}
