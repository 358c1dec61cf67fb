package fingerprint

import (
	"fmt"
	"strings"
)

// Modality names one feature-extraction method.
type Modality string

// Modalities, in extraction order.
const (
	PHash     Modality = "phash"
	DHash     Modality = "dhash"
	BlockHash Modality = "blockhash"
	Color     Modality = "color"
	Shape     Modality = "shape"
	Embedding Modality = "embedding"
)

// AllModalities lists every modality in extraction order.
var AllModalities = []Modality{PHash, DHash, BlockHash, Color, Shape, Embedding}

// ParseModality converts a name such as "phash" into a Modality.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModalities {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// IsHash reports whether m is one of the bit-string modalities.
func (m Modality) IsHash() bool {
	return m == PHash || m == DHash || m == BlockHash
}

// Fingerprint is the set of modality values for one image version. A zero
// value for a field means the modality is absent, never "empty".
type Fingerprint struct {
	PHash     Hash      `json:"phash,omitempty"`
	DHash     Hash      `json:"dhash,omitempty"`
	BlockHash Hash      `json:"blockhash,omitempty"`
	Color     []float32 `json:"color,omitempty"`
	Shape     []float32 `json:"shape,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Has reports whether modality m is present.
func (f *Fingerprint) Has(m Modality) bool {
	switch m {
	case PHash:
		return !f.PHash.IsZero()
	case DHash:
		return !f.DHash.IsZero()
	case BlockHash:
		return !f.BlockHash.IsZero()
	case Color:
		return len(f.Color) > 0
	case Shape:
		return len(f.Shape) > 0
	case Embedding:
		return len(f.Embedding) > 0
	}
	return false
}

// Hash returns the bit-string value for a hash modality.
func (f *Fingerprint) Hash(m Modality) Hash {
	switch m {
	case PHash:
		return f.PHash
	case DHash:
		return f.DHash
	case BlockHash:
		return f.BlockHash
	}
	return ""
}

// Vector returns the float vector for a vector modality.
func (f *Fingerprint) Vector(m Modality) []float32 {
	switch m {
	case Color:
		return f.Color
	case Shape:
		return f.Shape
	case Embedding:
		return f.Embedding
	}
	return nil
}

// Present lists the modalities that are set.
func (f *Fingerprint) Present() []Modality {
	var out []Modality
	for _, m := range AllModalities {
		if f.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// IsEmpty reports whether no modality is present.
func (f *Fingerprint) IsEmpty() bool {
	return len(f.Present()) == 0
}
