package similarity

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"imgcat/internal/fingerprint"
)

// Weights maps modalities to their contribution to the aggregate score.
type Weights map[fingerprint.Modality]float64

// Preset names.
const (
	PresetDefault  = "default"
	PresetHashes   = "hashes"
	PresetBalanced = "balanced"
)

var presets = map[string]Weights{
	PresetDefault: {
		fingerprint.Embedding: 0.7,
		fingerprint.Shape:     0.2,
		fingerprint.Color:     0.1,
	},
	PresetHashes: {
		fingerprint.PHash:     0.4,
		fingerprint.DHash:     0.3,
		fingerprint.BlockHash: 0.3,
	},
	PresetBalanced: {
		fingerprint.PHash:     1,
		fingerprint.DHash:     1,
		fingerprint.BlockHash: 1,
		fingerprint.Color:     1,
		fingerprint.Shape:     1,
		fingerprint.Embedding: 1,
	},
}

// Preset returns a copy of the named weight preset.
func Preset(name string) (Weights, bool) {
	w, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultWeights returns the default preset.
func DefaultWeights() Weights {
	w, _ := Preset(PresetDefault)
	return w
}

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for m, v := range w {
		out[m] = v
	}
	return out
}

// Validate rejects negative or non-finite weights and weight sets with
// nothing positive.
func (w Weights) Validate() error {
	var total float64
	for m, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid weight %v for %s", v, m)
		}
		total += v
	}
	if total == 0 {
		return fmt.Errorf("weights must include at least one positive value")
	}
	return nil
}

// Normalize returns a copy scaled to sum to 1 with zero weights dropped.
func (w Weights) Normalize() Weights {
	var total float64
	for _, v := range w {
		if v > 0 {
			total += v
		}
	}
	out := make(Weights, len(w))
	if total == 0 {
		return out
	}
	for m, v := range w {
		if v > 0 {
			out[m] = v / total
		}
	}
	return out
}

// String renders weights in the form ParseWeights accepts, in modality
// order.
func (w Weights) String() string {
	var parts []string
	for _, m := range fingerprint.AllModalities {
		if v, ok := w[m]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", m, strconv.FormatFloat(v, 'g', -1, 64)))
		}
	}
	return strings.Join(parts, ",")
}

// ParseWeights parses "embedding=0.7,shape=0.2,color=0.1".
func ParseWeights(s string) (Weights, error) {
	w := make(Weights)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("weight %q: expected modality=value", part)
		}
		m, err := fingerprint.ParseModality(name)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", part, err)
		}
		w[m] = v
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}
