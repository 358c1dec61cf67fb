package similarity

import (
	"sort"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
)

// DefaultLimit caps ranked results when the caller gives no limit.
const DefaultLimit = 50

// Aggregate combines per-modality similarities:
//
//	score = Σ(w_i · s_i) / Σ(w_i)  over modalities present in sims
//
// Weights for modalities missing from sims contribute to neither sum. It
// returns false when no weighted modality is present.
func Aggregate(w Weights, sims map[fingerprint.Modality]float64) (float64, bool) {
	var num, den float64
	for m, weight := range w {
		if weight <= 0 {
			continue
		}
		s, ok := sims[m]
		if !ok {
			continue
		}
		num += weight * s
		den += weight
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// Match is one ranked catalog entry.
type Match struct {
	Record     database.ImageRecord             `json:"record"`
	Similarity float64                          `json:"similarity"`
	Modalities map[fingerprint.Modality]float64 `json:"modalities,omitempty"`
}

// Rank keeps matches scoring at least threshold, sorts them by similarity
// descending and caps the result at limit (DefaultLimit when limit <= 0).
// Equal scores keep their input order, which callers supply in catalog
// insertion order.
func Rank(matches []Match, threshold float64, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
