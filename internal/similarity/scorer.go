package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/metrics"
	"imgcat/internal/vector"
)

// Candidate paths, as reported in Result.Path and metrics.
const (
	PathANN      = "ann"
	PathPrefix   = "prefix"
	PathFullScan = "full_scan"
)

// ErrEmptyQuery is returned for a query fingerprint with no modalities.
var ErrEmptyQuery = errors.New("similarity: query fingerprint has no modalities")

// QueryError is the structured failure returned by Search. Results are
// always empty when it is returned.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("search %s: %v", e.Op, e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

// Catalog is the read side of the fingerprint store used for scoring.
type Catalog interface {
	GetAll(ctx context.Context) ([]database.ImageRecord, error)
	GetByIDs(ctx context.Context, ids []int64) ([]database.ImageRecord, error)
	FindByHashPrefix(ctx context.Context, prefix string) ([]database.ImageRecord, error)
}

// NeighborIndex answers approximate nearest-neighbor queries.
type NeighborIndex interface {
	Query(ctx context.Context, vec []float32, k int) ([]vector.Result, error)
}

// Config tunes a Scorer.
type Config struct {
	Measure Measure
	// CandidatePool is how many neighbors the index pre-filter fetches.
	CandidatePool int
}

// DefaultConfig returns the scorer defaults.
func DefaultConfig() Config {
	return Config{Measure: DefaultMeasure(), CandidatePool: 200}
}

// Query describes one similarity search.
type Query struct {
	Fingerprint fingerprint.Fingerprint
	// ExcludeID and ExcludePath identify the query's own catalog record,
	// which is never returned as a match.
	ExcludeID   int64
	ExcludePath string
	Threshold   float64
	Weights     Weights
	Limit       int
}

// Result carries ranked matches and how the candidates were found.
type Result struct {
	Matches    []Match `json:"results"`
	Path       string  `json:"path"`
	Candidates int     `json:"candidates"`
}

// Scorer ranks catalog entries against a query fingerprint. It tries the
// approximate index, then a perceptual-hash prefix lookup, and falls back
// to scoring the whole catalog when neither yields anything but the query.
type Scorer struct {
	catalog Catalog
	index   NeighborIndex
	cfg     Config
}

// NewScorer creates a scorer. index may be nil.
func NewScorer(catalog Catalog, index NeighborIndex, cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = def.CandidatePool
	}
	if cfg.Measure.ShapeBlockLen <= 0 {
		cfg.Measure.ShapeBlockLen = def.Measure.ShapeBlockLen
	}
	if cfg.Measure.ShapeNormalization <= 0 {
		cfg.Measure.ShapeNormalization = def.Measure.ShapeNormalization
	}
	return &Scorer{catalog: catalog, index: index, cfg: cfg}
}

// Search ranks the catalog against q. On failure it returns an empty
// Result and a *QueryError.
func (s *Scorer) Search(ctx context.Context, q Query) (res Result, err error) {
	start := time.Now()
	res.Matches = []Match{}
	defer func() {
		path := res.Path
		if path == "" {
			path = PathFullScan
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SearchRequestsTotal.WithLabelValues(path, status).Inc()
		metrics.SearchDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.SearchResultsReturned.Observe(float64(len(res.Matches)))
		}
	}()

	if q.Fingerprint.IsEmpty() {
		return res, &QueryError{Op: "query", Err: ErrEmptyQuery}
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return res, &QueryError{Op: "query", Err: fmt.Errorf("threshold %v outside [0, 1]", q.Threshold)}
	}
	weights := q.Weights
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return res, &QueryError{Op: "weights", Err: err}
	}
	weights = weights.Normalize()

	if path, cands, ok := s.fastPath(ctx, q); ok {
		matches := Rank(s.score(q, weights, cands), q.Threshold, q.Limit)
		if len(matches) > 0 {
			return Result{Matches: matches, Path: path, Candidates: len(cands)}, nil
		}
		logging.Debug("Search %s path yielded no matches beyond the query, scanning full catalog", path)
		metrics.IndexFallbacksTotal.WithLabelValues("too_few").Inc()
	}

	all, err := s.catalog.GetAll(ctx)
	if err != nil {
		return Result{Matches: []Match{}, Path: PathFullScan}, &QueryError{Op: "catalog", Err: err}
	}
	cands := s.withoutQuery(q, all)
	matches := Rank(s.score(q, weights, cands), q.Threshold, q.Limit)
	return Result{Matches: matches, Path: PathFullScan, Candidates: len(cands)}, nil
}

// fastPath gathers pre-filtered candidates. ok is false when no fast path
// applies or it produced nothing beyond the query itself.
func (s *Scorer) fastPath(ctx context.Context, q Query) (string, []database.ImageRecord, bool) {
	if s.index != nil && q.Fingerprint.Has(fingerprint.Embedding) {
		cands, err := s.annCandidates(ctx, q)
		switch {
		case err == nil && len(cands) > 0:
			return PathANN, cands, true
		case errors.Is(err, vector.ErrIndexNotReady):
			metrics.IndexFallbacksTotal.WithLabelValues("not_ready").Inc()
		case err != nil:
			logging.Debug("Index query failed, falling back: %v", err)
			metrics.IndexFallbacksTotal.WithLabelValues("query_error").Inc()
		default:
			metrics.IndexFallbacksTotal.WithLabelValues("too_few").Inc()
		}
	}

	if q.Fingerprint.Has(fingerprint.PHash) && len(q.Fingerprint.PHash) >= database.PHashPrefixLen {
		recs, err := s.catalog.FindByHashPrefix(ctx, string(q.Fingerprint.PHash))
		if err != nil {
			logging.Debug("Hash prefix lookup failed, falling back: %v", err)
			return "", nil, false
		}
		if cands := s.withoutQuery(q, recs); len(cands) > 0 {
			return PathPrefix, cands, true
		}
	}
	return "", nil, false
}

func (s *Scorer) annCandidates(ctx context.Context, q Query) ([]database.ImageRecord, error) {
	neighbors, err := s.index.Query(ctx, q.Fingerprint.Embedding, s.cfg.CandidatePool)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.ID)
	}
	recs, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load candidates: %v", vector.ErrIndexUnavailable, err)
	}

	// The index may lag the catalog; drop entries deleted since the last
	// rebuild.
	active := recs[:0]
	for _, r := range recs {
		if r.Status == database.StatusActive {
			active = append(active, r)
		}
	}
	return s.withoutQuery(q, active), nil
}

func (s *Scorer) withoutQuery(q Query, recs []database.ImageRecord) []database.ImageRecord {
	out := make([]database.ImageRecord, 0, len(recs))
	for _, r := range recs {
		if (q.ExcludeID != 0 && r.ID == q.ExcludeID) || (q.ExcludePath != "" && r.Path == q.ExcludePath) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// score computes aggregate similarity for each candidate in insertion
// order. Candidates sharing no weighted modality with the query are
// skipped.
func (s *Scorer) score(q Query, w Weights, cands []database.ImageRecord) []Match {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })

	matches := make([]Match, 0, len(cands))
	for i := range cands {
		sims := s.cfg.Measure.Compare(w, &q.Fingerprint, &cands[i].Fingerprint)
		score, ok := Aggregate(w, sims)
		if !ok {
			continue
		}
		matches = append(matches, Match{Record: cands[i], Similarity: score, Modalities: sims})
	}
	return matches
}
