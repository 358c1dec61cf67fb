package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/metrics"
	"imgcat/internal/scanner"
	"imgcat/internal/similarity"
	"imgcat/internal/workers"
)

// SearchRequest is one similarity search. Exactly one of Path and
// Fingerprint is set.
type SearchRequest struct {
	Path        string                   `json:"path,omitempty"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	// Threshold defaults to the configured threshold when nil.
	Threshold *float64 `json:"threshold,omitempty"`
	// Weights take precedence over Preset.
	Weights similarity.Weights `json:"weights,omitempty"`
	Preset  string             `json:"preset,omitempty"`
	Limit   int                `json:"limit,omitempty"`
}

// SearchResponse is a ranked result plus how it was produced.
type SearchResponse struct {
	similarity.Result
	Expanded bool `json:"expanded,omitempty"`
}

// SearchSimilar ranks the catalog against the request's image or
// fingerprint. Failures are returned as a *similarity.QueryError together
// with an empty, non-nil result list.
//
// A file query that finds fewer than the policy's minimum results may
// rescan the file's directory once and score again.
func (e *Engine) SearchSimilar(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if req.Path != "" {
		abs, err := filepath.Abs(req.Path)
		if err != nil {
			return emptyResponse(), &similarity.QueryError{Op: "query", Err: err}
		}
		req.Path = abs
	}

	q, err := e.buildQuery(ctx, req)
	if err != nil {
		return emptyResponse(), err
	}

	res, err := e.scorer.Search(ctx, q)
	if err != nil || req.Path == "" || !e.cfg.Expand.Wants(len(res.Matches)) {
		return SearchResponse{Result: res}, err
	}

	budget := e.cfg.Expand.NewBudget()
	if !budget.Take() {
		metrics.SearchExpandTotal.WithLabelValues("budget_exhausted").Inc()
		return SearchResponse{Result: res}, nil
	}

	dir := queryDir(req.Path)
	logging.Debug("Search for %s returned %d result(s), rescanning %s", req.Path, len(res.Matches), dir)
	if _, err := e.RescanDir(ctx, dir); err != nil {
		logging.Warn("Search expansion rescan of %s failed: %v", dir, err)
		metrics.SearchExpandTotal.WithLabelValues("error").Inc()
		return SearchResponse{Result: res}, nil
	}
	metrics.SearchExpandTotal.WithLabelValues("rescanned").Inc()

	// The rescan may have catalogued the query file itself.
	if rec, err := e.db.GetByPath(ctx, req.Path); err == nil && rec.Status == database.StatusActive {
		q.ExcludeID = rec.ID
	}
	again, err := e.scorer.Search(ctx, q)
	if err != nil {
		return SearchResponse{Result: again}, err
	}
	return SearchResponse{Result: again, Expanded: true}, nil
}

func emptyResponse() SearchResponse {
	return SearchResponse{Result: similarity.Result{Matches: []similarity.Match{}}}
}

func (e *Engine) buildQuery(ctx context.Context, req SearchRequest) (similarity.Query, error) {
	q := similarity.Query{
		Threshold: e.cfg.DefaultThreshold,
		Limit:     req.Limit,
	}
	if req.Threshold != nil {
		q.Threshold = *req.Threshold
	}
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}

	switch {
	case len(req.Weights) > 0:
		q.Weights = req.Weights
	default:
		name := req.Preset
		if name == "" {
			name = e.cfg.DefaultPreset
		}
		w, ok := similarity.Preset(name)
		if !ok {
			return q, &similarity.QueryError{Op: "weights", Err: fmt.Errorf("unknown preset %q", name)}
		}
		q.Weights = w
	}

	switch {
	case req.Fingerprint != nil && req.Path != "":
		return q, &similarity.QueryError{Op: "query", Err: errors.New("give either a path or a fingerprint, not both")}
	case req.Fingerprint != nil:
		q.Fingerprint = *req.Fingerprint
		return q, nil
	case req.Path == "":
		return q, &similarity.QueryError{Op: "query", Err: errors.New("a path or a fingerprint is required")}
	}

	fp, id, err := e.queryFingerprint(ctx, req.Path)
	if err != nil {
		return q, &similarity.QueryError{Op: "extract", Err: err}
	}
	q.Fingerprint = fp
	q.ExcludeID = id
	q.ExcludePath = req.Path
	return q, nil
}

// queryFingerprint returns the fingerprint of the file at path, reusing
// the catalogued one when its content is unchanged. id is the record's ID
// or 0 when the file is not catalogued.
func (e *Engine) queryFingerprint(ctx context.Context, path string) (fingerprint.Fingerprint, int64, error) {
	digest, err := scanner.Digest(path)
	if err != nil {
		return fingerprint.Fingerprint{}, 0, err
	}

	var id int64
	rec, err := e.db.GetByPath(ctx, path)
	switch {
	case err == nil && rec.Status == database.StatusActive:
		id = rec.ID
		if rec.ContentDigest == digest && !rec.Fingerprint.IsEmpty() {
			return rec.Fingerprint, id, nil
		}
	case err != nil && !errors.Is(err, database.ErrNotFound):
		logging.Debug("Catalog lookup for query %s failed, extracting: %v", path, err)
	}

	future, err := e.pool.Submit(ctx, workers.Task[fingerprint.Result]{
		ID:  "query:" + path,
		Run: func(context.Context) (fingerprint.Result, error) { return e.extractor.ExtractFile(path) },
	})
	if err != nil {
		return fingerprint.Fingerprint{}, 0, err
	}
	res, err := future.Wait(ctx)
	if err != nil {
		return fingerprint.Fingerprint{}, 0, err
	}
	return res.Fingerprint, id, nil
}
