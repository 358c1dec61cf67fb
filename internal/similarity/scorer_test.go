package similarity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
	"imgcat/internal/vector"
)

type fakeCatalog struct {
	records []database.ImageRecord
	err     error
	getAll  int
}

func (f *fakeCatalog) GetAll(context.Context) ([]database.ImageRecord, error) {
	f.getAll++
	if f.err != nil {
		return nil, f.err
	}
	var out []database.ImageRecord
	for _, r := range f.records {
		if r.Status == database.StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetByIDs(_ context.Context, ids []int64) ([]database.ImageRecord, error) {
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []database.ImageRecord
	for _, r := range f.records {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, f.err
}

func (f *fakeCatalog) FindByHashPrefix(_ context.Context, prefix string) ([]database.ImageRecord, error) {
	var out []database.ImageRecord
	for _, r := range f.records {
		if r.Status == database.StatusActive && strings.HasPrefix(string(r.Fingerprint.PHash), prefix[:database.PHashPrefixLen]) {
			out = append(out, r)
		}
	}
	return out, f.err
}

type fakeIndex struct {
	results []vector.Result
	err     error
}

func (f *fakeIndex) Query(context.Context, []float32, int) ([]vector.Result, error) {
	return f.results, f.err
}

func rec(id int64, path string, fp fingerprint.Fingerprint) database.ImageRecord {
	return database.ImageRecord{ID: id, Path: path, Status: database.StatusActive, Fingerprint: fp}
}

func TestScorerFullScan(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{records: []database.ImageRecord{
		rec(1, "/q.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0}}),
		rec(2, "/near.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0.1}}),
		rec(3, "/far.jpg", fingerprint.Fingerprint{Embedding: []float32{0, 1}}),
		rec(4, "/hash-only.jpg", fingerprint.Fingerprint{PHash: "ffff"}),
	}}
	s := NewScorer(cat, nil, DefaultConfig())

	res, err := s.Search(context.Background(), Query{
		Fingerprint: fingerprint.Fingerprint{Embedding: []float32{1, 0}},
		ExcludeID:   1,
		Threshold:   0.5,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Path != PathFullScan {
		t.Errorf("Path = %q, want full_scan", res.Path)
	}
	if len(res.Matches) != 1 || res.Matches[0].Record.ID != 2 {
		t.Fatalf("Matches = %+v, want only record 2", res.Matches)
	}
	if _, ok := res.Matches[0].Modalities[fingerprint.Embedding]; !ok {
		t.Error("match should carry its per-modality breakdown")
	}
}

func TestScorerANNPath(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{records: []database.ImageRecord{
		rec(1, "/q.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0}}),
		rec(2, "/a.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0}}),
		rec(3, "/b.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0.2}}),
	}}
	idx := &fakeIndex{results: []vector.Result{{ID: 1}, {ID: 3, Distance: 0.02}, {ID: 2}}}
	s := NewScorer(cat, idx, DefaultConfig())

	res, err := s.Search(context.Background(), Query{
		Fingerprint: fingerprint.Fingerprint{Embedding: []float32{1, 0}},
		ExcludePath: "/q.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathANN {
		t.Errorf("Path = %q, want ann", res.Path)
	}
	if len(res.Matches) != 2 || res.Matches[0].Record.ID != 2 || res.Matches[1].Record.ID != 3 {
		t.Errorf("Matches = %+v, want ids 2 then 3", res.Matches)
	}
	if cat.getAll != 0 {
		t.Error("ANN hit should not scan the full catalog")
	}
}

func TestScorerIndexUnavailableFallsBack(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{records: []database.ImageRecord{
		rec(1, "/a.jpg", fingerprint.Fingerprint{PHash: "abcd0000", Embedding: []float32{1, 0}}),
		rec(2, "/b.jpg", fingerprint.Fingerprint{PHash: "abcd0001", Embedding: []float32{1, 0}}),
		rec(3, "/c.jpg", fingerprint.Fingerprint{PHash: "12340000", Embedding: []float32{1, 0}}),
	}}

	for _, idxErr := range []error{vector.ErrIndexNotReady, errors.New("boom")} {
		s := NewScorer(cat, &fakeIndex{err: idxErr}, DefaultConfig())
		res, err := s.Search(context.Background(), Query{
			Fingerprint: fingerprint.Fingerprint{PHash: "abcd0000", Embedding: []float32{1, 0}},
			ExcludeID:   1,
		})
		if err != nil {
			t.Fatalf("index error %v surfaced: %v", idxErr, err)
		}
		if res.Path != PathPrefix {
			t.Errorf("Path = %q, want prefix", res.Path)
		}
		if len(res.Matches) != 1 || res.Matches[0].Record.ID != 2 {
			t.Errorf("Matches = %+v, want record 2", res.Matches)
		}
	}
}

func TestScorerFastPathOnlySelfFallsBackToFullScan(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{records: []database.ImageRecord{
		rec(1, "/q.jpg", fingerprint.Fingerprint{PHash: "abcd0000", Embedding: []float32{1, 0}}),
		rec(2, "/other.jpg", fingerprint.Fingerprint{PHash: "99990000", Embedding: []float32{1, 0.05}}),
	}}
	idx := &fakeIndex{results: []vector.Result{{ID: 1}}}
	s := NewScorer(cat, idx, DefaultConfig())

	res, err := s.Search(context.Background(), Query{
		Fingerprint: fingerprint.Fingerprint{PHash: "abcd0000", Embedding: []float32{1, 0}},
		ExcludeID:   1,
		Weights:     Weights{fingerprint.Embedding: 1},
		Threshold:   0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathFullScan {
		t.Errorf("Path = %q, want full_scan", res.Path)
	}
	if len(res.Matches) != 1 || res.Matches[0].Record.ID != 2 {
		t.Errorf("Matches = %+v, want record 2", res.Matches)
	}
	if cat.getAll != 1 {
		t.Errorf("GetAll called %d times, want 1", cat.getAll)
	}
}

func TestScorerStaleIndexEntriesIgnored(t *testing.T) {
	t.Parallel()

	deleted := rec(2, "/gone.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0}})
	deleted.Status = database.StatusDeleted
	cat := &fakeCatalog{records: []database.ImageRecord{
		deleted,
		rec(3, "/kept.jpg", fingerprint.Fingerprint{Embedding: []float32{1, 0}}),
	}}
	s := NewScorer(cat, &fakeIndex{results: []vector.Result{{ID: 2}, {ID: 3}}}, DefaultConfig())

	res, err := s.Search(context.Background(), Query{Fingerprint: fingerprint.Fingerprint{Embedding: []float32{1, 0}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Record.ID != 3 {
		t.Errorf("Matches = %+v, want only the active record", res.Matches)
	}
}

func TestScorerErrors(t *testing.T) {
	t.Parallel()

	good := fingerprint.Fingerprint{Embedding: []float32{1, 0}}
	tests := []struct {
		name    string
		catalog *fakeCatalog
		query   Query
		op      string
		target  error
	}{
		{name: "empty fingerprint", catalog: &fakeCatalog{}, query: Query{}, op: "query", target: ErrEmptyQuery},
		{name: "threshold", catalog: &fakeCatalog{}, query: Query{Fingerprint: good, Threshold: 1.5}, op: "query"},
		{name: "weights", catalog: &fakeCatalog{}, query: Query{Fingerprint: good, Weights: Weights{fingerprint.Color: -1}}, op: "weights"},
		{name: "catalog down", catalog: &fakeCatalog{err: errors.New("disk gone")}, query: Query{Fingerprint: good}, op: "catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewScorer(tt.catalog, nil, DefaultConfig()).Search(context.Background(), tt.query)

			var qe *QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("error = %v, want *QueryError", err)
			}
			if qe.Op != tt.op {
				t.Errorf("Op = %q, want %q", qe.Op, tt.op)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			if res.Matches == nil || len(res.Matches) != 0 {
				t.Errorf("Matches = %#v, want empty non-nil", res.Matches)
			}
		})
	}
}

func TestScorerAbsentModalityNotZero(t *testing.T) {
	t.Parallel()

	// The candidate lacks shape and color; with default weights only the
	// embedding counts, so an identical embedding scores 1.
	cat := &fakeCatalog{records: []database.ImageRecord{
		rec(5, "/x.jpg", fingerprint.Fingerprint{Embedding: []float32{0.6, 0.8}}),
	}}
	res, err := NewScorer(cat, nil, DefaultConfig()).Search(context.Background(), Query{
		Fingerprint: fingerprint.Fingerprint{Embedding: []float32{0.6, 0.8}, Shape: []float32{1, 0}, Color: []float32{1}},
		Threshold:   0.99,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Similarity < 0.999999 {
		t.Errorf("Matches = %+v, want one match with similarity 1", res.Matches)
	}
}
