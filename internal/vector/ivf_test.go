package vector

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

// clusteredEntries returns n vectors spread around `groups` well separated
// directions.
func clusteredEntries(n, dims, groups int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Entry, n)
	for i := range out {
		v := make([]float32, dims)
		v[i%groups] = 10
		for d := range v {
			v[d] += float32(rng.NormFloat64() * 0.1)
		}
		out[i] = Entry{ID: int64(i + 1), Vector: v}
	}
	return out
}

func bruteForce(entries []Entry, q []float32, k int) []int64 {
	qn, _ := normalized(q)
	type scored struct {
		id   int64
		dist float64
	}
	var all []scored
	for _, e := range entries {
		en, _ := normalized(e.Vector)
		all = append(all, scored{e.ID, cosineDistance(qn, en)})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && (all[j].dist < all[j-1].dist || (all[j].dist == all[j-1].dist && all[j].id < all[j-1].id)); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	ids := make([]int64, 0, k)
	for i := 0; i < k && i < len(all); i++ {
		ids = append(ids, all[i].id)
	}
	return ids
}

func TestIVFIndex_BuildSearch(t *testing.T) {
	t.Parallel()

	entries := clusteredEntries(400, 16, 8, 1)
	idx := NewIVFIndex(IVFConfig{NProbe: 8, Seed: 7})
	if err := idx.Build(context.Background(), entries); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if idx.Size() != 400 {
		t.Errorf("Size() = %d, want 400", idx.Size())
	}
	if idx.Lists() != 20 {
		t.Errorf("Lists() = %d, want round(sqrt(400)) = 20", idx.Lists())
	}
	if idx.Dimensions() != 16 {
		t.Errorf("Dimensions() = %d, want 16", idx.Dimensions())
	}

	// Querying with a stored vector must return that vector first.
	res, err := idx.Search(context.Background(), entries[42].Vector, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res) != 5 {
		t.Fatalf("Search() returned %d results, want 5", len(res))
	}
	if res[0].ID != entries[42].ID || res[0].Distance > 1e-6 {
		t.Errorf("top result = %+v, want id %d at distance 0", res[0], entries[42].ID)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Distance < res[i-1].Distance {
			t.Fatalf("results not sorted by distance: %+v", res)
		}
	}

	// Recall against brute force: same cluster, so most true neighbors are found.
	want := bruteForce(entries, entries[42].Vector, 10)
	got, _ := idx.Search(context.Background(), entries[42].Vector, 10)
	found := map[int64]bool{}
	for _, r := range got {
		found[r.ID] = true
	}
	hits := 0
	for _, id := range want {
		if found[id] {
			hits++
		}
	}
	if hits < 8 {
		t.Errorf("recall@10 = %d/10, want at least 8", hits)
	}
}

func TestIVFIndex_Deterministic(t *testing.T) {
	t.Parallel()

	entries := clusteredEntries(100, 8, 4, 3)
	a := NewIVFIndex(IVFConfig{Seed: 11})
	b := NewIVFIndex(IVFConfig{Seed: 11})
	if err := a.Build(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), entries); err != nil {
		t.Fatal(err)
	}

	for i := range a.centroids {
		for d := range a.centroids[i] {
			if a.centroids[i][d] != b.centroids[i][d] {
				t.Fatalf("centroid %d differs between builds with the same seed", i)
			}
		}
	}
}

func TestIVFIndex_AddBeforeBuild(t *testing.T) {
	t.Parallel()

	idx := NewIVFIndex(DefaultIVFConfig())
	ctx := context.Background()

	if err := idx.Add(ctx, Entry{ID: 1, Vector: []float32{1, 0}}, Entry{ID: 2, Vector: []float32{0, 1}}); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, []float32{1, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != 1 {
		t.Errorf("Search() = %+v, want id 1", res)
	}

	if err := idx.Add(ctx, Entry{ID: 3, Vector: []float32{1, 0, 0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add(wrong dims) error = %v, want ErrDimensionMismatch", err)
	}
	if err := idx.Add(ctx, Entry{ID: 4, Vector: []float32{0, 0}}); err == nil {
		t.Error("Add(zero vector) should fail")
	}
}

func TestIVFIndex_AddAfterBuildAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := clusteredEntries(50, 4, 4, 5)
	idx := NewIVFIndex(IVFConfig{NProbe: 2})
	if err := idx.Build(ctx, entries); err != nil {
		t.Fatal(err)
	}

	fresh := Entry{ID: 1000, Vector: []float32{0, 0, 0, 1}}
	if err := idx.Add(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, fresh.Vector, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) == 0 || res[0].ID != 1000 {
		t.Errorf("Search() after Add = %+v, want id 1000 first", res)
	}

	// Replacing an id keeps the size stable.
	if err := idx.Add(ctx, Entry{ID: 1000, Vector: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 51 {
		t.Errorf("Size() after replace = %d, want 51", idx.Size())
	}

	if n := idx.Remove(1000, 1, 9999); n != 2 {
		t.Errorf("Remove() = %d, want 2", n)
	}
	if idx.Size() != 49 {
		t.Errorf("Size() after Remove = %d, want 49", idx.Size())
	}
	res, _ = idx.Search(ctx, []float32{1, 0, 0, 0}, 100)
	for _, r := range res {
		if r.ID == 1000 || r.ID == 1 {
			t.Errorf("removed id %d still returned", r.ID)
		}
	}
}

func TestIVFIndex_SearchEdgeCases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIVFIndex(DefaultIVFConfig())

	if res, err := idx.Search(ctx, []float32{1}, 3); err != nil || res != nil {
		t.Errorf("empty index Search() = %v, %v", res, err)
	}

	if err := idx.Build(ctx, []Entry{{ID: 1, Vector: []float32{1, 0}}, {ID: 2, Vector: []float32{float32(math.NaN()), 0}}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("Build() kept %d entries, want 1 (NaN skipped)", idx.Size())
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search(wrong dims) error = %v", err)
	}
	if _, err := idx.Search(ctx, []float32{0, 0}, 1); err == nil {
		t.Error("Search(zero query) should fail")
	}
	if res, _ := idx.Search(ctx, []float32{1, 0}, 0); res != nil {
		t.Errorf("Search(k=0) = %v, want nil", res)
	}
}

func TestIVFIndex_BuildCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := NewIVFIndex(DefaultIVFConfig())
	if err := idx.Build(ctx, clusteredEntries(20, 4, 2, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
}

func TestIVFIndex_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "ivf.bin")

	entries := clusteredEntries(60, 8, 3, 9)
	idx := NewIVFIndex(IVFConfig{NProbe: 2})
	if err := idx.Build(ctx, entries); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, Entry{ID: 500, Vector: entries[0].Vector}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := NewIVFIndex(IVFConfig{NProbe: 2})
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Size() != idx.Size() || loaded.Lists() != idx.Lists() || loaded.Dimensions() != 8 {
		t.Errorf("loaded size/lists/dims = %d/%d/%d, want %d/%d/8",
			loaded.Size(), loaded.Lists(), loaded.Dimensions(), idx.Size(), idx.Lists())
	}

	q := entries[17].Vector
	want, _ := idx.Search(ctx, q, 5)
	got, _ := loaded.Search(ctx, q, 5)
	if len(got) != len(want) {
		t.Fatalf("loaded Search() returned %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestIVFIndex_LoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	idx := NewIVFIndex(DefaultIVFConfig())

	if err := idx.Load(filepath.Join(dir, "missing.bin")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want fs.ErrNotExist", err)
	}

	bogus := filepath.Join(dir, "bogus.bin")
	if err := writeFile(bogus, []byte("definitely not an index snapshot")); err != nil {
		t.Fatal(err)
	}
	if err := idx.Load(bogus); err == nil {
		t.Error("Load(bogus) should fail")
	}
}
