package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	snapshotMagic   uint32 = 0x31465649 // "IVF1" little-endian
	snapshotVersion uint32 = 1

	maxSnapshotDims    = 1 << 16
	maxSnapshotLists   = 1 << 20
	maxSnapshotEntries = 1 << 28
)

// IVFConfig tunes the inverted-file index.
type IVFConfig struct {
	// NList is the number of coarse clusters; 0 picks round(sqrt(n)).
	NList int `yaml:"nlist"`
	// NProbe is how many clusters a query visits.
	NProbe     int   `yaml:"nprobe"`
	Iterations int   `yaml:"iterations"`
	Seed       int64 `yaml:"seed"`
}

// DefaultIVFConfig returns the settings used when none are configured.
func DefaultIVFConfig() IVFConfig {
	return IVFConfig{NProbe: 8, Iterations: 20, Seed: 42}
}

// slot locates an entry: list -1 is the overflow list used before the
// first build.
type slot struct {
	list int
	pos  int
}

// IVFIndex is an inverted-file index: a k-means coarse quantizer over unit
// embeddings with one posting list per centroid. Queries probe the NProbe
// closest lists and re-rank their members by exact cosine distance.
type IVFIndex struct {
	cfg IVFConfig

	mu        sync.RWMutex
	dims      int
	centroids [][]float32
	lists     [][]Entry
	overflow  []Entry
	where     map[int64]slot
}

// NewIVFIndex creates an empty index. Dimensionality is fixed by the first
// vector it sees.
func NewIVFIndex(cfg IVFConfig) *IVFIndex {
	def := DefaultIVFConfig()
	if cfg.NProbe <= 0 {
		cfg.NProbe = def.NProbe
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	return &IVFIndex{cfg: cfg, where: make(map[int64]slot)}
}

// Size returns the number of indexed entries.
func (x *IVFIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.where)
}

// Dimensions returns the vector length, 0 before any vector is added.
func (x *IVFIndex) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dims
}

// Lists returns the number of coarse clusters.
func (x *IVFIndex) Lists() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.centroids)
}

// Build replaces the index contents with entries, retraining the
// quantizer. Entries with unusable vectors are skipped; a later duplicate
// id wins.
func (x *IVFIndex) Build(ctx context.Context, entries []Entry) error {
	x.mu.RLock()
	dims := x.dims
	x.mu.RUnlock()

	byID := make(map[int64]int, len(entries))
	clean := make([]Entry, 0, len(entries))
	for _, e := range entries {
		v, ok := normalized(e.Vector)
		if !ok {
			continue
		}
		if dims == 0 {
			dims = len(v)
		}
		if len(v) != dims {
			return fmt.Errorf("%w: entry %d has %d dimensions, want %d", ErrDimensionMismatch, e.ID, len(v), dims)
		}
		if i, dup := byID[e.ID]; dup {
			clean[i].Vector = v
			continue
		}
		byID[e.ID] = len(clean)
		clean = append(clean, Entry{ID: e.ID, Vector: v})
	}

	vecs := make([][]float32, len(clean))
	for i, e := range clean {
		vecs[i] = e.Vector
	}

	centroids, assign, err := kmeans(ctx, vecs, x.nlist(len(clean)), x.cfg.Iterations, x.cfg.Seed)
	if err != nil {
		return err
	}

	lists := make([][]Entry, len(centroids))
	where := make(map[int64]slot, len(clean))
	for i, e := range clean {
		c := assign[i]
		where[e.ID] = slot{list: c, pos: len(lists[c])}
		lists[c] = append(lists[c], e)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dims = dims
	x.centroids = centroids
	x.lists = lists
	x.overflow = nil
	x.where = where
	return nil
}

func (x *IVFIndex) nlist(n int) int {
	if n == 0 {
		return 0
	}
	k := x.cfg.NList
	if k <= 0 {
		k = int(math.Round(math.Sqrt(float64(n))))
	}
	return max(1, min(k, n))
}

// Add inserts or replaces entries without retraining. Each goes to its
// nearest centroid, or the overflow list when the index was never built.
func (x *IVFIndex) Add(_ context.Context, entries ...Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range entries {
		v, ok := normalized(e.Vector)
		if !ok {
			return fmt.Errorf("vector: entry %d has an empty, zero or non-finite vector", e.ID)
		}
		if x.dims == 0 {
			x.dims = len(v)
		}
		if len(v) != x.dims {
			return fmt.Errorf("%w: entry %d has %d dimensions, want %d", ErrDimensionMismatch, e.ID, len(v), x.dims)
		}
		x.removeLocked(e.ID)

		list := -1
		if len(x.centroids) > 0 {
			list = nearest(x.centroids, v)
		}
		ref := x.listRef(list)
		x.where[e.ID] = slot{list: list, pos: len(*ref)}
		*ref = append(*ref, Entry{ID: e.ID, Vector: v})
	}
	return nil
}

// Remove drops ids and returns how many were present.
func (x *IVFIndex) Remove(ids ...int64) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for _, id := range ids {
		if x.removeLocked(id) {
			n++
		}
	}
	return n
}

func (x *IVFIndex) listRef(list int) *[]Entry {
	if list < 0 {
		return &x.overflow
	}
	return &x.lists[list]
}

func (x *IVFIndex) removeLocked(id int64) bool {
	s, ok := x.where[id]
	if !ok {
		return false
	}
	ref := x.listRef(s.list)
	last := len(*ref) - 1
	if s.pos != last {
		moved := (*ref)[last]
		(*ref)[s.pos] = moved
		x.where[moved.ID] = s
	}
	*ref = (*ref)[:last]
	delete(x.where, id)
	return true
}

// Search returns up to k neighbors of query, closest first, ties by id.
func (x *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.where) == 0 {
		return nil, nil
	}
	if len(query) != x.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(query), x.dims)
	}
	q, ok := normalized(query)
	if !ok {
		return nil, errors.New("vector: query vector is empty, zero or non-finite")
	}

	var results []Result
	scan := func(list []Entry) {
		for _, e := range list {
			results = append(results, Result{ID: e.ID, Distance: cosineDistance(q, e.Vector)})
		}
	}

	for _, c := range x.probe(q) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scan(x.lists[c])
	}
	scan(x.overflow)

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// probe returns the NProbe closest centroids to q.
func (x *IVFIndex) probe(q []float32) []int {
	if len(x.centroids) == 0 {
		return nil
	}
	order := make([]int, len(x.centroids))
	scores := make([]float64, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = i
		scores[i] = dot(q, c)
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	return order[:min(x.cfg.NProbe, len(order))]
}

func nearest(centroids [][]float32, v []float32) int {
	best, bestScore := 0, math.Inf(-1)
	for i, c := range centroids {
		if s := dot(v, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// kmeans runs spherical k-means seeded from a deterministic sample of
// vecs. Clusters that empty out keep their previous centroid.
func kmeans(ctx context.Context, vecs [][]float32, k, iterations int, seed int64) ([][]float32, []int, error) {
	if k == 0 || len(vecs) == 0 {
		return nil, nil, nil
	}
	dims := len(vecs[0])

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(vecs))
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vecs[perm[i]]...)
	}

	assign := make([]int, len(vecs))
	for i := range assign {
		assign[i] = -1
	}

	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dims)
	}
	counts := make([]int, k)

	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		changed := 0
		for i, v := range vecs {
			if c := nearest(centroids, v); c != assign[i] {
				assign[i] = c
				changed++
			}
		}
		if changed == 0 {
			break
		}

		for c := range sums {
			clear(sums[c])
			counts[c] = 0
		}
		for i, v := range vecs {
			c := assign[i]
			counts[c]++
			for d, f := range v {
				sums[c][d] += float64(f)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			mean := make([]float32, dims)
			for d := range mean {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			if unit, ok := normalized(mean); ok {
				centroids[c] = unit
			}
		}
	}

	// final assignment against the settled centroids
	for i, v := range vecs {
		assign[i] = nearest(centroids, v)
	}
	return centroids, assign, nil
}

type snapshotHeader struct {
	Magic   uint32
	Version uint32
	Dims    uint32
	Lists   uint32
	Entries uint32
}

// Save writes a little-endian snapshot to path via a temp file and rename.
func (x *IVFIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ivf-*.tmp")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := x.writeSnapshot(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (x *IVFIndex) writeSnapshot(w io.Writer) error {
	hdr := snapshotHeader{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		Dims:    uint32(x.dims),
		Lists:   uint32(len(x.centroids)),
		Entries: uint32(len(x.where)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, c := range x.centroids {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return fmt.Errorf("write centroid: %w", err)
		}
	}

	writeList := func(list int32, entries []Entry) error {
		for _, e := range entries {
			if err := binary.Write(w, binary.LittleEndian, e.ID); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, list); err != nil {
				return fmt.Errorf("write list: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, e.Vector); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		return nil
	}
	for i, l := range x.lists {
		if err := writeList(int32(i), l); err != nil {
			return err
		}
	}
	return writeList(-1, x.overflow)
}

// Load replaces the index contents with the snapshot at path. A missing
// file returns an error satisfying errors.Is(err, fs.ErrNotExist).
func (x *IVFIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != snapshotMagic {
		return fmt.Errorf("vector: %s is not an index snapshot", path)
	}
	if hdr.Version != snapshotVersion {
		return fmt.Errorf("vector: unsupported snapshot version %d", hdr.Version)
	}
	if hdr.Dims > maxSnapshotDims || hdr.Lists > maxSnapshotLists || hdr.Entries > maxSnapshotEntries {
		return fmt.Errorf("vector: snapshot header out of range: %+v", hdr)
	}
	if hdr.Entries > 0 && hdr.Dims == 0 {
		return errors.New("vector: snapshot has entries but no dimensions")
	}

	dims := int(hdr.Dims)
	x.mu.RLock()
	current := x.dims
	x.mu.RUnlock()
	if current != 0 && current != dims && hdr.Entries > 0 {
		return fmt.Errorf("%w: snapshot has %d dimensions, index expects %d", ErrDimensionMismatch, dims, current)
	}

	centroids := make([][]float32, hdr.Lists)
	for i := range centroids {
		centroids[i] = make([]float32, dims)
		if err := binary.Read(r, binary.LittleEndian, centroids[i]); err != nil {
			return fmt.Errorf("read centroid %d: %w", i, err)
		}
	}

	lists := make([][]Entry, hdr.Lists)
	var overflow []Entry
	where := make(map[int64]slot, hdr.Entries)
	for i := uint32(0); i < hdr.Entries; i++ {
		var id int64
		var list int32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &list); err != nil {
			return fmt.Errorf("read list: %w", err)
		}
		if list < -1 || list >= int32(hdr.Lists) {
			return fmt.Errorf("vector: entry %d references list %d of %d", id, list, hdr.Lists)
		}
		vec := make([]float32, dims)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		if _, dup := where[id]; dup {
			return fmt.Errorf("vector: duplicate id %d in snapshot", id)
		}

		e := Entry{ID: id, Vector: vec}
		if list < 0 {
			where[id] = slot{list: -1, pos: len(overflow)}
			overflow = append(overflow, e)
		} else {
			where[id] = slot{list: int(list), pos: len(lists[list])}
			lists[list] = append(lists[list], e)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.dims = dims
	x.centroids = centroids
	x.lists = lists
	x.overflow = overflow
	x.where = where
	return nil
}
