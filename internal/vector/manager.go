package vector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"imgcat/internal/database"
	"imgcat/internal/logging"
	"imgcat/internal/metrics"
)

// Source supplies the embeddings an index is built from.
type Source interface {
	GetAllWithEmbedding(ctx context.Context) ([]database.ImageRecord, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SnapshotPath is where rebuilt indexes are saved and loaded from.
	// Empty disables snapshots.
	SnapshotPath string
	// RebuildInterval drives the periodic rebuild loop; 0 disables it.
	RebuildInterval time.Duration
	IVF             IVFConfig
}

// Status describes the managed index.
type Status struct {
	Ready      bool      `json:"ready"`
	Rebuilding bool      `json:"rebuilding"`
	Size       int       `json:"size"`
	Dimensions int       `json:"dimensions"`
	Lists      int       `json:"lists"`
	LastBuild  time.Time `json:"lastBuild,omitempty"`
}

// Manager owns the live index. Rebuilds run one at a time and concurrent
// requests coalesce behind the running one. Inserts that arrive during a
// rebuild are replayed into the new index before it goes live.
type Manager struct {
	source Source
	cfg    ManagerConfig

	mu        sync.RWMutex
	index     *IVFIndex
	ready     bool
	lastBuild time.Time

	buildMu    sync.Mutex
	rebuilding bool
	backlog    []Entry
	removed    []int64

	onRebuild func(Status)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager with no index; call LoadSnapshot or Rebuild
// before querying.
func NewManager(source Source, cfg ManagerConfig) *Manager {
	metrics.IndexReady.Set(0)
	return &Manager{
		source: source,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// SetOnRebuild registers a callback invoked after each successful rebuild.
func (m *Manager) SetOnRebuild(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRebuild = fn
}

// Ready reports whether queries can be served.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready && m.index != nil
}

// Status returns a snapshot of the index state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	idx, ready, last := m.index, m.ready, m.lastBuild
	m.mu.RUnlock()

	m.buildMu.Lock()
	rebuilding := m.rebuilding
	m.buildMu.Unlock()

	s := Status{Ready: ready && idx != nil, Rebuilding: rebuilding, LastBuild: last}
	if idx != nil {
		s.Size = idx.Size()
		s.Dimensions = idx.Dimensions()
		s.Lists = idx.Lists()
	}
	return s
}

func (m *Manager) tryStartRebuild() bool {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	if m.rebuilding {
		return false
	}
	m.rebuilding = true
	m.backlog = nil
	m.removed = nil
	return true
}

func (m *Manager) finishRebuild() {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	m.rebuilding = false
	m.backlog = nil
	m.removed = nil
}

// Rebuild retrains the index from the full set of catalog embeddings. It
// returns false without error when another rebuild is already running.
func (m *Manager) Rebuild(ctx context.Context) (bool, error) {
	if !m.tryStartRebuild() {
		logging.Debug("Index rebuild already in progress, coalescing")
		metrics.IndexRebuildsTotal.WithLabelValues("coalesced").Inc()
		return false, nil
	}
	defer m.finishRebuild()

	start := time.Now()
	err := m.rebuild(ctx)
	metrics.IndexRebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IndexRebuildsTotal.WithLabelValues("error").Inc()
		return true, err
	}
	metrics.IndexRebuildsTotal.WithLabelValues("success").Inc()

	status := m.Status()
	logging.Info("Index rebuilt: %d entries in %d lists (%v)", status.Size, status.Lists, time.Since(start).Round(time.Millisecond))

	m.mu.RLock()
	hook := m.onRebuild
	m.mu.RUnlock()
	if hook != nil {
		hook(status)
	}
	return true, nil
}

func (m *Manager) rebuild(ctx context.Context) error {
	recs, err := m.source.GetAllWithEmbedding(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}

	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, Entry{ID: r.ID, Vector: r.Fingerprint.Embedding})
	}

	next := NewIVFIndex(m.cfg.IVF)
	if err := next.Build(ctx, entries); err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	m.mu.Lock()
	m.buildMu.Lock()
	backlog, removed := m.backlog, m.removed
	m.backlog, m.removed = nil, nil
	m.buildMu.Unlock()

	if len(backlog) > 0 {
		if err := next.Add(ctx, backlog...); err != nil {
			logging.Warn("Replaying %d index inserts after rebuild: %v", len(backlog), err)
		}
	}
	next.Remove(removed...)

	m.index = next
	m.ready = true
	m.lastBuild = time.Now()
	m.mu.Unlock()

	metrics.IndexSize.Set(float64(next.Size()))
	metrics.IndexReady.Set(1)

	if m.cfg.SnapshotPath != "" {
		if err := next.Save(m.cfg.SnapshotPath); err != nil {
			logging.Warn("Failed to save index snapshot to %s: %v", m.cfg.SnapshotPath, err)
		}
	}
	return nil
}

// LoadSnapshot loads the saved index if one exists. A missing snapshot is
// not an error; the index simply stays unavailable until the first
// rebuild.
func (m *Manager) LoadSnapshot() error {
	path := m.cfg.SnapshotPath
	if path == "" {
		return nil
	}

	idx := NewIVFIndex(m.cfg.IVF)
	if err := idx.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Info("No index snapshot at %s; it will be built on the next rebuild", path)
			return nil
		}
		return fmt.Errorf("load index snapshot: %w", err)
	}

	var built time.Time
	if info, err := os.Stat(path); err == nil {
		built = info.ModTime()
	}

	m.mu.Lock()
	m.index = idx
	m.ready = true
	m.lastBuild = built
	m.mu.Unlock()

	metrics.IndexSize.Set(float64(idx.Size()))
	metrics.IndexReady.Set(1)
	logging.Info("Loaded index snapshot with %d entries from %s", idx.Size(), path)
	return nil
}

// Insert adds or replaces one embedding without a rebuild. It returns
// ErrIndexUnavailable when there is no index and none is being built.
func (m *Manager) Insert(ctx context.Context, id int64, vec []float32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.buildMu.Lock()
	if m.rebuilding {
		m.backlog = append(m.backlog, Entry{ID: id, Vector: vec})
	}
	rebuilding := m.rebuilding
	m.buildMu.Unlock()

	if m.index == nil {
		if rebuilding {
			return nil
		}
		return ErrIndexNotReady
	}
	if err := m.index.Add(ctx, Entry{ID: id, Vector: vec}); err != nil {
		return err
	}
	metrics.IndexSize.Set(float64(m.index.Size()))
	return nil
}

// Remove drops ids from the live index.
func (m *Manager) Remove(ids ...int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.buildMu.Lock()
	if m.rebuilding {
		m.removed = append(m.removed, ids...)
	}
	m.buildMu.Unlock()

	if m.index != nil {
		m.index.Remove(ids...)
		metrics.IndexSize.Set(float64(m.index.Size()))
	}
}

// Query returns up to k neighbors of vec. Every failure wraps
// ErrIndexUnavailable.
func (m *Manager) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	m.mu.RLock()
	idx, ready := m.index, m.ready
	m.mu.RUnlock()

	if !ready || idx == nil {
		return nil, ErrIndexNotReady
	}
	res, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return res, nil
}

// Start launches the periodic rebuild loop when an interval is configured.
func (m *Manager) Start() {
	if m.cfg.RebuildInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.periodicRebuild()
}

// Stop ends the periodic loop and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) periodicRebuild() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logging.Debug("Periodic index rebuild triggered")
			if _, err := m.Rebuild(context.Background()); err != nil {
				logging.Error("periodic index rebuild failed: %v", err)
			}
		case <-m.stopCh:
			return
		}
	}
}
