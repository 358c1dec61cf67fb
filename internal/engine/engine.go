package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/memory"
	"imgcat/internal/scanner"
	"imgcat/internal/similarity"
	"imgcat/internal/vector"
	"imgcat/internal/workers"
)

var (
	// ErrScanInProgress is returned when a scan is requested while another
	// one is running.
	ErrScanInProgress = errors.New("engine: a scan is already in progress")

	// ErrNoRoots is returned when a scan names no roots and none are
	// configured.
	ErrNoRoots = errors.New("engine: no scan roots configured")
)

// eventBuffer is the capacity of the event channel returned by Scan.
const eventBuffer = 256

// Config tunes an Engine.
type Config struct {
	// Roots are scanned when a request names none.
	Roots   []string
	Scanner scanner.Config
	Search  similarity.Config
	Expand  similarity.ExpandPolicy
	// DefaultThreshold and DefaultPreset apply to searches that leave them
	// unset.
	DefaultThreshold float64
	DefaultPreset    string
	DefaultLimit     int
	// ScanWhenStale starts a scan at startup when the catalog is merely
	// stale. An empty catalog is always scanned.
	ScanWhenStale bool
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		Scanner:          scanner.DefaultConfig(),
		Search:           similarity.DefaultConfig(),
		Expand:           similarity.DefaultExpandPolicy(),
		DefaultThreshold: 0.5,
		DefaultPreset:    "default",
		DefaultLimit:     similarity.DefaultLimit,
		ScanWhenStale:    true,
	}
}

// Engine is the command surface: it owns the scanner, the approximate
// index and the scorer over one catalog and one worker pool.
type Engine struct {
	db        *database.Database
	pool      *workers.Pool[fingerprint.Result]
	extractor scanner.Extractor
	index     *vector.Manager
	scanner   *scanner.Scanner
	scorer    *similarity.Scorer
	cfg       Config

	mu      sync.Mutex
	current *scanner.Session
	last    *scanner.Session

	onScanComplete func(scanner.Info)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an engine. The pool must already be started; the engine
// shuts it down in Close. index may be nil, in which case searches always
// use the hash-prefix and full-scan paths.
func New(db *database.Database, pool *workers.Pool[fingerprint.Result], extractor scanner.Extractor, index *vector.Manager, cfg Config) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = similarity.DefaultLimit
	}
	if cfg.DefaultPreset == "" {
		cfg.DefaultPreset = "default"
	}

	sc := scanner.New(db, pool, extractor, cfg.Scanner)
	var neighbors similarity.NeighborIndex
	if index != nil {
		sc.SetIndex(index)
		neighbors = index
		index.SetOnRebuild(func(st vector.Status) {
			if err := db.SetTime(context.Background(), database.MetaLastIndexBuild, st.LastBuild); err != nil {
				logging.Warn("Failed to record index build time: %v", err)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:        db,
		pool:      pool,
		extractor: extractor,
		index:     index,
		scanner:   sc,
		scorer:    similarity.NewScorer(db, neighbors, cfg.Search),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetMemoryMonitor makes scans pause dispatch while memory is critical.
func (e *Engine) SetMemoryMonitor(m *memory.Monitor) {
	e.scanner.SetMemoryMonitor(m)
}

// SetOnScanComplete registers a callback run after every scan session,
// whatever its outcome.
func (e *Engine) SetOnScanComplete(fn func(scanner.Info)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onScanComplete = fn
}

// Database returns the catalog.
func (e *Engine) Database() *database.Database { return e.db }

// Index returns the index manager, which may be nil.
func (e *Engine) Index() *vector.Manager { return e.index }

// Roots returns the configured scan roots.
func (e *Engine) Roots() []string { return append([]string(nil), e.cfg.Roots...) }

// Exclusions returns the extra excluded directory names.
func (e *Engine) Exclusions() []string { return append([]string(nil), e.cfg.Scanner.ExcludeDirs...) }

// tryStartScan claims the scan slot for sess.
func (e *Engine) tryStartScan(sess *scanner.Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return false
	}
	e.current = sess
	return true
}

func (e *Engine) finishScan(sess *scanner.Session) {
	e.mu.Lock()
	e.current = nil
	e.last = sess
	fn := e.onScanComplete
	e.mu.Unlock()

	if fn != nil {
		fn(sess.Info())
	}
	e.afterScan(sess)
}

// afterScan builds the index once the first embeddings land.
func (e *Engine) afterScan(sess *scanner.Session) {
	if e.index == nil || e.index.Ready() || sess.Status() != scanner.StatusCompleted {
		return
	}
	c := sess.Counts()
	if c.New+c.Updated == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.index.Rebuild(e.ctx); err != nil {
			logging.Warn("Index build after scan failed: %v", err)
		}
	}()
}

// Scan starts a session over roots, or over the configured roots when
// none are given, and returns it with its event stream. The caller must
// drain the stream until it is closed; the last event has Done set.
func (e *Engine) Scan(ctx context.Context, roots []string, mode scanner.Mode) (*scanner.Session, <-chan scanner.Event, error) {
	sess, err := e.newSession(roots, mode)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan scanner.Event, eventBuffer)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.finishScan(sess)
		// The session outlives the request that started it; only Close
		// or CancelScan stop it.
		if err := e.scanner.Scan(e.ctx, sess, events); err != nil {
			logging.Error("Scan %s failed: %v", sess.ID, err)
		}
	}()
	return sess, events, nil
}

func (e *Engine) newSession(roots []string, mode scanner.Mode) (*scanner.Session, error) {
	if len(roots) == 0 {
		roots = e.cfg.Roots
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	clean, err := scanner.NormalizeRoots(roots)
	if err != nil {
		return nil, err
	}
	sess := scanner.NewSession(clean, mode)
	if !e.tryStartScan(sess) {
		return nil, ErrScanInProgress
	}
	return sess, nil
}

// CancelScan requests cancellation of the running scan and reports
// whether there was one.
func (e *Engine) CancelScan() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return false
	}
	e.current.Cancel()
	logging.Info("Cancellation requested for scan %s", e.current.ID)
	return true
}

// CurrentScan returns the running session, if any.
func (e *Engine) CurrentScan() (scanner.Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return scanner.Info{}, false
	}
	return e.current.Info(), true
}

// LastScan returns the most recent session finished by this process.
func (e *Engine) LastScan() (scanner.Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return scanner.Info{}, false
	}
	return e.last.Info(), true
}

// IsScanning reports whether a scan is running.
func (e *Engine) IsScanning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// RescanDir runs an incremental scan of dir and waits for it. The
// session is recorded in rescan mode. It fails
// with ErrScanInProgress rather than queueing behind a running scan.
func (e *Engine) RescanDir(ctx context.Context, dir string) (scanner.Info, error) {
	sess, err := e.newSession([]string{dir}, scanner.ModeRescan)
	if err != nil {
		return scanner.Info{}, err
	}
	defer e.finishScan(sess)

	stop := context.AfterFunc(ctx, sess.Cancel)
	defer stop()

	if err := e.scanner.Scan(e.ctx, sess, nil); err != nil {
		return sess.Info(), err
	}
	return sess.Info(), nil
}

// CheckFreshness reports whether the catalog is due for a scan.
func (e *Engine) CheckFreshness(ctx context.Context, force bool) (scanner.Freshness, error) {
	return e.scanner.CheckFreshness(ctx, force)
}

// RebuildIndex rebuilds the approximate index from the catalog. It
// reports false when a rebuild was already running.
func (e *Engine) RebuildIndex(ctx context.Context) (bool, error) {
	if e.index == nil {
		return false, vector.ErrIndexUnavailable
	}
	return e.index.Rebuild(ctx)
}

// Startup loads the index snapshot, starts periodic index rebuilds and,
// when the catalog needs it, starts a background scan of the configured
// roots. A missing or unreadable snapshot is not fatal.
func (e *Engine) Startup(ctx context.Context) error {
	if e.index != nil {
		if err := e.index.LoadSnapshot(); err != nil {
			logging.Warn("Index snapshot unusable, searches will fall back until the next rebuild: %v", err)
		}
		e.index.Start()
	}

	if len(e.cfg.Roots) == 0 {
		logging.Info("No scan roots configured, skipping startup scan")
		return nil
	}

	f, err := e.scanner.CheckFreshness(ctx, false)
	if err != nil {
		return fmt.Errorf("check catalog freshness: %w", err)
	}
	switch {
	case f.Required:
		logging.Info("Startup scan required: %s", f.Reason)
	case f.Recommended && e.cfg.ScanWhenStale:
		logging.Info("Startup scan recommended: %s", f.Reason)
	case f.Recommended:
		logging.Info("Catalog is stale (%s) but startup scans of stale catalogs are disabled", f.Reason)
		e.buildIndexIfMissing()
		return nil
	default:
		logging.Info("Catalog is fresh (last scan %s)", f.LastScan.Format(time.RFC3339))
		e.buildIndexIfMissing()
		return nil
	}

	sess, events, err := e.Scan(ctx, nil, scanner.ModeIncremental)
	if err != nil {
		return fmt.Errorf("start startup scan: %w", err)
	}
	logging.Info("Startup scan %s running in background", sess.ID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for range events {
		}
	}()
	return nil
}

func (e *Engine) buildIndexIfMissing() {
	if e.index == nil || e.index.Ready() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.index.Rebuild(e.ctx); err != nil {
			logging.Warn("Startup index build failed: %v", err)
		}
	}()
}

// Close cancels any running scan, waits for background work and shuts
// down the index loop and the worker pool. The catalog stays open.
func (e *Engine) Close(ctx context.Context) error {
	e.CancelScan()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Engine close timed out waiting for background work")
	}

	if e.index != nil {
		e.index.Stop()
	}
	return e.pool.Shutdown(ctx)
}

// queryDir is the directory rescanned when a file query finds too little.
func queryDir(path string) string {
	return filepath.Dir(path)
}
