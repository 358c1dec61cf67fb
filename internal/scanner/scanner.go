package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"imgcat/internal/database"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/mediatypes"
	"imgcat/internal/memory"
	"imgcat/internal/metrics"
	"imgcat/internal/workers"
)

const (
	// Number of unchanged files to touch per transaction.
	defaultBatchSize = 500

	// Extractions allowed in flight before the scanner waits on the oldest.
	defaultInFlight = 64

	// Session rows are rewritten every this many settled files.
	persistEvery = 200
)

var (
	errNoRoots      = errors.New("no roots given")
	errNotDirectory = errors.New("not a directory")
)

// RootError reports a root that cannot be enumerated. It fails the whole
// session.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string { return fmt.Sprintf("scan root %s: %v", e.Root, e.Err) }

func (e *RootError) Unwrap() error { return e.Err }

// Store is the catalog surface the scanner writes through.
type Store interface {
	DigestsUnder(ctx context.Context, roots []string) (map[string]string, error)
	Upsert(ctx context.Context, rec *database.ImageRecord) error
	TouchBatch(ctx context.Context, paths []string, seen time.Time) (int64, error)
	MarkUnseenDeleted(ctx context.Context, root string, cutoff time.Time) (int64, error)
	CreateSession(ctx context.Context, s *database.SessionRecord) error
	UpdateSession(ctx context.Context, s *database.SessionRecord) error
	CountActive(ctx context.Context) (int, error)
	LastCompletedSession(ctx context.Context, modes ...string) (*database.SessionRecord, error)
}

// Extractor fingerprints one file.
type Extractor interface {
	ExtractFile(path string) (fingerprint.Result, error)
}

// IndexSink receives embeddings as they are written so the approximate
// index stays current between rebuilds.
type IndexSink interface {
	Insert(ctx context.Context, id int64, vec []float32) error
	Remove(ids ...int64)
}

// Config tunes a Scanner.
type Config struct {
	BatchSize       int
	InFlight        int
	ExcludeDirs     []string
	SkipHidden      bool
	FreshnessWindow time.Duration
	// TaskTimeout overrides the pool's per-task budget when positive.
	TaskTimeout time.Duration
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       defaultBatchSize,
		InFlight:        defaultInFlight,
		SkipHidden:      true,
		FreshnessWindow: 24 * time.Hour,
	}
}

// Scanner synchronizes the catalog with the image files under a set of
// roots, extracting fingerprints only for new and changed files.
type Scanner struct {
	store     Store
	pool      *workers.Pool[fingerprint.Result]
	extractor Extractor
	cfg       Config
	filter    *mediatypes.DirFilter

	index   IndexSink
	monitor *memory.Monitor
}

// New creates a scanner. The pool must already be started.
func New(store Store, pool *workers.Pool[fingerprint.Result], extractor Extractor, cfg Config) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.InFlight <= 0 {
		cfg.InFlight = defaultInFlight
	}
	return &Scanner{
		store:     store,
		pool:      pool,
		extractor: extractor,
		cfg:       cfg,
		filter:    mediatypes.NewDirFilter(cfg.ExcludeDirs),
	}
}

// SetIndex registers the index that receives new embeddings.
func (s *Scanner) SetIndex(index IndexSink) {
	s.index = index
}

// SetMemoryMonitor makes dispatch wait while memory usage is critical.
func (s *Scanner) SetMemoryMonitor(m *memory.Monitor) {
	s.monitor = m
}

// pending is one dispatched extraction awaiting its result.
type pending struct {
	file   candidate
	digest string
	class  string
	future *workers.Future[fingerprint.Result]
}

// run carries the per-scan state shared by the helpers below.
type run struct {
	s       *Scanner
	sess    *Session
	events  chan<- Event
	touches []string
	settled int64
	// touchFailed means some seen rows kept a stale last_seen, so the
	// deletion sweep would be wrong.
	touchFailed bool
}

// Scan runs sess to completion and closes events, which may be nil. The
// last event sent has Done set. Per-file failures are counted and logged;
// only an unreadable root or an unreachable catalog fail the session, and
// then Scan returns the error as well.
//
// Extractions already in flight when the session is cancelled still
// finish and are recorded; deletion detection is skipped.
func (s *Scanner) Scan(ctx context.Context, sess *Session, events chan<- Event) (err error) {
	if events != nil {
		defer close(events)
	}

	startTime := time.Now()
	metrics.ScannerIsRunning.Set(1)
	defer func() {
		metrics.ScannerIsRunning.Set(0)
		metrics.ScannerLastRunDuration.Set(time.Since(startTime).Seconds())
		metrics.ScannerLastRunTimestamp.Set(float64(time.Now().Unix()))
		metrics.ScannerSessionsTotal.WithLabelValues(string(sess.Status())).Inc()
	}()

	r := &run{s: s, sess: sess, events: events}
	// Store writes must land even after ctx is cancelled.
	wctx := context.WithoutCancel(ctx)

	roots, err := NormalizeRoots(sess.Roots)
	if err != nil {
		return r.fail(wctx, err, false)
	}

	if err := s.store.CreateSession(wctx, sess.Record()); err != nil {
		return r.fail(wctx, fmt.Errorf("create session: %w", err), false)
	}

	known, err := s.store.DigestsUnder(wctx, roots)
	if err != nil {
		return r.fail(wctx, fmt.Errorf("load catalog snapshot: %w", err), true)
	}

	logging.Info("Scan %s started (%s) over %d root(s), %d known file(s)", sess.ID, sess.Mode, len(roots), len(known))

	// A pause must not outlive cancellation of the session or of ctx.
	pauseCtx, stopPause := context.WithCancel(ctx)
	defer stopPause()
	go func() {
		select {
		case <-sess.Done():
			stopPause()
		case <-pauseCtx.Done():
		}
	}()

	halted := false
	stopped := func() bool { return halted || sess.Cancelled() || ctx.Err() != nil }
	found := s.walk(ctx, roots, stopped)
	sess.total.Store(int64(len(found.files)))
	if found.errors > 0 {
		sess.errors.Add(found.errors)
		metrics.ScannerFilesClassified.WithLabelValues("error").Add(float64(found.errors))
	}
	logging.Debug("Scan %s: %d candidate file(s) found", sess.ID, len(found.files))

	var window []*pending
	for _, f := range found.files {
		if stopped() {
			break
		}

		digest, err := Digest(f.path)
		if err != nil {
			r.fileError(f.path, err)
			if _, ok := known[f.path]; ok {
				r.touch(wctx, f.path)
			}
			r.progress(f.path, "error")
			continue
		}

		class := "new"
		if prev, ok := known[f.path]; ok {
			class = "updated"
			if prev == digest {
				class = "unchanged"
			}
		}

		if class == "unchanged" && sess.Mode != ModeFull {
			sess.scanned.Add(1)
			sess.unchanged.Add(1)
			metrics.ScannerFilesClassified.WithLabelValues("unchanged").Inc()
			r.touch(wctx, f.path)
			r.progress(f.path, class)
			continue
		}

		if s.monitor != nil && !s.monitor.WaitIfPausedCtx(pauseCtx) {
			halted = true
			break
		}

		p, err := r.dispatch(ctx, f, digest, class)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.fileError(f.path, err)
			if class != "new" {
				r.touch(wctx, f.path)
			}
			r.progress(f.path, "error")
			if errors.Is(err, workers.ErrPoolShuttingDown) {
				halted = true
				break
			}
			continue
		}
		window = append(window, p)

		// Settle whatever already finished, then wait on the oldest if
		// the window is full.
		for len(window) > 0 && (isDone(window[0]) || len(window) >= s.cfg.InFlight) {
			r.settle(wctx, window[0])
			window = window[1:]
		}
	}

	for _, p := range window {
		r.settle(wctx, p)
	}
	r.flushTouches(wctx)

	if stopped() {
		logging.Info("Scan %s cancelled after %d of %d file(s)", sess.ID, sess.scanned.Load(), sess.total.Load())
		sess.finish(StatusCancelled, nil)
		r.persist(wctx)
		r.terminal()
		return nil
	}

	for _, root := range roots {
		if r.touchFailed {
			logging.Warn("Scan %s: skipping deletion detection, last-seen updates failed", sess.ID)
			break
		}
		if found.incomplete[root] {
			logging.Warn("Scan %s: skipping deletion detection under %s, some directories were unreadable", sess.ID, root)
			continue
		}
		n, err := s.store.MarkUnseenDeleted(wctx, root, sess.StartedAt)
		if err != nil {
			return r.fail(wctx, fmt.Errorf("mark deleted under %s: %w", root, err), true)
		}
		if n > 0 {
			sess.deleted.Add(n)
			metrics.ScannerFilesClassified.WithLabelValues("deleted").Add(float64(n))
			logging.Info("Scan %s: %d record(s) under %s marked deleted", sess.ID, n, root)
		}
	}

	sess.finish(StatusCompleted, nil)
	r.persist(wctx)

	c := sess.Counts()
	logging.Info("Scan %s completed in %v: %d scanned, %d new, %d updated, %d unchanged, %d deleted, %d errors",
		sess.ID, time.Since(startTime).Round(time.Millisecond),
		c.Scanned, c.New, c.Updated, c.Unchanged, c.Deleted, c.Errors)
	r.terminal()
	return nil
}

func isDone(p *pending) bool {
	select {
	case <-p.future.Done():
		return true
	default:
		return false
	}
}

func (r *run) dispatch(ctx context.Context, f candidate, digest, class string) (*pending, error) {
	extractor := r.s.extractor
	path := f.path
	future, err := r.s.pool.Submit(ctx, workers.Task[fingerprint.Result]{
		ID:      path,
		Timeout: r.s.cfg.TaskTimeout,
		Run: func(context.Context) (fingerprint.Result, error) {
			return extractor.ExtractFile(path)
		},
	})
	if err != nil {
		return nil, err
	}
	return &pending{file: f, digest: digest, class: class, future: future}, nil
}

// settle waits for p, writes its record and feeds the index.
func (r *run) settle(ctx context.Context, p *pending) {
	res, err := p.future.Result()
	if err != nil {
		r.fileError(p.file.path, err)
		if p.class != "new" {
			r.touch(ctx, p.file.path)
		}
		r.progress(p.file.path, "error")
		return
	}

	rec := &database.ImageRecord{
		Path:          p.file.path,
		Filename:      filepath.Base(p.file.path),
		ParentPath:    filepath.Dir(p.file.path),
		Size:          p.file.size,
		Width:         res.Info.Width,
		Height:        res.Info.Height,
		Format:        res.Info.Format,
		ModTime:       p.file.modTime,
		Fingerprint:   res.Fingerprint,
		ContentDigest: p.digest,
		LastSeen:      time.Now(),
	}
	if err := r.s.store.Upsert(ctx, rec); err != nil {
		r.fileError(p.file.path, err)
		r.progress(p.file.path, "error")
		return
	}

	r.sess.scanned.Add(1)
	switch p.class {
	case "new":
		r.sess.added.Add(1)
	case "updated":
		r.sess.updated.Add(1)
	default:
		r.sess.unchanged.Add(1)
	}
	metrics.ScannerFilesClassified.WithLabelValues(p.class).Inc()

	if r.s.index != nil {
		if vec := rec.Fingerprint.Vector(fingerprint.Embedding); len(vec) > 0 {
			if err := r.s.index.Insert(ctx, rec.ID, vec); err != nil {
				logging.Debug("Scan: index insert for %s skipped: %v", rec.Path, err)
			}
		} else if p.class != "new" {
			r.s.index.Remove(rec.ID)
		}
	}

	r.progress(p.file.path, p.class)
}

func (r *run) fileError(path string, err error) {
	r.sess.errors.Add(1)
	metrics.ScannerFilesClassified.WithLabelValues("error").Inc()

	var (
		decodeErr *fingerprint.DecodeError
		crashErr  *workers.WorkerCrashError
		storeErr  *database.StoreError
	)
	switch {
	case errors.As(err, &decodeErr):
		logging.Warn("Scan: cannot decode %s: %v", path, decodeErr.Err)
	case errors.Is(err, workers.ErrTaskTimeout):
		logging.Warn("Scan: extraction timed out for %s", path)
	case errors.As(err, &crashErr):
		logging.Warn("Scan: extraction crashed for %s: %v", path, crashErr.Value)
	case errors.As(err, &storeErr):
		logging.Warn("Scan: cannot store %s: %v", path, storeErr.Err)
	default:
		logging.Warn("Scan: %s: %v", path, err)
	}
}

// touch queues an unchanged path for a last_seen bump.
func (r *run) touch(ctx context.Context, path string) {
	r.touches = append(r.touches, path)
	if len(r.touches) >= r.s.cfg.BatchSize {
		r.flushTouches(ctx)
	}
}

func (r *run) flushTouches(ctx context.Context) {
	if len(r.touches) == 0 {
		return
	}
	if _, err := r.s.store.TouchBatch(ctx, r.touches, time.Now()); err != nil {
		logging.Error("Scan %s: touch batch of %d failed: %v", r.sess.ID, len(r.touches), err)
		r.touchFailed = true
	}
	r.touches = r.touches[:0]
}

// progress emits a non-blocking progress event and periodically persists
// the session row.
func (r *run) progress(path, class string) {
	r.settled++
	if r.settled%persistEvery == 0 {
		r.persist(context.Background())
	}
	if r.events == nil {
		return
	}
	ev := Event{
		SessionID:   r.sess.ID,
		Current:     r.settled,
		Total:       r.sess.total.Load(),
		CurrentFile: path,
		Class:       class,
	}
	select {
	case r.events <- ev:
	default:
	}
}

func (r *run) persist(ctx context.Context) {
	if err := r.s.store.UpdateSession(ctx, r.sess.Record()); err != nil {
		logging.Warn("Scan %s: cannot persist session: %v", r.sess.ID, err)
	}
}

// terminal sends the final event. The caller must drain events.
func (r *run) terminal() {
	if r.events == nil {
		return
	}
	c := r.sess.Counts()
	ev := Event{
		SessionID: r.sess.ID,
		Current:   r.settled,
		Total:     c.Total,
		Done:      true,
		Success:   r.sess.Status() == StatusCompleted,
		Status:    r.sess.Status(),
		Stats:     &c,
	}
	if err := r.sess.Err(); err != nil {
		ev.Error = err.Error()
	}
	r.events <- ev
}

// fail ends the session as failed. persisted says whether the session row
// exists and should be updated.
func (r *run) fail(ctx context.Context, err error, persisted bool) error {
	logging.Error("Scan %s failed: %v", r.sess.ID, err)
	r.sess.finish(StatusFailed, err)
	if persisted {
		r.persist(ctx)
	}
	r.terminal()
	return err
}
