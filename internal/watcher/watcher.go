// Package watcher turns filesystem change notifications under the scan
// roots into debounced, per-directory incremental rescans.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"imgcat/internal/engine"
	"imgcat/internal/logging"
	"imgcat/internal/mediatypes"
	"imgcat/internal/metrics"
	"imgcat/internal/scanner"
)

const (
	defaultDebounce   = 2 * time.Second
	defaultRetryDelay = 10 * time.Second
)

// Rescanner rescans one directory and waits for the result.
type Rescanner interface {
	RescanDir(ctx context.Context, dir string) (scanner.Info, error)
}

// Config tunes a Watcher.
type Config struct {
	// Debounce is how long a directory must stay quiet before it is
	// rescanned.
	Debounce time.Duration
	// RetryDelay is how long to wait before retrying a directory whose
	// rescan was refused because another scan was running.
	RetryDelay  time.Duration
	ExcludeDirs []string
	SkipHidden  bool
}

// DefaultConfig returns the watcher defaults.
func DefaultConfig() Config {
	return Config{Debounce: defaultDebounce, RetryDelay: defaultRetryDelay, SkipHidden: true}
}

// Watcher watches the roots recursively. Excluded directories are never
// added.
type Watcher struct {
	roots  []string
	target Rescanner
	cfg    Config
	filter *mediatypes.DirFilter

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	watched map[string]bool

	ready    chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher over roots that reports settled directories to
// target.
func New(roots []string, target Rescanner, cfg Config) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			clean = append(clean, abs)
		}
	}
	return &Watcher{
		roots:   clean,
		target:  target,
		cfg:     cfg,
		filter:  mediatypes.NewDirFilter(cfg.ExcludeDirs),
		timers:  make(map[string]*time.Timer),
		watched: make(map[string]bool),
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// Start adds the roots and begins processing events until ctx ends or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return err
		}
	}
	logging.Info("Watching %d director(ies) under %d root(s)", w.watchedCount(), len(w.roots))

	w.wg.Add(2)
	go w.run(ctx)
	go w.rescanLoop(ctx)
	return nil
}

// Stop stops watching and waits for a rescan in progress to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for dir, t := range w.timers {
			t.Stop()
			delete(w.timers, dir)
		}
		w.mu.Unlock()
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
	w.wg.Wait()
}

// addTree watches dir and every non-excluded directory beneath it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			logging.Warn("Watcher: cannot read %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.excluded(d.Name()) {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.Warn("Watcher: cannot watch %s: %v", path, err)
			metrics.WatcherErrors.Inc()
			return nil
		}
		w.mu.Lock()
		w.watched[path] = true
		metrics.WatchedDirectories.Set(float64(len(w.watched)))
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) excluded(name string) bool {
	if w.cfg.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.filter.Excluded(name)
}

func (w *Watcher) watchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher error: %v", err)
			metrics.WatcherErrors.Inc()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	parent := filepath.Dir(path)

	switch {
	case ev.Has(fsnotify.Create):
		metrics.WatcherEventsTotal.WithLabelValues("create").Inc()
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.excluded(filepath.Base(path)) {
				return
			}
			if err := w.addTree(path); err != nil {
				logging.Warn("Watcher: cannot watch new directory %s: %v", path, err)
				return
			}
			w.schedule(path)
			return
		}
		if isImage(path) {
			w.schedule(parent)
		}

	case ev.Has(fsnotify.Write):
		metrics.WatcherEventsTotal.WithLabelValues("write").Inc()
		if isImage(path) {
			w.schedule(parent)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		metrics.WatcherEventsTotal.WithLabelValues("remove").Inc()
		w.mu.Lock()
		wasDir := w.forgetLocked(path)
		w.mu.Unlock()
		if wasDir || isImage(path) {
			w.schedule(parent)
		}
	}
}

// forgetLocked drops path and its descendants from the watched set and
// reports whether path was a watched directory.
func (w *Watcher) forgetLocked(path string) bool {
	wasDir := w.watched[path]
	prefix := path + string(os.PathSeparator)
	for dir := range w.watched {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.watched, dir)
			if t, ok := w.timers[dir]; ok {
				t.Stop()
				delete(w.timers, dir)
			}
		}
	}
	metrics.WatchedDirectories.Set(float64(len(w.watched)))
	return wasDir
}

func isImage(path string) bool {
	return mediatypes.IsSupportedImage(mediatypes.Ext(path))
}

// schedule (re)starts dir's debounce timer. Directories outside the roots
// are ignored.
func (w *Watcher) schedule(dir string) {
	w.scheduleAfter(dir, w.cfg.Debounce)
}

func (w *Watcher) scheduleAfter(dir string, delay time.Duration) {
	if !w.underRoot(dir) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if t, ok := w.timers[dir]; ok {
		t.Stop()
	}
	w.timers[dir] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, dir)
		w.mu.Unlock()
		select {
		case w.ready <- dir:
		case <-w.done:
		}
	})
}

func (w *Watcher) underRoot(dir string) bool {
	for _, root := range w.roots {
		if dir == root || strings.HasPrefix(dir, root+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// rescanLoop runs settled directories one at a time.
func (w *Watcher) rescanLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case dir := <-w.ready:
			w.rescan(ctx, dir)
		}
	}
}

func (w *Watcher) rescan(ctx context.Context, dir string) {
	logging.Debug("Watcher: rescanning %s", dir)
	info, err := w.target.RescanDir(ctx, dir)

	var rootErr *scanner.RootError
	switch {
	case err == nil:
		c := info.Counts
		if c.New+c.Updated+c.Deleted > 0 {
			logging.Info("Watcher: %s rescanned: %d new, %d updated, %d deleted", dir, c.New, c.Updated, c.Deleted)
		}
	case errors.Is(err, engine.ErrScanInProgress):
		logging.Debug("Watcher: scan in progress, retrying %s in %v", dir, w.cfg.RetryDelay)
		w.scheduleAfter(dir, w.cfg.RetryDelay)
	case errors.As(err, &rootErr):
		// The directory went away; its parent's rescan marks it deleted.
		if parent := filepath.Dir(dir); parent != dir {
			w.schedule(parent)
		}
	default:
		logging.Warn("Watcher: rescan of %s failed: %v", dir, err)
		metrics.WatcherErrors.Inc()
	}
}
