package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imgcat/internal/database"
	"imgcat/internal/engine"
	"imgcat/internal/filesystem"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/media"
	"imgcat/internal/memory"
	"imgcat/internal/metrics"
	"imgcat/internal/startup"
	"imgcat/internal/vector"
	"imgcat/internal/workers"
)

// closeTimeout bounds how long a command waits for background work on exit.
const closeTimeout = 30 * time.Second

// app holds the components every command runs against.
type app struct {
	cfg     *startup.Config
	db      *database.Database
	engine  *engine.Engine
	monitor *memory.Monitor
	model   *fingerprint.ONNXEngine
	vips    bool
}

// newApp opens the catalog and wires the extractor, worker pool, index
// and engine described by cfg. The caller must Close the result.
func newApp(ctx context.Context, cfg *startup.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	startup.LogMemoryConfig(memory.ConfigureFromEnv())

	if err := cfg.PrepareDataDir(); err != nil {
		return a, err
	}

	filesystem.SetDefaultVolumeResolver(filesystem.NewLibraryResolver(cfg.Scan.Roots, cfg.Storage.DataDir))
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	metrics.InitializeMetrics()

	if cfg.Extract.Vips {
		if err := media.InitVips(); err != nil {
			logging.Warn("libvips unavailable, using the Go decoders only: %v", err)
		} else {
			a.vips = true
		}
	}

	dbStart := time.Now()
	a.db, err = database.New(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return a, fmt.Errorf("open catalog: %w", err)
	}
	active, err := a.db.CountActive(ctx)
	if err != nil {
		return a, fmt.Errorf("count catalog records: %w", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart), active)

	var model fingerprint.Engine
	if cfg.Extract.ModelPath != "" {
		onnx, err := fingerprint.NewONNXEngine(cfg.ONNXConfig())
		if err != nil {
			logging.Warn("Embedding model unavailable, continuing without embeddings: %v", err)
		} else {
			a.model = onnx
			model = onnx
		}
	}
	extractor, err := fingerprint.NewExtractor(cfg.Extract.Options, model)
	if err != nil {
		return a, fmt.Errorf("create extractor: %w", err)
	}
	startup.LogExtractorInit(media.IsVipsAvailable(), model != nil)

	a.monitor = memory.NewMonitor(memory.DefaultConfig())
	a.monitor.Start()

	pool, err := workers.NewPool[fingerprint.Result](cfg.WorkerConfig(), memory.NewSampler(a.monitor))
	if err != nil {
		return a, fmt.Errorf("create worker pool: %w", err)
	}
	pool.Start()

	var index *vector.Manager
	if cfg.Index.Enabled {
		index = vector.NewManager(a.db, cfg.IndexManagerConfig())
		startup.LogIndexInit(cfg.Index.RebuildInterval, cfg.Storage.SnapshotPath)
	}

	a.engine = engine.New(a.db, pool, extractor, index, cfg.EngineConfig())
	a.engine.SetMemoryMonitor(a.monitor)
	return a, nil
}

// loadIndex loads the index snapshot for commands that do not run the
// engine's startup sequence.
func (a *app) loadIndex() {
	idx := a.engine.Index()
	if idx == nil {
		return
	}
	if err := idx.LoadSnapshot(); err != nil {
		logging.Warn("Index snapshot unusable, searching without it: %v", err)
	}
}

// Close stops the engine and releases everything newApp opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.model != nil {
		if err := a.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close model: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	if a.vips {
		media.ShutdownVips()
	}
	return errors.Join(errs...)
}

// closeApp closes a with the standard timeout, logging failures.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logging.Warn("Shutdown: %v", err)
	}
}
