package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imgcat/internal/engine"
	"imgcat/internal/fingerprint"
	"imgcat/internal/logging"
	"imgcat/internal/scanner"
	"imgcat/internal/similarity"
	"imgcat/internal/vector"
	"imgcat/internal/watcher"
	"imgcat/internal/workers"
)

// Config holds all application configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Pool    PoolConfig    `yaml:"pool"`
	Extract ExtractConfig `yaml:"extract"`
	Search  SearchConfig  `yaml:"search"`
	Scan    ScanConfig    `yaml:"scan"`
	Index   IndexConfig   `yaml:"index"`

	// Source is the config file that was read, empty when none was.
	Source string `yaml:"-"`
}

// StorageConfig locates the catalog and the index snapshot. Empty paths
// are derived from DataDir.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            string `yaml:"port"`
	MetricsPort     string `yaml:"metrics_port"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	LogHealthChecks bool   `yaml:"log_health_checks"`
	// Watch starts the filesystem watcher alongside the server.
	Watch bool `yaml:"watch"`
}

// PoolConfig sizes the extraction worker pool.
type PoolConfig struct {
	MinWorkers    int           `yaml:"min_workers"`
	MaxWorkers    int           `yaml:"max_workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ScaleInterval time.Duration `yaml:"scale_interval"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	LoadThreshold float64       `yaml:"load_threshold"`
	CPUThreshold  float64       `yaml:"cpu_threshold"`
	MemoryCeiling float64       `yaml:"memory_ceiling"`
}

// ExtractConfig configures fingerprint extraction and the optional
// embedding model.
type ExtractConfig struct {
	Options     fingerprint.Options `yaml:"options"`
	ModelPath   string              `yaml:"model_path"`
	OnnxLibrary string              `yaml:"onnx_library"`
	InputSize   int                 `yaml:"input_size"`
	Dimensions  int                 `yaml:"dimensions"`
	InputName   string              `yaml:"input_name"`
	OutputName  string              `yaml:"output_name"`
	// Vips enables the libvips fallback decoder.
	Vips bool `yaml:"vips"`
}

// SearchConfig holds similarity search defaults.
type SearchConfig struct {
	DefaultThreshold   float64                 `yaml:"default_threshold"`
	DefaultPreset      string                  `yaml:"default_preset"`
	DefaultLimit       int                     `yaml:"default_limit"`
	CandidatePool      int                     `yaml:"candidate_pool"`
	ShapeNormalization float64                 `yaml:"shape_normalization"`
	Expand             similarity.ExpandPolicy `yaml:"expand"`
}

// ScanConfig configures scanning and watching.
type ScanConfig struct {
	Roots           []string      `yaml:"roots"`
	ExcludeDirs     []string      `yaml:"exclude_dirs"`
	SkipHidden      bool          `yaml:"skip_hidden"`
	BatchSize       int           `yaml:"batch_size"`
	InFlight        int           `yaml:"in_flight"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	ScanWhenStale   bool          `yaml:"scan_when_stale"`
	WatchDebounce   time.Duration `yaml:"watch_debounce"`
}

// IndexConfig configures the approximate index.
type IndexConfig struct {
	Enabled         bool             `yaml:"enabled"`
	RebuildInterval time.Duration    `yaml:"rebuild_interval"`
	IVF             vector.IVFConfig `yaml:"ivf"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	pool := workers.DefaultConfig()
	sc := scanner.DefaultConfig()
	return &Config{
		Storage: StorageConfig{DataDir: "/data"},
		Server: ServerConfig{
			Port:            "8080",
			MetricsPort:     "9090",
			MetricsEnabled:  true,
			LogHealthChecks: false,
			Watch:           true,
		},
		Pool: PoolConfig{
			MinWorkers:    pool.MinWorkers,
			MaxWorkers:    pool.MaxWorkers,
			QueueCapacity: pool.QueueCapacity,
			TaskTimeout:   pool.TaskTimeout,
			IdleTimeout:   pool.IdleTimeout,
			ScaleInterval: pool.ScaleInterval,
			ShutdownGrace: pool.ShutdownGrace,
			LoadThreshold: pool.LoadThreshold,
			CPUThreshold:  pool.CPUThreshold,
			MemoryCeiling: pool.MemoryCeiling,
		},
		Extract: ExtractConfig{
			Options:    fingerprint.DefaultOptions(),
			InputSize:  224,
			Dimensions: 512,
			InputName:  "input",
			OutputName: "output",
			Vips:       true,
		},
		Search: SearchConfig{
			DefaultThreshold:   0.5,
			DefaultPreset:      "default",
			DefaultLimit:       similarity.DefaultLimit,
			CandidatePool:      200,
			ShapeNormalization: similarity.DefaultShapeNormalization,
			Expand:             similarity.DefaultExpandPolicy(),
		},
		Scan: ScanConfig{
			SkipHidden:      sc.SkipHidden,
			BatchSize:       sc.BatchSize,
			InFlight:        sc.InFlight,
			FreshnessWindow: sc.FreshnessWindow,
			ScanWhenStale:   true,
			WatchDebounce:   2 * time.Second,
		},
		Index: IndexConfig{
			Enabled:         true,
			RebuildInterval: 6 * time.Hour,
			IVF:             vector.DefaultIVFConfig(),
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and IMGCAT_* environment overrides, then
// validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("IMGCAT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.Source = path
	}

	cfg.applyEnv()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.DataDir = getEnv("IMGCAT_DATA_DIR", c.Storage.DataDir)
	c.Storage.DatabasePath = getEnv("IMGCAT_DATABASE_PATH", c.Storage.DatabasePath)
	c.Storage.SnapshotPath = getEnv("IMGCAT_SNAPSHOT_PATH", c.Storage.SnapshotPath)

	c.Server.Port = getEnv("IMGCAT_PORT", c.Server.Port)
	c.Server.MetricsPort = getEnv("IMGCAT_METRICS_PORT", c.Server.MetricsPort)
	c.Server.MetricsEnabled = getEnvBool("IMGCAT_METRICS_ENABLED", c.Server.MetricsEnabled)
	c.Server.LogHealthChecks = getEnvBool("IMGCAT_LOG_HEALTH_CHECKS", c.Server.LogHealthChecks)
	c.Server.Watch = getEnvBool("IMGCAT_WATCH", c.Server.Watch)

	c.Pool.MinWorkers = getEnvInt("IMGCAT_MIN_WORKERS", c.Pool.MinWorkers)
	c.Pool.MaxWorkers = getEnvInt("IMGCAT_MAX_WORKERS", c.Pool.MaxWorkers)
	c.Pool.QueueCapacity = getEnvInt("IMGCAT_QUEUE_CAPACITY", c.Pool.QueueCapacity)
	c.Pool.TaskTimeout = getEnvDuration("IMGCAT_TASK_TIMEOUT", c.Pool.TaskTimeout)
	c.Pool.IdleTimeout = getEnvDuration("IMGCAT_IDLE_TIMEOUT", c.Pool.IdleTimeout)

	c.Extract.ModelPath = getEnv("IMGCAT_MODEL_PATH", c.Extract.ModelPath)
	c.Extract.OnnxLibrary = getEnv("IMGCAT_ONNX_LIBRARY", c.Extract.OnnxLibrary)
	c.Extract.Vips = getEnvBool("IMGCAT_VIPS", c.Extract.Vips)

	c.Search.DefaultThreshold = getEnvFloat("IMGCAT_DEFAULT_THRESHOLD", c.Search.DefaultThreshold)
	c.Search.DefaultPreset = getEnv("IMGCAT_DEFAULT_PRESET", c.Search.DefaultPreset)
	c.Search.ShapeNormalization = getEnvFloat("IMGCAT_SHAPE_NORMALIZATION", c.Search.ShapeNormalization)

	c.Scan.Roots = getEnvList("IMGCAT_ROOTS", c.Scan.Roots)
	c.Scan.ExcludeDirs = getEnvList("IMGCAT_EXCLUDE_DIRS", c.Scan.ExcludeDirs)
	c.Scan.FreshnessWindow = getEnvDuration("IMGCAT_FRESHNESS_WINDOW", c.Scan.FreshnessWindow)
	c.Scan.ScanWhenStale = getEnvBool("IMGCAT_SCAN_WHEN_STALE", c.Scan.ScanWhenStale)

	c.Index.Enabled = getEnvBool("IMGCAT_INDEX_ENABLED", c.Index.Enabled)
	c.Index.RebuildInterval = getEnvDuration("IMGCAT_INDEX_REBUILD_INTERVAL", c.Index.RebuildInterval)
}

func (c *Config) resolvePaths() error {
	dataDir, err := filepath.Abs(c.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	c.Storage.DataDir = dataDir
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(dataDir, "catalog.db")
	}
	if c.Storage.SnapshotPath == "" {
		c.Storage.SnapshotPath = filepath.Join(dataDir, "index.ivf")
	}
	for i, r := range c.Scan.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("failed to resolve scan root %s: %w", r, err)
		}
		c.Scan.Roots[i] = abs
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if err := c.WorkerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Extract.Options.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("extract: %w", err))
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("search: default threshold %v outside [0, 1]", c.Search.DefaultThreshold))
	}
	if _, ok := similarity.Preset(c.Search.DefaultPreset); !ok {
		errs = append(errs, fmt.Errorf("search: unknown preset %q (known: %s)",
			c.Search.DefaultPreset, strings.Join(similarity.PresetNames(), ", ")))
	}
	if c.Search.ShapeNormalization <= 0 {
		errs = append(errs, fmt.Errorf("search: shape normalization must be positive, got %v", c.Search.ShapeNormalization))
	}
	if c.Search.Expand.MaxRescans < 0 {
		errs = append(errs, errors.New("search: expand max_rescans must not be negative"))
	}
	if c.Scan.FreshnessWindow < 0 {
		errs = append(errs, errors.New("scan: freshness window must not be negative"))
	}
	if c.Extract.ModelPath != "" && (c.Extract.InputSize < 1 || c.Extract.Dimensions < 1) {
		errs = append(errs, fmt.Errorf("extract: model needs positive input size and dimensions, got %d and %d",
			c.Extract.InputSize, c.Extract.Dimensions))
	}
	return errors.Join(errs...)
}

// WorkerConfig converts the pool section.
func (c *Config) WorkerConfig() workers.Config {
	def := workers.DefaultConfig()
	return workers.Config{
		MinWorkers:    c.Pool.MinWorkers,
		MaxWorkers:    c.Pool.MaxWorkers,
		QueueCapacity: c.Pool.QueueCapacity,
		TaskTimeout:   c.Pool.TaskTimeout,
		IdleTimeout:   c.Pool.IdleTimeout,
		ScaleInterval: c.Pool.ScaleInterval,
		ShutdownGrace: c.Pool.ShutdownGrace,
		RecycleGrace:  def.RecycleGrace,
		LoadThreshold: c.Pool.LoadThreshold,
		CPUThreshold:  c.Pool.CPUThreshold,
		MemoryCeiling: c.Pool.MemoryCeiling,
	}
}

// ONNXConfig converts the model settings.
func (c *Config) ONNXConfig() fingerprint.ONNXConfig {
	return fingerprint.ONNXConfig{
		LibraryPath: c.Extract.OnnxLibrary,
		ModelPath:   c.Extract.ModelPath,
		InputSize:   c.Extract.InputSize,
		Dimensions:  c.Extract.Dimensions,
		InputName:   c.Extract.InputName,
		OutputName:  c.Extract.OutputName,
	}
}

// IndexManagerConfig converts the index section.
func (c *Config) IndexManagerConfig() vector.ManagerConfig {
	return vector.ManagerConfig{
		SnapshotPath:    c.Storage.SnapshotPath,
		RebuildInterval: c.Index.RebuildInterval,
		IVF:             c.Index.IVF,
	}
}

// EngineConfig converts the scan and search sections.
func (c *Config) EngineConfig() engine.Config {
	measure := similarity.DefaultMeasure()
	measure.ShapeNormalization = c.Search.ShapeNormalization
	if c.Extract.Options.ShapeBins > 0 {
		measure.ShapeBlockLen = fingerprint.ShapeBlockLen(c.Extract.Options.ShapeBins)
	}

	return engine.Config{
		Roots: c.Scan.Roots,
		Scanner: scanner.Config{
			BatchSize:       c.Scan.BatchSize,
			InFlight:        c.Scan.InFlight,
			ExcludeDirs:     c.Scan.ExcludeDirs,
			SkipHidden:      c.Scan.SkipHidden,
			FreshnessWindow: c.Scan.FreshnessWindow,
			TaskTimeout:     c.Pool.TaskTimeout,
		},
		Search: similarity.Config{
			Measure:       measure,
			CandidatePool: c.Search.CandidatePool,
		},
		Expand:           c.Search.Expand,
		DefaultThreshold: c.Search.DefaultThreshold,
		DefaultPreset:    c.Search.DefaultPreset,
		DefaultLimit:     c.Search.DefaultLimit,
		ScanWhenStale:    c.Scan.ScanWhenStale,
	}
}

// WatcherConfig converts the watch settings.
func (c *Config) WatcherConfig() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.Debounce = c.Scan.WatchDebounce
	cfg.ExcludeDirs = c.Scan.ExcludeDirs
	cfg.SkipHidden = c.Scan.SkipHidden
	return cfg
}

// PrepareDataDir creates the data directory and checks it is writable.
func (c *Config) PrepareDataDir() error {
	if err := ensureDirectory(c.Storage.DataDir, "data"); err != nil {
		return fmt.Errorf("data directory error: %w", err)
	}
	for _, p := range []string{c.Storage.DatabasePath, c.Storage.SnapshotPath} {
		if dir := filepath.Dir(p); dir != c.Storage.DataDir {
			if err := ensureDirectory(dir, "storage"); err != nil {
				return fmt.Errorf("storage directory error: %w", err)
			}
		}
	}
	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(c.Storage.DataDir); err != nil {
		return fmt.Errorf("data directory is not writable (required for the catalog): %w", err)
	}
	logging.Debug("  [OK] Data directory is writable")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logging.Warn("Invalid number for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
