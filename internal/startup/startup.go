package startup

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"imgcat/internal/logging"
	"imgcat/internal/memory"
)

// Set with -ldflags "-X imgcat/internal/startup.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo is reported by the version command and the health endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the linked-in version details.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

const rule = "------------------------------------------------------------"

func section(title string, args ...interface{}) {
	logging.Info("")
	logging.Info(rule)
	logging.Info(title, args...)
	logging.Info(rule)
}

// field logs one aligned "label: value" line.
func field(label, format string, args ...interface{}) {
	logging.Info("  %-16s "+format, append([]interface{}{label + ":"}, args...)...)
}

func debugField(label, format string, args ...interface{}) {
	logging.Debug("  %-16s "+format, append([]interface{}{label + ":"}, args...)...)
}

func onOff(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogConfig prints the banner, the host and the effective configuration.
func LogConfig(cfg *Config) {
	printBanner()
	logHost()

	section("CONFIGURATION")
	source := cfg.Source
	if source == "" {
		source = "none (defaults and environment)"
	}
	field("Config file", "%s", source)
	field("Data dir", "%s", cfg.Storage.DataDir)
	field("Catalog", "%s", cfg.Storage.DatabasePath)
	field("Index snapshot", "%s", cfg.Storage.SnapshotPath)
	if len(cfg.Scan.Roots) == 0 {
		field("Roots", "none (set IMGCAT_ROOTS or scan.roots)")
	}
	for _, r := range cfg.Scan.Roots {
		field("Root", "%s", r)
	}
	if len(cfg.Scan.ExcludeDirs) > 0 {
		field("Extra excludes", "%s", strings.Join(cfg.Scan.ExcludeDirs, ", "))
	}
	field("Workers", "%d-%d (queue %d, task timeout %v)",
		cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers, cfg.Pool.QueueCapacity, cfg.Pool.TaskTimeout)
	field("Search", "preset=%s threshold=%.2f limit=%d",
		cfg.Search.DefaultPreset, cfg.Search.DefaultThreshold, cfg.Search.DefaultLimit)
	field("Freshness", "%v (auto scan when stale: %v)", cfg.Scan.FreshnessWindow, cfg.Scan.ScanWhenStale)
	field("ANN index", "%s", onOff(cfg.Index.Enabled))
	field("Embeddings", "%s", onOff(cfg.Extract.ModelPath != ""))

	o := cfg.Extract.Options
	debugField("Fingerprint", "hash=%d block=%d colorBins=%d hueBins=%d shape=%d/%d/%d",
		o.HashSize, o.BlockGrid, o.ColorBins, o.HueBins, o.ShapeSize, o.ShapeCell, o.ShapeBins)
	debugField("IVF", "nlist=%d nprobe=%d iterations=%d",
		cfg.Index.IVF.NList, cfg.Index.IVF.NProbe, cfg.Index.IVF.Iterations)
}

// LogMemoryConfig logs the outcome of memory.ConfigureFromEnv.
func LogMemoryConfig(res memory.ConfigResult) {
	section("MEMORY")
	if !res.Configured {
		logging.Info("  No memory limit configured (set MEMORY_LIMIT or GOMEMLIMIT)")
		return
	}
	field("Source", "%s", res.Source)
	if res.ContainerLimit > 0 {
		field("Container limit", "%s", formatBytesStartup(res.ContainerLimit))
		field("Ratio", "%.0f%%", res.Ratio*100)
	}
	field("GOMEMLIMIT", "%s", formatBytesStartup(res.GoMemLimit))
}

func formatBytesStartup(b int64) string {
	if b < 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(b))
}

// LogDatabaseInit logs how long opening and migrating the catalog took.
func LogDatabaseInit(duration time.Duration, active int) {
	section("CATALOG")
	logging.Info("  [OK] Catalog opened in %v", duration)
	field("Active records", "%s", humanize.Comma(int64(active)))
}

// LogExtractorInit logs which decoders and modalities are available.
func LogExtractorInit(vipsAvailable, embeddings bool) {
	section("EXTRACTOR")
	if vipsAvailable {
		logging.Info("  [OK] libvips fallback decoder available")
	} else {
		logging.Info("  libvips unavailable, using Go decoders only")
	}
	if embeddings {
		logging.Info("  [OK] Embedding model loaded")
	} else {
		logging.Info("  Embedding model not configured, ANN pre-filter disabled")
	}
}

// LogIndexInit logs where the index snapshot lives and how often it is
// rebuilt.
func LogIndexInit(interval time.Duration, snapshot string) {
	section("INDEX")
	field("Snapshot", "%s", snapshot)
	if interval <= 0 {
		logging.Info("  Periodic rebuild disabled")
		return
	}
	field("Rebuild every", "%v", interval)
}

// LogWatcherStarted logs the watched roots.
func LogWatcherStarted(roots []string) {
	logging.Info("  [OK] Watching %d root(s) for changes", len(roots))
	for _, r := range roots {
		logging.Debug("    %s", r)
	}
}

// RouteInfo is one method and path pair registered on a router.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes lists every registered route in registration order. Routes
// without a method matcher report "*".
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: path, Name: route.GetName()})
		}
		return nil
	})
	return routes, err
}

// LogHTTPRoutes logs the route table at debug level, grouped by the first
// path segment ("api/<resource>" under /api).
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		logging.Debug("  Registered routes (%d total):", len(routes))

		byGroup := make(map[string][]RouteInfo)
		for _, r := range routes {
			g := getRouteGroup(r.Path)
			byGroup[g] = append(byGroup[g], r)
		}
		groups := make([]string, 0, len(byGroup))
		for g := range byGroup {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			label := g
			if label == "" {
				label = "root"
			}
			logging.Debug("  [%s]", label)
			for _, r := range byGroup[g] {
				logging.Debug("    %-6s %s", r.Method, r.Path)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set IMGCAT_LOG_HEALTH_CHECKS=true to enable)")
	}
}

func getRouteGroup(path string) string {
	first, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if first != "api" || rest == "" {
		return first
	}
	resource, _, _ := strings.Cut(rest, "/")
	return "api/" + resource
}

// ServerInfo holds what the server-started banner reports.
type ServerInfo struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs the listening endpoints.
func LogServerStarted(info ServerInfo) {
	section("SERVER STARTED")
	field("Startup time", "%v", info.StartupDuration)
	field("API", "http://0.0.0.0:%s/api", info.Port)
	field("Health", "http://0.0.0.0:%s/health", info.Port)
	switch {
	case !info.MetricsEnabled:
		field("Metrics", "DISABLED")
	case info.MetricsPort == "":
		field("Metrics", "http://0.0.0.0:%s/metrics", info.Port)
	default:
		field("Metrics", "http://0.0.0.0:%s/metrics", info.MetricsPort)
	}
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info(rule)
}

// LogShutdownInitiated logs the signal that started shutdown.
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN (received %s)", signal)
}

// LogShutdownStep logs a step about to run.
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a finished step.
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs the end of shutdown.
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

const banner = `
    _                            __
   (_)___ ___  ____ _____  ____ _/ /_
  / / __ '__ \/ __ '/ ___/ __ '/ __/
 / / / / / / / /_/ / /__/ /_/ / /_
/_/_/ /_/ /_/\__, /\___/\__,_/\__/
            /____/`

func printBanner() {
	fmt.Fprintln(logging.Output(), rule+banner+"\n"+rule)
	field("Version", "%s (%s)", Version, Commit)
	field("Built", "%s", BuildTime)
	field("Started", "%s", time.Now().Format(time.RFC1123))
}

func logHost() {
	section("HOST")
	field("Go", "%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	cpus, procs := runtime.NumCPU(), runtime.GOMAXPROCS(0)
	if procs < cpus {
		field("CPUs", "%d of %d (container limit)", procs, cpus)
	} else {
		field("CPUs", "%d", cpus)
	}
	if !logging.IsDebugEnabled() {
		return
	}
	if wd, err := os.Getwd(); err == nil {
		debugField("Working dir", "%s", wd)
	}
	if host, err := os.Hostname(); err == nil {
		debugField("Hostname", "%s", host)
	}
}

// ensureDirectory creates path if missing and fails if it is a file.
func ensureDirectory(path, name string) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s directory %s: %w", name, path, err)
		}
		logging.Debug("  Created %s directory %s", name, path)
		return nil
	case err != nil:
		return fmt.Errorf("stat %s directory %s: %w", name, path, err)
	case !info.IsDir():
		return fmt.Errorf("%s path %s is not a directory", name, path)
	}
	return nil
}

// testWriteAccess creates and removes a temp file in dir.
func testWriteAccess(dir string) error {
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
