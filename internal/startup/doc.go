// Package startup loads configuration and provides the startup and
// shutdown logging shared by the imgcat commands.
//
// # Configuration
//
// [LoadConfig] layers three sources: [DefaultConfig], an optional YAML
// file, then environment variables. The most common variables are:
//
//   - IMGCAT_CONFIG: YAML config file, when --config is not given
//   - IMGCAT_DATA_DIR: directory for the catalog and index snapshot (default: /data)
//   - IMGCAT_DATABASE_PATH, IMGCAT_SNAPSHOT_PATH: override the derived paths
//   - IMGCAT_ROOTS: comma separated directories to scan
//   - IMGCAT_EXCLUDE_DIRS: comma separated extra directory names to skip
//   - IMGCAT_PORT, IMGCAT_METRICS_PORT, IMGCAT_METRICS_ENABLED
//   - IMGCAT_MIN_WORKERS, IMGCAT_MAX_WORKERS, IMGCAT_TASK_TIMEOUT
//   - IMGCAT_MODEL_PATH, IMGCAT_ONNX_LIBRARY: optional embedding model
//   - IMGCAT_DEFAULT_THRESHOLD, IMGCAT_DEFAULT_PRESET
//   - IMGCAT_FRESHNESS_WINDOW, IMGCAT_SCAN_WHEN_STALE
//   - IMGCAT_WATCH, IMGCAT_INDEX_ENABLED, IMGCAT_INDEX_REBUILD_INTERVAL
//   - LOG_LEVEL, DEBUG: read by the logging package
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: read by the memory package
//
// Invalid values for typed variables are logged and ignored.
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed via
// [GetBuildInfo].
package startup
