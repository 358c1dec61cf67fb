package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_db_queries_total",
			Help: "Total number of catalog queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_db_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_db_transaction_duration_seconds",
			Help:    "Catalog transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"type"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imgcat_db_size_bytes",
			Help: "Size of SQLite catalog files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_db_connections_open",
			Help: "Number of open catalog connections",
		},
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_db_rows_affected",
			Help:    "Rows affected by catalog write operations",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		},
		[]string{"operation"},
	)
)

// Catalog contents
var (
	CatalogRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imgcat_catalog_records",
			Help: "Number of image records by status",
		},
		[]string{"status"}, // "active", "deleted"
	)

	CatalogRecordsWithModality = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imgcat_catalog_records_with_modality",
			Help: "Number of active records carrying each fingerprint modality",
		},
		[]string{"modality"},
	)
)

// Worker pool metrics
var (
	PoolWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_pool_workers",
			Help: "Current number of fingerprint workers",
		},
	)

	PoolBusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_pool_busy_workers",
			Help: "Number of workers currently running a task",
		},
	)

	PoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_pool_queue_depth",
			Help: "Number of tasks waiting for a worker",
		},
	)

	PoolLoad = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_pool_load",
			Help: "Composite pool load computed on the last autoscale tick (0.0-1.0)",
		},
	)

	PoolScaleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_pool_scale_events_total",
			Help: "Worker pool size changes by reason",
		},
		[]string{"direction"}, // "up", "down", "spawn", "reap", "replace"
	)

	PoolTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_pool_tasks_total",
			Help: "Tasks resolved by the worker pool by outcome",
		},
		[]string{"outcome"}, // "success", "error", "timeout", "crash", "rejected"
	)

	PoolTaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgcat_pool_task_duration_seconds",
			Help:    "Time from task start to resolution",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// Extraction metrics
var (
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_extraction_duration_seconds",
			Help:    "Per-modality fingerprint extraction time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"modality"},
	)

	ExtractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_extraction_failures_total",
			Help: "Modalities that could not be computed for a decodable image",
		},
		[]string{"modality"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_decode_errors_total",
			Help: "Images rejected because they could not be read or decoded",
		},
		[]string{"format"},
	)

	DecodeByFormat = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_decode_total",
			Help: "Images decoded by source format and decoder",
		},
		[]string{"format", "decoder"}, // decoder: "imaging", "vips"
	)
)

// Scanner metrics
var (
	ScannerFilesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_scanner_files_total",
			Help: "Files classified by the incremental scanner",
		},
		[]string{"class"}, // "new", "updated", "unchanged", "deleted", "error"
	)

	ScannerSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_scanner_sessions_total",
			Help: "Scan sessions by final status",
		},
		[]string{"status"},
	)

	ScannerIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_scanner_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)

	ScannerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_scanner_last_run_duration_seconds",
			Help: "Duration of the last scan session in seconds",
		},
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_scanner_last_run_timestamp",
			Help: "Unix timestamp of the last finished scan session",
		},
	)

	ScannerDirectoriesExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcat_scanner_directories_excluded_total",
			Help: "Directories skipped by the exclusion list before descending",
		},
	)
)

// Search metrics
var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_search_requests_total",
			Help: "Similarity searches by candidate path and status",
		},
		[]string{"path", "status"}, // path: "ann", "prefix", "full_scan"
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_search_duration_seconds",
			Help:    "Similarity search duration by candidate path",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"path"},
	)

	SearchResultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgcat_search_results_returned",
			Help:    "Number of ranked results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	SearchExpandTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_search_expand_total",
			Help: "Bounded directory rescans triggered by too few results",
		},
		[]string{"status"}, // "rescanned", "budget_exhausted", "error"
	)
)

// Approximate index metrics
var (
	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_index_entries",
			Help: "Number of embedding vectors held by the approximate index",
		},
	)

	IndexRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_index_rebuilds_total",
			Help: "Approximate index rebuilds by status",
		},
		[]string{"status"}, // "success", "error", "coalesced"
	)

	IndexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imgcat_index_rebuild_duration_seconds",
			Help:    "Approximate index rebuild duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	IndexFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_index_fallbacks_total",
			Help: "Queries that fell back to linear scan by reason",
		},
		[]string{"reason"}, // "not_ready", "query_error", "too_few"
	)

	IndexReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_index_ready",
			Help: "Whether the approximate index can serve queries (1 = ready)",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration by volume and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_filesystem_retry_attempts_total",
			Help: "Retries after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgcat_filesystem_retry_duration_seconds",
			Help:    "Total time spent in a retrying filesystem operation",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Memory and CPU metrics
var (
	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_go_memory_alloc_bytes",
			Help: "Current heap allocation in bytes",
		},
	)

	GoMemSysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_go_memory_sys_bytes",
			Help: "Total bytes of memory obtained from the OS",
		},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_memory_usage_ratio",
			Help: "Heap usage as a ratio of the configured memory limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_memory_paused",
			Help: "Whether processing is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcat_memory_gc_pauses_total",
			Help: "Times processing was paused for memory pressure",
		},
	)

	CPUUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_cpu_usage_ratio",
			Help: "Host CPU busy ratio sampled for autoscaling (0.0-1.0)",
		},
	)
)

// Watcher metrics
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcat_watcher_events_total",
			Help: "Filesystem watcher events by type",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcat_watcher_errors_total",
			Help: "Filesystem watcher errors",
		},
	)

	WatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcat_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imgcat_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
