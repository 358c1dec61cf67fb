// Package metrics provides Prometheus instrumentation for imgcat.
//
// All metrics are registered on the default registry through promauto and
// are prefixed with "imgcat_". Serve them by mounting promhttp.Handler():
//
//	r.Handle("/metrics", promhttp.Handler())
//
// # Metric Categories
//
//   - HTTP: request counts, latency and in-flight gauge for the API.
//   - Database: catalog query counts and latency per operation, transaction
//     latency, SQLite file sizes.
//   - Catalog: active and deleted record counts, records per modality.
//   - Pool: worker count, busy workers, queue depth, composite load, scaling
//     events by direction and task outcomes (success, error, timeout, crash,
//     rejected).
//   - Extraction: per-modality duration and failures, decode errors.
//   - Scanner: file classifications, session outcomes, last run duration.
//   - Search: requests and latency by candidate path (ann, prefix,
//     full_scan) and bounded expand rescans.
//   - Index: entry count, rebuilds, readiness and linear-scan fallbacks.
//   - Filesystem: operation latency and ESTALE retry counters per volume.
//   - Memory and CPU: heap usage ratio, pause state, sampled CPU ratio.
//   - Watcher: events, errors and watched directory count.
//
// [InitializeMetrics] pre-populates label sets so every series exists from
// the first scrape. [Collector] refreshes the catalog gauges and database
// file sizes on an interval from a [StatsProvider].
//
// # Prometheus Queries
//
// Share of searches answered without a full scan:
//
//	sum(rate(imgcat_search_requests_total{path!="full_scan"}[1h])) /
//	sum(rate(imgcat_search_requests_total[1h]))
//
// Pool scaling churn:
//
//	sum(rate(imgcat_pool_scale_events_total[10m])) by (direction)
//
// Modality failure rate:
//
//	sum(rate(imgcat_extraction_failures_total[1h])) by (modality)
package metrics
