package metrics

// Label sets shared with the packages that record into these metrics.
var (
	modalityLabels = []string{"phash", "dhash", "blockhash", "color", "shape", "embedding"}
	volumeLabels   = []string{"library", "database", "index", "unknown"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	for _, status := range []string{"active", "deleted"} {
		CatalogRecords.WithLabelValues(status)
	}

	for _, m := range modalityLabels {
		CatalogRecordsWithModality.WithLabelValues(m)
		ExtractionDuration.WithLabelValues(m)
		ExtractionFailures.WithLabelValues(m)
	}

	for _, d := range []string{"up", "down", "spawn", "reap", "replace"} {
		PoolScaleEvents.WithLabelValues(d)
	}
	for _, o := range []string{"success", "error", "timeout", "crash", "rejected"} {
		PoolTasksTotal.WithLabelValues(o)
	}

	for _, c := range []string{"new", "updated", "unchanged", "deleted", "error"} {
		ScannerFilesClassified.WithLabelValues(c)
	}
	for _, s := range []string{"completed", "cancelled", "failed"} {
		ScannerSessionsTotal.WithLabelValues(s)
	}

	for _, p := range []string{"ann", "prefix", "full_scan"} {
		SearchRequestsTotal.WithLabelValues(p, "success")
		SearchRequestsTotal.WithLabelValues(p, "error")
		SearchDuration.WithLabelValues(p)
	}
	for _, s := range []string{"rescanned", "budget_exhausted", "error"} {
		SearchExpandTotal.WithLabelValues(s)
	}

	for _, s := range []string{"success", "error", "coalesced"} {
		IndexRebuildsTotal.WithLabelValues(s)
	}
	for _, r := range []string{"not_ready", "query_error", "too_few"} {
		IndexFallbacksTotal.WithLabelValues(r)
	}

	fsOps := []string{"read", "stat", "readdir"}
	retryOps := []string{"stat", "open"}
	for _, vol := range volumeLabels {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
		for _, op := range retryOps {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, op := range []string{"upsert", "get_all", "get_by_ids", "get_by_path",
		"get_all_with_embedding", "mark_deleted", "find_by_hash_prefix", "digests_under",
		"touch_batch", "mark_unseen_deleted", "count_active", "create_session",
		"update_session", "last_completed_session", "list_sessions", "stats",
		"get_metadata", "set_metadata"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback", "touch_batch"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
