package metrics

import (
	"os"
	"runtime"
	"time"

	"imgcat/internal/logging"
)

// StatsProvider interface for collecting catalog stats
type StatsProvider interface {
	CatalogStats() Stats
}

// Stats holds the current catalog statistics
type Stats struct {
	ActiveRecords  int
	DeletedRecords int
	// WithModality counts active records per modality name.
	WithModality map[string]int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbPath        string
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector. dbPath may be empty, in
// which case database file sizes are not reported.
func NewCollector(provider StatsProvider, dbPath string, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		dbPath:        dbPath,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	c.collectMemory()
	c.collectDBSize()

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.CatalogStats()

	CatalogRecords.WithLabelValues("active").Set(float64(stats.ActiveRecords))
	CatalogRecords.WithLabelValues("deleted").Set(float64(stats.DeletedRecords))
	for _, m := range modalityLabels {
		CatalogRecordsWithModality.WithLabelValues(m).Set(float64(stats.WithModality[m]))
	}

	logging.Debug("Metrics collected: active=%d, deleted=%d", stats.ActiveRecords, stats.DeletedRecords)
}

func (c *Collector) collectMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	GoMemAllocBytes.Set(float64(ms.Alloc))
	GoMemSysBytes.Set(float64(ms.Sys))
}

func (c *Collector) collectDBSize() {
	if c.dbPath == "" {
		return
	}
	files := map[string]string{
		"main": c.dbPath,
		"wal":  c.dbPath + "-wal",
		"shm":  c.dbPath + "-shm",
	}
	for label, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			DBSizeBytes.WithLabelValues(label).Set(0)
			continue
		}
		DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
	}
}
