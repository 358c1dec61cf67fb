package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"imgcat/internal/logging"
	"imgcat/internal/metrics"
)

const (
	// defaultTimeout bounds single-row reads and writes.
	defaultTimeout = 5 * time.Second
	// longTimeout bounds full-catalog reads and batch writes.
	longTimeout = 60 * time.Second
)

// ErrNotFound is returned when a record or session does not exist.
var ErrNotFound = errors.New("database: not found")

// StoreError reports a persistence failure for one item. Scans count it and
// move on to the next file.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Database is the fingerprint catalog: one row per image path plus scan
// session history.
type Database struct {
	db     *sql.DB
	dbPath string
	// mu serializes writers against readers that need a stable snapshot.
	mu sync.RWMutex
}

// dsn enables WAL so searches read while a scan writes.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_cache_size", "10000")
	q.Set("_temp_store", "MEMORY")
	q.Set("_foreign_keys", "on")
	return path + "?" + q.Encode()
}

// New opens the catalog at dbPath, creating and migrating it as needed.
// The parent directory must already exist.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)
	checkCatalogFiles(dbPath)

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}
	if err := d.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to catalog: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return d, nil
}

// migrations are applied in order. The catalog's user_version records how
// many have run.
var migrations = []string{
	`CREATE TABLE images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		parent_path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		format TEXT,
		mod_time INTEGER NOT NULL DEFAULT 0,
		phash TEXT,
		phash_prefix TEXT,
		dhash TEXT,
		blockhash TEXT,
		color_hist BLOB,
		shape BLOB,
		embedding BLOB,
		content_digest TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_seen INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX idx_images_phash_prefix ON images(phash_prefix);
	CREATE INDEX idx_images_status ON images(status);
	CREATE INDEX idx_images_parent_path ON images(parent_path);
	CREATE INDEX idx_images_status_last_seen ON images(status, last_seen);`,

	`CREATE TABLE scan_sessions (
		id TEXT PRIMARY KEY,
		roots TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		scanned INTEGER NOT NULL DEFAULT 0,
		new_count INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX idx_scan_sessions_started ON scan_sessions(started_at);`,

	`CREATE TABLE metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);`,
}

func (d *Database) migrate(ctx context.Context) error {
	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("catalog schema version %d is newer than this build (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA takes no bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logging.Debug("Catalog migrated to version %d", i+1)
	}
	return nil
}

// Path returns the catalog file path.
func (d *Database) Path() string { return d.dbPath }

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the catalog is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// beginBatch starts a write transaction. Pair with endBatch.
func (d *Database) beginBatch(ctx context.Context) (*sql.Tx, time.Time, error) {
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	return tx, start, err
}

// endBatch commits tx, or rolls it back when err is set, and records the
// transaction duration under label (or "rollback").
func (d *Database) endBatch(tx *sql.Tx, start time.Time, label string, err error) error {
	if err == nil {
		err = tx.Commit()
	} else if rbErr := tx.Rollback(); rbErr != nil {
		err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	if err != nil {
		label = "rollback"
	}
	metrics.DBTransactionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return err
}

// recordQuery counts a query and its latency. ErrNotFound is a success.
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// UpdateDBMetrics publishes the connection pool size.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
}

// checkCatalogFiles logs unwritable catalog files and makes read-only WAL
// and SHM files writable, which happens when another user ran imgcat
// against the same data directory.
func checkCatalogFiles(dbPath string) {
	probe, err := os.CreateTemp(filepath.Dir(dbPath), ".perm-test-*")
	if err != nil {
		logging.Warn("Catalog directory not writable: %v", err)
	} else {
		probe.Close()
		os.Remove(probe.Name())
	}

	if info, err := os.Stat(dbPath); err == nil && info.Mode().Perm()&0o200 == 0 {
		logging.Warn("Catalog file is read-only (mode %v)", info.Mode())
	}
	for _, side := range []string{dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(side)
		if err != nil || info.Mode().Perm()&0o200 != 0 {
			continue
		}
		if err := os.Chmod(side, 0o600); err != nil {
			logging.Error("%s is read-only and could not be fixed: %v", filepath.Base(side), err)
			continue
		}
		logging.Info("Made %s writable", filepath.Base(side))
	}
}
