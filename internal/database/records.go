package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"imgcat/internal/fingerprint"
	"imgcat/internal/metrics"
)

const recordColumns = `id, path, filename, parent_path, size, width, height, format, mod_time,
	phash, dhash, blockhash, color_hist, shape, embedding,
	content_digest, status, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ImageRecord, error) {
	var (
		rec                            ImageRecord
		format, phash, dhash, block    sql.NullString
		colorBlob, shapeBlob, embBlob  []byte
		modTime, lastSeen, created, up int64
		status                         string
	)
	err := row.Scan(&rec.ID, &rec.Path, &rec.Filename, &rec.ParentPath, &rec.Size,
		&rec.Width, &rec.Height, &format, &modTime,
		&phash, &dhash, &block, &colorBlob, &shapeBlob, &embBlob,
		&rec.ContentDigest, &status, &lastSeen, &created, &up)
	if err != nil {
		return nil, err
	}

	rec.Format = format.String
	rec.Status = Status(status)
	rec.ModTime = time.Unix(0, modTime)
	rec.LastSeen = time.Unix(0, lastSeen)
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, up)
	rec.Fingerprint.PHash = fingerprint.Hash(phash.String)
	rec.Fingerprint.DHash = fingerprint.Hash(dhash.String)
	rec.Fingerprint.BlockHash = fingerprint.Hash(block.String)

	if rec.Fingerprint.Color, err = DecodeVector(colorBlob); err != nil {
		return nil, fmt.Errorf("record %d color: %w", rec.ID, err)
	}
	if rec.Fingerprint.Shape, err = DecodeVector(shapeBlob); err != nil {
		return nil, fmt.Errorf("record %d shape: %w", rec.ID, err)
	}
	if rec.Fingerprint.Embedding, err = DecodeVector(embBlob); err != nil {
		return nil, fmt.Errorf("record %d embedding: %w", rec.ID, err)
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]ImageRecord, error) {
	var out []ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func nullHash(h fingerprint.Hash) sql.NullString {
	return sql.NullString{String: string(h), Valid: h != ""}
}

// rootFilter matches root itself and everything beneath it.
func rootFilter(root string) (string, []any) {
	root = filepath.Clean(root)
	prefix := strings.TrimSuffix(root, string(filepath.Separator)) + string(filepath.Separator)
	return "(path = ? OR substr(path, 1, ?) = ?)", []any{root, len(prefix), prefix}
}

// Upsert inserts rec or, if its path exists, overwrites the fingerprint and
// physical attributes. The row's id and created_at survive; updated_at only
// moves when the content digest changes. A deleted record comes back
// active. rec.ID, CreatedAt and UpdatedAt are filled in.
//
// Concurrent upserts of one path serialize on the write lock: the last
// to land wins whole, and the digest comparison that decides updated_at
// runs against the row as stored at that moment.
func (d *Database) Upsert(ctx context.Context, rec *ImageRecord) (err error) {
	start := time.Now()
	defer func() { recordQuery("upsert", start, err) }()

	if rec.Path == "" {
		return &StoreError{Op: "upsert", Err: errors.New("empty path")}
	}
	if rec.ContentDigest == "" {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: errors.New("empty content digest")}
	}

	rec.Path = filepath.Clean(rec.Path)
	now := time.Now().UnixNano()
	lastSeen := now
	if !rec.LastSeen.IsZero() {
		lastSeen = rec.LastSeen.UnixNano()
	}
	if rec.Filename == "" {
		rec.Filename = filepath.Base(rec.Path)
	}
	if rec.ParentPath == "" {
		rec.ParentPath = filepath.Dir(rec.Path)
	}
	var modTime int64
	if !rec.ModTime.IsZero() {
		modTime = rec.ModTime.UnixNano()
	}

	fp := rec.Fingerprint
	query := `
	INSERT INTO images (path, filename, parent_path, size, width, height, format, mod_time,
		phash, phash_prefix, dhash, blockhash, color_hist, shape, embedding,
		content_digest, status, last_seen, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		filename = excluded.filename,
		parent_path = excluded.parent_path,
		size = excluded.size,
		width = excluded.width,
		height = excluded.height,
		format = excluded.format,
		mod_time = excluded.mod_time,
		phash = excluded.phash,
		phash_prefix = excluded.phash_prefix,
		dhash = excluded.dhash,
		blockhash = excluded.blockhash,
		color_hist = excluded.color_hist,
		shape = excluded.shape,
		embedding = excluded.embedding,
		status = 'active',
		last_seen = excluded.last_seen,
		updated_at = CASE
			WHEN images.content_digest != excluded.content_digest THEN excluded.updated_at
			ELSE images.updated_at
		END,
		content_digest = excluded.content_digest
	RETURNING id, created_at, updated_at
	`

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created, updated int64
	err = d.db.QueryRowContext(ctx, query,
		rec.Path, rec.Filename, rec.ParentPath, rec.Size, rec.Width, rec.Height,
		sql.NullString{String: rec.Format, Valid: rec.Format != ""}, modTime,
		nullHash(fp.PHash), sql.NullString{String: fp.PHash.Prefix(PHashPrefixLen), Valid: fp.PHash != ""},
		nullHash(fp.DHash), nullHash(fp.BlockHash),
		EncodeVector(fp.Color), EncodeVector(fp.Shape), EncodeVector(fp.Embedding),
		rec.ContentDigest, lastSeen, now, now,
	).Scan(&rec.ID, &created, &updated)
	if err != nil {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
	}

	rec.Status = StatusActive
	rec.LastSeen = time.Unix(0, lastSeen)
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, updated)
	return nil
}

// GetAll returns every active record in insertion order.
func (d *Database) GetAll(ctx context.Context) (recs []ImageRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("get_all", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM images WHERE status = 'active' ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetAllWithEmbedding returns active records that carry an embedding, in
// insertion order.
func (d *Database) GetAllWithEmbedding(ctx context.Context) (recs []ImageRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("get_all_with_embedding", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM images WHERE status = 'active' AND embedding IS NOT NULL ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetByIDs returns the records with the given ids, any status, in insertion
// order. Unknown ids are skipped.
func (d *Database) GetByIDs(ctx context.Context, ids []int64) (recs []ImageRecord, err error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { recordQuery("get_by_ids", start, err) }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM images WHERE id IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetByID returns one record or ErrNotFound.
func (d *Database) GetByID(ctx context.Context, id int64) (*ImageRecord, error) {
	recs, err := d.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// GetByPath returns the record for path, any status, or ErrNotFound.
func (d *Database) GetByPath(ctx context.Context, path string) (rec *ImageRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("get_by_path", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rec, err = scanRecord(d.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM images WHERE path = ?", filepath.Clean(path)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// MarkDeleted flips an active record to deleted. It reports whether a row
// changed; the row itself is never removed.
func (d *Database) MarkDeleted(ctx context.Context, path string) (changed bool, err error) {
	start := time.Now()
	defer func() { recordQuery("mark_deleted", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		"UPDATE images SET status = 'deleted' WHERE path = ? AND status = 'active'", filepath.Clean(path))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindByHashPrefix returns active records whose perceptual hash starts with
// the first PHashPrefixLen characters of prefix.
func (d *Database) FindByHashPrefix(ctx context.Context, prefix string) (recs []ImageRecord, err error) {
	if len(prefix) < PHashPrefixLen {
		return nil, fmt.Errorf("database: hash prefix %q shorter than %d characters", prefix, PHashPrefixLen)
	}
	start := time.Now()
	defer func() { recordQuery("find_by_hash_prefix", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM images WHERE phash_prefix = ? AND status = 'active' ORDER BY id",
		strings.ToLower(prefix[:PHashPrefixLen]))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DigestsUnder snapshots path -> content digest for active records beneath
// any of roots.
func (d *Database) DigestsUnder(ctx context.Context, roots []string) (digests map[string]string, err error) {
	start := time.Now()
	defer func() { recordQuery("digests_under", start, err) }()

	digests = make(map[string]string)
	if len(roots) == 0 {
		return digests, nil
	}

	var clauses []string
	var args []any
	for _, root := range roots {
		clause, a := rootFilter(root)
		clauses = append(clauses, clause)
		args = append(args, a...)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT path, content_digest FROM images WHERE status = 'active' AND ("+strings.Join(clauses, " OR ")+")",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var path, digest string
		if err := rows.Scan(&path, &digest); err != nil {
			return nil, err
		}
		digests[path] = digest
	}
	return digests, rows.Err()
}

// TouchBatch bumps last_seen for unchanged paths in one transaction.
func (d *Database) TouchBatch(ctx context.Context, paths []string, seen time.Time) (n int64, err error) {
	if len(paths) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() { recordQuery("touch_batch", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	tx, txStart, err := d.beginBatch(ctx)
	if err != nil {
		return 0, err
	}

	err = func() error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE images SET last_seen = ? WHERE path = ? AND status = 'active'")
		if err != nil {
			return err
		}
		defer stmt.Close()

		ts := seen.UnixNano()
		for _, p := range paths {
			res, err := stmt.ExecContext(ctx, ts, p)
			if err != nil {
				return fmt.Errorf("touch %s: %w", p, err)
			}
			rows, _ := res.RowsAffected()
			n += rows
		}
		return nil
	}()

	if err = d.endBatch(tx, txStart, "touch_batch", err); err != nil {
		return 0, err
	}
	metrics.DBRowsAffected.WithLabelValues("touch_batch").Observe(float64(n))
	return n, nil
}

// MarkUnseenDeleted flips active records beneath root whose last_seen is
// before cutoff to deleted, returning how many flipped.
func (d *Database) MarkUnseenDeleted(ctx context.Context, root string, cutoff time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { recordQuery("mark_unseen_deleted", start, err) }()

	clause, args := rootFilter(root)
	args = append([]any{cutoff.UnixNano()}, args...)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		"UPDATE images SET status = 'deleted' WHERE status = 'active' AND last_seen < ? AND "+clause, args...)
	if err != nil {
		return 0, err
	}
	n, err = res.RowsAffected()
	if err == nil && n > 0 {
		metrics.DBRowsAffected.WithLabelValues("mark_unseen_deleted").Observe(float64(n))
	}
	return n, err
}

// CountActive returns the number of active records.
func (d *Database) CountActive(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() { recordQuery("count_active", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images WHERE status = 'active'").Scan(&n)
	return n, err
}

// Stats counts records by status and active records per modality.
func (d *Database) Stats(ctx context.Context) (stats CatalogStats, err error) {
	start := time.Now()
	defer func() { recordQuery("stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var phash, dhash, block, color, shape, emb sql.NullInt64
	err = d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'deleted' THEN 1 ELSE 0 END), 0),
			SUM(CASE WHEN status = 'active' AND phash IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'active' AND dhash IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'active' AND blockhash IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'active' AND color_hist IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'active' AND shape IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'active' AND embedding IS NOT NULL THEN 1 ELSE 0 END)
		FROM images
	`).Scan(&stats.Active, &stats.Deleted, &phash, &dhash, &block, &color, &shape, &emb)
	if err != nil {
		return CatalogStats{}, err
	}

	stats.WithModality = map[string]int{
		string(fingerprint.PHash):     int(phash.Int64),
		string(fingerprint.DHash):     int(dhash.Int64),
		string(fingerprint.BlockHash): int(block.Int64),
		string(fingerprint.Color):     int(color.Int64),
		string(fingerprint.Shape):     int(shape.Int64),
		string(fingerprint.Embedding): int(emb.Int64),
	}
	return stats, nil
}

// CatalogStats implements metrics.StatsProvider.
func (d *Database) CatalogStats() metrics.Stats {
	d.UpdateDBMetrics()
	stats, err := d.Stats(context.Background())
	if err != nil {
		return metrics.Stats{}
	}
	return metrics.Stats{
		ActiveRecords:  stats.Active,
		DeletedRecords: stats.Deleted,
		WithModality:   stats.WithModality,
	}
}
