package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `id, roots, mode, status, started_at, ended_at,
	total, scanned, new_count, updated, unchanged, deleted, errors, error`

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		s          SessionRecord
		roots      string
		started    int64
		ended      int64
		errMessage sql.NullString
	)
	if err := row.Scan(&s.ID, &roots, &s.Mode, &s.Status, &started, &ended,
		&s.Total, &s.Scanned, &s.New, &s.Updated, &s.Unchanged, &s.Deleted, &s.Errors, &errMessage); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roots), &s.Roots); err != nil {
		return nil, fmt.Errorf("session %s roots: %w", s.ID, err)
	}
	s.StartedAt = time.Unix(0, started)
	if ended != 0 {
		s.EndedAt = time.Unix(0, ended)
	}
	s.Error = errMessage.String
	return &s, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// CreateSession persists a new session row.
func (d *Database) CreateSession(ctx context.Context, s *SessionRecord) (err error) {
	start := time.Now()
	defer func() { recordQuery("create_session", start, err) }()

	roots, err := json.Marshal(s.Roots)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO scan_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, string(roots), s.Mode, s.Status, unixNano(s.StartedAt), unixNano(s.EndedAt),
		s.Total, s.Scanned, s.New, s.Updated, s.Unchanged, s.Deleted, s.Errors,
		sql.NullString{String: s.Error, Valid: s.Error != ""})
	return err
}

// UpdateSession overwrites the mutable fields of an existing session.
func (d *Database) UpdateSession(ctx context.Context, s *SessionRecord) (err error) {
	start := time.Now()
	defer func() { recordQuery("update_session", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		UPDATE scan_sessions SET
			status = ?, ended_at = ?, total = ?, scanned = ?, new_count = ?,
			updated = ?, unchanged = ?, deleted = ?, errors = ?, error = ?
		WHERE id = ?
	`, s.Status, unixNano(s.EndedAt), s.Total, s.Scanned, s.New,
		s.Updated, s.Unchanged, s.Deleted, s.Errors,
		sql.NullString{String: s.Error, Valid: s.Error != ""}, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession returns the session with id or ErrNotFound.
func (d *Database) GetSession(ctx context.Context, id string) (s *SessionRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("get_session", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	s, err = scanSession(d.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM scan_sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// LastCompletedSession returns the most recently started completed
// session, or ErrNotFound when none has finished. When modes are given
// only sessions run in one of them are considered.
func (d *Database) LastCompletedSession(ctx context.Context, modes ...string) (s *SessionRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("last_completed_session", start, err) }()

	query := "SELECT " + sessionColumns + " FROM scan_sessions WHERE status = 'completed'"
	args := make([]any, 0, len(modes))
	if len(modes) > 0 {
		query += " AND mode IN (?" + strings.Repeat(", ?", len(modes)-1) + ")"
		for _, m := range modes {
			args = append(args, m)
		}
	}
	query += " ORDER BY started_at DESC LIMIT 1"

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	s, err = scanSession(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSessions returns up to limit sessions, newest first.
func (d *Database) ListSessions(ctx context.Context, limit int) (out []SessionRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("list_sessions", start, err) }()

	if limit <= 0 {
		limit = 20
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM scan_sessions ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
