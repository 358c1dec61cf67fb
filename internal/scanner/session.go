package scanner

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"imgcat/internal/database"
)

// Mode selects how much work a scan redoes.
type Mode string

const (
	// ModeIncremental re-extracts only new and changed files.
	ModeIncremental Mode = "incremental"
	// ModeFull re-extracts every file regardless of its digest.
	ModeFull Mode = "full"
	// ModeRescan is an incremental pass over a single directory, started
	// by the watcher or by search expansion. It does not count towards
	// catalog freshness.
	ModeRescan Mode = "rescan"
)

// ParseMode converts a mode name; the empty string means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown scan mode %q", s)
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Counts are the running totals of a session.
type Counts struct {
	Total     int64 `json:"total"`
	Scanned   int64 `json:"scanned"`
	New       int64 `json:"new"`
	Updated   int64 `json:"updated"`
	Unchanged int64 `json:"unchanged"`
	Deleted   int64 `json:"deleted"`
	Errors    int64 `json:"errors"`
}

// Session is one pass over a set of roots. It is created by the caller,
// threaded through Scan and safe to read and cancel from other goroutines.
type Session struct {
	ID        string
	Roots     []string
	Mode      Mode
	StartedAt time.Time

	total, scanned, added, updated, unchanged, deleted, errors atomic.Int64

	cancelled  atomic.Bool
	cancelOnce sync.Once
	done       chan struct{}

	mu      sync.Mutex
	status  Status
	endedAt time.Time
	err     error
}

// NewSession creates a running session for roots.
func NewSession(roots []string, mode Mode) *Session {
	if mode == "" {
		mode = ModeIncremental
	}
	return &Session{
		ID:        uuid.NewString(),
		Roots:     append([]string(nil), roots...),
		Mode:      mode,
		StartedAt: time.Now(),
		status:    StatusRunning,
		done:      make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. The scan stops before its next
// file; in-flight extractions still finish and are recorded.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.cancelOnce.Do(func() {
		if s.done != nil {
			close(s.done)
		}
	})
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Done is closed when Cancel is called.
func (s *Session) Done() <-chan struct{} { return s.done }

// Counts returns a snapshot of the running totals.
func (s *Session) Counts() Counts {
	return Counts{
		Total:     s.total.Load(),
		Scanned:   s.scanned.Load(),
		New:       s.added.Load(),
		Updated:   s.updated.Load(),
		Unchanged: s.unchanged.Load(),
		Deleted:   s.deleted.Load(),
		Errors:    s.errors.Load(),
	}
}

// Status returns the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the session-fatal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// EndedAt returns when the session finished, zero while running.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *Session) finish(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
	s.endedAt = time.Now()
}

// Info is the JSON view of a session.
type Info struct {
	ID        string    `json:"id"`
	Roots     []string  `json:"roots"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	Counts    Counts    `json:"counts"`
	Error     string    `json:"error,omitempty"`
}

// Info returns a snapshot suitable for status endpoints.
func (s *Session) Info() Info {
	s.mu.Lock()
	status, ended, err := s.status, s.endedAt, s.err
	s.mu.Unlock()

	info := Info{
		ID:        s.ID,
		Roots:     s.Roots,
		Mode:      s.Mode,
		Status:    status,
		StartedAt: s.StartedAt,
		EndedAt:   ended,
		Counts:    s.Counts(),
	}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

// Record converts the session into its persisted form.
func (s *Session) Record() *database.SessionRecord {
	info := s.Info()
	return &database.SessionRecord{
		ID:        info.ID,
		Roots:     info.Roots,
		Mode:      string(info.Mode),
		Status:    string(info.Status),
		StartedAt: info.StartedAt,
		EndedAt:   info.EndedAt,
		Total:     info.Counts.Total,
		Scanned:   info.Counts.Scanned,
		New:       info.Counts.New,
		Updated:   info.Counts.Updated,
		Unchanged: info.Counts.Unchanged,
		Deleted:   info.Counts.Deleted,
		Errors:    info.Counts.Errors,
		Error:     info.Error,
	}
}

// Event is one message on a scan's event stream: progress while running,
// then a single terminal event with Done set.
type Event struct {
	SessionID   string  `json:"sessionId"`
	Current     int64   `json:"current"`
	Total       int64   `json:"total"`
	CurrentFile string  `json:"currentFile,omitempty"`
	Class       string  `json:"class,omitempty"`
	Done        bool    `json:"done,omitempty"`
	Success     bool    `json:"success,omitempty"`
	Status      Status  `json:"status,omitempty"`
	Stats       *Counts `json:"totalStats,omitempty"`
	Error       string  `json:"error,omitempty"`
}
