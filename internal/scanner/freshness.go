package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imgcat/internal/database"
)

// Freshness is the verdict on whether the catalog needs a scan.
type Freshness struct {
	// Required means a scan must run: the catalog is empty or one was forced.
	Required bool `json:"required"`
	// Recommended means the last completed scan is older than the window.
	Recommended bool      `json:"recommended"`
	Reason      string    `json:"reason"`
	LastScan    time.Time `json:"lastScan,omitempty"`
}

// NeedsScan reports whether a scan should run.
func (f Freshness) NeedsScan() bool { return f.Required || f.Recommended }

// CheckFreshness decides whether a scan is due. force always requires one.
func (s *Scanner) CheckFreshness(ctx context.Context, force bool) (Freshness, error) {
	if force {
		return Freshness{Required: true, Reason: "forced"}, nil
	}

	n, err := s.store.CountActive(ctx)
	if err != nil {
		return Freshness{}, fmt.Errorf("count catalog: %w", err)
	}
	if n == 0 {
		return Freshness{Required: true, Reason: "catalog is empty"}, nil
	}

	last, err := s.store.LastCompletedSession(ctx, string(ModeIncremental), string(ModeFull))
	if errors.Is(err, database.ErrNotFound) {
		return Freshness{Recommended: true, Reason: "no completed scan on record"}, nil
	}
	if err != nil {
		return Freshness{}, fmt.Errorf("last completed scan: %w", err)
	}

	f := Freshness{LastScan: last.EndedAt}
	if f.LastScan.IsZero() {
		f.LastScan = last.StartedAt
	}
	age := time.Since(f.LastScan)
	if s.cfg.FreshnessWindow > 0 && age > s.cfg.FreshnessWindow {
		f.Recommended = true
		f.Reason = fmt.Sprintf("last scan %v ago exceeds %v", age.Round(time.Minute), s.cfg.FreshnessWindow)
		return f, nil
	}
	f.Reason = "catalog is fresh"
	return f, nil
}
