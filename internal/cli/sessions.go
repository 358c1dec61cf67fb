package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imgcat/internal/database"
	"imgcat/internal/startup"
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "Show recent scan sessions",
	Annotations: map[string]string{quietCommand: "true"},
	RunE:        runSessions,
}

var sessionsLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "n", "n", 10, "Number of sessions to show")
}

// openCatalog opens only the catalog, for commands that never extract.
func openCatalog(ctx context.Context) (*startup.Config, *database.Database, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.PrepareDataDir(); err != nil {
		return nil, nil, err
	}
	db, err := database.New(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	return cfg, db, nil
}

func runSessions(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	_, db, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No scans yet")
		return nil
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Catalog: %s active, %s deleted\n\n",
		humanize.Comma(int64(stats.Active)), humanize.Comma(int64(stats.Deleted)))

	for _, s := range sessions {
		printSession(out, s, time.Now())
	}
	return nil
}

// printSession writes one session as a header line plus its counts.
func printSession(w io.Writer, s database.SessionRecord, now time.Time) {
	yellow := color.New(color.FgYellow)
	statusColor := color.New(color.FgGreen)
	switch s.Status {
	case "cancelled":
		statusColor = color.New(color.FgYellow)
	case "failed":
		statusColor = color.New(color.FgRed)
	case "running":
		statusColor = color.New(color.FgCyan)
	}

	yellow.Fprintf(w, "%s ", shortID(s.ID))
	statusColor.Fprintf(w, "%-9s", s.Status)
	fmt.Fprintf(w, " %-11s %s", s.Mode, humanize.RelTime(s.StartedAt, now, "ago", "from now"))
	if !s.EndedAt.IsZero() {
		fmt.Fprintf(w, " (%s)", s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "    %s\n", strings.Join(s.Roots, ", "))
	fmt.Fprintf(w, "    total %d  new %d  updated %d  unchanged %d  deleted %d  errors %d\n",
		s.Total, s.New, s.Updated, s.Unchanged, s.Deleted, s.Errors)
	if s.Error != "" {
		color.New(color.FgRed).Fprintf(w, "    error: %s\n", s.Error)
	}
}
