package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imgcat/internal/database"
	"imgcat/internal/logging"
	"imgcat/internal/vector"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect or rebuild the approximate embedding index",
}

var indexStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show the saved index",
	Annotations: map[string]string{quietCommand: "true"},
	RunE:        runIndexStatus,
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Retrain the index from the catalog embeddings and save it",
	RunE:  runIndexRebuild,
}

func init() {
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexRebuildCmd)
}

var errIndexDisabled = errors.New("the approximate index is disabled (index.enabled: false)")

// openIndex opens the catalog and an index manager over it.
func openIndex(ctx context.Context) (*database.Database, *vector.Manager, error) {
	cfg, db, err := openCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Index.Enabled {
		db.Close()
		return nil, nil, errIndexDisabled
	}
	mgr := vector.NewManager(db, cfg.IndexManagerConfig())
	mgr.SetOnRebuild(func(st vector.Status) {
		if err := db.SetTime(context.Background(), database.MetaLastIndexBuild, st.LastBuild); err != nil {
			logging.Warn("Failed to record index build time: %v", err)
		}
	})
	return db, mgr, nil
}

func runIndexStatus(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	db, mgr, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := mgr.LoadSnapshot(); err != nil {
		return err
	}
	printIndexStatus(cmd.OutOrStdout(), mgr.Status(), time.Now())
	return nil
}

func runIndexRebuild(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	db, mgr, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Now()
	if _, err := mgr.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "Index rebuilt in %s\n", time.Since(start).Round(time.Millisecond))
	printIndexStatus(out, mgr.Status(), time.Now())
	return nil
}

// printIndexStatus writes the index state.
func printIndexStatus(w io.Writer, st vector.Status, now time.Time) {
	if !st.Ready {
		color.New(color.FgYellow).Fprintln(w, "Index: not built")
		return
	}
	fmt.Fprintf(w, "Index: %s vectors, %d dimensions, %d lists\n",
		humanize.Comma(int64(st.Size)), st.Dimensions, st.Lists)
	if !st.LastBuild.IsZero() {
		fmt.Fprintf(w, "Built: %s (%s)\n",
			st.LastBuild.Format(time.RFC3339), humanize.RelTime(st.LastBuild, now, "ago", "from now"))
	}
}
