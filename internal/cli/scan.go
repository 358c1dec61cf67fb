package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"imgcat/internal/engine"
	"imgcat/internal/scanner"
	"imgcat/internal/vector"
)

var scanCmd = &cobra.Command{
	Use:   "scan [roots...]",
	Short: "Scan image roots and update the catalog",
	Long: `Walk the given roots, or the configured roots when none are given,
and fingerprint new and changed images. Images that disappeared since the
last completed scan are marked deleted.

Without roots or --force the scan is skipped when the catalog is fresh.
Interrupting a scan cancels it; records already written are kept.`,
	Annotations: map[string]string{quietCommand: "true"},
	RunE:        runScan,
}

var (
	scanFull  bool
	scanForce bool
)

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "Re-extract every image, not only changed ones")
	scanCmd.Flags().BoolVarP(&scanForce, "force", "f", false, "Scan even when the catalog is fresh")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(a)

	out := cmd.OutOrStdout()
	if len(args) == 0 && !scanForce {
		f, err := a.engine.CheckFreshness(ctx, false)
		if err != nil {
			return err
		}
		if !f.NeedsScan() {
			fmt.Fprintf(out, "Catalog is fresh (%s); use --force to scan anyway\n", f.Reason)
			return nil
		}
		fmt.Fprintf(out, "Scanning: %s\n", f.Reason)
	}

	mode := scanner.ModeIncremental
	if scanFull {
		mode = scanner.ModeFull
	}

	sess, events, err := a.engine.Scan(ctx, args, mode)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling scan...")
			a.engine.CancelScan()
		case <-ctx.Done():
		}
	}()

	progress := newProgressReporter(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	for ev := range events {
		progress.Update(ev)
	}
	progress.Finish()

	info := sess.Info()
	printScanSummary(out, info)

	if err := waitForIndex(ctx, a.engine, info); err != nil {
		fmt.Fprintf(os.Stderr, "warning: index rebuild failed: %v\n", err)
	}

	if info.Status == scanner.StatusFailed {
		return fmt.Errorf("scan %s failed: %s", shortID(info.ID), info.Error)
	}
	return nil
}

// waitForIndex makes sure the index reflects a scan that changed the
// catalog before the process exits. A rebuild started by the engine after
// the scan is waited for rather than repeated.
func waitForIndex(ctx context.Context, e *engine.Engine, info scanner.Info) error {
	idx := e.Index()
	if idx == nil || info.Status != scanner.StatusCompleted {
		return nil
	}
	c := info.Counts
	if c.New+c.Updated+c.Deleted == 0 {
		return nil
	}

	for e.IsScanning() {
		if err := sleepCtx(ctx, 50*time.Millisecond); err != nil {
			return err
		}
	}

	for {
		if err := waitRebuilt(ctx, idx); err != nil {
			return err
		}
		if !idx.Status().LastBuild.Before(info.EndedAt) {
			return nil
		}
		started, err := e.RebuildIndex(ctx)
		if err != nil {
			return err
		}
		if started {
			return nil
		}
	}
}

func waitRebuilt(ctx context.Context, idx *vector.Manager) error {
	for idx.Status().Rebuilding {
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
