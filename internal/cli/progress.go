package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"imgcat/internal/scanner"
)

// lineEvery is how many files pass between plain progress lines.
const lineEvery = 500

// progressReporter renders scan events.
type progressReporter interface {
	Update(ev scanner.Event)
	Finish()
}

func newProgressReporter(w io.Writer, interactive bool) progressReporter {
	if interactive {
		return newBarReporter(w)
	}
	return &lineReporter{w: w, every: lineEvery}
}

// barReporter draws a progress bar. The total is unknown until the walk
// has counted the files, so the bar starts as a spinner.
type barReporter struct {
	bar   *progressbar.ProgressBar
	total int64
}

func newBarReporter(w io.Writer) *barReporter {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("img"),
		progressbar.OptionSetDescription("[cyan]Scanning[reset]"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	return &barReporter{bar: bar}
}

func (r *barReporter) Update(ev scanner.Event) {
	if ev.Done {
		return
	}
	if ev.Total > r.total {
		r.total = ev.Total
		r.bar.ChangeMax64(ev.Total)
	}
	if ev.CurrentFile != "" {
		r.bar.Describe(fmt.Sprintf("[cyan]Scanning[reset] %s", truncateName(filepath.Base(ev.CurrentFile), 24)))
	}
	_ = r.bar.Set64(ev.Current)
}

func (r *barReporter) Finish() {
	_ = r.bar.Finish()
}

// lineReporter prints a plain line every so many files, for logs and
// pipes.
type lineReporter struct {
	w     io.Writer
	every int64
	last  int64
}

func (r *lineReporter) Update(ev scanner.Event) {
	if ev.Done || ev.Current-r.last < r.every {
		return
	}
	r.last = ev.Current
	if ev.Total > 0 {
		fmt.Fprintf(r.w, "scanned %d/%d files\n", ev.Current, ev.Total)
		return
	}
	fmt.Fprintf(r.w, "scanned %d files\n", ev.Current)
}

func (r *lineReporter) Finish() {}

// truncateName shortens a file name to at most n runes.
func truncateName(name string, n int) string {
	runes := []rune(name)
	if len(runes) <= n {
		return name
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// printScanSummary writes the outcome of a scan session.
func printScanSummary(w io.Writer, info scanner.Info) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	status := green
	switch info.Status {
	case scanner.StatusCancelled:
		status = yellow
	case scanner.StatusFailed:
		status = red
	}

	bold.Fprintf(w, "Scan %s ", shortID(info.ID))
	status.Fprintf(w, "%s", info.Status)
	if !info.EndedAt.IsZero() && !info.StartedAt.IsZero() {
		fmt.Fprintf(w, " in %s", info.EndedAt.Sub(info.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	c := info.Counts
	fmt.Fprintf(w, "  files:     %d (%d scanned)\n", c.Total, c.Scanned)
	green.Fprintf(w, "  new:       %d\n", c.New)
	fmt.Fprintf(w, "  updated:   %d\n", c.Updated)
	fmt.Fprintf(w, "  unchanged: %d\n", c.Unchanged)
	if c.Deleted > 0 {
		yellow.Fprintf(w, "  deleted:   %d\n", c.Deleted)
	} else {
		fmt.Fprintf(w, "  deleted:   %d\n", c.Deleted)
	}
	if c.Errors > 0 {
		red.Fprintf(w, "  errors:    %d\n", c.Errors)
	} else {
		fmt.Fprintf(w, "  errors:    %d\n", c.Errors)
	}
	if info.Error != "" {
		red.Fprintf(w, "  error: %s\n", info.Error)
	}
}
