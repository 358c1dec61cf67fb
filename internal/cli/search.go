package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"imgcat/internal/engine"
	"imgcat/internal/fingerprint"
	"imgcat/internal/similarity"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find catalog images similar to an image",
	Long: `Rank catalog images by similarity to the given image. The image does
not need to be in the catalog.

Weights combine the per-modality similarities, for example
  --weights embedding=0.7,shape=0.2,color=0.1
and take precedence over --preset.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{quietCommand: "true"},
	RunE:        runSearch,
}

var (
	searchThreshold float64
	searchWeights   string
	searchPreset    string
	searchLimit     int
	searchJSON      bool
	searchVerbose   bool
)

func init() {
	flags := searchCmd.Flags()
	flags.Float64VarP(&searchThreshold, "threshold", "t", 0, "Minimum similarity in [0,1] (default from config)")
	flags.StringVarP(&searchWeights, "weights", "w", "", "Modality weights, e.g. embedding=0.7,color=0.3")
	flags.StringVar(&searchPreset, "preset", "", "Weight preset: "+strings.Join(similarity.PresetNames(), ", "))
	flags.IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default from config)")
	flags.BoolVar(&searchJSON, "json", false, "Print results as JSON")
	flags.BoolVarP(&searchVerbose, "verbose", "v", false, "Show per-modality similarities")
}

func runSearch(cmd *cobra.Command, args []string) error {
	req, err := buildSearchRequest(cmd, args[0])
	if err != nil {
		return err
	}

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
	a.loadIndex()

	resp, err := a.engine.SearchSimilar(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printMatches(out, resp, searchVerbose)
	return nil
}

// buildSearchRequest turns the flags into a request. Unset flags leave
// their fields zero so the configured defaults apply.
func buildSearchRequest(cmd *cobra.Command, path string) (engine.SearchRequest, error) {
	req := engine.SearchRequest{
		Path:   path,
		Preset: searchPreset,
		Limit:  searchLimit,
	}
	if cmd.Flags().Changed("threshold") {
		if searchThreshold < 0 || searchThreshold > 1 {
			return req, fmt.Errorf("threshold %v is outside [0,1]", searchThreshold)
		}
		t := searchThreshold
		req.Threshold = &t
	}
	if searchWeights != "" {
		w, err := similarity.ParseWeights(searchWeights)
		if err != nil {
			return req, fmt.Errorf("invalid --weights: %w", err)
		}
		req.Weights = w
	}
	if searchPreset != "" {
		if _, ok := similarity.Preset(searchPreset); !ok {
			return req, fmt.Errorf("unknown preset %q (available: %s)", searchPreset, strings.Join(similarity.PresetNames(), ", "))
		}
	}
	if searchLimit < 0 {
		return req, fmt.Errorf("limit must not be negative")
	}
	return req, nil
}

// printMatches writes a ranked, human-readable result list.
func printMatches(w io.Writer, resp engine.SearchResponse, verbose bool) {
	if len(resp.Matches) == 0 {
		fmt.Fprintln(w, "No similar images found")
		return
	}

	for i, m := range resp.Matches {
		scoreColor(m.Similarity).Fprintf(w, "%3d. %5.1f%%", i+1, m.Similarity*100)
		fmt.Fprintf(w, "  %s\n", m.Record.Path)
		if verbose && len(m.Modalities) > 0 {
			fmt.Fprintf(w, "       %s\n", formatModalities(m.Modalities))
		}
	}

	summary := fmt.Sprintf("%d match(es) from %d candidate(s)", len(resp.Matches), resp.Candidates)
	if resp.Expanded {
		summary += ", after rescanning the query directory"
	}
	color.New(color.Faint).Fprintln(w, summary)
}

func scoreColor(s float64) *color.Color {
	switch {
	case s >= 0.9:
		return color.New(color.FgGreen, color.Bold)
	case s >= 0.75:
		return color.New(color.FgGreen)
	case s >= 0.6:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// formatModalities renders per-modality scores in a stable order.
func formatModalities(scores map[fingerprint.Modality]float64) string {
	names := make([]string, 0, len(scores))
	for m := range scores {
		names = append(names, string(m))
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%.3f", n, scores[fingerprint.Modality(n)]))
	}
	return strings.Join(parts, " ")
}
