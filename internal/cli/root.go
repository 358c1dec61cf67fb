// Package cli implements the imgcat command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"imgcat/internal/logging"
	"imgcat/internal/startup"
)

// quietCommand marks commands whose default log level is warn so log
// lines do not interleave with their terminal output.
const quietCommand = "quiet"

var (
	configPath string
	logLevel   string
	logFile    string

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "imgcat",
	Short: "Image fingerprint catalog and similarity search",
	Long: `imgcat scans image libraries into a fingerprint catalog and finds
visually similar images using perceptual hashes, color and shape
histograms and optional neural embeddings.

Configuration is read from a YAML file (--config or IMGCAT_CONFIG) and
IMGCAT_* environment variables.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setupLogging,
	PersistentPostRunE: closeLogging,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.Execute()
	closeLogging(nil, nil)
	if err != nil {
		exitError("%v", err)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default $IMGCAT_CONFIG)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&logFile, "log-file", "", "Append log output to this file instead of stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	switch {
	case logLevel != "":
		level, ok := logging.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", logLevel)
		}
		logging.SetLevel(level)
	case isQuiet(cmd) && os.Getenv("LOG_LEVEL") == "" && os.Getenv("DEBUG") == "":
		logging.SetLevel(logging.LevelWarn)
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logging.SetOutput(f)
		logCloser = f
	}
	return nil
}

func closeLogging(_ *cobra.Command, _ []string) error {
	if logCloser == nil {
		return nil
	}
	logging.SetOutput(os.Stderr)
	err := logCloser.Close()
	logCloser = nil
	return err
}

// isQuiet reports whether cmd or one of its parents is marked quiet.
func isQuiet(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[quietCommand] == "true" {
			return true
		}
	}
	return false
}

func loadConfig() (*startup.Config, error) {
	cfg, err := startup.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns the first 8 characters of a session ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
