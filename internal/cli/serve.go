package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"imgcat/internal/handlers"
	"imgcat/internal/logging"
	"imgcat/internal/metrics"
	"imgcat/internal/middleware"
	"imgcat/internal/startup"
	"imgcat/internal/watcher"
)

const collectInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the HTTP API over the catalog. On startup the saved index is
loaded and, when the catalog is empty or stale, a background scan of the
configured roots begins. With watching enabled, changes under the roots
trigger incremental rescans of the affected directories.`,
	RunE: runServe,
}

var (
	servePort    string
	serveWatch   bool
	serveMetrics string
)

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "HTTP port (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Watch the roots for changes")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-port", "", "Metrics port; \"-\" serves /metrics on the main port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	startTime := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	startup.LogConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	build := startup.GetBuildInfo()
	metrics.SetAppInfo(build.Version, build.Commit, build.GoVersion)

	collector := metrics.NewCollector(a.db, cfg.Storage.DatabasePath, collectInterval)
	collector.Start()

	if err := a.engine.Startup(ctx); err != nil {
		collector.Stop()
		closeApp(a)
		return fmt.Errorf("engine startup: %w", err)
	}

	var w *watcher.Watcher
	if cfg.Server.Watch && len(a.engine.Roots()) > 0 {
		w = watcher.New(a.engine.Roots(), a.engine, cfg.WatcherConfig())
		if err := w.Start(ctx); err != nil {
			logging.Warn("Filesystem watcher failed to start: %v", err)
			w = nil
		} else {
			startup.LogWatcherStarted(a.engine.Roots())
		}
	}

	h := handlers.New(a.engine)
	separateMetrics := cfg.Server.MetricsEnabled && cfg.Server.MetricsPort != ""
	router := h.Router(cfg.Server.MetricsEnabled && !separateMetrics)
	startup.LogHTTPRoutes(router, cfg.Server.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           serverHandler(router, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Scan progress streams for as long as the scan runs.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if separateMetrics {
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.Server.MetricsPort,
			Handler:           handlers.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	errCh := make(chan error, 2)
	listen := func(s *http.Server, name string) {
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go listen(srv, "HTTP")
	if metricsSrv != nil {
		go listen(metricsSrv, "metrics")
	}

	startup.LogServerStarted(startup.ServerInfo{
		Port:            cfg.Server.Port,
		MetricsPort:     cfg.Server.MetricsPort,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		startup.LogShutdownInitiated(sig.String())
	case serveErr = <-errCh:
		logging.Error("%v", serveErr)
		startup.LogShutdownInitiated("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer shutdownCancel()

	if w != nil {
		startup.LogShutdownStep("Stopping filesystem watcher")
		w.Stop()
		startup.LogShutdownStepComplete("Watcher stopped")
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Stopping engine")
	cancel()
	collector.Stop()
	if err := a.Close(shutdownCtx); err != nil {
		logging.Warn("Engine shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Engine stopped, catalog closed")
	}

	startup.LogShutdownComplete()
	return serveErr
}

// applyServeFlags lets explicit flags override the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *startup.Config) {
	flags := cmd.Flags()
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	if flags.Changed("watch") {
		cfg.Server.Watch = serveWatch
	}
	switch serveMetrics {
	case "":
	case "-":
		cfg.Server.MetricsPort = ""
	default:
		cfg.Server.MetricsPort = serveMetrics
	}
}

// serverHandler wraps the router in the request middleware chain.
func serverHandler(router *mux.Router, cfg *startup.Config) http.Handler {
	if cfg.Server.MetricsEnabled {
		router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	}

	logCfg := middleware.DefaultLoggingConfig()
	logCfg.LogHealthChecks = cfg.Server.LogHealthChecks

	var handler http.Handler = router
	handler = middleware.Logger(logCfg)(handler)
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)
	return handler
}
