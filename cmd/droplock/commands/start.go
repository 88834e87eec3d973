package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gxav/droplock/internal/logger"
	"github.com/gxav/droplock/pkg/adapter/transfer"
	"github.com/gxav/droplock/pkg/config"
	"github.com/gxav/droplock/pkg/metrics"
	prommetrics "github.com/gxav/droplock/pkg/metrics/prometheus"
	badgerstore "github.com/gxav/droplock/pkg/registry/badger"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the droplock server",
	Long: `Start the droplock server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/droplock/config.yaml.

Examples:
  # Start with the default config file
  droplock start

  # Start with a custom config file
  droplock start --config /etc/droplock/config.yaml

  # Start with environment variable overrides
  DROPLOCK_LOGGING_LEVEL=DEBUG droplock start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (optional)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Metrics registry must exist before any recorder is constructed.
	var transferMetrics metrics.TransferMetrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		transferMetrics = prommetrics.NewTransferMetrics()
		metricsServer = startMetricsServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	store, err := badgerstore.Open(badgerstore.Options{
		DataDir:  cfg.Storage.DataDir,
		FilesDir: cfg.Storage.FilesDir,
	})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Registry close error", "error", err)
		}
	}()

	server := transfer.New(cfg.Transfer, store, transferMetrics)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig)
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
	}

	return nil
}

// startMetricsServer serves the Prometheus exposition endpoint in the
// background. Failure to bind is logged, not fatal; metrics are auxiliary.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server failed", "port", port, "error", err)
		}
	}()

	return server
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
