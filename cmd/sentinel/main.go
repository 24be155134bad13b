package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raaihank/phi-sentinel/internal/audit"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metrics"
	"github.com/raaihank/phi-sentinel/internal/privacy"
	"github.com/raaihank/phi-sentinel/internal/redact"
	"github.com/raaihank/phi-sentinel/internal/security"
	"github.com/raaihank/phi-sentinel/internal/server"
	"github.com/raaihank/phi-sentinel/internal/websocket"
	"go.uber.org/zap"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080", "Base URL used by -health-check")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("PHI-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PHI-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	if err := run(cfg, log); err != nil {
		log.Error("PHI-Sentinel stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to create PHI detector: %w", err)
	}
	redactor := redact.New(detector, log.WithComponent("redact"))

	store, closeStore, err := audit.OpenStore(cfg.Audit.Storage, log.WithComponent("audit").Logger)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Failed to close audit store", zap.Error(err))
		}
	}()

	hub := websocket.NewHub(cfg.WebSocket, log.Logger, m)
	auditLog := audit.New(cfg.Audit, store, log.WithComponent("audit").Logger,
		audit.WithAlerter(audit.MultiAlerter{audit.NewLogAlerter(log.WithComponent("audit").Logger), hub}),
		audit.WithListener(hub),
		audit.WithMetrics(m),
	)
	// Runs before closeStore so queued events reach the store
	defer func() {
		if err := auditLog.Close(); err != nil {
			log.Error("Failed to close audit logger", zap.Error(err))
		}
	}()

	if err := auditLog.Init(ctx); err != nil {
		log.Warn("Failed to load persisted audit events, starting empty", zap.Error(err))
	}

	srv, err := server.New(cfg, log, server.Deps{
		Detector: detector,
		Redactor: redactor,
		Audit:    auditLog,
		Hub:      hub,
		Limiter:  security.NewRateLimiter(cfg.RateLimit),
		Metrics:  m,
		Gatherer: reg,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Detection rules can change without a restart
	err = config.Watch(func(newCfg *config.Config) {
		if err := detector.Configure(newCfg.Privacy); err != nil {
			log.Error("Failed to apply reloaded privacy config", zap.Error(err))
			return
		}
		log.Info("Privacy configuration reloaded",
			zap.Bool("enabled", newCfg.Privacy.Enabled),
			zap.Strings("detectors", newCfg.Privacy.Detectors))
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
	if err != nil {
		log.Warn("Configuration hot reload disabled", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start(ctx)
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	log.Info("Server shutdown complete")
	return nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
