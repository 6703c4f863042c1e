package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deadfeed/internal/api"
	"deadfeed/internal/api/handlers"
	"deadfeed/internal/banner"
	"deadfeed/internal/config"
	"deadfeed/internal/database"
	"deadfeed/internal/database/models"
	"deadfeed/internal/database/repositories"
	"deadfeed/internal/ingest"
	"deadfeed/internal/metrics"
	"deadfeed/internal/parser/deadside"
	"deadfeed/internal/parser/killfeed"
	"deadfeed/internal/scheduler"
	"deadfeed/internal/sink"
	"deadfeed/internal/watch"

	"github.com/pterm/pterm"
)

func main() {
	// Initialize logger with INFO level as a sensible default; the
	// configured LOG_LEVEL is applied after loading configuration
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	// Print banner
	banner.Print()

	logger.Info("Initializing DeadFeed - Game Server Telemetry Ingestion...")

	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	// Apply configured log level from environment variable LOG_LEVEL (default: info)
	// Supported values: trace, debug, info, warn, error, fatal
	lvl := strings.ToLower(cfg.LogLevel)
	var ptermLevel pterm.LogLevel
	switch lvl {
	case "trace":
		ptermLevel = pterm.LogLevelTrace
	case "debug":
		ptermLevel = pterm.LogLevelDebug
	case "info":
		ptermLevel = pterm.LogLevelInfo
	case "warn", "warning":
		ptermLevel = pterm.LogLevelWarn
	case "error":
		ptermLevel = pterm.LogLevelError
	case "fatal":
		ptermLevel = pterm.LogLevelFatal
	default:
		ptermLevel = pterm.LogLevelInfo
	}
	logger = pterm.DefaultLogger.WithLevel(ptermLevel)
	logger.Debug("Log level set", logger.Args("level", lvl))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"server_port", cfg.Server.Port,
			"killfeed_interval", cfg.Ingest.KillfeedInterval.String(),
		))

	// Initialize database connection with configured settings
	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	// Initialize repositories
	logger.Debug("Initializing repositories...")
	serverRepo := repositories.NewGameServerRepository(db)
	checkpointRepo := repositories.NewCheckpointRepository(db)
	premiumRepo := repositories.NewPremiumRepository(db)

	// Prometheus registry and ingestion metrics
	ingestionMetrics := metrics.New()

	// Parsers
	logger.Debug("Initializing parsers...")
	killfeedParser := killfeed.NewParser(logger)
	matcherRegistry := deadside.NewRegistry(logger)

	// Sinks: the default wiring logs events; downstream consumers
	// (notifications, stats pipelines) replace these at the seams
	logSink := sink.NewLogSink(logger)
	entitlements := sink.NewStoredEntitlements(premiumRepo)

	// Ingestion plumbing
	clients := ingest.NewClientFactory(cfg, logger)
	locks := ingest.NewServerLocks()
	health := ingest.NewConnHealth(cfg.Ingest.FailureThreshold, ingestionMetrics, logger)

	killfeedIngestor := ingest.NewKillfeedIngestor(
		clients, checkpointRepo, killfeedParser, logSink, locks, health, ingestionMetrics, logger)
	logIngestor := ingest.NewLogIngestor(
		clients, checkpointRepo, matcherRegistry, entitlements, logSink, health, ingestionMetrics, logger)
	backfillEngine := ingest.NewBackfillEngine(
		clients, checkpointRepo, killfeedParser, logSink, logSink, logSink,
		locks, ingestionMetrics, logger, cfg.Ingest.ProgressInterval)

	// Scheduler and coordinator
	logger.Debug("Initializing scheduler...")
	sched := scheduler.New(logger, ingestionMetrics)
	coordinator := ingest.NewCoordinator(
		cfg, serverRepo, killfeedIngestor, logIngestor, backfillEngine, sched, logger)

	logger.Info("Starting ingestion coordinator...")
	if err := coordinator.Start(); err != nil {
		logger.WithCaller().Fatal("Failed to start ingestion coordinator", logger.Args("error", err))
	}

	// Offline data watcher nudges schedules when local files change
	var watcher *watch.Watcher
	if cfg.Offline.WatchEnabled {
		watcher, err = watch.New(cfg.Offline.DataDir, coordinator, func() []string {
			servers, err := serverRepo.FindActive()
			if err != nil {
				return nil
			}
			keys := make([]string, 0, len(servers))
			for _, s := range servers {
				if s.Mode == models.ModeOffline {
					keys = append(keys, s.Key())
				}
			}
			return keys
		}, logger)
		if err != nil {
			logger.Warn("Offline data watcher unavailable", logger.Args("error", err))
		} else if err := watcher.Start(); err != nil {
			logger.Warn("Offline data watcher failed to start", logger.Args("error", err))
			watcher = nil
		}
	}

	// Initialize operational HTTP server
	logger.Info("Initializing operational server...")
	statusHandler := handlers.NewStatusHandler(coordinator, serverRepo, backfillEngine, logger)
	webServer := api.NewServer(&api.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Production: cfg.Server.Production,
	}, statusHandler, ingestionMetrics.Registry, logger)

	// Start web server in goroutine
	go func() {
		if err := webServer.Run(); err != nil {
			logger.WithCaller().Error("Operational server error", logger.Args("error", err))
		}
	}()

	logger.Info("💀 DeadFeed is running",
		logger.Args(
			"url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port),
			"schedules", len(sched.Keys()),
		))

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	// Stop the watcher first so nothing nudges a stopping scheduler
	if watcher != nil {
		logger.Debug("Stopping offline data watcher...")
		watcher.Stop()
	}

	// Stop the coordinator, then the scheduler (waits for in-flight cycles)
	logger.Debug("Stopping ingestion coordinator...")
	coordinator.Stop()
	logger.Debug("Stopping scheduler...")
	sched.Stop()

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop web server
	logger.Debug("Stopping operational server...")
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.WithCaller().Error("Operational server shutdown error", logger.Args("error", err))
	} else {
		logger.Info("Operational server stopped successfully")
	}

	logger.Info("DeadFeed stopped gracefully")
}
