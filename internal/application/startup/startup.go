// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/application/container"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/presentation/http/server"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize runs the service until SIGINT or SIGTERM, then shuts it down in order.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Open stores and wire services
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer, err := container.NewContainer(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	logger.Startup().Info("Container ready",
		"counterBackend", appContainer.CounterBackend(),
		"database", appContainer.DB.Driver,
		"location", appContainer.Location.String())

	// Step 2: Start background workers
	if appContainer.Sweeper != nil {
		go appContainer.Sweeper.Start(ctx)
		logger.Startup().Info("Memory counter sweeper started", "interval", config.MemorySweepInterval)
	}
	go appContainer.Broadcaster.Run(ctx)
	appContainer.Scheduler.Start(ctx)
	for _, entry := range appContainer.Scheduler.Entries() {
		logger.Startup().Info("Job scheduled", "job", entry.Name, "schedule", entry.Schedule, "next", entry.Next)
	}

	// Step 3: Start HTTP server
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	// Stop order: scheduler, HTTP server, background tasks, stores.
	logger.Shutdown().Info("Stopping scheduler...")
	if err := appContainer.Scheduler.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Scheduler did not stop cleanly", "error", err.Error())
	}

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	cancelBackgroundTasks()

	logger.Shutdown().Info("Draining durable writes and closing stores...")
	stats := appContainer.WriterPool.Stats()
	if err := appContainer.Close(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error closing container", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart),
		"pendingWritesAtShutdown", stats.Queued)

	return nil
}

func newLogger() (*logging.ChanneledLogger, error) {
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	cfg.JSONFormat = config.LogJSON
	cfg.DefaultLevel = logging.ParseLevel(config.LogLevel)

	logger, err := logging.NewChanneledLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// setupLogging configures gin and the standard logger used before the
// channeled logger exists.
func setupLogging() {
	if config.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
