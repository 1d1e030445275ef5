// Package container wires the stores, services and background workers
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/application/scheduler"
	"github.com/AtRiskMedia/visitstats/internal/application/services"
	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/redisstore"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/clientinfo"
	schema "github.com/AtRiskMedia/visitstats/internal/infrastructure/database"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/email"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	persistence "github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/archive"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/security"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/workers"
	"github.com/AtRiskMedia/visitstats/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
	Location    *time.Location
	Keys        *keys.Builder

	// Stores
	DB          *database.DB
	Counters    analytics.CounterStore
	MemoryStore *stores.CounterStore // nil when Redis is configured
	Events      *persistence.SQLEventRepository
	Aggregates  *persistence.SQLAggregateRepository

	// Background workers
	WriterPool  *workers.Pool
	Sweeper     *cleanup.Worker // nil when Redis is configured
	Broadcaster *messaging.RealtimeBroadcaster
	Scheduler   *scheduler.Scheduler

	// Application services
	IngestionService      *services.IngestionService
	StatsService          *services.StatsService
	ReconciliationService *services.ReconciliationService
	RetentionService      *services.RetentionService
	ReportService         *services.ReportService
	AuthService           *services.AuthService

	StartedAt time.Time
}

// NewContainer opens the stores and wires every service from pkg/config.
func NewContainer(ctx context.Context, logger *logging.ChanneledLogger) (*Container, error) {
	c := &Container{
		Logger:      logger,
		PerfTracker: performance.NewTracker(performance.DefaultTrackerConfig(), logger),
		Location:    config.Location(),
		Keys:        keys.NewBuilder(config.CachePrefix),
		StartedAt:   time.Now(),
	}

	if err := c.openStores(ctx); err != nil {
		c.closeStores()
		return nil, err
	}

	opts := []services.Option{services.WithLocation(c.Location)}

	c.WriterPool = workers.NewPool(workers.Config{
		Workers:   config.WriterWorkers,
		QueueSize: config.WriterQueueSize,
	}, logger)

	c.IngestionService = services.NewIngestionService(c.Counters, c.Events, c.WriterPool,
		clientinfo.NewClassifier(), c.Keys, services.IngestionConfigFromDefaults(), logger, c.PerfTracker, opts...)
	c.StatsService = services.NewStatsService(c.Counters, c.Events, c.Keys, logger, c.PerfTracker, opts...)
	c.ReconciliationService = services.NewReconciliationService(c.Counters, c.Events, c.Aggregates, c.Keys,
		logger, c.PerfTracker, opts...)

	var archiver services.Archiver
	if config.ArchiveDirectory != "" {
		archiver = archive.NewWriter(config.ArchiveDirectory)
		logger.Startup().Info("Event archive enabled", "directory", config.ArchiveDirectory)
	}
	c.RetentionService = services.NewRetentionService(c.Counters, c.Events, archiver, c.Keys,
		services.RetentionConfigFromDefaults(), logger, c.PerfTracker, opts...)

	mailer, err := email.NewService()
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to configure report email: %w", err)
	}
	if mailer == nil {
		logger.Startup().Info("Report email disabled; reports will only be logged")
	}
	c.ReportService = services.NewReportService(c.StatsService, mailer, logger, opts...)

	jwtSecret := config.JWTSecret
	if jwtSecret == "" && config.AdminPasswordHash != "" {
		// Tokens signed with an ephemeral secret stop validating on restart.
		if jwtSecret, err = security.GenerateSecureKey(64); err != nil {
			c.Close(ctx)
			return nil, err
		}
		logger.Startup().Warn("JWT_SECRET not set; using a per-process signing secret")
	}
	c.AuthService = services.NewAuthService(config.AdminPasswordHash, jwtSecret, config.AdminTokenTTL, logger, opts...)
	if !c.AuthService.Enabled() {
		logger.Startup().Warn("Admin API disabled: ADMIN_PASSWORD_HASH is not set")
	}

	c.Broadcaster = messaging.NewRealtimeBroadcaster(c.StatsService, config.RealtimePushInterval, logger)

	schedules := scheduler.DefaultSchedules()
	if config.ScheduleFile != "" {
		if schedules, err = scheduler.LoadSchedules(config.ScheduleFile); err != nil {
			c.Close(ctx)
			return nil, err
		}
		logger.Startup().Info("Schedules loaded", "file", config.ScheduleFile)
	}
	c.Scheduler, err = scheduler.New(schedules, c.Location, c.ReconciliationService, c.RetentionService, c.ReportService, logger)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return c, nil
}

func (c *Container) openStores(ctx context.Context) error {
	db, err := database.Open(ctx, database.OptionsFromConfig(), c.Logger)
	if err != nil {
		return err
	}
	c.DB = db

	if err := schema.NewTableCreator().CreateSchema(ctx, db.DB); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	c.Events = persistence.NewSQLEventRepository(db, c.Logger)
	c.Aggregates = persistence.NewSQLAggregateRepository(db, c.Logger)

	if config.RedisURL != "" {
		store, err := redisstore.New(ctx, config.RedisURL, c.Logger)
		if err != nil {
			return err
		}
		c.Counters = store
		return nil
	}

	c.MemoryStore = stores.NewCounterStore()
	c.Counters = c.MemoryStore
	c.Sweeper = cleanup.NewWorker(c.MemoryStore, cleanup.NewConfig(), c.Logger)
	c.Logger.Startup().Info("Using in-process counter store; counters are lost on restart")
	return nil
}

// CounterBackend names the active counter store.
func (c *Container) CounterBackend() string {
	if c.MemoryStore != nil {
		return "memory"
	}
	return "redis"
}

// Close drains the writer pool and closes the stores. Call it after the
// HTTP server and scheduler have stopped.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.WriterPool != nil {
		if err := c.WriterPool.Shutdown(ctx); err != nil && !errors.Is(err, workers.ErrPoolClosed) {
			errs = append(errs, err)
		}
	}
	if err := c.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Container) closeStores() error {
	var errs []error
	if c.Counters != nil {
		if err := c.Counters.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close counter store: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
