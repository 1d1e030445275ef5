package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/alicebob/miniredis/v2"
)

func withConfig(t *testing.T, redisURL string) {
	t.Helper()
	oldDB, oldRedis, oldArchive, oldSchedule := config.DatabaseURL, config.RedisURL, config.ArchiveDirectory, config.ScheduleFile
	t.Cleanup(func() {
		config.DatabaseURL, config.RedisURL, config.ArchiveDirectory, config.ScheduleFile = oldDB, oldRedis, oldArchive, oldSchedule
	})

	dir := t.TempDir()
	config.DatabaseURL = filepath.Join(dir, "visits.db")
	config.RedisURL = redisURL
	config.ArchiveDirectory = filepath.Join(dir, "archive")
	config.ScheduleFile = ""
}

func TestContainerWithMemoryStore(t *testing.T) {
	withConfig(t, "")
	ctx := context.Background()

	c, err := NewContainer(ctx, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	if c.CounterBackend() != "memory" || c.Sweeper == nil {
		t.Errorf("backend = %s, sweeper = %v", c.CounterBackend(), c.Sweeper)
	}
	if c.Scheduler == nil || len(c.Scheduler.Entries()) == 0 {
		t.Error("scheduler has no jobs")
	}

	if _, err := c.IngestionService.RecordVisit(ctx, analytics.VisitInput{PageURL: "/a", IPAddress: "1.1.1.1"}); err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if got := c.StatsService.GetTodayStats(ctx).TotalVisits; got != 1 {
		t.Errorf("today visits = %d, want 1", got)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Close(shutdownCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.WriterPool.Stats().Completed != 1 {
		t.Errorf("pool stats = %+v, want the durable write drained", c.WriterPool.Stats())
	}
}

func TestContainerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	withConfig(t, "redis://"+mr.Addr())

	c, err := NewContainer(context.Background(), logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close(context.Background())

	if c.CounterBackend() != "redis" || c.MemoryStore != nil || c.Sweeper != nil {
		t.Errorf("backend = %s", c.CounterBackend())
	}
	if err := c.Counters.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestContainerRejectsUnreachableRedis(t *testing.T) {
	withConfig(t, "redis://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := NewContainer(ctx, logging.NewDiscardLogger()); err == nil {
		t.Error("NewContainer succeeded without redis")
	}
}
