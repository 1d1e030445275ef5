package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/archive"
)

func testRetentionConfig() RetentionConfig {
	return RetentionConfig{
		DurableRetention: 90 * 24 * time.Hour,
		CacheRetention:   7 * 24 * time.Hour,
		ArchiveBatchSize: 1,
	}
}

func (e *testEnv) retention(archiver Archiver) *RetentionService {
	return NewRetentionService(e.counters, e.events, archiver, e.keys, testRetentionConfig(), e.logger, nil, e.options()...)
}

func seedOldEvents(env *testEnv) {
	env.insertAt("/old", "1.1.1.1", june1.AddDate(0, 0, -120))
	env.insertAt("/old", "2.2.2.2", june1.AddDate(0, 0, -100))
	env.insertAt("/new", "1.1.1.1", june1.AddDate(0, 0, -10))
}

func remainingEvents(t *testing.T, env *testEnv) int64 {
	t.Helper()
	n, err := env.events.CountSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	return n
}

func TestPurgeDurableWithoutArchive(t *testing.T) {
	env := newTestEnv(t, june1)
	seedOldEvents(env)

	result := env.retention(nil).PurgeDurable(context.Background())
	if result.Error != "" || result.Deleted != 2 || result.Archived != 0 {
		t.Errorf("PurgeDurable = %+v", result)
	}
	if !result.Cutoff.Equal(june1.AddDate(0, 0, -90)) {
		t.Errorf("Cutoff = %v", result.Cutoff)
	}
	if n := remainingEvents(t, env); n != 1 {
		t.Errorf("remaining events = %d, want 1", n)
	}
}

func TestPurgeDurableArchivesBeforeDeleting(t *testing.T) {
	env := newTestEnv(t, june1)
	seedOldEvents(env)
	writer := archive.NewWriter(t.TempDir())

	result := env.retention(writer).PurgeDurable(context.Background())
	if result.Error != "" || result.Deleted != 2 || result.Archived != 2 || len(result.ArchiveFiles) != 2 {
		t.Fatalf("PurgeDurable = %+v", result)
	}

	rows, err := archive.ReadFile(result.ArchiveFiles[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 1 || rows[0].PageURL != "/old" || rows[0].IPAddress != "1.1.1.1" {
		t.Errorf("first archive rows = %+v", rows)
	}
	if n := remainingEvents(t, env); n != 1 {
		t.Errorf("remaining events = %d, want 1", n)
	}
}

type failingArchiver struct{}

func (failingArchiver) WriteBatch([]*analytics.VisitEvent) (string, error) {
	return "", errors.New("disk full")
}

func TestPurgeDurableKeepsEventsWhenArchiveFails(t *testing.T) {
	env := newTestEnv(t, june1)
	seedOldEvents(env)

	result := env.retention(failingArchiver{}).PurgeDurable(context.Background())
	if result.Error == "" || result.Deleted != 0 {
		t.Errorf("PurgeDurable = %+v", result)
	}
	if n := remainingEvents(t, env); n != 3 {
		t.Errorf("remaining events = %d, want 3", n)
	}
}

func TestPurgeCache(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	c := env.counters

	c.Increment(ctx, env.keys.VisitCount(20250520))
	c.SetAdd(ctx, env.keys.UniqueIPs(20250520), "1.1.1.1")
	c.Increment(ctx, env.keys.PageVisit("/a", 20250520))
	c.Increment(ctx, env.keys.VisitCount(20250530))
	c.Increment(ctx, env.keys.PageVisit("/a", 20250530))
	c.Increment(ctx, testPrefix+":visit:count:garbage")

	c.SetWithTTL(ctx, env.keys.Online("1.1.1.1"), "1", 2*time.Hour)
	c.Increment(ctx, env.keys.Online("9.9.9.9"))

	result := env.retention(nil).PurgeCache(ctx)
	if result.CutoffDateKey != 20250525 {
		t.Errorf("CutoffDateKey = %d, want 20250525", result.CutoffDateKey)
	}
	if result.DayKeysDeleted != 3 || result.Skipped != 1 || result.Scanned != 6 {
		t.Errorf("day keys: %+v", result)
	}
	if result.PresenceScanned != 2 || result.PresenceDeleted != 1 {
		t.Errorf("presence: %+v", result)
	}

	for _, key := range []string{env.keys.VisitCount(20250530), env.keys.PageVisit("/a", 20250530), env.keys.Online("1.1.1.1")} {
		if ttl, _ := c.TTL(ctx, key); ttl == analytics.TTLMissing {
			t.Errorf("%s was deleted", key)
		}
	}
	if ttl, _ := c.TTL(ctx, env.keys.Online("9.9.9.9")); ttl != analytics.TTLMissing {
		t.Error("persistent presence marker survived")
	}

	again := env.retention(nil).PurgeCache(ctx)
	if again.DayKeysDeleted != 0 || again.PresenceDeleted != 0 {
		t.Errorf("second purge deleted more: %+v", again)
	}
}

func TestRetentionRunReportsBothJobs(t *testing.T) {
	env := newTestEnv(t, june1)
	seedOldEvents(env)
	env.counters.Increment(context.Background(), env.keys.VisitCount(20250101))

	result := env.retention(nil).Run(context.Background())
	if result.Durable == nil || result.Durable.Deleted != 2 {
		t.Errorf("Durable = %+v", result.Durable)
	}
	if result.Cache == nil || result.Cache.DayKeysDeleted != 1 {
		t.Errorf("Cache = %+v", result.Cache)
	}
}

func TestRetentionRunSurvivesStoreFailure(t *testing.T) {
	env := newTestEnv(t, june1)
	seedOldEvents(env)
	svc := NewRetentionService(failingCounters{}, env.events, nil, env.keys, testRetentionConfig(), env.logger, nil, env.options()...)

	result := svc.Run(context.Background())
	if len(result.Cache.Errors) == 0 {
		t.Error("cache errors not reported")
	}
	if result.Durable.Deleted != 2 {
		t.Errorf("durable purge skipped after cache failure: %+v", result.Durable)
	}
}
