package services

import (
	"context"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
)

func TestTodayStatsFromCounters(t *testing.T) {
	env := newTestEnv(t, june1)
	ingest := env.ingestion(env.counters)
	env.record(ingest, "/blog/post-1", "1.1.1.1")
	env.record(ingest, "/blog/post-1", "1.1.1.1")
	env.record(ingest, "/blog/post-1", "2.2.2.2")

	stats := env.stats(env.counters).GetTodayStats(context.Background())
	if stats.Date != "2025-06-01" || stats.TotalVisits != 3 || stats.UniqueIPs != 2 || stats.PageViews != 3 {
		t.Errorf("GetTodayStats = %+v", stats)
	}
}

func TestTodayStatsFallsBackToEvents(t *testing.T) {
	env := newTestEnv(t, june1)
	env.insertAt("/a", "1.1.1.1", june1.Add(-time.Hour))
	env.insertAt("/b", "2.2.2.2", june1.Add(-2*time.Hour))

	tests := []struct {
		name     string
		counters analytics.CounterStore
	}{
		{"empty counters", env.counters},
		{"failing counters", failingCounters{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := env.stats(tt.counters).GetTodayStats(context.Background())
			if stats.TotalVisits != 2 || stats.UniqueIPs != 2 {
				t.Errorf("GetTodayStats = %+v, want 2 / 2", stats)
			}
		})
	}
}

func TestTodayStatsTakesUniquesFromEventsWithoutIPSet(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	env.insertAt("/a", "1.1.1.1", june1)
	env.insertAt("/a", "2.2.2.2", june1)
	env.counters.Increment(ctx, env.keys.VisitCount(20250601))
	env.counters.Increment(ctx, env.keys.VisitCount(20250601))

	stats := env.stats(env.counters).GetTodayStats(ctx)
	if stats.TotalVisits != 2 || stats.UniqueIPs != 2 {
		t.Errorf("GetTodayStats = %+v, want 2 / 2", stats)
	}
}

func TestTodayStatsWithNoData(t *testing.T) {
	env := newTestEnv(t, june1)
	stats := env.stats(failingCounters{}).GetTodayStats(context.Background())
	if stats == nil || stats.TotalVisits != 0 || stats.Date != "2025-06-01" {
		t.Errorf("GetTodayStats = %+v", stats)
	}
}

func TestRangeStatsSumsDailyUniques(t *testing.T) {
	env := newTestEnv(t, june1)
	may30 := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	env.insertAt("/a", "1.1.1.1", may30)
	env.insertAt("/a", "2.2.2.2", may30)
	env.insertAt("/a", "1.1.1.1", may30.AddDate(0, 0, 1))

	got := env.stats(env.counters).GetRangeStats(context.Background(), 20250529, 20250601)
	if len(got.Data) != 2 {
		t.Fatalf("Data = %+v, want 2 days", got.Data)
	}
	if got.Data[0].Date != "2025-05-30" || got.Data[0].TotalVisits != 2 {
		t.Errorf("first day = %+v", got.Data[0])
	}
	if got.Total.Visits != 3 || got.Total.UniqueIPs != 3 || got.Total.PageViews != 3 {
		t.Errorf("Total = %+v, want 3 / 3 / 3", got.Total)
	}

	empty := env.stats(env.counters).GetRangeStats(context.Background(), 20240101, 20240107)
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("empty range Data = %#v", empty.Data)
	}
}

func TestHotPages(t *testing.T) {
	env := newTestEnv(t, june1)
	env.insertAt("/a", "1.1.1.1", june1)
	env.insertAt("/a", "2.2.2.2", june1)
	env.insertAt("/b", "1.1.1.1", june1.AddDate(0, 0, -3))
	env.insertAt("/old", "1.1.1.1", june1.AddDate(0, 0, -30))

	svc := env.stats(env.counters)
	pages := svc.GetHotPages(context.Background(), 7, 10)
	if len(pages) != 2 || pages[0].PageURL != "/a" || pages[0].VisitCount != 2 || pages[0].UniqueIPCount != 2 {
		t.Errorf("GetHotPages(7) = %+v", pages)
	}

	if pages := svc.GetHotPages(context.Background(), 1, 10); len(pages) != 1 {
		t.Errorf("GetHotPages(1) = %+v, want only today", pages)
	}
}

func TestHotPagesAndPageStatsReachPastEventRetention(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	// 20241113 is 200 days back, long past event retention.
	if err := env.aggregates.UpsertPageAggregate(ctx, &analytics.PageAggregate{
		PageURL: "/archive", DateKey: 20241113, VisitCount: 50, UniqueIPCount: 20,
	}); err != nil {
		t.Fatalf("UpsertPageAggregate: %v", err)
	}
	env.insertAt("/a", "1.1.1.1", june1)

	svc := env.stats(env.counters)
	pages := svc.GetHotPages(ctx, 365, 10)
	if len(pages) != 2 || pages[0].PageURL != "/archive" || pages[0].VisitCount != 50 || pages[0].UniqueIPCount != 20 {
		t.Errorf("GetHotPages(365) = %+v, want /archive first", pages)
	}
	if recent := svc.GetHotPages(ctx, 90, 10); len(recent) != 1 || recent[0].PageURL != "/a" {
		t.Errorf("GetHotPages(90) = %+v, want only /a", recent)
	}

	history := svc.GetPageStats(ctx, "/archive", 365)
	if len(history) != 1 || history[0].Date != "2024-11-13" || history[0].VisitCount != 50 {
		t.Errorf("GetPageStats = %+v", history)
	}
}

func TestHourlyStatsAlwaysHas24Buckets(t *testing.T) {
	env := newTestEnv(t, june1)
	env.insertAt("/a", "1.1.1.1", time.Date(2025, 6, 1, 0, 15, 0, 0, time.UTC))
	env.insertAt("/a", "1.1.1.1", time.Date(2025, 6, 1, 23, 45, 0, 0, time.UTC))
	env.insertAt("/a", "2.2.2.2", time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC))

	if err := env.aggregates.UpsertHourlyAggregate(context.Background(), &analytics.HourlyAggregate{HourKey: 2025060130, VisitCount: 99}); err != nil {
		t.Fatalf("UpsertHourlyAggregate: %v", err)
	}

	svc := env.stats(env.counters)
	hours := svc.GetHourlyStats(context.Background(), 20250601)
	if len(hours) != 24 {
		t.Fatalf("len = %d, want 24", len(hours))
	}
	var sum int64
	for _, h := range hours {
		sum += h
	}
	if hours[0] != 1 || hours[23] != 2 || sum != 3 {
		t.Errorf("hours = %v", hours)
	}

	if empty := svc.GetHourlyStats(context.Background(), 20240101); len(empty) != 24 {
		t.Errorf("empty day len = %d", len(empty))
	}
}

func TestRealtimeStats(t *testing.T) {
	env := newTestEnv(t, june1)
	ingest := env.ingestion(env.counters)
	env.record(ingest, "/a", "1.1.1.1")
	env.record(ingest, "/a", "2.2.2.2")
	env.record(ingest, "/b", "1.1.1.1")
	env.insertAt("/c", "3.3.3.3", june1.Add(-3*time.Hour))

	stats := env.stats(env.counters).GetRealtimeStats(context.Background())
	if stats.TodayVisits != 3 || stats.TodayUniqueIPs != 2 {
		t.Errorf("today = %d / %d", stats.TodayVisits, stats.TodayUniqueIPs)
	}
	if stats.CurrentOnline != 2 {
		t.Errorf("CurrentOnline = %d, want 2", stats.CurrentOnline)
	}
	if stats.LastHourVisits != 3 {
		t.Errorf("LastHourVisits = %d, want 3", stats.LastHourVisits)
	}
	if len(stats.TopPages) != 2 || stats.TopPages[0].URL != "/a" || stats.TopPages[0].Visits != 2 {
		t.Errorf("TopPages = %+v", stats.TopPages)
	}

	env.clock.Advance(3 * time.Hour)
	later := env.stats(env.counters).GetRealtimeStats(context.Background())
	if later.CurrentOnline != 0 {
		t.Errorf("CurrentOnline after presence TTL = %d, want 0", later.CurrentOnline)
	}
}

func TestRealtimeStatsDegradesOnStoreFailure(t *testing.T) {
	env := newTestEnv(t, june1)
	stats := env.stats(failingCounters{}).GetRealtimeStats(context.Background())
	if stats == nil || stats.CurrentOnline != 0 || stats.TopPages == nil {
		t.Errorf("GetRealtimeStats = %+v", stats)
	}
}

func TestRealtimeStatsReadsLiveTally(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	env.insertAt("/a", "1.1.1.1", june1)
	env.insertAt("/a", "2.2.2.2", june1)

	tally := env.keys.Realtime(20250601)
	env.counters.HashIncrement(ctx, tally, keys.RealtimeTodayVisits, 7)
	env.counters.Expire(ctx, tally, 2*time.Hour)

	svc := env.stats(env.counters)
	if stats := svc.GetRealtimeStats(ctx); stats.TodayVisits != 7 || stats.TodayUniqueIPs != 2 {
		t.Errorf("today = %d / %d, want 7 from the tally / 2", stats.TodayVisits, stats.TodayUniqueIPs)
	}

	env.clock.Advance(3 * time.Hour)
	if stats := svc.GetRealtimeStats(ctx); stats.TodayVisits != 2 {
		t.Errorf("TodayVisits after tally expiry = %d, want 2", stats.TodayVisits)
	}
}

func TestQueryFailuresAreTracked(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	tracker := performance.NewTracker(nil, nil)

	healthy := env.trackedStats(env.counters, tracker)
	healthy.GetTodayStats(ctx)
	healthy.GetRangeStats(ctx, 20250501, 20250601)
	healthy.GetHotPages(ctx, 7, 10)
	healthy.GetRealtimeStats(ctx)
	for _, op := range tracker.Snapshot().Operations {
		if op.Errors != 0 {
			t.Errorf("%s errors = %d with healthy stores", op.Operation, op.Errors)
		}
	}

	tracker.Reset()
	if _, err := env.db.ExecContext(ctx, `DROP TABLE visit_record`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	broken := env.trackedStats(failingCounters{}, tracker)
	broken.GetTodayStats(ctx)
	broken.GetRangeStats(ctx, 20250501, 20250601)
	broken.GetHotPages(ctx, 7, 10)
	broken.GetRealtimeStats(ctx)

	failed := map[string]int64{}
	for _, op := range tracker.Snapshot().Operations {
		failed[op.Operation] = op.Errors
	}
	for _, op := range []string{performance.OpQueryToday, performance.OpQueryRange, performance.OpQueryHot, performance.OpQueryRealtime} {
		if failed[op] != 1 {
			t.Errorf("%s errors = %d, want 1", op, failed[op])
		}
	}
}

func TestPageStatsAndBreakdowns(t *testing.T) {
	env := newTestEnv(t, june1)
	svc := NewIngestionService(env.counters, env.events, syncSubmitter{}, staticClassifier{}, env.keys,
		testIngestionConfig(), env.logger, nil, env.options()...)
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		if _, err := svc.RecordVisit(ctx, analytics.VisitInput{PageURL: "/a", IPAddress: ip, Referer: "https://search.example"}); err != nil {
			t.Fatalf("RecordVisit: %v", err)
		}
	}
	env.insertAt("/a", "1.1.1.1", june1.AddDate(0, 0, -2))

	stats := env.stats(env.counters)
	history := stats.GetPageStats(ctx, "/a", 7)
	if len(history) != 2 || history[1].Date != "2025-06-01" || history[1].VisitCount != 2 {
		t.Errorf("GetPageStats = %+v", history)
	}

	if browsers := stats.GetBrowserStats(ctx, 20250601); len(browsers) != 1 || browsers[0].Name != "TestBrowser" || browsers[0].Count != 2 {
		t.Errorf("GetBrowserStats = %+v", browsers)
	}
	if oses := stats.GetOSStats(ctx, 20250601); len(oses) != 1 || oses[0].Name != "TestOS" {
		t.Errorf("GetOSStats = %+v", oses)
	}
	if referers := stats.GetRefererStats(ctx, 7, 10); len(referers) != 1 || referers[0].Count != 2 {
		t.Errorf("GetRefererStats = %+v", referers)
	}
	if regions := stats.GetRegionStats(ctx, 7, 10); len(regions) == 0 {
		t.Errorf("GetRegionStats = %+v", regions)
	}
	if empty := stats.GetBrowserStats(ctx, 20240101); empty == nil || len(empty) != 0 {
		t.Errorf("GetBrowserStats on empty day = %#v", empty)
	}
}

type staticClassifier struct{}

func (staticClassifier) Classify(string, string) analytics.ClientInfo {
	return analytics.ClientInfo{Browser: "TestBrowser", OS: "TestOS", Device: "Desktop", Region: "Test"}
}
