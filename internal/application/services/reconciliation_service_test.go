package services

import (
	"context"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
)

func seedDay(env *testEnv) {
	ingest := env.ingestion(env.counters)
	env.record(ingest, "/blog/post-1", "1.1.1.1")
	env.record(ingest, "/blog/post-1", "1.1.1.1")
	env.record(ingest, "/blog/post-1", "2.2.2.2")
	env.record(ingest, "/about", "3.3.3.3")
}

func TestReconcileWritesAggregates(t *testing.T) {
	env := newTestEnv(t, june1)
	seedDay(env)
	svc := env.reconciliation()
	ctx := context.Background()

	result := svc.SyncToday(ctx)
	if result.DateKey != 20250601 || result.Source != SourceCache || !result.DailyWritten {
		t.Fatalf("SyncToday = %+v", result)
	}
	if result.TotalVisits != 4 || result.UniqueIPs != 3 {
		t.Errorf("totals = %d / %d, want 4 / 3", result.TotalVisits, result.UniqueIPs)
	}
	if result.PagesWritten != 2 || result.PagesFailed != 0 || result.HoursWritten != 1 {
		t.Errorf("pages %d failed %d hours %d", result.PagesWritten, result.PagesFailed, result.HoursWritten)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v", result.Errors)
	}
	if svc.State() != StateIdle {
		t.Errorf("State = %s after run", svc.State())
	}

	daily := env.dailyRow(20250601)
	if daily == nil || daily.TotalVisits != 4 || daily.UniqueIPs != 3 || daily.DateStr != "2025-06-01" {
		t.Errorf("daily row = %+v", daily)
	}

	pages := env.pageRows(20250601)
	if len(pages) != 2 || pages[0].PageURL != "/blog/post-1" || pages[0].VisitCount != 3 || pages[0].UniqueIPCount != 2 {
		t.Errorf("page rows = %+v", pages)
	}

	hours, _ := env.aggregates.HourlyAggregates(ctx, 20250601)
	if len(hours) != 1 || hours[0].HourKey != 2025060110 || hours[0].VisitCount != 4 {
		t.Errorf("hour rows = %+v", hours)
	}
}

func TestReconcileIsRepeatable(t *testing.T) {
	env := newTestEnv(t, june1)
	seedDay(env)
	svc := env.reconciliation()
	ctx := context.Background()

	first := svc.Reconcile(ctx, 20250601)
	second := svc.Reconcile(ctx, 20250601)
	if first.TotalVisits != second.TotalVisits || first.PagesWritten != second.PagesWritten || first.HoursWritten != second.HoursWritten {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}

	if pages := env.pageRows(20250601); len(pages) != 2 {
		t.Errorf("page rows after two runs = %d, want 2", len(pages))
	}
	if daily := env.dailyRow(20250601); daily == nil || daily.TotalVisits != 4 {
		t.Errorf("daily row after two runs = %+v", daily)
	}
}

func TestReconcileAfterCounterExpiry(t *testing.T) {
	env := newTestEnv(t, june1)
	seedDay(env)
	svc := env.reconciliation()
	ctx := context.Background()

	svc.Reconcile(ctx, 20250601)
	env.clock.Advance(8 * 24 * time.Hour)

	result := svc.Reconcile(ctx, 20250601)
	if result.Source != SourceEvents {
		t.Errorf("Source = %s, want %s", result.Source, SourceEvents)
	}
	daily := env.dailyRow(20250601)
	if daily == nil || daily.TotalVisits != 4 || daily.UniqueIPs != 3 {
		t.Errorf("daily row after expiry = %+v", daily)
	}
}

func TestReconcileAfterCounterLossKeepsDurableTotals(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5"} {
		env.insertAt("/blog/post-1", ip, june1)
	}

	first := env.reconciliation().Reconcile(ctx, 20250601)
	if first.Source != SourceEvents || first.TotalVisits != 5 || first.UniqueIPs != 5 {
		t.Fatalf("first Reconcile = %+v", first)
	}

	// The process restarts with an empty counter store and takes one more visit.
	counters := env.freshCounters()
	env.record(env.ingestion(counters), "/blog/post-1", "6.6.6.6")

	result := env.reconciliationWith(counters).Reconcile(ctx, 20250601)
	if result.Source != SourceEvents || result.TotalVisits != 6 || result.UniqueIPs != 6 {
		t.Errorf("Reconcile after restart = %+v, want 6 / 6 from events", result)
	}
	daily := env.dailyRow(20250601)
	if daily == nil || daily.TotalVisits != 6 || daily.UniqueIPs != 6 || daily.PageViews != 6 {
		t.Errorf("daily row after restart = %+v, want 6 / 6", daily)
	}
}

func TestReconcileAfterCounterLossKeepsPageAndHourRows(t *testing.T) {
	env := newTestEnv(t, june1)
	seedDay(env)
	ctx := context.Background()
	env.reconciliation().Reconcile(ctx, 20250601)

	counters := env.freshCounters()
	env.record(env.ingestion(counters), "/blog/post-1", "1.1.1.1")
	result := env.reconciliationWith(counters).Reconcile(ctx, 20250601)
	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if result.TotalVisits != 5 || result.UniqueIPs != 3 {
		t.Errorf("totals = %d / %d, want 5 / 3", result.TotalVisits, result.UniqueIPs)
	}

	pages := env.pageRows(20250601)
	if len(pages) != 2 || pages[0].PageURL != "/blog/post-1" || pages[0].VisitCount != 3 || pages[0].UniqueIPCount != 2 {
		t.Errorf("page rows = %+v, want /blog/post-1 kept at 3 / 2", pages)
	}

	hours, _ := env.aggregates.HourlyAggregates(ctx, 20250601)
	if len(hours) != 1 || hours[0].VisitCount != 5 {
		t.Errorf("hour rows = %+v, want 5 visits", hours)
	}
}

func TestReconcileHourNeverShrinks(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()
	env.insertAt("/a", "1.1.1.1", june1)
	if err := env.aggregates.UpsertHourlyAggregate(ctx, &analytics.HourlyAggregate{
		HourKey: 2025060110, HourStr: "2025-06-01 10:00", VisitCount: 9, UniqueIPCount: 4,
	}); err != nil {
		t.Fatalf("UpsertHourlyAggregate: %v", err)
	}

	env.reconciliation().Reconcile(ctx, 20250601)

	hours, _ := env.aggregates.HourlyAggregates(ctx, 20250601)
	if len(hours) != 1 || hours[0].VisitCount != 9 || hours[0].UniqueIPCount != 4 {
		t.Errorf("hour rows = %+v, want the stored 9 / 4 kept", hours)
	}
}

func TestReconcileEmptyDayWritesNothing(t *testing.T) {
	env := newTestEnv(t, june1)
	ctx := context.Background()

	result := env.reconciliation().Reconcile(ctx, 20250515)
	if result.Source != SourceNone || result.DailyWritten || result.PagesWritten != 0 {
		t.Errorf("Reconcile = %+v", result)
	}
	if row := env.dailyRow(20250515); row != nil {
		t.Errorf("daily row = %+v, want none", row)
	}
}

func TestReconcileContinuesPastBadPageKey(t *testing.T) {
	env := newTestEnv(t, june1)
	seedDay(env)
	ctx := context.Background()

	if _, err := env.counters.SetAdd(ctx, env.keys.PageVisit("/broken", 20250601), "x"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}

	result := env.reconciliation().Reconcile(ctx, 20250601)
	if result.PagesFailed != 1 || result.PagesWritten != 2 {
		t.Errorf("pages written %d failed %d, want 2 / 1", result.PagesWritten, result.PagesFailed)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v", result.Errors)
	}
	if !result.DailyWritten {
		t.Error("daily row not written")
	}
}

func TestReconcileYesterday(t *testing.T) {
	env := newTestEnv(t, june1)
	env.insertAt("/a", "1.1.1.1", june1.AddDate(0, 0, -1))

	result := env.reconciliation().ReconcileYesterday(context.Background())
	if result.DateKey != 20250531 || result.Source != SourceEvents || result.TotalVisits != 1 {
		t.Errorf("ReconcileYesterday = %+v", result)
	}
}

func TestReconcileStateString(t *testing.T) {
	tests := map[ReconcileState]string{
		StateIdle:             "idle",
		StateReadingCache:     "reading_cache",
		StateWritingAggregate: "writing_aggregate",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
