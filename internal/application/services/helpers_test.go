package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/stores"
	schema "github.com/AtRiskMedia/visitstats/internal/infrastructure/database"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	persistence "github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/workers"
	"github.com/AtRiskMedia/visitstats/utils"
)

const testPrefix = "test:analytics"

var errStoreDown = errors.New("store unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// syncSubmitter runs tasks inline so durable writes are visible immediately.
type syncSubmitter struct {
	reject bool
}

func (s syncSubmitter) Submit(task workers.Task) bool {
	if s.reject {
		return false
	}
	task.Run(context.Background())
	return true
}

// failingCounters fails every operation.
type failingCounters struct{}

func (failingCounters) Increment(context.Context, string) (int64, error) { return 0, errStoreDown }
func (failingCounters) HashIncrement(context.Context, string, string, int64) (int64, error) {
	return 0, errStoreDown
}
func (failingCounters) HashGet(context.Context, string, string) (int64, error) {
	return 0, errStoreDown
}
func (failingCounters) SetAdd(context.Context, string, string) (bool, error) { return false, errStoreDown }
func (failingCounters) SetCardinality(context.Context, string) (int64, error) {
	return 0, errStoreDown
}
func (failingCounters) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingCounters) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failingCounters) TTL(context.Context, string) (time.Duration, error) { return 0, errStoreDown }
func (failingCounters) KeysMatching(context.Context, string) ([]string, error) {
	return nil, errStoreDown
}
func (failingCounters) GetRaw(context.Context, string) (string, error)         { return "", errStoreDown }
func (failingCounters) Delete(context.Context, ...string) (int64, error)       { return 0, errStoreDown }
func (failingCounters) Ping(context.Context) error                             { return errStoreDown }
func (failingCounters) Close() error                                           { return nil }

type testEnv struct {
	t          *testing.T
	clock      *testClock
	db         *database.DB
	counters   *stores.CounterStore
	events     *persistence.SQLEventRepository
	aggregates *persistence.SQLAggregateRepository
	keys       *keys.Builder
	logger     *logging.ChanneledLogger
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewDiscardLogger()

	db, err := database.Open(ctx, database.Options{URL: filepath.Join(t.TempDir(), "visits.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := schema.NewTableCreator().CreateSchema(ctx, db.DB); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	clock := &testClock{now: now}
	counters := stores.NewCounterStore()
	counters.SetClock(clock.Now)

	return &testEnv{
		t:          t,
		clock:      clock,
		db:         db,
		counters:   counters,
		events:     persistence.NewSQLEventRepository(db, logger),
		aggregates: persistence.NewSQLAggregateRepository(db, logger),
		keys:       keys.NewBuilder(testPrefix),
		logger:     logger,
	}
}

func (e *testEnv) options() []Option {
	return []Option{WithClock(e.clock.Now), WithLocation(time.UTC)}
}

func testIngestionConfig() IngestionConfig {
	return IngestionConfig{
		DayKeyTTL:          7 * 24 * time.Hour,
		PresenceTTL:        2 * time.Hour,
		MaxPageURLLength:   500,
		MaxUserAgentLength: 1000,
		MaxRefererLength:   500,
	}
}

func (e *testEnv) ingestion(counters analytics.CounterStore) *IngestionService {
	return NewIngestionService(counters, e.events, syncSubmitter{}, nil, e.keys, testIngestionConfig(), e.logger, nil, e.options()...)
}

func (e *testEnv) stats(counters analytics.CounterStore) *StatsService {
	return e.trackedStats(counters, nil)
}

func (e *testEnv) trackedStats(counters analytics.CounterStore, tracker *performance.Tracker) *StatsService {
	return NewStatsService(counters, e.events, e.keys, e.logger, tracker, e.options()...)
}

func (e *testEnv) reconciliation() *ReconciliationService {
	return e.reconciliationWith(e.counters)
}

func (e *testEnv) reconciliationWith(counters analytics.CounterStore) *ReconciliationService {
	return NewReconciliationService(counters, e.events, e.aggregates, e.keys, e.logger, nil, e.options()...)
}

// freshCounters is an empty counter store on the test clock, as after a restart.
func (e *testEnv) freshCounters() *stores.CounterStore {
	counters := stores.NewCounterStore()
	counters.SetClock(e.clock.Now)
	return counters
}

// dailyRow reads the reconciled daily row, nil when there is none.
func (e *testEnv) dailyRow(dateKey int) *analytics.DailyAggregate {
	e.t.Helper()
	const query = `SELECT date_key, date_str, total_visits, unique_ips, page_views FROM daily_stats WHERE date_key = ?`

	var row analytics.DailyAggregate
	err := e.db.QueryRowContext(context.Background(), query, dateKey).
		Scan(&row.DateKey, &row.DateStr, &row.TotalVisits, &row.UniqueIPs, &row.PageViews)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		e.t.Fatalf("daily row %d: %v", dateKey, err)
	}
	return &row
}

func (e *testEnv) pageRows(dateKey int) []analytics.PageAggregate {
	e.t.Helper()
	rows, err := e.aggregates.PageAggregatesInRange(context.Background(), dateKey, dateKey)
	if err != nil {
		e.t.Fatalf("page rows %d: %v", dateKey, err)
	}
	return rows
}

func (e *testEnv) record(svc *IngestionService, pageURL, ip string) {
	e.t.Helper()
	if _, err := svc.RecordVisit(context.Background(), analytics.VisitInput{PageURL: pageURL, IPAddress: ip, UserAgent: "test-agent"}); err != nil {
		e.t.Fatalf("RecordVisit(%s, %s): %v", pageURL, ip, err)
	}
}

// insertAt stores an event directly in the event store.
func (e *testEnv) insertAt(pageURL, ip string, ts time.Time) {
	e.t.Helper()
	event := &analytics.VisitEvent{
		PageURL:   pageURL,
		IPAddress: ip,
		VisitTime: ts,
		DateKey:   utils.DateKey(ts),
		HourKey:   utils.HourKey(ts),
	}
	if err := e.events.InsertVisit(context.Background(), event); err != nil {
		e.t.Fatalf("InsertVisit: %v", err)
	}
}
