package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/visitstats/utils"
)

// ReconcileState is the phase of the current reconciliation run.
type ReconcileState int32

const (
	StateIdle ReconcileState = iota
	StateReadingCache
	StateWritingAggregate
)

func (s ReconcileState) String() string {
	switch s {
	case StateReadingCache:
		return "reading_cache"
	case StateWritingAggregate:
		return "writing_aggregate"
	default:
		return "idle"
	}
}

// Where a reconciled day total came from.
const (
	SourceCache  = "cache"
	SourceEvents = "events"
	SourceNone   = "none"
)

// ReconcileResult reports one run for one date key.
type ReconcileResult struct {
	DateKey      int           `json:"dateKey"`
	Source       string        `json:"source"`
	TotalVisits  int64         `json:"totalVisits"`
	UniqueIPs    int64         `json:"uniqueIps"`
	DailyWritten bool          `json:"dailyWritten"`
	PagesWritten int           `json:"pagesWritten"`
	PagesFailed  int           `json:"pagesFailed"`
	HoursWritten int           `json:"hoursWritten"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

func (r *ReconcileResult) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// ReconciliationService folds a day's counters into durable aggregate rows.
// Writes overwrite but never lower a stored row, so a run may be repeated
// for the same day.
type ReconciliationService struct {
	counters    analytics.CounterStore
	events      analytics.EventRepository
	aggregates  analytics.AggregateRepository
	keys        *keys.Builder
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	clock       clock
	state       atomic.Int32
}

func NewReconciliationService(
	counters analytics.CounterStore,
	events analytics.EventRepository,
	aggregates analytics.AggregateRepository,
	keyBuilder *keys.Builder,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	opts ...Option,
) *ReconciliationService {
	return &ReconciliationService{
		counters:    counters,
		events:      events,
		aggregates:  aggregates,
		keys:        keyBuilder,
		logger:      logger,
		perfTracker: perfTracker,
		clock:       newClock(opts),
	}
}

// State returns the phase of the run in progress, or idle.
func (s *ReconciliationService) State() ReconcileState {
	return ReconcileState(s.state.Load())
}

func (s *ReconciliationService) setState(st ReconcileState) {
	s.state.Store(int32(st))
}

// SyncToday reconciles the current day.
func (s *ReconciliationService) SyncToday(ctx context.Context) *ReconcileResult {
	return s.Reconcile(ctx, s.clock.Today())
}

// ReconcileYesterday reconciles the previous day.
func (s *ReconciliationService) ReconcileYesterday(ctx context.Context) *ReconcileResult {
	return s.Reconcile(ctx, utils.AddDays(s.clock.Today(), -1))
}

// Reconcile writes the daily, page and hourly aggregates of one day. A
// failure on one page or hour is recorded and the run continues.
func (s *ReconciliationService) Reconcile(ctx context.Context, dateKey int) *ReconcileResult {
	start := time.Now()
	marker := s.perfTracker.StartOperation(performance.OpReconcile)
	result := &ReconcileResult{DateKey: dateKey, Source: SourceNone}

	defer func() {
		s.setState(StateIdle)
		result.Duration = time.Since(start)
		var err error
		if len(result.Errors) > 0 {
			err = errors.New(result.Errors[0])
		}
		marker.Finish(err)
	}()

	s.logger.Scheduler().Info("Reconciliation started", "dateKey", dateKey)

	s.setState(StateReadingCache)
	total, unique, cacheErr := s.readDayCounters(ctx, dateKey)
	if cacheErr != nil {
		result.addError(cacheErr)
		s.logger.Cache().Error("Reading day counters failed", "error", cacheErr.Error(), "dateKey", dateKey)
	}

	s.setState(StateWritingAggregate)
	s.writeDaily(ctx, dateKey, total, unique, result)
	s.writePages(ctx, dateKey, result)
	s.writeHours(ctx, dateKey, result)

	s.logger.Scheduler().Info("Reconciliation completed",
		"dateKey", dateKey,
		"source", result.Source,
		"totalVisits", result.TotalVisits,
		"uniqueIps", result.UniqueIPs,
		"pagesWritten", result.PagesWritten,
		"pagesFailed", result.PagesFailed,
		"hoursWritten", result.HoursWritten,
		"errors", len(result.Errors),
		"duration", time.Since(start))
	return result
}

func (s *ReconciliationService) readDayCounters(ctx context.Context, dateKey int) (int64, int64, error) {
	var total int64
	raw, err := s.counters.GetRaw(ctx, s.keys.VisitCount(dateKey))
	switch {
	case errors.Is(err, analytics.ErrCacheMiss):
	case err != nil:
		return 0, 0, fmt.Errorf("failed to read visit count: %w", err)
	default:
		if total, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("failed to parse visit count %q: %w", raw, err)
		}
	}

	unique, err := s.counters.SetCardinality(ctx, s.keys.UniqueIPs(dateKey))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read unique ip count: %w", err)
	}
	return total, unique, nil
}

// writeDaily upserts the day row with the larger of the counters and the
// event store, per field. DailyTotals already includes any reconciled row,
// so a counter store that lost its keys can never shrink the day. Nothing is
// written when both sides are empty.
func (s *ReconciliationService) writeDaily(ctx context.Context, dateKey int, total, unique int64, result *ReconcileResult) {
	var eventTotal, eventUnique int64
	totals, err := s.events.DailyTotals(ctx, dateKey)
	if err != nil {
		result.addError(err)
		s.logger.Scheduler().Error("Event totals for daily aggregate failed", "error", err.Error(), "dateKey", dateKey)
		if total == 0 && unique == 0 {
			return
		}
	} else if totals != nil {
		eventTotal, eventUnique = totals.TotalVisits, totals.UniqueIPs
	}

	switch {
	case total == 0 && unique == 0 && eventTotal == 0 && eventUnique == 0:
		return
	case total >= eventTotal && total > 0:
		result.Source = SourceCache
	default:
		result.Source = SourceEvents
		s.logger.Scheduler().Warn("Counters behind event store, keeping durable totals",
			"dateKey", dateKey, "cacheVisits", total, "eventVisits", eventTotal)
	}
	total = max(total, eventTotal)
	unique = max(unique, eventUnique)

	agg := &analytics.DailyAggregate{
		DateKey:     dateKey,
		DateStr:     utils.FormatDateKey(dateKey),
		TotalVisits: total,
		UniqueIPs:   unique,
		PageViews:   total,
	}
	if err := s.aggregates.UpsertDailyAggregate(ctx, agg); err != nil {
		result.addError(err)
		s.logger.Scheduler().Error("Daily aggregate upsert failed", "error", err.Error(), "dateKey", dateKey)
		return
	}
	result.TotalVisits = total
	result.UniqueIPs = unique
	result.DailyWritten = true
}

func (s *ReconciliationService) writePages(ctx context.Context, dateKey int, result *ReconcileResult) {
	pageKeys, err := s.counters.KeysMatching(ctx, s.keys.PageVisitPattern(dateKey))
	if err != nil {
		result.addError(fmt.Errorf("failed to list page counters: %w", err))
		s.logger.Cache().Error("Page counter scan failed", "error", err.Error(), "dateKey", dateKey)
		return
	}
	if len(pageKeys) == 0 {
		return
	}
	sort.Strings(pageKeys)

	uniques, err := s.events.PageUniqueIPs(ctx, dateKey)
	if err != nil {
		s.logger.Scheduler().Warn("Page unique IP query failed, writing zero", "error", err.Error(), "dateKey", dateKey)
		uniques = map[string]int64{}
	}

	existing := map[string]analytics.PageAggregate{}
	rows, err := s.aggregates.PageAggregatesInRange(ctx, dateKey, dateKey)
	if err != nil {
		s.logger.Scheduler().Warn("Existing page rows unavailable", "error", err.Error(), "dateKey", dateKey)
	}
	for _, row := range rows {
		existing[row.PageURL] = row
	}

	for _, key := range pageKeys {
		if err := s.writePage(ctx, key, dateKey, uniques, existing); err != nil {
			result.PagesFailed++
			result.addError(err)
			s.logger.Scheduler().Error("Page aggregate failed", "key", key, "error", err.Error())
			continue
		}
		result.PagesWritten++
	}
}

// writePage upserts one page row, never below the row already stored.
func (s *ReconciliationService) writePage(ctx context.Context, key string, dateKey int, uniques map[string]int64, existing map[string]analytics.PageAggregate) error {
	pageURL, keyDate, err := s.keys.ParsePageVisit(key)
	if err != nil {
		return err
	}
	if keyDate != dateKey {
		return fmt.Errorf("page key %q belongs to %d", key, keyDate)
	}

	raw, err := s.counters.GetRaw(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read page count %q: %w", key, err)
	}
	visits, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse page count %q: %w", key, err)
	}

	prior := existing[pageURL]
	return s.aggregates.UpsertPageAggregate(ctx, &analytics.PageAggregate{
		PageURL:       pageURL,
		DateKey:       dateKey,
		VisitCount:    max(visits, prior.VisitCount),
		UniqueIPCount: max(uniques[pageURL], prior.UniqueIPCount),
	})
}

// writeHours folds the stored events of the day into hourly rows. An hour
// whose stored row is already larger keeps it.
func (s *ReconciliationService) writeHours(ctx context.Context, dateKey int, result *ReconcileResult) {
	hours, err := s.events.HourlyEventTotals(ctx, dateKey)
	if err != nil {
		result.addError(err)
		s.logger.Scheduler().Error("Hourly totals query failed", "error", err.Error(), "dateKey", dateKey)
		return
	}

	existing := map[int]analytics.HourlyAggregate{}
	rows, err := s.aggregates.HourlyAggregates(ctx, dateKey)
	if err != nil {
		s.logger.Scheduler().Warn("Existing hourly rows unavailable", "error", err.Error(), "dateKey", dateKey)
	}
	for _, row := range rows {
		existing[row.HourKey] = row
	}

	for _, h := range hours {
		prior := existing[h.HourKey]
		agg := &analytics.HourlyAggregate{
			HourKey:       h.HourKey,
			HourStr:       utils.FormatHourKey(h.HourKey),
			VisitCount:    max(h.TotalVisits, prior.VisitCount),
			UniqueIPCount: max(h.UniqueIPs, prior.UniqueIPCount),
		}
		if err := s.aggregates.UpsertHourlyAggregate(ctx, agg); err != nil {
			result.addError(err)
			s.logger.Scheduler().Error("Hourly aggregate upsert failed", "error", err.Error(), "hourKey", h.HourKey)
			continue
		}
		result.HoursWritten++
	}
}
