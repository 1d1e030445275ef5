package services

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/visitstats/utils"
)

const realtimeTopPages = 5

// StatsService answers the read queries. It prefers the counter store for
// today and falls back to the event store; failures degrade to zero values.
type StatsService struct {
	counters    analytics.CounterStore
	events      analytics.EventRepository
	keys        *keys.Builder
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	clock       clock
}

func NewStatsService(
	counters analytics.CounterStore,
	events analytics.EventRepository,
	keyBuilder *keys.Builder,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	opts ...Option,
) *StatsService {
	return &StatsService{
		counters:    counters,
		events:      events,
		keys:        keyBuilder,
		logger:      logger,
		perfTracker: perfTracker,
		clock:       newClock(opts),
	}
}

// Today returns today's date key in the service's zone.
func (s *StatsService) Today() int { return s.clock.Today() }

// GetTodayStats reads today's counters, falling back to the event store
// when the counter store fails or holds nothing for today.
func (s *StatsService) GetTodayStats(ctx context.Context) *analytics.DailyStats {
	marker := s.perfTracker.StartOperation(performance.OpQueryToday)
	stats, err := s.todayStats(ctx)
	marker.Finish(err)
	return stats
}

func (s *StatsService) todayStats(ctx context.Context) (*analytics.DailyStats, error) {
	dateKey := s.clock.Today()
	total, unique, found, err := s.cachedDay(ctx, dateKey)
	if err == nil && found {
		return &analytics.DailyStats{
			Date:        utils.FormatDateKey(dateKey),
			TotalVisits: total,
			UniqueIPs:   unique,
			PageViews:   total,
		}, nil
	}
	if err != nil {
		s.logger.Cache().Warn("Today counters unavailable, using event store", "error", err.Error(), "dateKey", dateKey)
	}
	return s.durableDay(ctx, dateKey)
}

// cachedDay reads the day counter and IP set. found is false when the
// counter key does not exist. A counter without its IP set takes the
// distinct count from the event store.
func (s *StatsService) cachedDay(ctx context.Context, dateKey int) (total, unique int64, found bool, err error) {
	raw, err := s.counters.GetRaw(ctx, s.keys.VisitCount(dateKey))
	switch {
	case errors.Is(err, analytics.ErrCacheMiss):
		return 0, 0, false, nil
	case err != nil:
		return 0, 0, false, err
	}

	total, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, false, err
	}
	unique, err = s.counters.SetCardinality(ctx, s.keys.UniqueIPs(dateKey))
	if err != nil {
		return 0, 0, false, err
	}
	if unique == 0 && total > 0 {
		if unique, err = s.events.UniqueIPCount(ctx, dateKey); err != nil {
			return 0, 0, false, err
		}
	}
	return total, unique, true, nil
}

func (s *StatsService) durableDay(ctx context.Context, dateKey int) (*analytics.DailyStats, error) {
	stats := &analytics.DailyStats{Date: utils.FormatDateKey(dateKey)}

	totals, err := s.events.DailyTotals(ctx, dateKey)
	if err != nil {
		s.logger.Analytics().Error("Daily totals query failed", "error", err.Error(), "dateKey", dateKey)
		return stats, err
	}
	if totals != nil {
		stats.TotalVisits = totals.TotalVisits
		stats.UniqueIPs = totals.UniqueIPs
		stats.PageViews = totals.TotalVisits
	}
	return stats, nil
}

// GetRangeStats returns the per-day series between two date keys. The
// summary's UniqueIPs sums daily counts, so repeat visitors count once per day.
func (s *StatsService) GetRangeStats(ctx context.Context, startKey, endKey int) *analytics.RangeStats {
	marker := s.perfTracker.StartOperation(performance.OpQueryRange)

	result := &analytics.RangeStats{Data: []analytics.DailyStats{}}

	rows, err := s.events.RangeTotals(ctx, startKey, endKey)
	marker.Finish(err)
	if err != nil {
		s.logger.Analytics().Error("Range totals query failed", "error", err.Error(), "startKey", startKey, "endKey", endKey)
		return result
	}

	for _, row := range rows {
		result.Data = append(result.Data, analytics.DailyStats{
			Date:        utils.FormatDateKey(row.DateKey),
			TotalVisits: row.TotalVisits,
			UniqueIPs:   row.UniqueIPs,
			PageViews:   row.TotalVisits,
		})
		result.Total.Visits += row.TotalVisits
		result.Total.UniqueIPs += row.UniqueIPs
		result.Total.PageViews += row.TotalVisits
	}
	return result
}

// GetHotPages ranks pages over the last days days, today included. Days
// past event retention are served from the reconciled page rows.
func (s *StatsService) GetHotPages(ctx context.Context, days, limit int) []analytics.PageStats {
	return s.GetHotPagesBetween(ctx, s.clock.windowStart(days), s.clock.Today(), limit)
}

// GetHotPagesBetween ranks pages between two date keys.
func (s *StatsService) GetHotPagesBetween(ctx context.Context, startKey, endKey, limit int) []analytics.PageStats {
	marker := s.perfTracker.StartOperation(performance.OpQueryHot)

	pages := []analytics.PageStats{}
	rows, err := s.events.HotPages(ctx, startKey, endKey, limit)
	marker.Finish(err)
	if err != nil {
		s.logger.Analytics().Error("Hot pages query failed", "error", err.Error(), "startKey", startKey, "endKey", endKey)
		return pages
	}
	for _, row := range rows {
		pages = append(pages, analytics.PageStats{
			PageURL:       row.PageURL,
			VisitCount:    row.VisitCount,
			UniqueIPCount: row.UniqueIPs,
		})
	}
	return pages
}

// GetRealtimeStats composes today's totals, the presence count, the last
// hour's visits and the top pages held in the counter store. TodayVisits
// comes from the live realtime tally while it has not expired.
func (s *StatsService) GetRealtimeStats(ctx context.Context) *analytics.RealtimeStats {
	marker := s.perfTracker.StartOperation(performance.OpQueryRealtime)
	var firstErr error
	note := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	defer func() { marker.Finish(firstErr) }()

	dateKey := s.clock.Today()
	today, err := s.todayStats(ctx)
	if err != nil {
		note(err)
	}
	stats := &analytics.RealtimeStats{
		TodayVisits:    today.TotalVisits,
		TodayUniqueIPs: today.UniqueIPs,
		TopPages:       []analytics.HotPage{},
	}

	tally, err := s.counters.HashGet(ctx, s.keys.Realtime(dateKey), keys.RealtimeTodayVisits)
	switch {
	case err == nil:
		stats.TodayVisits = tally
	case !errors.Is(err, analytics.ErrCacheMiss):
		s.logger.Cache().Warn("Realtime tally unavailable", "error", err.Error(), "dateKey", dateKey)
	}

	// KeysMatching walks the whole keyspace; presence is one key per client.
	online, err := s.counters.KeysMatching(ctx, s.keys.OnlinePattern())
	if err != nil {
		note(err)
		s.logger.Cache().Error("Presence scan failed", "error", err.Error())
	} else {
		stats.CurrentOnline = int64(len(online))
	}

	lastHour, err := s.events.CountSince(ctx, s.clock.Now().Add(-time.Hour))
	if err != nil {
		note(err)
		s.logger.Analytics().Error("Last hour count failed", "error", err.Error())
	} else {
		stats.LastHourVisits = lastHour
	}

	stats.TopPages = s.cachedTopPages(ctx, dateKey, realtimeTopPages)
	return stats
}

// cachedTopPages reads every page counter of a day and returns the busiest.
func (s *StatsService) cachedTopPages(ctx context.Context, dateKey, limit int) []analytics.HotPage {
	pages := []analytics.HotPage{}

	pageKeys, err := s.counters.KeysMatching(ctx, s.keys.PageVisitPattern(dateKey))
	if err != nil {
		s.logger.Cache().Error("Page counter scan failed", "error", err.Error(), "dateKey", dateKey)
		return pages
	}

	for _, key := range pageKeys {
		pageURL, _, err := s.keys.ParsePageVisit(key)
		if err != nil {
			s.logger.Cache().Warn("Skipping malformed page key", "key", key, "error", err.Error())
			continue
		}
		visits, err := s.readCount(ctx, key)
		if err != nil {
			continue
		}
		pages = append(pages, analytics.HotPage{URL: pageURL, Visits: visits})
	}

	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Visits != pages[j].Visits {
			return pages[i].Visits > pages[j].Visits
		}
		return pages[i].URL < pages[j].URL
	})
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages
}

func (s *StatsService) readCount(ctx context.Context, key string) (int64, error) {
	raw, err := s.counters.GetRaw(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// GetHourlyStats returns exactly 24 visit counts for a day. Rows whose hour
// falls outside 0..23 are ignored.
func (s *StatsService) GetHourlyStats(ctx context.Context, dateKey int) []int64 {
	hours := make([]int64, analytics.HoursPerDay)

	rows, err := s.events.HourlyTotals(ctx, dateKey)
	if err != nil {
		s.logger.Analytics().Error("Hourly totals query failed", "error", err.Error(), "dateKey", dateKey)
		return hours
	}
	for _, row := range rows {
		hour := utils.HourOfDay(row.HourKey)
		if hour < 0 || hour >= analytics.HoursPerDay {
			continue
		}
		hours[hour] = row.TotalVisits
	}
	return hours
}

// GetPageStats returns one page's daily history over the last days days,
// reconciled rows included.
func (s *StatsService) GetPageStats(ctx context.Context, pageURL string, days int) []analytics.PageStats {
	stats := []analytics.PageStats{}

	rows, err := s.events.PageDaily(ctx, pageURL, s.clock.windowStart(days), s.clock.Today())
	if err != nil {
		s.logger.Analytics().Error("Page history query failed", "error", err.Error(), "pageUrl", pageURL)
		return stats
	}
	for _, row := range rows {
		stats = append(stats, analytics.PageStats{
			PageURL:       pageURL,
			Date:          utils.FormatDateKey(row.DateKey),
			VisitCount:    row.VisitCount,
			UniqueIPCount: row.UniqueIPs,
		})
	}
	return stats
}

func (s *StatsService) GetBrowserStats(ctx context.Context, dateKey int) []analytics.BreakdownItem {
	items, err := s.events.BrowserBreakdown(ctx, dateKey)
	return s.breakdown("browser", items, err)
}

func (s *StatsService) GetOSStats(ctx context.Context, dateKey int) []analytics.BreakdownItem {
	items, err := s.events.OSBreakdown(ctx, dateKey)
	return s.breakdown("os", items, err)
}

func (s *StatsService) GetRegionStats(ctx context.Context, days, limit int) []analytics.BreakdownItem {
	items, err := s.events.RegionBreakdown(ctx, s.clock.windowStart(days), s.clock.Today(), limit)
	return s.breakdown("region", items, err)
}

// GetRefererStats excludes direct visits.
func (s *StatsService) GetRefererStats(ctx context.Context, days, limit int) []analytics.BreakdownItem {
	items, err := s.events.RefererBreakdown(ctx, s.clock.windowStart(days), s.clock.Today(), limit)
	return s.breakdown("referer", items, err)
}

func (s *StatsService) breakdown(dimension string, items []analytics.BreakdownItem, err error) []analytics.BreakdownItem {
	if err != nil {
		s.logger.Analytics().Error("Breakdown query failed", "dimension", dimension, "error", err.Error())
		return []analytics.BreakdownItem{}
	}
	if items == nil {
		return []analytics.BreakdownItem{}
	}
	return items
}
