package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/database"
)

// SQLAggregateRepository persists the reconciled daily, hourly and page rows.
type SQLAggregateRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

var _ analytics.AggregateRepository = (*SQLAggregateRepository)(nil)

// NewSQLAggregateRepository creates a new instance of the repository.
func NewSQLAggregateRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLAggregateRepository {
	return &SQLAggregateRepository{
		db:     db,
		logger: logger,
	}
}

func (r *SQLAggregateRepository) exec(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Database().Error(operation+" failed", "error", err.Error())
		return fmt.Errorf("failed to %s: %w", operation, err)
	}

	duration := time.Since(start)
	r.logger.Database().Debug(operation+" completed", "duration", duration)
	database.CheckAndLogSlowQuery(r.logger, query, duration)
	return nil
}

// UpsertDailyAggregate inserts or overwrites the row for agg.DateKey.
func (r *SQLAggregateRepository) UpsertDailyAggregate(ctx context.Context, agg *analytics.DailyAggregate) error {
	const query = `
		INSERT INTO daily_stats (date_key, date_str, total_visits, unique_ips, page_views, bounce_rate, avg_session_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date_key) DO UPDATE SET
			date_str = excluded.date_str,
			total_visits = excluded.total_visits,
			unique_ips = excluded.unique_ips,
			page_views = excluded.page_views,
			bounce_rate = excluded.bounce_rate,
			avg_session_duration = excluded.avg_session_duration`

	return r.exec(ctx, "upsert daily aggregate", query,
		agg.DateKey, agg.DateStr, agg.TotalVisits, agg.UniqueIPs, agg.PageViews, agg.BounceRate, agg.AvgSessionDuration)
}

// UpsertHourlyAggregate inserts or overwrites the row for agg.HourKey.
func (r *SQLAggregateRepository) UpsertHourlyAggregate(ctx context.Context, agg *analytics.HourlyAggregate) error {
	const query = `
		INSERT INTO hourly_stats (hour_key, hour_str, visit_count, unique_ip_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hour_key) DO UPDATE SET
			hour_str = excluded.hour_str,
			visit_count = excluded.visit_count,
			unique_ip_count = excluded.unique_ip_count`

	return r.exec(ctx, "upsert hourly aggregate", query,
		agg.HourKey, agg.HourStr, agg.VisitCount, agg.UniqueIPCount)
}

// UpsertPageAggregate inserts or overwrites the row for (agg.PageURL, agg.DateKey).
func (r *SQLAggregateRepository) UpsertPageAggregate(ctx context.Context, agg *analytics.PageAggregate) error {
	const query = `
		INSERT INTO page_stats (page_url, date_key, page_title, visit_count, unique_ip_count, avg_duration, bounce_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_url, date_key) DO UPDATE SET
			page_title = excluded.page_title,
			visit_count = excluded.visit_count,
			unique_ip_count = excluded.unique_ip_count,
			avg_duration = excluded.avg_duration,
			bounce_count = excluded.bounce_count`

	return r.exec(ctx, "upsert page aggregate", query,
		agg.PageURL, agg.DateKey, agg.PageTitle, agg.VisitCount, agg.UniqueIPCount, agg.AvgDuration, agg.BounceCount)
}

// HourlyAggregates returns the reconciled hourly rows of a day, ascending.
func (r *SQLAggregateRepository) HourlyAggregates(ctx context.Context, dateKey int) ([]analytics.HourlyAggregate, error) {
	const query = `
		SELECT hour_key, hour_str, visit_count, unique_ip_count
		FROM hourly_stats WHERE hour_key BETWEEN ? AND ? ORDER BY hour_key`

	rows, err := r.db.QueryContext(ctx, query, dateKey*100, dateKey*100+99)
	if err != nil {
		r.logger.Database().Error("Hourly aggregate query failed", "error", err.Error(), "dateKey", dateKey)
		return nil, fmt.Errorf("failed to query hourly aggregates: %w", err)
	}
	defer rows.Close()

	var out []analytics.HourlyAggregate
	for rows.Next() {
		var a analytics.HourlyAggregate
		if err := rows.Scan(&a.HourKey, &a.HourStr, &a.VisitCount, &a.UniqueIPCount); err != nil {
			return nil, fmt.Errorf("failed to scan hourly aggregate: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hourly aggregates: %w", err)
	}
	return out, nil
}

// PageAggregatesInRange returns the reconciled page rows between two date
// keys, by day and then most visited first.
func (r *SQLAggregateRepository) PageAggregatesInRange(ctx context.Context, startKey, endKey int) ([]analytics.PageAggregate, error) {
	const query = `
		SELECT page_url, date_key, page_title, visit_count, unique_ip_count, avg_duration, bounce_count
		FROM page_stats WHERE date_key BETWEEN ? AND ? ORDER BY date_key, visit_count DESC, page_url`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, startKey, endKey)
	if err != nil {
		r.logger.Database().Error("Page aggregate query failed", "error", err.Error(), "startKey", startKey, "endKey", endKey)
		return nil, fmt.Errorf("failed to query page aggregates: %w", err)
	}
	defer rows.Close()

	var out []analytics.PageAggregate
	for rows.Next() {
		var a analytics.PageAggregate
		if err := rows.Scan(&a.PageURL, &a.DateKey, &a.PageTitle, &a.VisitCount, &a.UniqueIPCount, &a.AvgDuration, &a.BounceCount); err != nil {
			return nil, fmt.Errorf("failed to scan page aggregate: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page aggregates: %w", err)
	}

	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start))
	return out, nil
}
