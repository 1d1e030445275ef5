// Package analytics provides the SQL-based implementations of the durable
// visit event store and the reconciled aggregate tables.
//
// visit_record is append-only and is the source of truth for history.
// daily_stats, hourly_stats and page_stats are overwritten by reconciliation.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/security"
)

const deleteChunkSize = 500

// SQLEventRepository handles visit event persistence and group-by queries.
type SQLEventRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

var _ analytics.EventRepository = (*SQLEventRepository)(nil)

// NewSQLEventRepository creates a new instance of the repository.
func NewSQLEventRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLEventRepository {
	return &SQLEventRepository{
		db:     db,
		logger: logger,
	}
}

func (r *SQLEventRepository) finish(operation, query string, start time.Time, attrs ...any) {
	duration := time.Since(start)
	r.logger.Database().Debug(operation+" completed", append(attrs, "duration", duration)...)
	database.CheckAndLogSlowQuery(r.logger, query, duration)
}

func (r *SQLEventRepository) fail(operation string, err error, attrs ...any) {
	r.logger.Database().Error(operation+" failed", append(attrs, "error", err.Error())...)
}

// InsertVisit appends one visit event. An empty ID is replaced with a new ULID.
func (r *SQLEventRepository) InsertVisit(ctx context.Context, event *analytics.VisitEvent) error {
	if event.ID == "" {
		event.ID = security.GenerateULID()
	}

	const query = `
		INSERT INTO visit_record (id, page_url, ip_address, user_agent, referer, browser, os, device, region, visit_time, date_key, hour_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing visit insert",
		"visitId", event.ID,
		"pageUrl", event.PageURL,
		"dateKey", event.DateKey)

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.PageURL,
		event.IPAddress,
		event.UserAgent,
		event.Referer,
		event.Browser,
		event.OS,
		event.Device,
		event.Region,
		database.FormatTimestamp(event.VisitTime),
		event.DateKey,
		event.HourKey,
	)
	if err != nil {
		r.fail("Visit insert", err, "visitId", event.ID, "pageUrl", event.PageURL)
		return fmt.Errorf("failed to store visit event: %w", err)
	}

	r.finish("Visit insert", query, start, "visitId", event.ID)
	return nil
}

// DailyTotals merges the event group-by with any reconciled row, keeping the larger of each.
func (r *SQLEventRepository) DailyTotals(ctx context.Context, dateKey int) (*analytics.DayTotals, error) {
	rows, err := r.RangeTotals(ctx, dateKey, dateKey)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RangeTotals returns one row per date key that has events or a reconciled row, ascending.
func (r *SQLEventRepository) RangeTotals(ctx context.Context, startKey, endKey int) ([]analytics.DayTotals, error) {
	const query = `
		SELECT date_key, MAX(total_visits), MAX(unique_ips) FROM (
			SELECT date_key, COUNT(*) AS total_visits, COUNT(DISTINCT ip_address) AS unique_ips
			FROM visit_record WHERE date_key BETWEEN ? AND ? GROUP BY date_key
			UNION ALL
			SELECT date_key, total_visits, unique_ips
			FROM daily_stats WHERE date_key BETWEEN ? AND ?
		) GROUP BY date_key ORDER BY date_key`

	start := time.Now()
	r.logger.Database().Debug("Executing range totals query", "startKey", startKey, "endKey", endKey)

	rows, err := r.db.QueryContext(ctx, query, startKey, endKey, startKey, endKey)
	if err != nil {
		r.fail("Range totals query", err, "startKey", startKey, "endKey", endKey)
		return nil, fmt.Errorf("failed to query range totals: %w", err)
	}
	defer rows.Close()

	var totals []analytics.DayTotals
	for rows.Next() {
		var t analytics.DayTotals
		if err := rows.Scan(&t.DateKey, &t.TotalVisits, &t.UniqueIPs); err != nil {
			return nil, fmt.Errorf("failed to scan range totals: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate range totals: %w", err)
	}

	r.finish("Range totals query", query, start, "days", len(totals))
	return totals, nil
}

// HotPages ranks pages by visits over the window, most visited first. Each
// page-day takes the larger of its events and its reconciled page row, so
// days past event retention still count. UniqueIPs sums the per-day counts.
func (r *SQLEventRepository) HotPages(ctx context.Context, startKey, endKey, limit int) ([]analytics.PageCount, error) {
	const query = `
		SELECT page_url, SUM(visits) AS visit_count, SUM(uniques) AS unique_ips FROM (
			SELECT page_url, date_key, MAX(visits) AS visits, MAX(uniques) AS uniques FROM (
				SELECT page_url, date_key, COUNT(*) AS visits, COUNT(DISTINCT ip_address) AS uniques
				FROM visit_record WHERE date_key BETWEEN ? AND ? GROUP BY page_url, date_key
				UNION ALL
				SELECT page_url, date_key, visit_count, unique_ip_count
				FROM page_stats WHERE date_key BETWEEN ? AND ?
			) GROUP BY page_url, date_key
		) GROUP BY page_url ORDER BY visit_count DESC, page_url LIMIT ?`

	start := time.Now()
	r.logger.Database().Debug("Executing hot pages query", "startKey", startKey, "endKey", endKey, "limit", limit)

	rows, err := r.db.QueryContext(ctx, query, startKey, endKey, startKey, endKey, limit)
	if err != nil {
		r.fail("Hot pages query", err, "startKey", startKey, "endKey", endKey)
		return nil, fmt.Errorf("failed to query hot pages: %w", err)
	}
	defer rows.Close()

	var pages []analytics.PageCount
	for rows.Next() {
		var p analytics.PageCount
		if err := rows.Scan(&p.PageURL, &p.VisitCount, &p.UniqueIPs); err != nil {
			return nil, fmt.Errorf("failed to scan hot page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hot pages: %w", err)
	}

	r.finish("Hot pages query", query, start, "pages", len(pages))
	return pages, nil
}

// HourlyTotals returns per-hour totals for a day, merging events with reconciled hourly rows.
func (r *SQLEventRepository) HourlyTotals(ctx context.Context, dateKey int) ([]analytics.HourTotals, error) {
	const query = `
		SELECT hour_key, MAX(visit_count), MAX(unique_ips) FROM (
			SELECT hour_key, COUNT(*) AS visit_count, COUNT(DISTINCT ip_address) AS unique_ips
			FROM visit_record WHERE date_key = ? GROUP BY hour_key
			UNION ALL
			SELECT hour_key, visit_count, unique_ip_count
			FROM hourly_stats WHERE hour_key BETWEEN ? AND ?
		) GROUP BY hour_key ORDER BY hour_key`

	start := time.Now()
	r.logger.Database().Debug("Executing hourly totals query", "dateKey", dateKey)

	rows, err := r.db.QueryContext(ctx, query, dateKey, dateKey*100, dateKey*100+99)
	if err != nil {
		r.fail("Hourly totals query", err, "dateKey", dateKey)
		return nil, fmt.Errorf("failed to query hourly totals: %w", err)
	}
	defer rows.Close()

	totals, err := scanHourTotals(rows)
	if err != nil {
		return nil, err
	}

	r.finish("Hourly totals query", query, start, "hours", len(totals))
	return totals, nil
}

// HourlyEventTotals groups only the stored events of a day by hour. Reconciliation
// folds this into hourly_stats.
func (r *SQLEventRepository) HourlyEventTotals(ctx context.Context, dateKey int) ([]analytics.HourTotals, error) {
	const query = `
		SELECT hour_key, COUNT(*), COUNT(DISTINCT ip_address)
		FROM visit_record WHERE date_key = ? GROUP BY hour_key ORDER BY hour_key`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, dateKey)
	if err != nil {
		r.fail("Hourly event totals query", err, "dateKey", dateKey)
		return nil, fmt.Errorf("failed to query hourly event totals: %w", err)
	}
	defer rows.Close()

	totals, err := scanHourTotals(rows)
	if err != nil {
		return nil, err
	}

	r.finish("Hourly event totals query", query, start, "hours", len(totals))
	return totals, nil
}

func scanHourTotals(rows *sql.Rows) ([]analytics.HourTotals, error) {
	var totals []analytics.HourTotals
	for rows.Next() {
		var t analytics.HourTotals
		if err := rows.Scan(&t.HourKey, &t.TotalVisits, &t.UniqueIPs); err != nil {
			return nil, fmt.Errorf("failed to scan hourly totals: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hourly totals: %w", err)
	}
	return totals, nil
}

// UniqueIPCount returns the distinct client addresses stored for a day.
func (r *SQLEventRepository) UniqueIPCount(ctx context.Context, dateKey int) (int64, error) {
	const query = `SELECT COUNT(DISTINCT ip_address) FROM visit_record WHERE date_key = ?`

	start := time.Now()
	var n int64
	if err := r.db.QueryRowContext(ctx, query, dateKey).Scan(&n); err != nil {
		r.fail("Unique IP count query", err, "dateKey", dateKey)
		return 0, fmt.Errorf("failed to count unique ips: %w", err)
	}

	r.finish("Unique IP count query", query, start, "dateKey", dateKey)
	return n, nil
}

// CountSince counts events stamped at or after since.
func (r *SQLEventRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM visit_record WHERE visit_time >= ?`

	start := time.Now()
	var n int64
	if err := r.db.QueryRowContext(ctx, query, database.FormatTimestamp(since)).Scan(&n); err != nil {
		r.fail("Count since query", err, "since", since)
		return 0, fmt.Errorf("failed to count recent visits: %w", err)
	}

	r.finish("Count since query", query, start, "count", n)
	return n, nil
}

// PageDaily returns one row per day for a single page, ascending, merging
// events with the page's reconciled rows.
func (r *SQLEventRepository) PageDaily(ctx context.Context, pageURL string, startKey, endKey int) ([]analytics.PageDay, error) {
	const query = `
		SELECT date_key, MAX(visits), MAX(uniques) FROM (
			SELECT date_key, COUNT(*) AS visits, COUNT(DISTINCT ip_address) AS uniques
			FROM visit_record WHERE page_url = ? AND date_key BETWEEN ? AND ? GROUP BY date_key
			UNION ALL
			SELECT date_key, visit_count, unique_ip_count
			FROM page_stats WHERE page_url = ? AND date_key BETWEEN ? AND ?
		) GROUP BY date_key ORDER BY date_key`

	start := time.Now()
	r.logger.Database().Debug("Executing page daily query", "pageUrl", pageURL, "startKey", startKey, "endKey", endKey)

	rows, err := r.db.QueryContext(ctx, query, pageURL, startKey, endKey, pageURL, startKey, endKey)
	if err != nil {
		r.fail("Page daily query", err, "pageUrl", pageURL)
		return nil, fmt.Errorf("failed to query page history: %w", err)
	}
	defer rows.Close()

	var days []analytics.PageDay
	for rows.Next() {
		var d analytics.PageDay
		if err := rows.Scan(&d.DateKey, &d.VisitCount, &d.UniqueIPs); err != nil {
			return nil, fmt.Errorf("failed to scan page day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page history: %w", err)
	}

	r.finish("Page daily query", query, start, "days", len(days))
	return days, nil
}

// PageUniqueIPs maps each page seen on a day to its distinct client count.
func (r *SQLEventRepository) PageUniqueIPs(ctx context.Context, dateKey int) (map[string]int64, error) {
	const query = `
		SELECT page_url, COUNT(DISTINCT ip_address)
		FROM visit_record WHERE date_key = ? GROUP BY page_url`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, dateKey)
	if err != nil {
		r.fail("Page unique IPs query", err, "dateKey", dateKey)
		return nil, fmt.Errorf("failed to query page unique ips: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var url string
		var n int64
		if err := rows.Scan(&url, &n); err != nil {
			return nil, fmt.Errorf("failed to scan page unique ips: %w", err)
		}
		out[url] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page unique ips: %w", err)
	}

	r.finish("Page unique IPs query", query, start, "pages", len(out))
	return out, nil
}

// BrowserBreakdown counts a day's visits per browser.
func (r *SQLEventRepository) BrowserBreakdown(ctx context.Context, dateKey int) ([]analytics.BreakdownItem, error) {
	const query = `
		SELECT COALESCE(NULLIF(browser, ''), 'Unknown') AS name, COUNT(*) AS cnt
		FROM visit_record WHERE date_key = ?
		GROUP BY name ORDER BY cnt DESC, name`
	return r.breakdown(ctx, "Browser breakdown", query, dateKey)
}

// OSBreakdown counts a day's visits per operating system.
func (r *SQLEventRepository) OSBreakdown(ctx context.Context, dateKey int) ([]analytics.BreakdownItem, error) {
	const query = `
		SELECT COALESCE(NULLIF(os, ''), 'Unknown') AS name, COUNT(*) AS cnt
		FROM visit_record WHERE date_key = ?
		GROUP BY name ORDER BY cnt DESC, name`
	return r.breakdown(ctx, "OS breakdown", query, dateKey)
}

// RefererBreakdown counts visits per referer over a window. Direct visits are not listed.
func (r *SQLEventRepository) RefererBreakdown(ctx context.Context, startKey, endKey, limit int) ([]analytics.BreakdownItem, error) {
	const query = `
		SELECT referer AS name, COUNT(*) AS cnt
		FROM visit_record WHERE date_key BETWEEN ? AND ? AND referer <> ''
		GROUP BY name ORDER BY cnt DESC, name LIMIT ?`
	return r.breakdown(ctx, "Referer breakdown", query, startKey, endKey, limit)
}

// RegionBreakdown counts visits per region over a window.
func (r *SQLEventRepository) RegionBreakdown(ctx context.Context, startKey, endKey, limit int) ([]analytics.BreakdownItem, error) {
	const query = `
		SELECT COALESCE(NULLIF(region, ''), 'Unknown') AS name, COUNT(*) AS cnt
		FROM visit_record WHERE date_key BETWEEN ? AND ?
		GROUP BY name ORDER BY cnt DESC, name LIMIT ?`
	return r.breakdown(ctx, "Region breakdown", query, startKey, endKey, limit)
}

func (r *SQLEventRepository) breakdown(ctx context.Context, operation, query string, args ...any) ([]analytics.BreakdownItem, error) {
	start := time.Now()
	r.logger.Database().Debug("Executing "+operation+" query", "args", args)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.fail(operation+" query", err)
		return nil, fmt.Errorf("failed to query %s: %w", operation, err)
	}
	defer rows.Close()

	var items []analytics.BreakdownItem
	for rows.Next() {
		var item analytics.BreakdownItem
		if err := rows.Scan(&item.Name, &item.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", operation, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", operation, err)
	}

	r.finish(operation+" query", query, start, "buckets", len(items))
	return items, nil
}

// EventsOlderThan returns up to limit events stamped before cutoff, oldest first.
func (r *SQLEventRepository) EventsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*analytics.VisitEvent, error) {
	const query = `
		SELECT id, page_url, ip_address, user_agent, referer, browser, os, device, region, visit_time, date_key, hour_key
		FROM visit_record WHERE visit_time < ? ORDER BY visit_time, id LIMIT ?`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, database.FormatTimestamp(cutoff), limit)
	if err != nil {
		r.fail("Expired events query", err, "cutoff", cutoff)
		return nil, fmt.Errorf("failed to query expired events: %w", err)
	}
	defer rows.Close()

	var events []*analytics.VisitEvent
	for rows.Next() {
		var (
			e  analytics.VisitEvent
			ts string
		)
		if err := rows.Scan(&e.ID, &e.PageURL, &e.IPAddress, &e.UserAgent, &e.Referer,
			&e.Browser, &e.OS, &e.Device, &e.Region, &ts, &e.DateKey, &e.HourKey); err != nil {
			return nil, fmt.Errorf("failed to scan expired event: %w", err)
		}
		if e.VisitTime, err = database.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("failed to parse visit time %q: %w", ts, err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired events: %w", err)
	}

	r.finish("Expired events query", "BULK_"+query, start, "events", len(events))
	return events, nil
}

// DeleteVisits removes events by ID and returns how many rows went.
func (r *SQLEventRepository) DeleteVisits(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	for begin := 0; begin < len(ids); begin += deleteChunkSize {
		end := min(begin+deleteChunkSize, len(ids))
		chunk := ids[begin:end]

		query := `DELETE FROM visit_record WHERE id IN (` + database.Placeholders(len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		start := time.Now()
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			r.fail("Visit delete", err, "batch", len(chunk))
			return deleted, fmt.Errorf("failed to delete visits: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
		r.finish("Visit delete", "BULK_DELETE visit_record by id", start, "deleted", n)
	}
	return deleted, nil
}

// DeleteOlderThan removes every event stamped before cutoff.
func (r *SQLEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM visit_record WHERE visit_time < ?`

	start := time.Now()
	r.logger.Database().Debug("Executing retention delete", "cutoff", cutoff)

	res, err := r.db.ExecContext(ctx, query, database.FormatTimestamp(cutoff))
	if err != nil {
		r.fail("Retention delete", err, "cutoff", cutoff)
		return 0, fmt.Errorf("failed to delete expired visits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	r.finish("Retention delete", "BULK_"+query, start, "deleted", n)
	return n, nil
}
