package analytics

import (
	"context"
	"time"
)

// TTL sentinels mirror the Redis TTL replies.
const (
	TTLMissing    time.Duration = -2
	TTLPersistent time.Duration = -1
)

// CounterStore is the fast counter store. Every operation is atomic for its
// single key; nothing spans keys.
type CounterStore interface {
	// Increment adds one to an integer key, creating it at zero.
	Increment(ctx context.Context, key string) (int64, error)

	// HashIncrement adds delta to a field of a hash key.
	HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error)

	// HashGet returns one field of a hash key, ErrCacheMiss when key or field is absent.
	HashGet(ctx context.Context, key, field string) (int64, error)

	// SetAdd adds member to a set key and reports whether it was new.
	SetAdd(ctx context.Context, key, member string) (bool, error)

	// SetCardinality returns the member count of a set key, zero when absent.
	SetCardinality(ctx context.Context, key string) (int64, error)

	// SetWithTTL stores a string value that expires after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire sets a key's time to live and reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime, TTLMissing or TTLPersistent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// KeysMatching returns every key matching a glob pattern. This walks the
	// whole keyspace.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// GetRaw returns a string or integer key's value, ErrCacheMiss when absent.
	GetRaw(ctx context.Context, key string) (string, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// EventRepository is the durable, append-only visit event store.
type EventRepository interface {
	InsertVisit(ctx context.Context, event *VisitEvent) error

	// DailyTotals returns visits and distinct IPs for one day, nil when the day has no data.
	DailyTotals(ctx context.Context, dateKey int) (*DayTotals, error)
	RangeTotals(ctx context.Context, startKey, endKey int) ([]DayTotals, error)
	HotPages(ctx context.Context, startKey, endKey, limit int) ([]PageCount, error)
	HourlyTotals(ctx context.Context, dateKey int) ([]HourTotals, error)
	// HourlyEventTotals groups only stored events, ignoring reconciled rows.
	HourlyEventTotals(ctx context.Context, dateKey int) ([]HourTotals, error)
	UniqueIPCount(ctx context.Context, dateKey int) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	PageDaily(ctx context.Context, pageURL string, startKey, endKey int) ([]PageDay, error)
	PageUniqueIPs(ctx context.Context, dateKey int) (map[string]int64, error)

	BrowserBreakdown(ctx context.Context, dateKey int) ([]BreakdownItem, error)
	OSBreakdown(ctx context.Context, dateKey int) ([]BreakdownItem, error)
	RefererBreakdown(ctx context.Context, startKey, endKey, limit int) ([]BreakdownItem, error)
	RegionBreakdown(ctx context.Context, startKey, endKey, limit int) ([]BreakdownItem, error)

	// EventsOlderThan returns up to limit events stamped before cutoff, oldest first.
	EventsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*VisitEvent, error)
	DeleteVisits(ctx context.Context, ids []string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AggregateRepository holds the reconciled daily, hourly and page rows.
// Every upsert overwrites.
type AggregateRepository interface {
	UpsertDailyAggregate(ctx context.Context, agg *DailyAggregate) error
	UpsertHourlyAggregate(ctx context.Context, agg *HourlyAggregate) error
	UpsertPageAggregate(ctx context.Context, agg *PageAggregate) error

	HourlyAggregates(ctx context.Context, dateKey int) ([]HourlyAggregate, error)
	PageAggregatesInRange(ctx context.Context, startKey, endKey int) ([]PageAggregate, error)
}

// ClientClassifier derives browser, OS, device and region for a visit.
type ClientClassifier interface {
	Classify(userAgent, ipAddress string) ClientInfo
}
