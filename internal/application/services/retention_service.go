package services

import (
	"context"
	"errors"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/AtRiskMedia/visitstats/utils"
)

// Archiver writes events somewhere durable before they are deleted.
type Archiver interface {
	WriteBatch(events []*analytics.VisitEvent) (string, error)
}

// RetentionConfig holds the two retention windows.
type RetentionConfig struct {
	DurableRetention time.Duration
	CacheRetention   time.Duration
	ArchiveBatchSize int
}

func RetentionConfigFromDefaults() RetentionConfig {
	return RetentionConfig{
		DurableRetention: config.DurableRetention,
		CacheRetention:   config.CacheRetention,
		ArchiveBatchSize: config.ArchiveBatchSize,
	}
}

// DurablePurgeResult reports the event store sub-job.
type DurablePurgeResult struct {
	Cutoff       time.Time `json:"cutoff"`
	Deleted      int64     `json:"deleted"`
	Archived     int64     `json:"archived"`
	ArchiveFiles []string  `json:"archiveFiles,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CachePurgeResult reports the counter store sub-job.
type CachePurgeResult struct {
	CutoffDateKey   int      `json:"cutoffDateKey"`
	Scanned         int      `json:"scanned"`
	DayKeysDeleted  int64    `json:"dayKeysDeleted"`
	Skipped         int      `json:"skipped"`
	PresenceScanned int      `json:"presenceScanned"`
	PresenceDeleted int64    `json:"presenceDeleted"`
	Errors          []string `json:"errors,omitempty"`
}

// RetentionResult combines both sub-jobs.
type RetentionResult struct {
	Durable  *DurablePurgeResult `json:"durable"`
	Cache    *CachePurgeResult   `json:"cache"`
	Duration time.Duration       `json:"duration"`
}

// RetentionService prunes old events and stale counter keys. Both sub-jobs
// are idempotent and can be rerun after a partial failure.
type RetentionService struct {
	counters    analytics.CounterStore
	events      analytics.EventRepository
	archiver    Archiver
	keys        *keys.Builder
	cfg         RetentionConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	clock       clock
}

// NewRetentionService creates the retention manager. archiver may be nil.
func NewRetentionService(
	counters analytics.CounterStore,
	events analytics.EventRepository,
	archiver Archiver,
	keyBuilder *keys.Builder,
	cfg RetentionConfig,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	opts ...Option,
) *RetentionService {
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = 5000
	}
	return &RetentionService{
		counters:    counters,
		events:      events,
		archiver:    archiver,
		keys:        keyBuilder,
		cfg:         cfg,
		logger:      logger,
		perfTracker: perfTracker,
		clock:       newClock(opts),
	}
}

// Run executes both sub-jobs; a failure in one does not skip the other.
func (s *RetentionService) Run(ctx context.Context) *RetentionResult {
	start := time.Now()
	marker := s.perfTracker.StartOperation(performance.OpRetention)

	result := &RetentionResult{
		Durable: s.PurgeDurable(ctx),
		Cache:   s.PurgeCache(ctx),
	}
	result.Duration = time.Since(start)

	var err error
	if result.Durable.Error != "" {
		err = errors.New(result.Durable.Error)
	}
	marker.Finish(err)
	return result
}

// PurgeDurable deletes events older than the durable window. With an
// archiver, each batch is deleted only after its archive file is written.
func (s *RetentionService) PurgeDurable(ctx context.Context) *DurablePurgeResult {
	cutoff := s.clock.Now().Add(-s.cfg.DurableRetention)
	result := &DurablePurgeResult{Cutoff: cutoff}

	s.logger.Retention().Info("Durable purge started", "cutoff", cutoff)

	if s.archiver == nil {
		deleted, err := s.events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			result.Error = err.Error()
			s.logger.Retention().Error("Durable purge failed", "error", err.Error())
			return result
		}
		result.Deleted = deleted
		s.logger.Retention().Info("Durable purge completed", "deleted", deleted)
		return result
	}

	for {
		batch, err := s.events.EventsOlderThan(ctx, cutoff, s.cfg.ArchiveBatchSize)
		if err != nil {
			result.Error = err.Error()
			s.logger.Retention().Error("Loading events to archive failed", "error", err.Error())
			break
		}
		if len(batch) == 0 {
			break
		}

		path, err := s.archiver.WriteBatch(batch)
		if err != nil {
			result.Error = err.Error()
			s.logger.Retention().Error("Archive write failed, batch kept", "error", err.Error(), "events", len(batch))
			break
		}
		result.Archived += int64(len(batch))
		result.ArchiveFiles = append(result.ArchiveFiles, path)

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		deleted, err := s.events.DeleteVisits(ctx, ids)
		if err != nil {
			result.Error = err.Error()
			s.logger.Retention().Error("Deleting archived events failed", "error", err.Error(), "archive", path)
			break
		}
		result.Deleted += deleted

		s.logger.Retention().Debug("Archived batch", "archive", path, "events", len(batch), "deleted", deleted)
		if deleted == 0 || len(batch) < s.cfg.ArchiveBatchSize {
			break
		}
	}

	s.logger.Retention().Info("Durable purge completed",
		"deleted", result.Deleted,
		"archived", result.Archived,
		"files", len(result.ArchiveFiles))
	return result
}

// PurgeCache deletes day-scoped keys older than the cache window and
// presence markers with no remaining lifetime. Keys whose date segment
// cannot be parsed are logged and skipped.
func (s *RetentionService) PurgeCache(ctx context.Context) *CachePurgeResult {
	days := int(s.cfg.CacheRetention / (24 * time.Hour))
	cutoffKey := utils.AddDays(s.clock.Today(), -days)
	result := &CachePurgeResult{CutoffDateKey: cutoffKey}

	for _, pattern := range s.keys.DayScopedPatterns() {
		found, err := s.counters.KeysMatching(ctx, pattern)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			s.logger.Retention().Error("Key scan failed", "pattern", pattern, "error", err.Error())
			continue
		}

		for _, key := range found {
			result.Scanned++
			dateKey, err := keys.TrailingDateKey(key)
			if err != nil {
				result.Skipped++
				s.logger.Retention().Warn("Skipping key without a date", "key", key, "error", err.Error())
				continue
			}
			if dateKey >= cutoffKey {
				continue
			}
			n, err := s.counters.Delete(ctx, key)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				s.logger.Retention().Error("Key delete failed", "key", key, "error", err.Error())
				continue
			}
			result.DayKeysDeleted += n
		}
	}

	s.purgePresence(ctx, result)

	s.logger.Retention().Info("Cache purge completed",
		"cutoffDateKey", cutoffKey,
		"scanned", result.Scanned,
		"dayKeysDeleted", result.DayKeysDeleted,
		"skipped", result.Skipped,
		"presenceDeleted", result.PresenceDeleted)
	return result
}

// purgePresence removes markers whose TTL is zero or unset. A marker with no
// TTL would otherwise count as online forever.
func (s *RetentionService) purgePresence(ctx context.Context, result *CachePurgeResult) {
	markers, err := s.counters.KeysMatching(ctx, s.keys.OnlinePattern())
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		s.logger.Retention().Error("Presence scan failed", "error", err.Error())
		return
	}

	for _, key := range markers {
		result.PresenceScanned++
		ttl, err := s.counters.TTL(ctx, key)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			s.logger.Retention().Error("Presence TTL read failed", "key", key, "error", err.Error())
			continue
		}
		if ttl > 0 || ttl == analytics.TTLMissing {
			continue
		}
		n, err := s.counters.Delete(ctx, key)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.PresenceDeleted += n
	}
}
