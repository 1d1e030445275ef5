package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/caching/keys"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/security"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/workers"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/AtRiskMedia/visitstats/utils"
)

// TaskSubmitter accepts fire-and-forget work. Submit never blocks.
type TaskSubmitter interface {
	Submit(task workers.Task) bool
}

// IngestionConfig holds TTLs and field limits.
type IngestionConfig struct {
	DayKeyTTL          time.Duration
	PresenceTTL        time.Duration
	MaxPageURLLength   int
	MaxUserAgentLength int
	MaxRefererLength   int
}

// IngestionConfigFromDefaults reads pkg/config.
func IngestionConfigFromDefaults() IngestionConfig {
	return IngestionConfig{
		DayKeyTTL:          config.DayKeyTTL,
		PresenceTTL:        config.PresenceTTL,
		MaxPageURLLength:   config.MaxPageURLLength,
		MaxUserAgentLength: config.MaxUserAgentLength,
		MaxRefererLength:   config.MaxRefererLength,
	}
}

// IngestionService records page visits: counters synchronously, the event
// itself asynchronously.
type IngestionService struct {
	counters    analytics.CounterStore
	events      analytics.EventRepository
	pool        TaskSubmitter
	classifier  analytics.ClientClassifier
	keys        *keys.Builder
	cfg         IngestionConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	clock       clock
}

// NewIngestionService creates the ingestion coordinator. classifier may be nil.
func NewIngestionService(
	counters analytics.CounterStore,
	events analytics.EventRepository,
	pool TaskSubmitter,
	classifier analytics.ClientClassifier,
	keyBuilder *keys.Builder,
	cfg IngestionConfig,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
	opts ...Option,
) *IngestionService {
	return &IngestionService{
		counters:    counters,
		events:      events,
		pool:        pool,
		classifier:  classifier,
		keys:        keyBuilder,
		cfg:         cfg,
		logger:      logger,
		perfTracker: perfTracker,
		clock:       newClock(opts),
	}
}

// RecordVisit stamps and records one visit. Only invalid input is returned
// as an error; every store failure is logged and swallowed.
func (s *IngestionService) RecordVisit(ctx context.Context, input analytics.VisitInput) (*analytics.VisitEvent, error) {
	event, err := s.stamp(input)
	if err != nil {
		return nil, err
	}

	s.writeCounters(ctx, event)
	s.submitDurableWrite(event)
	s.updateRealtime(ctx, event)

	s.logger.Ingest().Debug("Visit recorded",
		"visitId", event.ID,
		"pageUrl", event.PageURL,
		"dateKey", event.DateKey)
	return event, nil
}

func (s *IngestionService) stamp(input analytics.VisitInput) (*analytics.VisitEvent, error) {
	pageURL := strings.TrimSpace(input.PageURL)
	if pageURL == "" {
		return nil, fmt.Errorf("%w: page URL is required", analytics.ErrInvalidInput)
	}
	if s.cfg.MaxPageURLLength > 0 && utf8.RuneCountInString(pageURL) > s.cfg.MaxPageURLLength {
		return nil, fmt.Errorf("%w: page URL longer than %d characters", analytics.ErrInvalidInput, s.cfg.MaxPageURLLength)
	}

	ip := strings.TrimSpace(input.IPAddress)
	if ip == "" {
		ip = analytics.UnknownIP
	}

	now := s.clock.Now()
	event := &analytics.VisitEvent{
		ID:        security.GenerateULID(),
		PageURL:   pageURL,
		IPAddress: ip,
		UserAgent: truncate(strings.TrimSpace(input.UserAgent), s.cfg.MaxUserAgentLength),
		Referer:   truncate(strings.TrimSpace(input.Referer), s.cfg.MaxRefererLength),
		VisitTime: now,
		DateKey:   utils.DateKey(now),
		HourKey:   utils.HourKey(now),
	}

	if s.classifier != nil {
		info := s.classifier.Classify(event.UserAgent, event.IPAddress)
		event.Browser = info.Browser
		event.OS = info.OS
		event.Device = info.Device
		event.Region = info.Region
	}
	return event, nil
}

// writeCounters updates the day counters and the presence marker. The first
// failure ends the step.
func (s *IngestionService) writeCounters(ctx context.Context, event *analytics.VisitEvent) {
	marker := s.perfTracker.StartOperation(performance.OpCacheWrite)
	err := s.applyCounters(ctx, event)
	marker.Finish(err)

	if err != nil {
		s.logger.Cache().Error("Counter update failed",
			"error", err.Error(),
			"pageUrl", event.PageURL,
			"dateKey", event.DateKey)
	}
}

func (s *IngestionService) applyCounters(ctx context.Context, event *analytics.VisitEvent) error {
	countKey := s.keys.VisitCount(event.DateKey)
	if _, err := s.counters.Increment(ctx, countKey); err != nil {
		return fmt.Errorf("failed to increment visit count: %w", err)
	}
	if _, err := s.counters.Expire(ctx, countKey, s.cfg.DayKeyTTL); err != nil {
		return fmt.Errorf("failed to expire visit count: %w", err)
	}

	ipKey := s.keys.UniqueIPs(event.DateKey)
	if _, err := s.counters.SetAdd(ctx, ipKey, event.IPAddress); err != nil {
		return fmt.Errorf("failed to add unique ip: %w", err)
	}
	if _, err := s.counters.Expire(ctx, ipKey, s.cfg.DayKeyTTL); err != nil {
		return fmt.Errorf("failed to expire unique ip set: %w", err)
	}

	pageKey := s.keys.PageVisit(event.PageURL, event.DateKey)
	if _, err := s.counters.Increment(ctx, pageKey); err != nil {
		return fmt.Errorf("failed to increment page count: %w", err)
	}
	if _, err := s.counters.Expire(ctx, pageKey, s.cfg.DayKeyTTL); err != nil {
		return fmt.Errorf("failed to expire page count: %w", err)
	}

	lastSeen := strconv.FormatInt(event.VisitTime.UnixMilli(), 10)
	if err := s.counters.SetWithTTL(ctx, s.keys.Online(event.IPAddress), lastSeen, s.cfg.PresenceTTL); err != nil {
		return fmt.Errorf("failed to refresh presence marker: %w", err)
	}
	return nil
}

// submitDurableWrite hands the event to the writer pool. A full queue drops it.
func (s *IngestionService) submitDurableWrite(event *analytics.VisitEvent) {
	task := workers.Task{
		Name: "insert visit " + event.ID,
		Run: func(ctx context.Context) error {
			marker := s.perfTracker.StartOperation(performance.OpDurableWrite)
			err := s.events.InsertVisit(ctx, event)
			marker.Finish(err)
			return err
		},
	}

	if !s.pool.Submit(task) {
		s.logger.Ingest().Warn("Durable write dropped",
			"visitId", event.ID,
			"pageUrl", event.PageURL,
			"dateKey", event.DateKey)
	}
}

func (s *IngestionService) updateRealtime(ctx context.Context, event *analytics.VisitEvent) {
	key := s.keys.Realtime(event.DateKey)
	if _, err := s.counters.HashIncrement(ctx, key, keys.RealtimeTodayVisits, 1); err != nil {
		s.logger.Cache().Error("Realtime counter update failed", "error", err.Error(), "dateKey", event.DateKey)
		return
	}
	if _, err := s.counters.Expire(ctx, key, s.cfg.PresenceTTL); err != nil {
		s.logger.Cache().Error("Realtime counter expiry failed", "error", err.Error(), "dateKey", event.DateKey)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
