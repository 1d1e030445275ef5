package services

import (
	"context"
	"fmt"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/email"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/utils"
)

const reportTopPages = 10

// ReportService builds period summaries and mails them when a mailer is set.
type ReportService struct {
	stats  *StatsService
	mailer email.Service
	logger *logging.ChanneledLogger
	clock  clock
}

// NewReportService creates the report generator. mailer may be nil.
func NewReportService(stats *StatsService, mailer email.Service, logger *logging.ChanneledLogger, opts ...Option) *ReportService {
	return &ReportService{
		stats:  stats,
		mailer: mailer,
		logger: logger,
		clock:  newClock(opts),
	}
}

// Period returns the closed period a report of kind covers: yesterday,
// last Monday to Sunday, or last calendar month.
func (s *ReportService) Period(kind analytics.ReportKind) (int, int, error) {
	now := s.clock.Now()
	today := utils.StartOfDay(now)

	switch kind {
	case analytics.ReportDaily:
		day := utils.DateKey(today.AddDate(0, 0, -1))
		return day, day, nil
	case analytics.ReportWeekly:
		lastWeek := today.AddDate(0, 0, -7)
		offset := (int(lastWeek.Weekday()) + 6) % 7
		monday := lastWeek.AddDate(0, 0, -offset)
		return utils.DateKey(monday), utils.DateKey(monday.AddDate(0, 0, 6)), nil
	case analytics.ReportMonthly:
		firstOfThis := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		firstOfLast := firstOfThis.AddDate(0, -1, 0)
		return utils.DateKey(firstOfLast), utils.DateKey(firstOfThis.AddDate(0, 0, -1)), nil
	}
	return 0, 0, fmt.Errorf("%w: unknown report kind %q", analytics.ErrInvalidInput, kind)
}

// Build assembles a report between two date keys.
func (s *ReportService) Build(ctx context.Context, kind analytics.ReportKind, startKey, endKey int) *analytics.Report {
	series := s.stats.GetRangeStats(ctx, startKey, endKey)
	return &analytics.Report{
		Kind:        kind,
		StartDate:   utils.FormatDateKey(startKey),
		EndDate:     utils.FormatDateKey(endKey),
		Summary:     series.Total,
		Days:        series.Data,
		TopPages:    s.stats.GetHotPagesBetween(ctx, startKey, endKey, reportTopPages),
		GeneratedAt: s.clock.Now(),
	}
}

// Generate builds the report for kind's most recent closed period, logs it
// and sends it. The report is returned even when sending fails.
func (s *ReportService) Generate(ctx context.Context, kind analytics.ReportKind) (*analytics.Report, error) {
	startKey, endKey, err := s.Period(kind)
	if err != nil {
		return nil, err
	}

	report := s.Build(ctx, kind, startKey, endKey)
	s.logger.Scheduler().Info("Report generated",
		"kind", string(kind),
		"startDate", report.StartDate,
		"endDate", report.EndDate,
		"visits", report.Summary.Visits,
		"uniqueIps", report.Summary.UniqueIPs,
		"topPages", len(report.TopPages))

	if s.mailer == nil {
		return report, nil
	}
	if err := s.mailer.SendReport(report); err != nil {
		s.logger.Scheduler().Error("Report email failed", "kind", string(kind), "error", err.Error())
		return report, fmt.Errorf("failed to send %s report: %w", kind, err)
	}
	s.logger.Scheduler().Info("Report emailed", "kind", string(kind))
	return report, nil
}
