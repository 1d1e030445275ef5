// Package scheduler triggers reconciliation, retention and reports on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/application/services"
	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/robfig/cron/v3"
)

// Reconciler folds counters into aggregate rows.
type Reconciler interface {
	SyncToday(ctx context.Context) *services.ReconcileResult
	ReconcileYesterday(ctx context.Context) *services.ReconcileResult
}

// Pruner runs both retention sub-jobs.
type Pruner interface {
	Run(ctx context.Context) *services.RetentionResult
}

// Reporter builds and sends period reports.
type Reporter interface {
	Generate(ctx context.Context, kind analytics.ReportKind) (*analytics.Report, error)
}

// EntryInfo describes one registered job.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler owns the cron runner. Jobs never overlap themselves; different
// jobs may run at the same time.
type Scheduler struct {
	cron       *cron.Cron
	schedules  *Schedules
	reconciler Reconciler
	retention  Pruner
	reporter   Reporter
	jobTimeout time.Duration
	logger     *logging.ChanneledLogger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	jobs    map[string]func(context.Context)
}

// New creates a scheduler. reporter may be nil, which disables the report jobs.
func New(
	schedules *Schedules,
	loc *time.Location,
	reconciler Reconciler,
	retention Pruner,
	reporter Reporter,
	logger *logging.ChanneledLogger,
) (*Scheduler, error) {
	if schedules == nil {
		schedules = DefaultSchedules()
	}
	if err := schedules.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	cronLogger := &cronLogger{logger: logger.Scheduler()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		schedules:  schedules,
		reconciler: reconciler,
		retention:  retention,
		reporter:   reporter,
		jobTimeout: 30 * time.Minute,
		logger:     logger,
		ctx:        context.Background(),
		entries:    make(map[string]cron.EntryID),
	}
	s.jobs = s.jobTable()

	for _, job := range schedules.byJob() {
		if job.expr == "" {
			logger.Scheduler().Info("Job disabled", "job", job.name)
			continue
		}
		run, ok := s.jobs[job.name]
		if !ok {
			continue
		}
		name := job.name
		id, err := s.cron.AddFunc(job.expr, func() { s.execute(name, run) })
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", name, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

func (s *Scheduler) jobTable() map[string]func(context.Context) {
	jobs := map[string]func(context.Context){
		JobHourlySync:     func(ctx context.Context) { s.reconciler.SyncToday(ctx) },
		JobDailyReconcile: func(ctx context.Context) { s.reconciler.ReconcileYesterday(ctx) },
		JobRetention:      func(ctx context.Context) { s.retention.Run(ctx) },
	}
	if s.reporter != nil {
		jobs[JobDailyReport] = s.report(analytics.ReportDaily)
		jobs[JobWeeklyReport] = s.report(analytics.ReportWeekly)
		jobs[JobMonthlyReport] = s.report(analytics.ReportMonthly)
	}
	return jobs
}

func (s *Scheduler) report(kind analytics.ReportKind) func(context.Context) {
	return func(ctx context.Context) {
		// errors are logged by the report service
		_, _ = s.reporter.Generate(ctx, kind)
	}
}

func (s *Scheduler) execute(name string, run func(context.Context)) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.jobTimeout)
	defer cancel()

	start := time.Now()
	s.logger.Scheduler().Info("Job started", "job", name)
	run(ctx)
	s.logger.Scheduler().Info("Job finished", "job", name, "duration", time.Since(start))
}

// Start begins firing jobs. ctx bounds every job run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Scheduler().Info("Scheduler started", "jobs", len(s.entries))
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancelJobs()
		s.logger.Scheduler().Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancelJobs()
		return fmt.Errorf("scheduler stop interrupted: %w", ctx.Err())
	}
}

func (s *Scheduler) cancelJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// RunNow runs a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	run, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: unknown job %q", analytics.ErrInvalidInput, name)
	}
	s.logger.Scheduler().Info("Job triggered manually", "job", name)
	run(ctx)
	return nil
}

// Entries lists the registered jobs by name.
func (s *Scheduler) Entries() []EntryInfo {
	exprs := make(map[string]string)
	for _, job := range s.schedules.byJob() {
		exprs[job.name] = job.expr
	}

	out := make([]EntryInfo, 0, len(s.entries))
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		out = append(out, EntryInfo{
			Name:     name,
			Schedule: exprs[name],
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's own messages to the scheduler channel.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
