package scheduler

import (
	"fmt"
	"os"

	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Job names, also accepted by RunNow.
const (
	JobHourlySync     = "hourly-sync"
	JobDailyReconcile = "daily-reconcile"
	JobRetention      = "retention"
	JobDailyReport    = "daily-report"
	JobWeeklyReport   = "weekly-report"
	JobMonthlyReport  = "monthly-report"
)

// Schedules holds one standard five-field cron expression per job. An empty
// expression disables the job.
type Schedules struct {
	HourlySync     string `yaml:"hourly_sync"`
	DailyReconcile string `yaml:"daily_reconcile"`
	Retention      string `yaml:"retention"`
	DailyReport    string `yaml:"daily_report"`
	WeeklyReport   string `yaml:"weekly_report"`
	MonthlyReport  string `yaml:"monthly_report"`
}

// DefaultSchedules reads the schedule defaults from pkg/config.
func DefaultSchedules() *Schedules {
	return &Schedules{
		HourlySync:     config.HourlySyncSchedule,
		DailyReconcile: config.DailyReconcileSchedule,
		Retention:      config.RetentionSchedule,
		DailyReport:    config.DailyReportSchedule,
		WeeklyReport:   config.WeeklyReportSchedule,
		MonthlyReport:  config.MonthlyReportSchedule,
	}
}

// LoadSchedules reads a YAML schedule file over the defaults. Environment
// variables in the file are expanded first; keys the file omits keep their
// default.
func LoadSchedules(path string) (*Schedules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	s := DefaultSchedules()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), s); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// byJob pairs each job name with its expression, in registration order.
func (s *Schedules) byJob() []struct{ name, expr string } {
	return []struct{ name, expr string }{
		{JobHourlySync, s.HourlySync},
		{JobDailyReconcile, s.DailyReconcile},
		{JobRetention, s.Retention},
		{JobDailyReport, s.DailyReport},
		{JobWeeklyReport, s.WeeklyReport},
		{JobMonthlyReport, s.MonthlyReport},
	}
}

// Validate parses every non-empty expression.
func (s *Schedules) Validate() error {
	for _, job := range s.byJob() {
		if job.expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.expr); err != nil {
			return fmt.Errorf("invalid schedule for %s %q: %w", job.name, job.expr, err)
		}
	}
	return nil
}
