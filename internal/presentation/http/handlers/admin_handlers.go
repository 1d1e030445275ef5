package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AtRiskMedia/visitstats/internal/application/scheduler"
	"github.com/AtRiskMedia/visitstats/internal/application/services"
	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/workers"
	"github.com/gin-gonic/gin"
)

// ReconcileRunner rebuilds the durable aggregates of a day.
type ReconcileRunner interface {
	Reconcile(ctx context.Context, dateKey int) *services.ReconcileResult
	ReconcileYesterday(ctx context.Context) *services.ReconcileResult
}

// RetentionRunner runs both purge sub-jobs.
type RetentionRunner interface {
	Run(ctx context.Context) *services.RetentionResult
}

// ReportGenerator builds and mails a period report.
type ReportGenerator interface {
	Generate(ctx context.Context, kind analytics.ReportKind) (*analytics.Report, error)
}

// JobRunner exposes the scheduled jobs.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Entries() []scheduler.EntryInfo
}

// AdminDeps groups what the admin endpoints operate on. Reports and Jobs may be nil.
type AdminDeps struct {
	Stats       StatsReader
	Reconcile   ReconcileRunner
	Retention   RetentionRunner
	Reports     ReportGenerator
	Jobs        JobRunner
	PerfTracker *performance.Tracker
	WriterStats func() workers.StatsSnapshot
	Logger      *logging.ChanneledLogger
}

// AdminHandlers contains the authenticated maintenance endpoints.
type AdminHandlers struct {
	deps AdminDeps
}

func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	return &AdminHandlers{deps: deps}
}

// PostReconcile handles POST /api/admin/reconcile?date=
// Without a date it reconciles yesterday.
func (h *AdminHandlers) PostReconcile(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("date") == "" {
		respondOK(c, "reconciled", h.deps.Reconcile.ReconcileYesterday(ctx))
		return
	}

	dateKey, err := dateParam(c, "date", 0)
	if err != nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	if dateKey > h.deps.Stats.Today() {
		respondError(c, http.StatusBadRequest, "date must not be in the future")
		return
	}

	result := h.deps.Reconcile.Reconcile(ctx, dateKey)
	h.deps.Logger.Scheduler().Info("Manual reconciliation finished", "dateKey", dateKey, "source", result.Source, "errors", len(result.Errors))
	respondOK(c, "reconciled", result)
}

// PostRetention handles POST /api/admin/retention
func (h *AdminHandlers) PostRetention(c *gin.Context) {
	result := h.deps.Retention.Run(c.Request.Context())
	h.deps.Logger.Retention().Info("Manual retention run finished", "duration", result.Duration)
	respondOK(c, "retention completed", result)
}

// PostReport handles POST /api/admin/reports/:kind
func (h *AdminHandlers) PostReport(c *gin.Context) {
	if h.deps.Reports == nil {
		respondError(c, http.StatusServiceUnavailable, "reports are not configured")
		return
	}

	kind := analytics.ReportKind(strings.ToLower(c.Param("kind")))
	report, err := h.deps.Reports.Generate(c.Request.Context(), kind)
	if err != nil && report == nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	if err != nil {
		respondOK(c, "report generated, email failed: "+err.Error(), report)
		return
	}
	respondOK(c, "report generated", report)
}

// GetJobs handles GET /api/admin/jobs
func (h *AdminHandlers) GetJobs(c *gin.Context) {
	if h.deps.Jobs == nil {
		respondOK(c, "ok", []scheduler.EntryInfo{})
		return
	}
	respondOK(c, "ok", h.deps.Jobs.Entries())
}

// PostRunJob handles POST /api/admin/jobs/:name/run
func (h *AdminHandlers) PostRunJob(c *gin.Context) {
	if h.deps.Jobs == nil {
		respondError(c, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	name := c.Param("name")
	if err := h.deps.Jobs.RunNow(c.Request.Context(), name); err != nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	respondOK(c, fmt.Sprintf("job %s completed", name), nil)
}

// GetMetrics handles GET /api/admin/metrics
func (h *AdminHandlers) GetMetrics(c *gin.Context) {
	data := gin.H{"operations": h.deps.PerfTracker.Snapshot()}
	if h.deps.WriterStats != nil {
		data["writerPool"] = h.deps.WriterStats()
	}
	respondOK(c, "ok", data)
}

// GetLogLevels handles GET /api/admin/logs/levels
func (h *AdminHandlers) GetLogLevels(c *gin.Context) {
	respondOK(c, "ok", h.deps.Logger.GetChannelLevels())
}

// SetLogLevel handles POST /api/admin/logs/levels
func (h *AdminHandlers) SetLogLevel(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "channel and level are required")
		return
	}

	var level slog.Level
	switch strings.ToUpper(req.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		respondError(c, http.StatusBadRequest, "invalid log level specified")
		return
	}

	if err := h.deps.Logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(c, fmt.Sprintf("log level for channel '%s' set to '%s'", req.Channel, strings.ToUpper(req.Level)), nil)
}

