package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const maxRangeDays = 365

// StatsReader answers the read queries.
type StatsReader interface {
	Today() int
	GetTodayStats(ctx context.Context) *analytics.DailyStats
	GetRangeStats(ctx context.Context, startKey, endKey int) *analytics.RangeStats
	GetHotPages(ctx context.Context, days, limit int) []analytics.PageStats
	GetRealtimeStats(ctx context.Context) *analytics.RealtimeStats
	GetHourlyStats(ctx context.Context, dateKey int) []int64
	GetPageStats(ctx context.Context, pageURL string, days int) []analytics.PageStats
	GetBrowserStats(ctx context.Context, dateKey int) []analytics.BreakdownItem
	GetOSStats(ctx context.Context, dateKey int) []analytics.BreakdownItem
	GetRegionStats(ctx context.Context, days, limit int) []analytics.BreakdownItem
	GetRefererStats(ctx context.Context, days, limit int) []analytics.BreakdownItem
}

// RealtimeServer takes over an upgraded connection and pushes realtime stats to it.
type RealtimeServer interface {
	Serve(conn *websocket.Conn)
}

// AnalyticsHandlers contains the stats query endpoints.
type AnalyticsHandlers struct {
	stats    StatsReader
	realtime RealtimeServer
	upgrader websocket.Upgrader
	logger   *logging.ChanneledLogger
}

// NewAnalyticsHandlers creates the stats handlers. Websocket upgrades are
// accepted from allowedOrigins, or from any origin when it contains "*".
func NewAnalyticsHandlers(stats StatsReader, realtime RealtimeServer, allowedOrigins []string, logger *logging.ChanneledLogger) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		stats:    stats,
		realtime: realtime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// GetTodayStats handles GET /api/analytics/stats/today
func (h *AnalyticsHandlers) GetTodayStats(c *gin.Context) {
	respondOK(c, "ok", h.stats.GetTodayStats(c.Request.Context()))
}

// GetRangeStats handles GET /api/analytics/stats/range?startDate=&endDate=
func (h *AnalyticsHandlers) GetRangeStats(c *gin.Context) {
	startKey, err := dateParam(c, "startDate", 0)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	endKey, err := dateParam(c, "endDate", 0)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	if startKey > endKey {
		h.badRequest(c, badParam("startDate must not be after endDate"))
		return
	}
	if endKey > utils.AddDays(startKey, maxRangeDays) {
		h.badRequest(c, badParam("date range must not exceed %d days", maxRangeDays))
		return
	}

	respondOK(c, "ok", h.stats.GetRangeStats(c.Request.Context(), startKey, endKey))
}

// GetHotPages handles GET /api/analytics/stats/hot-pages?days=&limit=
func (h *AnalyticsHandlers) GetHotPages(c *gin.Context) {
	days, limit, err := windowParams(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetHotPages(c.Request.Context(), days, limit))
}

// GetRealtimeStats handles GET /api/analytics/stats/realtime
func (h *AnalyticsHandlers) GetRealtimeStats(c *gin.Context) {
	respondOK(c, "ok", h.stats.GetRealtimeStats(c.Request.Context()))
}

// GetHourlyStats handles GET /api/analytics/stats/hourly?date=
func (h *AnalyticsHandlers) GetHourlyStats(c *gin.Context) {
	dateKey, err := h.pastDate(c, 0)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetHourlyStats(c.Request.Context(), dateKey))
}

// GetPageStats handles GET /api/analytics/stats/page?pageUrl=&days=
func (h *AnalyticsHandlers) GetPageStats(c *gin.Context) {
	pageURL := strings.TrimSpace(c.Query("pageUrl"))
	if pageURL == "" {
		h.badRequest(c, badParam("pageUrl is required"))
		return
	}
	days, err := intParam(c, "days", 7, 1, maxRangeDays)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetPageStats(c.Request.Context(), pageURL, days))
}

// GetRegionStats handles GET /api/analytics/stats/region?days=&limit=
func (h *AnalyticsHandlers) GetRegionStats(c *gin.Context) {
	days, limit, err := windowParams(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetRegionStats(c.Request.Context(), days, limit))
}

// GetRefererStats handles GET /api/analytics/stats/referer?days=&limit=
func (h *AnalyticsHandlers) GetRefererStats(c *gin.Context) {
	days, limit, err := windowParams(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetRefererStats(c.Request.Context(), days, limit))
}

// GetBrowserStats handles GET /api/analytics/stats/browser?date=
func (h *AnalyticsHandlers) GetBrowserStats(c *gin.Context) {
	dateKey, err := h.pastDate(c, h.stats.Today())
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetBrowserStats(c.Request.Context(), dateKey))
}

// GetOSStats handles GET /api/analytics/stats/os?date=
func (h *AnalyticsHandlers) GetOSStats(c *gin.Context) {
	dateKey, err := h.pastDate(c, h.stats.Today())
	if err != nil {
		h.badRequest(c, err)
		return
	}
	respondOK(c, "ok", h.stats.GetOSStats(c.Request.Context(), dateKey))
}

// StreamRealtime handles GET /api/analytics/stats/realtime/ws
func (h *AnalyticsHandlers) StreamRealtime(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Realtime().Warn("Websocket upgrade failed", "error", err.Error(), "origin", c.GetHeader("Origin"))
		return
	}
	h.logger.Realtime().Debug("Realtime client connected", "remote", c.Request.RemoteAddr)
	h.realtime.Serve(conn)
}

func (h *AnalyticsHandlers) pastDate(c *gin.Context, def int) (int, error) {
	dateKey, err := dateParam(c, "date", def)
	if err != nil {
		return 0, err
	}
	if dateKey > h.stats.Today() {
		return 0, badParam("date must not be in the future")
	}
	return dateKey, nil
}

func (h *AnalyticsHandlers) badRequest(c *gin.Context, err error) {
	h.logger.Analytics().Debug("Rejected stats query", "path", c.Request.URL.Path, "error", err.Error())
	respondError(c, statusFor(err), err.Error())
}

func windowParams(c *gin.Context) (days, limit int, err error) {
	if days, err = intParam(c, "days", 7, 1, maxRangeDays); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(c, "limit", 10, 1, 100); err != nil {
		return 0, 0, err
	}
	return days, limit, nil
}
