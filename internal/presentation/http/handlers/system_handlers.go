package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

const (
	serviceName        = "visitstats"
	serviceVersion     = "1.0.0"
	serviceDescription = "Page visit ingestion, aggregation and retention service"
	healthCheckTimeout = 3 * time.Second
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// SystemHandlers serves the health and info endpoints.
type SystemHandlers struct {
	checks    map[string]HealthCheck
	details   func() map[string]any
	startedAt time.Time
	logger    *logging.ChanneledLogger
}

// NewSystemHandlers creates the handlers. details may be nil; its result is
// merged into the health payload.
func NewSystemHandlers(checks map[string]HealthCheck, details func() map[string]any, startedAt time.Time, logger *logging.ChanneledLogger) *SystemHandlers {
	return &SystemHandlers{
		checks:    checks,
		details:   details,
		startedAt: startedAt,
		logger:    logger,
	}
}

// GetHealth handles GET /api/analytics/health
func (h *SystemHandlers) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	healthy := true
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			healthy = false
			components[name] = "down: " + err.Error()
			h.logger.System().Warn("Health check failed", "component", name, "error", err.Error())
			continue
		}
		components[name] = "up"
	}

	data := gin.H{
		"status":     "UP",
		"components": components,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"startedAt":  h.startedAt,
	}
	if h.details != nil {
		for k, v := range h.details() {
			data[k] = v
		}
	}

	if !healthy {
		data["status"] = "DEGRADED"
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:      http.StatusServiceUnavailable,
			Message:   "one or more components are unavailable",
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	respondOK(c, "service is healthy", data)
}

// GetInfo handles GET /api/analytics/info
func (h *SystemHandlers) GetInfo(c *gin.Context) {
	respondOK(c, "ok", gin.H{
		"service":     serviceName,
		"version":     serviceVersion,
		"description": serviceDescription,
		"endpoints": []string{
			"POST /api/analytics/visit",
			"GET /api/analytics/stats/today",
			"GET /api/analytics/stats/range",
			"GET /api/analytics/stats/hot-pages",
			"GET /api/analytics/stats/realtime",
			"GET /api/analytics/stats/realtime/ws",
			"GET /api/analytics/stats/hourly",
			"GET /api/analytics/stats/page",
			"GET /api/analytics/stats/region",
			"GET /api/analytics/stats/browser",
			"GET /api/analytics/stats/os",
			"GET /api/analytics/stats/referer",
			"GET /api/analytics/health",
			"GET /api/analytics/info",
		},
	})
}
