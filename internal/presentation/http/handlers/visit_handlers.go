package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// VisitRecorder records one page visit.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, input analytics.VisitInput) (*analytics.VisitEvent, error)
}

// VisitHandlers handles visit ingestion.
type VisitHandlers struct {
	ingestion VisitRecorder
	logger    *logging.ChanneledLogger
}

func NewVisitHandlers(ingestion VisitRecorder, logger *logging.ChanneledLogger) *VisitHandlers {
	return &VisitHandlers{
		ingestion: ingestion,
		logger:    logger,
	}
}

type visitRequest struct {
	PageURL   string `json:"pageUrl"`
	UserAgent string `json:"userAgent"`
	Referer   string `json:"referer"`
}

// PostVisit handles POST /api/analytics/visit
func (h *VisitHandlers) PostVisit(c *gin.Context) {
	start := time.Now()

	var req visitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Ingest().Debug("Visit request JSON binding failed", "error", err.Error())
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	input := analytics.VisitInput{
		PageURL:   req.PageURL,
		IPAddress: clientIP(c),
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
	}
	if input.UserAgent == "" {
		input.UserAgent = c.GetHeader("User-Agent")
	}
	if input.Referer == "" {
		input.Referer = c.GetHeader("Referer")
	}

	event, err := h.ingestion.RecordVisit(c.Request.Context(), input)
	if err != nil {
		status := statusFor(err)
		message := "failed to record visit"
		if errors.Is(err, analytics.ErrInvalidInput) {
			message = err.Error()
		}
		h.logger.Ingest().Warn("Visit rejected", "error", err.Error(), "status", status)
		respondError(c, status, message)
		return
	}

	h.logger.Ingest().Debug("Visit request completed", "visitId", event.ID, "duration", time.Since(start))
	respondOK(c, "visit recorded", gin.H{"visitId": event.ID, "dateKey": event.DateKey})
}

var forwardedHeaders = []string{
	"X-Forwarded-For",
	"Proxy-Client-IP",
	"WL-Proxy-Client-IP",
	"HTTP_CLIENT_IP",
	"HTTP_X_FORWARDED_FOR",
	"X-Real-IP",
}

// clientIP returns the first address found in the proxy headers, falling
// back to the connection's remote address. IPv6 loopback maps to 127.0.0.1.
func clientIP(c *gin.Context) string {
	ip := ""
	for _, header := range forwardedHeaders {
		v := strings.TrimSpace(c.GetHeader(header))
		if v != "" && !strings.EqualFold(v, analytics.UnknownIP) {
			ip = v
			break
		}
	}
	if ip == "" {
		ip = c.Request.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}

	if first, _, found := strings.Cut(ip, ","); found {
		ip = strings.TrimSpace(first)
	}
	if ip == "::1" || ip == "0:0:0:0:0:0:0:1" {
		ip = "127.0.0.1"
	}
	if ip == "" {
		return "127.0.0.1"
	}
	return ip
}
