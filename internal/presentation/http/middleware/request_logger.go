package middleware

import (
	"time"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs each request on the system channel once it completes.
// Server errors log at error level, client errors at warn, the rest at debug.
func RequestLogger(logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"clientIp", c.ClientIP(),
		}
		switch {
		case status >= 500:
			logger.System().Error("HTTP request failed", attrs...)
		case status >= 400:
			logger.System().Warn("HTTP request rejected", attrs...)
		default:
			logger.System().Debug("HTTP request", attrs...)
		}
	}
}
