// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"context"

	"github.com/AtRiskMedia/visitstats/internal/application/container"
	"github.com/AtRiskMedia/visitstats/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/visitstats/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/visitstats/pkg/config"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(container.Logger))
	r.Use(middleware.CORSMiddleware(config.AllowedOrigins))

	// Initialize handlers
	visitHandlers := handlers.NewVisitHandlers(container.IngestionService, container.Logger)
	analyticsHandlers := handlers.NewAnalyticsHandlers(container.StatsService, container.Broadcaster, config.AllowedOrigins, container.Logger)
	systemHandlers := handlers.NewSystemHandlers(
		map[string]handlers.HealthCheck{
			"counters": container.Counters.Ping,
			"database": func(ctx context.Context) error { return container.DB.PingContext(ctx) },
		},
		func() map[string]any {
			return map[string]any{
				"counterBackend":  container.CounterBackend(),
				"writerPool":      container.WriterPool.Stats(),
				"realtimeClients": container.Broadcaster.ClientCount(),
				"reconcileState":  container.ReconciliationService.State().String(),
			}
		},
		container.StartedAt,
		container.Logger,
	)
	authHandlers := handlers.NewAuthHandlers(container.AuthService, container.Logger)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminDeps{
		Stats:       container.StatsService,
		Reconcile:   container.ReconciliationService,
		Retention:   container.RetentionService,
		Reports:     container.ReportService,
		Jobs:        container.Scheduler,
		PerfTracker: container.PerfTracker,
		WriterStats: container.WriterPool.Stats,
		Logger:      container.Logger,
	})

	api := r.Group("/api/analytics")
	{
		api.POST("/visit", visitHandlers.PostVisit)
		api.GET("/health", systemHandlers.GetHealth)
		api.GET("/info", systemHandlers.GetInfo)

		stats := api.Group("/stats")
		{
			stats.GET("/today", analyticsHandlers.GetTodayStats)
			stats.GET("/range", analyticsHandlers.GetRangeStats)
			stats.GET("/hot-pages", analyticsHandlers.GetHotPages)
			stats.GET("/realtime", analyticsHandlers.GetRealtimeStats)
			stats.GET("/realtime/ws", analyticsHandlers.StreamRealtime)
			stats.GET("/hourly", analyticsHandlers.GetHourlyStats)
			stats.GET("/page", analyticsHandlers.GetPageStats)
			stats.GET("/region", analyticsHandlers.GetRegionStats)
			stats.GET("/browser", analyticsHandlers.GetBrowserStats)
			stats.GET("/os", analyticsHandlers.GetOSStats)
			stats.GET("/referer", analyticsHandlers.GetRefererStats)
		}
	}

	admin := r.Group("/api/admin")
	{
		admin.POST("/login", authHandlers.PostLogin)

		admin.Use(authHandlers.AdminAuthMiddleware())
		{
			admin.POST("/reconcile", adminHandlers.PostReconcile)
			admin.POST("/retention", adminHandlers.PostRetention)
			admin.POST("/reports/:kind", adminHandlers.PostReport)
			admin.GET("/jobs", adminHandlers.GetJobs)
			admin.POST("/jobs/:name/run", adminHandlers.PostRunJob)
			admin.GET("/metrics", adminHandlers.GetMetrics)
			admin.GET("/logs/levels", adminHandlers.GetLogLevels)
			admin.POST("/logs/levels", adminHandlers.SetLogLevel)
		}
	}

	return r
}
