package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/api/handlers"
	"github.com/leozw/uptime-sync/internal/api/middleware"
	"github.com/leozw/uptime-sync/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	Handler *handlers.Handler
}

// NewServer wires the admin routes. The /api/v1 group requires a bearer
// token only when a JWT secret is configured.
func NewServer(cfg *config.Config, h *handlers.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		Handler: h,
	}

	server.setupRoutes(gatherer)
	return server
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	h := s.Handler

	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api/v1")
	if s.Config.Auth.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	}

	// Sync routes
	{
		api.POST("/sync", h.SyncAll)
		api.POST("/sync/:sourceId", h.SyncSource)
		api.GET("/sync/history", h.ListSyncHistory)
		api.GET("/sync/history/:runId", h.GetSyncRun)
		api.GET("/sync/events", h.SyncEvents)
	}

	// Scheduler routes
	{
		api.GET("/scheduler/status", h.SchedulerStatus)
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.PUT("/scheduler/config", h.UpdateSchedulerConfig)
	}

	// Metrics routes
	{
		api.GET("/metrics", h.GetMetricsSummary)
		api.GET("/metrics/performance", h.GetPerformance)
		api.GET("/metrics/health", h.GetHealth)
		api.GET("/metrics/cache", h.GetCacheStats)
		api.DELETE("/cache", h.ClearCache)
	}

	// Source routes
	{
		api.GET("/sources", h.ListSources)
		api.POST("/sources", h.CreateSource)
		api.GET("/sources/:id", h.GetSource)
		api.PUT("/sources/:id", h.UpdateSource)
		api.DELETE("/sources/:id", h.DeleteSource)
		api.GET("/sources/:id/monitors", h.ListSourceMonitors)
		api.GET("/sources/:id/monitors/:monitorId/heartbeats", h.ListMonitorHeartbeats)
		api.GET("/sources/:id/heartbeats", h.GetSourceHeartbeats)
	}
}
