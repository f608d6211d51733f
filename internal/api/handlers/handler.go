package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/cache"
	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/metrics"
	"github.com/leozw/uptime-sync/internal/scheduler"
	"github.com/leozw/uptime-sync/internal/syncer"
)

// EventSource is where sync progress events come from.
type EventSource interface {
	Subscribe(fn syncer.Listener) func()
}

type Handler struct {
	repo      *db.Repository
	scheduler *scheduler.Scheduler
	stats     *metrics.Service
	collector *metrics.Collector
	cache     *cache.Cache
	cacheTTL  time.Duration
	fetcher   syncer.Fetcher
	events    EventSource
	logger    *zap.Logger
}

type Deps struct {
	Repo      *db.Repository
	Scheduler *scheduler.Scheduler
	Stats     *metrics.Service
	Collector *metrics.Collector
	Cache     *cache.Cache
	CacheTTL  time.Duration
	Fetcher   syncer.Fetcher
	Events    EventSource
	Logger    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		repo:      d.Repo,
		scheduler: d.Scheduler,
		stats:     d.Stats,
		collector: d.Collector,
		cache:     d.Cache,
		cacheTTL:  d.CacheTTL,
		fetcher:   d.Fetcher,
		events:    d.Events,
		logger:    d.Logger,
	}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail writes the error envelope with the status class of err. Unexpected
// errors are logged and their text is not exposed.
func (h *Handler) fail(c *gin.Context, err error) {
	status := core.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}
