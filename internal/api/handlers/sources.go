package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/remote"
	"github.com/leozw/uptime-sync/internal/syncer"
)

type SourceRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
	URL  string `json:"url" binding:"required"`
	Slug string `json:"slug" binding:"required,min=1,max=255"`
}

func (r *SourceRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Slug = strings.TrimSpace(r.Slug)
	r.URL = strings.TrimRight(strings.TrimSpace(r.URL), "/")

	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.Invalid("url must be an absolute http or https URL")
	}
	if r.Name == "" || r.Slug == "" {
		return core.Invalid("name and slug are required")
	}
	return nil
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.repo.ListSources(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, sources)
}

func (h *Handler) CreateSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := req.normalize(); err != nil {
		h.fail(c, err)
		return
	}

	now := db.Now()
	src := &db.Source{
		ID:        uuid.New().String(),
		Name:      req.Name,
		URL:       req.URL,
		Slug:      req.Slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateSource(c.Request.Context(), src); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Source created",
		zap.String("source_id", src.ID),
		zap.String("url", src.URL),
		zap.String("slug", src.Slug),
	)
	respond(c, http.StatusCreated, src)
}

func (h *Handler) GetSource(c *gin.Context) {
	src, err := h.repo.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, src)
}

func (h *Handler) UpdateSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := req.normalize(); err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	src, err := h.repo.GetSource(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	src.Name = req.Name
	src.URL = req.URL
	src.Slug = req.Slug
	src.UpdatedAt = db.Now()
	if err := h.repo.UpdateSource(ctx, src); err != nil {
		h.fail(c, err)
		return
	}

	// The cached heartbeats belong to the old page.
	h.cache.Delete(ctx, syncer.HeartbeatCacheKey(src.ID))
	respond(c, http.StatusOK, src)
}

func (h *Handler) DeleteSource(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.repo.DeleteSource(ctx, id); err != nil {
		h.fail(c, err)
		return
	}

	h.cache.Delete(ctx, syncer.HeartbeatCacheKey(id))
	if h.collector != nil {
		h.collector.ForgetSource(id)
	}
	h.stats.Invalidate()

	h.logger.Info("Source deleted", zap.String("source_id", id))
	respond(c, http.StatusOK, gin.H{"id": id})
}

// ListSourceMonitors returns the monitors of a source with 24h uptime and
// average ping over the stored heartbeats.
func (h *Handler) ListSourceMonitors(c *gin.Context) {
	ctx := c.Request.Context()
	src, err := h.repo.GetSource(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	summaries, err := h.repo.MonitorSummaries(ctx, src.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, summaries)
}

// ListMonitorHeartbeats returns stored heartbeats of one monitor, newest first.
func (h *Handler) ListMonitorHeartbeats(c *gin.Context) {
	monitorID, err := strconv.ParseInt(c.Param("monitorId"), 10, 64)
	if err != nil {
		h.fail(c, core.Invalid("monitor id must be an integer"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	ctx := c.Request.Context()
	src, err := h.repo.GetSource(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	heartbeats, err := h.repo.ListHeartbeats(ctx, src.ID, monitorID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, heartbeats)
}

// GetSourceHeartbeats serves the heartbeat-endpoint payload of a source from
// the cache, fetching and caching it on a miss.
func (h *Handler) GetSourceHeartbeats(c *gin.Context) {
	ctx := c.Request.Context()
	src, err := h.repo.GetSource(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	key := syncer.HeartbeatCacheKey(src.ID)
	var payload remote.HeartbeatPayload
	hit, err := h.cache.Get(ctx, key, &payload)
	if err != nil {
		h.logger.Warn("Discarding unreadable cached heartbeats", zap.String("source_id", src.ID), zap.Error(err))
		hit = false
	}
	if hit {
		respond(c, http.StatusOK, gin.H{"source_id": src.ID, "cached": true, "heartbeats": payload})
		return
	}

	fetched, err := h.fetcher.FetchHeartbeats(ctx, src, remote.DefaultTimeout)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.cache.Set(ctx, key, fetched, h.cacheTTL); err != nil {
		h.logger.Warn("Failed to cache heartbeats", zap.String("source_id", src.ID), zap.Error(err))
	}
	respond(c, http.StatusOK, gin.H{"source_id": src.ID, "cached": false, "heartbeats": fetched})
}
