package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/metrics"
)

func (h *Handler) GetMetricsSummary(c *gin.Context) {
	window, err := metrics.ParseWindow(c.Query("window"))
	if err != nil {
		h.fail(c, err)
		return
	}

	summary, err := h.stats.Summary(c.Request.Context(), window)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, summary)
}

func (h *Handler) GetPerformance(c *gin.Context) {
	window, err := metrics.ParseWindow(c.Query("window"))
	if err != nil {
		h.fail(c, err)
		return
	}

	perf, err := h.stats.Performance(c.Request.Context(), window)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, perf)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health, err := h.stats.Health(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, health)
}

func (h *Handler) GetCacheStats(c *gin.Context) {
	stats := h.cache.Stats()
	if h.collector != nil {
		h.collector.RecordCacheStats(stats.Hits, stats.Misses, stats.MemoryEntries)
	}
	respond(c, http.StatusOK, stats)
}

// ClearCache removes every cache entry whose key starts with ?prefix=.
// An empty prefix clears the whole namespace.
func (h *Handler) ClearCache(c *gin.Context) {
	prefix := c.Query("prefix")
	removed, err := h.cache.Clear(c.Request.Context(), prefix)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Cache cleared", zap.String("prefix", prefix), zap.Int("removed", removed))
	respond(c, http.StatusOK, gin.H{"prefix": prefix, "removed": removed})
}
