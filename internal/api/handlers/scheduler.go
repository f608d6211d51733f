package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/uptime-sync/internal/scheduler"
)

func (h *Handler) SchedulerStatus(c *gin.Context) {
	respond(c, http.StatusOK, h.scheduler.Status())
}

// StartScheduler accepts an optional partial config. Values out of range
// are clamped rather than rejected.
func (h *Handler) StartScheduler(c *gin.Context) {
	var overrides scheduler.ConfigUpdate
	if err := c.ShouldBindJSON(&overrides); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}

	h.scheduler.Start(c.Request.Context(), &overrides)
	respond(c, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) StopScheduler(c *gin.Context) {
	h.scheduler.Stop()
	respond(c, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) UpdateSchedulerConfig(c *gin.Context) {
	var update scheduler.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.badRequest(c, err)
		return
	}

	cfg, err := h.scheduler.UpdateConfig(c.Request.Context(), update)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, cfg)
}
