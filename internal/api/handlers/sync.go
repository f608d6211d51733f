package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leozw/uptime-sync/internal/syncer"
)

func (h *Handler) SyncAll(c *gin.Context) {
	results, err := h.scheduler.SyncAllSourcesNow(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	respond(c, http.StatusOK, gin.H{
		"total":      len(results),
		"successful": ok,
		"failed":     len(results) - ok,
		"results":    results,
	})
}

// SyncSource runs one source now. A failed sync is still a 200 carrying
// success:false in the result.
func (h *Handler) SyncSource(c *gin.Context) {
	result, err := h.scheduler.SyncSourceNow(c.Request.Context(), c.Param("sourceId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

func (h *Handler) ListSyncHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	runs, err := h.repo.ListSyncRuns(c.Request.Context(), c.Query("source_id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, runs)
}

func (h *Handler) GetSyncRun(c *gin.Context) {
	run, err := h.repo.GetSyncRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, run)
}

const eventKeepAlive = 15 * time.Second

// SyncEvents streams sync progress as server-sent events until the client
// goes away. Events are dropped for a client that falls behind.
func (h *Handler) SyncEvents(c *gin.Context) {
	events := make(chan syncer.Event, 64)
	unsubscribe := h.events.Subscribe(func(ev syncer.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			c.SSEvent(string(ev.Type), ev)
			return true
		case t := <-keepAlive.C:
			c.SSEvent("ping", t.Unix())
			return true
		}
	})
}
