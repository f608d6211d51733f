package syncer

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/remote"
)

// HeartbeatCache receives heartbeat maps fetched from the dedicated endpoint.
type HeartbeatCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// HeartbeatCacheKey is the cache key holding the latest heartbeat map of a source.
func HeartbeatCacheKey(sourceID string) string {
	return "heartbeats:" + sourceID
}

type ReconcileResult struct {
	MonitorsUpdated int
	// HeartbeatsFetched counts the inline heartbeats received, HeartbeatsInserted
	// the ones that were new to the store.
	HeartbeatsFetched  int
	HeartbeatsInserted int
}

// Reconciler merges remote payloads into local state.
type Reconciler struct {
	repo     *db.Repository
	cache    HeartbeatCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(repo *db.Repository, cache HeartbeatCache, cacheTTL time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// ReconcileMonitors upserts every monitor of the payload. Every entry counts
// as updated whether or not its fields changed. Monitors are never deleted
// here: a monitor missing from the payload stays in the store.
//
// When the page embeds a heartbeat map it is persisted as well; duplicates of
// (monitor, source, timestamp) are ignored.
func (r *Reconciler) ReconcileMonitors(ctx context.Context, src *db.Source, payload *remote.StatusPagePayload) (ReconcileResult, error) {
	var res ReconcileResult
	now := db.NewMillis(r.now())

	for _, group := range payload.PublicGroupList {
		for _, rm := range group.MonitorList {
			m := &db.Monitor{
				ID:        rm.ID,
				SourceID:  src.ID,
				Name:      rm.Name,
				URL:       rm.URL,
				Type:      rm.Type,
				Interval:  rm.Interval,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := r.repo.UpsertMonitor(ctx, m); err != nil {
				return res, err
			}
			res.MonitorsUpdated++
		}
	}

	if payload.HeartbeatList != nil {
		for _, beats := range payload.HeartbeatList {
			res.HeartbeatsFetched += len(beats)
		}
		n, err := r.PersistHeartbeats(ctx, src, payload.HeartbeatList)
		if err != nil {
			return res, err
		}
		res.HeartbeatsInserted = n
	}
	return res, nil
}

// PersistHeartbeats inserts heartbeats keyed by monitor id and returns how many
// rows were new. Entries with an unparseable key or time are skipped.
func (r *Reconciler) PersistHeartbeats(ctx context.Context, src *db.Source, list map[string][]remote.RawHeartbeat) (int, error) {
	inserted := 0
	for key, beats := range list {
		monitorID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			r.logger.Warn("Skipping heartbeats with invalid monitor id",
				zap.String("source_id", src.ID),
				zap.String("key", key),
			)
			continue
		}

		for _, raw := range beats {
			ts, err := core.ParseTimestamp(raw.Time)
			if err != nil {
				r.logger.Warn("Skipping heartbeat with invalid time",
					zap.String("source_id", src.ID),
					zap.Int64("monitor_id", monitorID),
					zap.Error(err),
				)
				continue
			}

			h := &db.Heartbeat{
				MonitorID: monitorID,
				SourceID:  src.ID,
				Status:    core.HeartbeatStatusFromCode(raw.Status),
				Ping:      raw.Ping,
				Important: bool(raw.Important),
				Duration:  raw.Duration,
				Timestamp: db.NewMillis(ts),
			}
			if raw.Msg != "" {
				msg := raw.Msg
				h.Msg = &msg
			}

			ok, err := r.repo.InsertHeartbeat(ctx, h)
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted++
			}
		}
	}
	return inserted, nil
}

// CacheHeartbeats stores the heartbeat map under the source's cache key and
// returns the number of monitors it covers. Nothing is written to the store.
func (r *Reconciler) CacheHeartbeats(ctx context.Context, src *db.Source, payload *remote.HeartbeatPayload) int {
	if r.cache != nil {
		if err := r.cache.Set(ctx, HeartbeatCacheKey(src.ID), payload, r.cacheTTL); err != nil {
			r.logger.Warn("Failed to cache heartbeats",
				zap.String("source_id", src.ID),
				zap.Error(err),
			)
		}
	}
	return len(payload.HeartbeatList)
}
