package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/db"
)

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Invalidator drops cached aggregates after samples are removed.
type Invalidator interface {
	Invalidate()
}

type PurgeResult struct {
	SyncRuns     int64 `json:"sync_runs"`
	SyncMetrics  int64 `json:"sync_metrics"`
	CacheEntries int   `json:"cache_entries"`
}

// Purger removes sync history and metrics older than a retention window.
type Purger struct {
	repo        *db.Repository
	cache       Sweeper
	invalidator Invalidator
	logger      *zap.Logger
}

func NewPurger(repo *db.Repository, cache Sweeper, invalidator Invalidator, logger *zap.Logger) *Purger {
	return &Purger{repo: repo, cache: cache, invalidator: invalidator, logger: logger}
}

func (p *Purger) PurgeOlderThan(ctx context.Context, retention time.Duration) (*PurgeResult, error) {
	cutoff := time.Now().Add(-retention)
	res := &PurgeResult{}

	var err error
	if res.SyncRuns, err = p.repo.PurgeSyncHistory(ctx, cutoff); err != nil {
		return res, err
	}
	if res.SyncMetrics, err = p.repo.PurgeSyncMetrics(ctx, cutoff); err != nil {
		return res, err
	}
	if p.invalidator != nil && res.SyncMetrics > 0 {
		p.invalidator.Invalidate()
	}
	if p.cache != nil {
		if res.CacheEntries, err = p.cache.Sweep(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Run purges every interval until ctx is done.
func (p *Purger) Run(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := p.PurgeOlderThan(ctx, retention)
			if err != nil {
				p.logger.Error("Purge failed", zap.Error(err))
				continue
			}
			p.logger.Info("Purged old sync data",
				zap.Int64("sync_runs", res.SyncRuns),
				zap.Int64("sync_metrics", res.SyncMetrics),
				zap.Int("cache_entries", res.CacheEntries),
			)
		}
	}
}
