package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/syncer"
)

const errAlreadyRunning = "sync already in progress"

// runBatches syncs sources in batches of size. Every source of a batch runs
// concurrently and the next batch starts only after all of them settled.
// Results keep the order of sources.
func (s *Scheduler) runBatches(ctx context.Context, sources []*db.Source, opts syncer.Options, size int) []*syncer.Result {
	size = max(size, 1)
	results := make([]*syncer.Result, 0, len(sources))

	for start := 0; start < len(sources); start += size {
		if start > 0 && s.opts.BatchPause > 0 {
			if err := s.opts.Sleep(ctx, s.opts.BatchPause); err != nil {
				s.logger.Warn("Batch sync interrupted", zap.Error(err))
			}
		}

		batch := sources[start:min(start+size, len(sources))]
		batchResults := make([]*syncer.Result, len(batch))

		var wg sync.WaitGroup
		for i, src := range batch {
			wg.Add(1)
			go func(i int, src *db.Source) {
				defer wg.Done()
				batchResults[i] = s.runJob(ctx, src, opts)
			}(i, src)
		}
		wg.Wait()

		results = append(results, batchResults...)
	}

	return results
}

// runJob registers src in the job map for the duration of its sync. A source
// that already has a job is not synced again; a panic becomes a failed result.
func (s *Scheduler) runJob(ctx context.Context, src *db.Source, opts syncer.Options) (result *syncer.Result) {
	started := time.Now()
	if !s.acquire(src, started) {
		s.logger.Warn("Sync skipped, source already syncing", zap.String("source_id", src.ID))
		return failedResult(src, errAlreadyRunning, started)
	}
	defer s.release(src.ID)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sync panicked",
				zap.String("source_id", src.ID),
				zap.Any("panic", r),
			)
			result = failedResult(src, fmt.Sprintf("sync panicked: %v", r), started)
		}
	}()

	result = s.engine.SyncSource(ctx, src, opts)
	if result == nil {
		result = failedResult(src, "sync returned no result", started)
	}
	return result
}

func (s *Scheduler) acquire(src *db.Source, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.jobs[src.ID]; busy {
		return false
	}
	s.jobs[src.ID] = &Job{SourceID: src.ID, SourceName: src.Name, StartedAt: at}
	if s.collector != nil {
		s.collector.SetInFlight(len(s.jobs))
	}
	return true
}

func (s *Scheduler) release(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, sourceID)
	if s.collector != nil {
		s.collector.SetInFlight(len(s.jobs))
	}
}

func failedResult(src *db.Source, msg string, started time.Time) *syncer.Result {
	return &syncer.Result{
		SourceID:   src.ID,
		Success:    false,
		Error:      msg,
		DurationMs: time.Since(started).Milliseconds(),
		Timestamp:  started,
	}
}
