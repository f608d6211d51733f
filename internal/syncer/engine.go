// Package syncer pulls monitors and heartbeats from remote status pages and
// reconciles them into the local store. Each call to SyncSource is one run
// with its own history record and metrics sample.
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/remote"
	"github.com/leozw/uptime-sync/internal/retry"
)

const DefaultMaxRetries = 3

// Fetcher is the remote side of a sync.
type Fetcher interface {
	FetchMonitors(ctx context.Context, src *db.Source, timeout time.Duration) (*remote.StatusPagePayload, error)
	FetchHeartbeats(ctx context.Context, src *db.Source, timeout time.Duration) (*remote.HeartbeatPayload, error)
}

// Recorder receives one metrics sample per finished run.
type Recorder interface {
	RecordSync(ctx context.Context, sample *db.SyncMetric)
}

type Options struct {
	Incremental       bool          `json:"incremental"`
	IncludeHeartbeats bool          `json:"include_heartbeats"`
	Timeout           time.Duration `json:"-"`
	MaxRetries        int           `json:"max_retries"`
}

func DefaultOptions() Options {
	return Options{
		IncludeHeartbeats: true,
		Timeout:           remote.DefaultTimeout,
		MaxRetries:        DefaultMaxRetries,
	}
}

// Result is the outcome of one SyncSource call. Failures are reported here,
// not as a Go error.
type Result struct {
	SourceID          string    `json:"source_id"`
	RunID             string    `json:"run_id"`
	Success           bool      `json:"success"`
	MonitorsUpdated   int       `json:"monitors_updated"`
	HeartbeatsFetched int       `json:"heartbeats_fetched"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"duration_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

type Engine struct {
	repo        *db.Repository
	fetcher     Fetcher
	reconciler  *Reconciler
	recorder    Recorder
	events      *eventBus
	backoffBase time.Duration
	sleep       retry.SleepFunc
	logger      *zap.Logger
}

type EngineConfig struct {
	Repo        *db.Repository
	Fetcher     Fetcher
	Cache       HeartbeatCache
	CacheTTL    time.Duration
	Recorder    Recorder
	BackoffBase time.Duration
	// Sleep overrides the backoff wait; nil uses a real timer.
	Sleep  retry.SleepFunc
	Logger *zap.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:        cfg.Repo,
		fetcher:     cfg.Fetcher,
		reconciler:  NewReconciler(cfg.Repo, cfg.Cache, cfg.CacheTTL, logger),
		recorder:    cfg.Recorder,
		events:      &eventBus{logger: logger},
		backoffBase: cfg.BackoffBase,
		sleep:       cfg.Sleep,
		logger:      logger,
	}
}

// Subscribe registers a progress listener. Listeners run synchronously on the
// syncing goroutine, so they must not block. The returned func unsubscribes.
func (e *Engine) Subscribe(fn Listener) func() {
	return e.events.subscribe(fn)
}

// run carries the mutable state of one SyncSource call.
type run struct {
	src               *db.Source
	record            *db.SyncRun
	monitorsUpdated   int
	heartbeatsFetched int
}

// SyncSource runs one sync of src:
//
//	pending -> fetching-monitors -> updating-store [-> fetching-heartbeats] -> completed
//
// Any failure that survives the retry policy ends the run in failed. The
// retry wraps the monitor fetch together with its reconciliation.
func (e *Engine) SyncSource(ctx context.Context, src *db.Source, opts Options) *Result {
	started := time.Now()
	if opts.Timeout <= 0 {
		opts.Timeout = remote.DefaultTimeout
	}

	r := &run{
		src: src,
		record: &db.SyncRun{
			ID:        uuid.New().String(),
			SourceID:  src.ID,
			RunID:     uuid.New().String(),
			Status:    db.SyncPending,
			StartedAt: db.NewMillis(started),
		},
	}
	if err := e.repo.CreateSyncRun(ctx, r.record); err != nil {
		e.logger.Warn("Failed to record sync run", zap.String("source_id", src.ID), zap.Error(err))
	}
	e.publish(r, EventStarted, "")

	logger := e.logger.With(
		zap.String("source_id", src.ID),
		zap.String("slug", src.Slug),
		zap.String("run_id", r.record.RunID),
	)
	logger.Info("Sync started", zap.Bool("incremental", opts.Incremental))

	policy := retry.Policy{
		MaxAttempts: opts.MaxRetries,
		BaseDelay:   e.backoffBase,
		Sleep:       e.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("Sync attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			ev := e.event(r, EventRetry, err.Error())
			ev.Attempt = attempt
			e.events.publish(ev)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return e.attempt(ctx, r, opts, logger)
	})

	result := &Result{
		SourceID:          src.ID,
		RunID:             r.record.RunID,
		MonitorsUpdated:   r.monitorsUpdated,
		HeartbeatsFetched: r.heartbeatsFetched,
		Timestamp:         started,
	}

	if err != nil {
		msg := err.Error()
		result.Error = msg
		r.record.ErrorMessage = &msg
		e.finish(ctx, r, db.SyncFailed, started)
		result.DurationMs = r.record.DurationMs
		logger.Error("Sync failed", zap.Error(err), zap.Int64("duration_ms", result.DurationMs))
		e.publish(r, EventFailed, msg)
		return result
	}

	result.Success = true
	e.finish(ctx, r, db.SyncCompleted, started)
	result.DurationMs = r.record.DurationMs
	logger.Info("Sync completed",
		zap.Int("monitors_updated", result.MonitorsUpdated),
		zap.Int("heartbeats_fetched", result.HeartbeatsFetched),
		zap.Int64("duration_ms", result.DurationMs),
	)
	e.publish(r, EventCompleted, "")
	return result
}

func (e *Engine) attempt(ctx context.Context, r *run, opts Options, logger *zap.Logger) error {
	r.monitorsUpdated, r.heartbeatsFetched = 0, 0

	e.transition(ctx, r, db.SyncFetchingMonitors)
	payload, err := e.fetcher.FetchMonitors(ctx, r.src, opts.Timeout)
	if err != nil {
		return err
	}

	e.transition(ctx, r, db.SyncUpdatingStore)
	res, err := e.reconciler.ReconcileMonitors(ctx, r.src, payload)
	if err != nil {
		return err
	}
	r.monitorsUpdated = res.MonitorsUpdated

	// Pages that embed their heartbeats are persisted by ReconcileMonitors.
	// Only pages without them use the heartbeat endpoint, whose map goes to
	// the cache and not the store.
	if payload.HeartbeatList != nil {
		r.heartbeatsFetched = res.HeartbeatsFetched
		logger.Debug("Inline heartbeats stored",
			zap.Int("fetched", res.HeartbeatsFetched),
			zap.Int("inserted", res.HeartbeatsInserted),
		)
		return nil
	}
	if !opts.IncludeHeartbeats {
		return nil
	}

	e.transition(ctx, r, db.SyncFetchingHeartbeats)
	hb, err := e.fetcher.FetchHeartbeats(ctx, r.src, opts.Timeout)
	if err != nil {
		logger.Warn("Heartbeat fetch failed, continuing without heartbeats", zap.Error(err))
		return nil
	}
	r.heartbeatsFetched = e.reconciler.CacheHeartbeats(ctx, r.src, hb)
	return nil
}

func (e *Engine) transition(ctx context.Context, r *run, status db.SyncStatus) {
	r.record.Status = status
	r.record.MonitorsUpdated = r.monitorsUpdated
	r.record.HeartbeatsFetched = r.heartbeatsFetched
	if err := e.repo.UpdateSyncRun(ctx, r.record); err != nil {
		e.logger.Warn("Failed to update sync run",
			zap.String("run_id", r.record.RunID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	e.publish(r, EventStatus, "")
}

func (e *Engine) finish(ctx context.Context, r *run, status db.SyncStatus, started time.Time) {
	completed := time.Now()
	r.record.CompletedAt = db.NewMillis(completed)
	r.record.DurationMs = completed.Sub(started).Milliseconds()

	// Bookkeeping must land even when the caller's context is already done.
	bctx := context.WithoutCancel(ctx)
	e.transition(bctx, r, status)

	if e.recorder != nil {
		e.recorder.RecordSync(bctx, &db.SyncMetric{
			ID:                uuid.New().String(),
			SourceID:          r.src.ID,
			RunID:             r.record.RunID,
			DurationMs:        r.record.DurationMs,
			Success:           status == db.SyncCompleted,
			MonitorsUpdated:   r.monitorsUpdated,
			HeartbeatsFetched: r.heartbeatsFetched,
			ErrorMessage:      r.record.ErrorMessage,
			Timestamp:         r.record.CompletedAt,
		})
	}
}

func (e *Engine) event(r *run, typ EventType, msg string) Event {
	return Event{
		Type:              typ,
		SourceID:          r.src.ID,
		SourceName:        r.src.Name,
		RunID:             r.record.RunID,
		Status:            r.record.Status,
		MonitorsUpdated:   r.monitorsUpdated,
		HeartbeatsFetched: r.heartbeatsFetched,
		Message:           msg,
		Timestamp:         time.Now(),
	}
}

func (e *Engine) publish(r *run, typ EventType, msg string) {
	e.events.publish(e.event(r, typ, msg))
}
