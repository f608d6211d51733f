// Package scheduler times recurring syncs of every configured source and
// fans them out in bounded batches.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/metrics"
	"github.com/leozw/uptime-sync/internal/retry"
	"github.com/leozw/uptime-sync/internal/syncer"
)

const (
	DefaultWarmup     = 10 * time.Second
	DefaultBatchPause = time.Second
)

// Syncer runs one sync of one source.
type Syncer interface {
	SyncSource(ctx context.Context, src *db.Source, opts syncer.Options) *syncer.Result
}

type Options struct {
	Warmup     time.Duration
	BatchPause time.Duration
	// Sleep overrides the pause between batches.
	Sleep retry.SleepFunc
}

type Scheduler struct {
	repo      *db.Repository
	engine    Syncer
	collector *metrics.Collector
	logger    *zap.Logger
	opts      Options

	// ctx outlives Stop; in-flight syncs keep running when timers are cancelled.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cfg     Config
	running bool
	warmup  *time.Timer
	stopCh  chan struct{}
	lastRun time.Time
	jobs    map[string]*Job
}

// Job is a sync that is currently running.
type Job struct {
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name"`
	StartedAt  time.Time `json:"started_at"`
}

type Status struct {
	Running    bool       `json:"running"`
	LastRun    *time.Time `json:"last_run"`
	NextRun    *time.Time `json:"next_run"`
	ActiveJobs []Job      `json:"active_jobs"`
	Config     Config     `json:"config"`
}

// NewScheduler loads the persisted config. A missing or unreadable config
// falls back to defaults.
func NewScheduler(repo *db.Repository, engine Syncer, collector *metrics.Collector, logger *zap.Logger, opts Options) *Scheduler {
	if opts.Warmup <= 0 {
		opts.Warmup = DefaultWarmup
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		repo:      repo,
		engine:    engine,
		collector: collector,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
	}

	cfg, err := loadConfig(ctx, repo)
	if err != nil {
		logger.Warn("Failed to load scheduler config, using defaults", zap.Error(err))
	}
	s.cfg = cfg
	return s
}

// Start stops any armed timers, merges overrides into the config, clamps it
// and persists it, then arms the warm-up delay followed by the recurring
// timer. Whether a tick syncs anything is decided when it fires.
func (s *Scheduler) Start(ctx context.Context, overrides *ConfigUpdate) Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.cfg = s.cfg.merge(overrides).clamp()
	if err := saveConfig(ctx, s.repo, s.cfg); err != nil {
		s.logger.Error("Failed to persist scheduler config", zap.Error(err))
	}
	s.armLocked()

	s.logger.Info("Scheduler started",
		zap.Int("interval_seconds", s.cfg.IntervalSeconds),
		zap.Bool("enabled", s.cfg.Enabled),
		zap.Int("concurrent_syncs", s.cfg.ConcurrentSyncs),
		zap.String("strategy", string(s.cfg.Strategy)),
	)
	return s.cfg
}

// Stop cancels the warm-up delay and the recurring timer. Syncs already
// running are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Info("Stopping scheduler")
	}
	s.stopLocked()
}

// Close stops the timers and cancels every in-flight sync.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
}

func (s *Scheduler) stopLocked() {
	if s.warmup != nil {
		s.warmup.Stop()
		s.warmup = nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.running = false
	if s.collector != nil {
		s.collector.SetSchedulerRunning(false)
	}
}

func (s *Scheduler) armLocked() {
	stop := make(chan struct{})
	interval := s.cfg.Interval()

	s.stopCh = stop
	s.running = true
	s.warmup = time.AfterFunc(s.opts.Warmup, func() {
		select {
		case <-stop:
			return
		default:
		}
		s.tick()
		s.loop(stop, interval)
	})
	if s.collector != nil {
		s.collector.SetSchedulerRunning(true)
	}
}

func (s *Scheduler) loop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick syncs the sources the configured strategy considers due.
func (s *Scheduler) tick() {
	cfg := s.Config()
	if !cfg.Enabled {
		s.logger.Debug("Scheduled sync skipped, auto sync disabled")
		return
	}

	sources, err := s.repo.ListSources(s.ctx)
	if err != nil {
		s.logger.Error("Failed to list sources", zap.Error(err))
		return
	}

	strategy := syncer.DefaultStrategy(cfg.Strategy)
	now := time.Now()
	due := make([]*db.Source, 0, len(sources))
	for _, src := range sources {
		last, err := s.repo.LastSyncRun(s.ctx, src.ID)
		if err != nil {
			s.logger.Warn("Failed to load last sync run", zap.String("source_id", src.ID), zap.Error(err))
		}
		if strategy.ShouldSync(last, now) {
			due = append(due, src)
		}
	}

	s.logger.Debug("Scheduled sync",
		zap.Int("sources", len(sources)),
		zap.Int("due", len(due)),
		zap.String("strategy", string(cfg.Strategy)),
	)
	if len(due) == 0 {
		return
	}

	s.markRun()
	results := s.runBatches(s.ctx, due, strategy.Options(cfg.DefaultOptions.engineOptions()), cfg.ConcurrentSyncs)
	s.logSummary("Scheduled sync finished", results)
}

// SyncAllSources syncs every source with the default options in batches of
// ConcurrentSyncs and returns one result per source in source order.
func (s *Scheduler) SyncAllSources(ctx context.Context) ([]*syncer.Result, error) {
	sources, err := s.repo.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	cfg := s.Config()
	return s.runBatches(ctx, sources, cfg.DefaultOptions.engineOptions(), cfg.ConcurrentSyncs), nil
}

// SyncAllSourcesNow is SyncAllSources on demand; it updates the last run
// time and, like SyncSourceNow, ignores cancellation of ctx.
func (s *Scheduler) SyncAllSourcesNow(ctx context.Context) ([]*syncer.Result, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	s.markRun()
	results, err := s.SyncAllSources(ctx)
	if err == nil {
		s.logSummary("On-demand sync finished", results)
	}
	return results, err
}

// SyncSourceNow syncs one source with the default options. Cancelling ctx
// does not interrupt the sync.
func (s *Scheduler) SyncSourceNow(ctx context.Context, sourceID string) (*syncer.Result, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	src, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	s.markRun()
	return s.runJob(ctx, src, s.Config().DefaultOptions.engineOptions()), nil
}

// detach keeps the values of ctx but not its cancellation. The returned
// context is done only when the scheduler is closed, so an on-demand sync
// outlives the request that started it.
func (s *Scheduler) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}

// UpdateConfig validates and persists a partial config. A changed interval
// re-arms a running scheduler.
func (s *Scheduler) UpdateConfig(ctx context.Context, u ConfigUpdate) (Config, error) {
	if err := u.Validate(); err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	next := prev.merge(&u).clamp()
	if err := saveConfig(ctx, s.repo, next); err != nil {
		return prev, err
	}
	s.cfg = next

	if s.running && next.IntervalSeconds != prev.IntervalSeconds {
		s.logger.Info("Scheduler interval changed, restarting",
			zap.Int("from", prev.IntervalSeconds),
			zap.Int("to", next.IntervalSeconds),
		)
		s.stopLocked()
		s.armLocked()
	}
	return next, nil
}

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.running,
		ActiveJobs: make([]Job, 0, len(s.jobs)),
		Config:     s.cfg,
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		next := last.Add(s.cfg.Interval())
		st.LastRun = &last
		st.NextRun = &next
	}
	for _, j := range s.jobs {
		st.ActiveJobs = append(st.ActiveJobs, *j)
	}
	return st
}

func (s *Scheduler) markRun() {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) logSummary(msg string, results []*syncer.Result) {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	s.logger.Info(msg,
		zap.Int("sources", len(results)),
		zap.Int("successful", ok),
		zap.Int("failed", len(results)-ok),
	)
}
