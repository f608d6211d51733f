package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/db/dbtest"
	"github.com/leozw/uptime-sync/internal/syncer"
)

type fakeEngine struct {
	delay    time.Duration
	block    map[string]chan struct{}
	panicOn  string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32

	mu   sync.Mutex
	opts []syncer.Options
}

func (e *fakeEngine) SyncSource(ctx context.Context, src *db.Source, opts syncer.Options) *syncer.Result {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	e.mu.Lock()
	e.opts = append(e.opts, opts)
	e.mu.Unlock()

	if src.ID == e.panicOn {
		panic("remote exploded")
	}
	if ch, ok := e.block[src.ID]; ok {
		<-ch
	}
	time.Sleep(e.delay)
	return &syncer.Result{SourceID: src.ID, Success: true, MonitorsUpdated: 1}
}

type pauses struct {
	mu sync.Mutex
	n  int
}

func (p *pauses) sleep(context.Context, time.Duration) error {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func seedSources(t *testing.T, repo *db.Repository, n int) []*db.Source {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	sources := make([]*db.Source, 0, n)
	for i := 0; i < n; i++ {
		src := &db.Source{
			ID:        fmt.Sprintf("src-%d", i),
			Name:      fmt.Sprintf("Source %d", i),
			URL:       "https://status.example.com",
			Slug:      fmt.Sprintf("page-%d", i),
			CreatedAt: db.NewMillis(base.Add(time.Duration(i) * time.Second)),
			UpdatedAt: db.Now(),
		}
		require.NoError(t, repo.CreateSource(context.Background(), src))
		sources = append(sources, src)
	}
	return sources
}

func newScheduler(t *testing.T, engine Syncer, opts Options) (*Scheduler, *db.Repository) {
	t.Helper()
	repo := dbtest.Repository(t)
	s := NewScheduler(repo, engine, nil, zap.NewNop(), opts)
	t.Cleanup(s.Close)
	return s, repo
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestStartClampsIntervalAndPersists(t *testing.T) {
	s, repo := newScheduler(t, &fakeEngine{}, Options{Warmup: time.Hour})
	ctx := context.Background()

	cfg := s.Start(ctx, &ConfigUpdate{IntervalSeconds: intPtr(5)})
	assert.Equal(t, 30, cfg.IntervalSeconds)
	assert.True(t, s.Running())

	loaded, err := loadConfig(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 30, loaded.IntervalSeconds)

	enabled, err := repo.GetSetting(ctx, AutoSyncEnabledSettingKey)
	require.NoError(t, err)
	assert.Equal(t, "true", enabled)
	interval, err := repo.GetSetting(ctx, AutoSyncIntervalSettingKey)
	require.NoError(t, err)
	assert.Equal(t, "30", interval)

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestConfigSurvivesRestart(t *testing.T) {
	repo := dbtest.Repository(t)
	ctx := context.Background()

	first := NewScheduler(repo, &fakeEngine{}, nil, zap.NewNop(), Options{Warmup: time.Hour})
	_, err := first.UpdateConfig(ctx, ConfigUpdate{IntervalSeconds: intPtr(120), ConcurrentSyncs: intPtr(5)})
	require.NoError(t, err)
	first.Close()

	second := NewScheduler(repo, &fakeEngine{}, nil, zap.NewNop(), Options{Warmup: time.Hour})
	defer second.Close()
	cfg := second.Config()
	assert.Equal(t, 120, cfg.IntervalSeconds)
	assert.Equal(t, 5, cfg.ConcurrentSyncs)
	assert.Equal(t, syncer.StrategySmart, cfg.Strategy)
}

func TestUpdateConfigMergesDefaultOptionsFieldByField(t *testing.T) {
	s, repo := newScheduler(t, &fakeEngine{}, Options{Warmup: time.Hour})
	ctx := context.Background()

	cfg, err := s.UpdateConfig(ctx, ConfigUpdate{DefaultOptions: &SyncOptionsUpdate{MaxRetries: intPtr(5)}})
	require.NoError(t, err)
	assert.Equal(t, SyncOptions{IncludeHeartbeats: true, TimeoutMs: 30_000, MaxRetries: 5}, cfg.DefaultOptions)

	cfg, err = s.UpdateConfig(ctx, ConfigUpdate{DefaultOptions: &SyncOptionsUpdate{Incremental: boolPtr(true)}})
	require.NoError(t, err)
	assert.Equal(t, SyncOptions{IncludeHeartbeats: true, Incremental: true, TimeoutMs: 30_000, MaxRetries: 5}, cfg.DefaultOptions)

	loaded, err := loadConfig(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, cfg.DefaultOptions, loaded.DefaultOptions)

	_, err = s.UpdateConfig(ctx, ConfigUpdate{DefaultOptions: &SyncOptionsUpdate{TimeoutMs: intPtr(-1)}})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateConfigRejectsShortInterval(t *testing.T) {
	s, _ := newScheduler(t, &fakeEngine{}, Options{Warmup: time.Hour})

	_, err := s.UpdateConfig(context.Background(), ConfigUpdate{IntervalSeconds: intPtr(10)})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, DefaultIntervalSeconds, s.Config().IntervalSeconds)

	bad := syncer.StrategyKind("sometimes")
	_, err = s.UpdateConfig(context.Background(), ConfigUpdate{Strategy: &bad})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdateConfigRestartsOnIntervalChange(t *testing.T) {
	s, _ := newScheduler(t, &fakeEngine{}, Options{Warmup: time.Hour})
	ctx := context.Background()

	s.Start(ctx, nil)
	cfg, err := s.UpdateConfig(ctx, ConfigUpdate{IntervalSeconds: intPtr(60)})
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.IntervalSeconds)
	assert.True(t, s.Running())

	s.Stop()
	_, err = s.UpdateConfig(ctx, ConfigUpdate{IntervalSeconds: intPtr(90)})
	require.NoError(t, err)
	assert.False(t, s.Running())
}

func TestSyncAllSourcesBatches(t *testing.T) {
	engine := &fakeEngine{delay: 20 * time.Millisecond}
	p := &pauses{}
	s, repo := newScheduler(t, engine, Options{Warmup: time.Hour, BatchPause: time.Second, Sleep: p.sleep})
	ctx := context.Background()

	sources := seedSources(t, repo, 7)
	_, err := s.UpdateConfig(ctx, ConfigUpdate{ConcurrentSyncs: intPtr(3)})
	require.NoError(t, err)

	results, err := s.SyncAllSources(ctx)
	require.NoError(t, err)

	require.Len(t, results, 7)
	for i, r := range results {
		assert.Equal(t, sources[i].ID, r.SourceID)
		assert.True(t, r.Success)
	}
	assert.LessOrEqual(t, engine.maxSeen.Load(), int32(3))
	assert.Equal(t, int32(7), engine.calls.Load())
	assert.Equal(t, 2, p.n, "3 batches need 2 pauses")
	assert.Empty(t, s.Status().ActiveJobs)
}

func TestSyncAllSourcesContainsPanics(t *testing.T) {
	engine := &fakeEngine{panicOn: "src-1"}
	s, repo := newScheduler(t, engine, Options{Warmup: time.Hour})
	seedSources(t, repo, 3)

	results, err := s.SyncAllSources(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "remote exploded")
	assert.True(t, results[2].Success)
	assert.Empty(t, s.Status().ActiveJobs)
}

func TestSameSourceGuard(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{block: map[string]chan struct{}{"src-0": release}}
	s, repo := newScheduler(t, engine, Options{Warmup: time.Hour})
	seedSources(t, repo, 1)
	ctx := context.Background()

	done := make(chan *syncer.Result, 1)
	go func() {
		r, _ := s.SyncSourceNow(ctx, "src-0")
		done <- r
	}()

	require.Eventually(t, func() bool {
		return len(s.Status().ActiveJobs) == 1
	}, time.Second, 5*time.Millisecond)

	second, err := s.SyncSourceNow(ctx, "src-0")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, errAlreadyRunning, second.Error)

	status := s.Status()
	require.Len(t, status.ActiveJobs, 1)
	assert.Equal(t, "Source 0", status.ActiveJobs[0].SourceName)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, status.LastRun.Add(s.Config().Interval()), *status.NextRun)

	close(release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, int32(1), engine.calls.Load())
}

// ctxEngine reports whether the context it was given is done after a delay.
type ctxEngine struct {
	delay time.Duration
}

func (e ctxEngine) SyncSource(ctx context.Context, src *db.Source, _ syncer.Options) *syncer.Result {
	select {
	case <-time.After(e.delay):
		return &syncer.Result{SourceID: src.ID, Success: true}
	case <-ctx.Done():
		return &syncer.Result{SourceID: src.ID, Error: ctx.Err().Error()}
	}
}

func TestSyncNowOutlivesCallerContext(t *testing.T) {
	s, repo := newScheduler(t, ctxEngine{delay: 100 * time.Millisecond}, Options{Warmup: time.Hour})
	seedSources(t, repo, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r, err := s.SyncSourceNow(ctx, "src-0")
	require.NoError(t, err)
	assert.True(t, r.Success, r.Error)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	results, err := s.SyncAllSourcesNow(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, r.Error)
	}
}

func TestCloseCancelsSyncNow(t *testing.T) {
	repo := dbtest.Repository(t)
	seedSources(t, repo, 1)
	s := NewScheduler(repo, ctxEngine{delay: time.Minute}, nil, zap.NewNop(), Options{Warmup: time.Hour})

	time.AfterFunc(100*time.Millisecond, s.Close)
	r, err := s.SyncSourceNow(context.Background(), "src-0")
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, context.Canceled.Error(), r.Error)
}

func TestSyncSourceNowUnknownSource(t *testing.T) {
	s, _ := newScheduler(t, &fakeEngine{}, Options{Warmup: time.Hour})

	_, err := s.SyncSourceNow(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTimerRespectsEnabledAtFireTime(t *testing.T) {
	engine := &fakeEngine{}
	s, repo := newScheduler(t, engine, Options{Warmup: 50 * time.Millisecond})
	seedSources(t, repo, 2)
	ctx := context.Background()

	// Armed while enabled, disabled before the warm-up fires. The interval
	// is unchanged so the timers are not re-armed.
	s.Start(ctx, &ConfigUpdate{Enabled: boolPtr(true)})
	_, err := s.UpdateConfig(ctx, ConfigUpdate{Enabled: boolPtr(false)})
	require.NoError(t, err)
	require.True(t, s.Running())

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, engine.calls.Load())
}

func TestTimerSyncsDueSourcesWhenEnabled(t *testing.T) {
	engine := &fakeEngine{}
	s, repo := newScheduler(t, engine, Options{Warmup: 10 * time.Millisecond})
	seedSources(t, repo, 2)

	s.Start(context.Background(), &ConfigUpdate{Enabled: boolPtr(true), Strategy: strategyPtr(syncer.StrategyFull)})
	require.Eventually(t, func() bool {
		return engine.calls.Load() == 2
	}, time.Second, 5*time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.True(t, engine.opts[0].IncludeHeartbeats)
	assert.Equal(t, 30*time.Second, engine.opts[0].Timeout)
}

func strategyPtr(k syncer.StrategyKind) *syncer.StrategyKind { return &k }
