package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/db/dbtest"
)

func newSource(id, url, slug string) *db.Source {
	now := db.Now()
	return &db.Source{ID: id, Name: id, URL: url, Slug: slug, CreatedAt: now, UpdatedAt: now}
}

func strPtr(s string) *string { return &s }

func TestSourceCRUD(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)

	src := newSource("s1", "https://ex.com", "main")
	require.NoError(t, repo.CreateSource(ctx, src))

	got, err := repo.GetSource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://ex.com", got.URL)
	assert.Equal(t, src.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	err = repo.CreateSource(ctx, newSource("s2", "https://ex.com", "main"))
	assert.ErrorIs(t, err, core.ErrConflict)

	got.Name = "renamed"
	got.UpdatedAt = db.Now()
	require.NoError(t, repo.UpdateSource(ctx, got))

	sources, err := repo.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "renamed", sources[0].Name)

	_, err = repo.GetSource(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = repo.UpdateSource(ctx, newSource("missing", "https://other.com", "x"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeleteSourceCascades(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)

	require.NoError(t, repo.CreateSource(ctx, newSource("s1", "https://ex.com", "main")))
	require.NoError(t, repo.UpsertMonitor(ctx, &db.Monitor{ID: 7, SourceID: "s1", Name: "web", CreatedAt: db.Now(), UpdatedAt: db.Now()}))
	_, err := repo.InsertHeartbeat(ctx, &db.Heartbeat{MonitorID: 7, SourceID: "s1", Status: core.HeartbeatUp, Timestamp: db.Now()})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteSource(ctx, "s1"))

	monitors, err := repo.ListMonitors(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, monitors)

	count, err := repo.CountHeartbeats(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, repo.DeleteSource(ctx, "s1"), core.ErrNotFound)
}

func TestUpsertMonitorOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)
	require.NoError(t, repo.CreateSource(ctx, newSource("s1", "https://ex.com", "main")))

	m := &db.Monitor{ID: 7, SourceID: "s1", Name: "web", URL: strPtr("https://ex.com/"), CreatedAt: db.Now(), UpdatedAt: db.Now()}
	require.NoError(t, repo.UpsertMonitor(ctx, m))

	m.Name = "web-renamed"
	m.Type = strPtr("http")
	require.NoError(t, repo.UpsertMonitor(ctx, m))

	monitors, err := repo.ListMonitors(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "web-renamed", monitors[0].Name)
	require.NotNil(t, monitors[0].Type)
	assert.Equal(t, "http", *monitors[0].Type)
}

func TestInsertHeartbeatIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)
	require.NoError(t, repo.CreateSource(ctx, newSource("s1", "https://ex.com", "main")))

	ts := db.NewMillis(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ping := 42.0
	hb := &db.Heartbeat{MonitorID: 7, SourceID: "s1", Status: core.HeartbeatUp, Ping: &ping, Timestamp: ts}

	inserted, err := repo.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertHeartbeat(ctx, hb)
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := repo.ListHeartbeats(ctx, "s1", 7, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, ts.Equal(list[0].Timestamp.Time))
	assert.Equal(t, 42.0, *list[0].Ping)
}

func TestMonitorSummaries(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)
	require.NoError(t, repo.CreateSource(ctx, newSource("s1", "https://ex.com", "main")))
	require.NoError(t, repo.UpsertMonitor(ctx, &db.Monitor{ID: 1, SourceID: "s1", Name: "api", CreatedAt: db.Now(), UpdatedAt: db.Now()}))

	base := time.Now().Add(-time.Hour)
	statuses := []core.HeartbeatStatus{core.HeartbeatUp, core.HeartbeatUp, core.HeartbeatDown, core.HeartbeatUp}
	for i, st := range statuses {
		ping := float64(10 * (i + 1))
		_, err := repo.InsertHeartbeat(ctx, &db.Heartbeat{
			MonitorID: 1, SourceID: "s1", Status: st, Ping: &ping,
			Timestamp: db.NewMillis(base.Add(time.Duration(i) * time.Minute)),
		})
		require.NoError(t, err)
	}

	summaries, err := repo.MonitorSummaries(ctx, "s1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "api", s.Name)
	require.NotNil(t, s.LastStatus)
	assert.Equal(t, "up", *s.LastStatus)
	require.NotNil(t, s.UptimePercent)
	assert.InDelta(t, 75.0, *s.UptimePercent, 0.001)
	require.NotNil(t, s.AvgPing)
	assert.InDelta(t, 25.0, *s.AvgPing, 0.001)
}

func TestSyncRunLifecycleAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)

	old := &db.SyncRun{ID: "h1", SourceID: "s1", RunID: "r1", Status: db.SyncPending,
		StartedAt: db.NewMillis(time.Now().Add(-48 * time.Hour))}
	require.NoError(t, repo.CreateSyncRun(ctx, old))

	old.Status = db.SyncFailed
	old.ErrorMessage = strPtr("boom")
	old.CompletedAt = db.NewMillis(old.StartedAt.Add(time.Second))
	old.DurationMs = 1000
	require.NoError(t, repo.UpdateSyncRun(ctx, old))

	fresh := &db.SyncRun{ID: "h2", SourceID: "s1", RunID: "r2", Status: db.SyncCompleted,
		StartedAt: db.Now(), CompletedAt: db.Now()}
	require.NoError(t, repo.CreateSyncRun(ctx, fresh))

	last, err := repo.LastSyncRun(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "r2", last.RunID)

	// A run still in flight is not a finished run.
	running := &db.SyncRun{ID: "h3", SourceID: "s1", RunID: "r3", Status: db.SyncFetchingMonitors,
		StartedAt: db.NewMillis(time.Now().Add(time.Second))}
	require.NoError(t, repo.CreateSyncRun(ctx, running))
	assert.False(t, running.Status.Terminal())

	last, err = repo.LastSyncRun(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "r2", last.RunID)
	assert.True(t, last.Status.Terminal())

	got, err := repo.GetSyncRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, db.SyncFailed, got.Status)
	assert.Equal(t, "boom", *got.ErrorMessage)

	runs, err := repo.ListSyncRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].RunID)

	n, err := repo.PurgeSyncHistory(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSyncRun(ctx, "r1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	none, err := repo.LastSyncRun(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAggregateSyncMetrics(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)

	now := time.Now()
	samples := []struct {
		dur     int64
		success bool
	}{{100, true}, {300, true}, {200, false}}
	for i, s := range samples {
		require.NoError(t, repo.InsertSyncMetric(ctx, &db.SyncMetric{
			ID: string(rune('a' + i)), SourceID: "s1", RunID: string(rune('a' + i)),
			DurationMs: s.dur, Success: s.success,
			Timestamp: db.NewMillis(now.Add(time.Duration(-i) * time.Minute)),
		}))
	}

	agg, err := repo.AggregateSyncMetrics(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 2, agg.Successful)
	assert.InDelta(t, 200.0, agg.AvgDurationMs, 0.001)
	assert.False(t, agg.LastRunAt.IsZero())
	assert.False(t, agg.LastSuccessAt.IsZero())

	durations, err := repo.SuccessfulDurations(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 300}, durations)

	empty, err := repo.AggregateSyncMetrics(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.True(t, empty.LastRunAt.IsZero())
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	repo := dbtest.Repository(t)

	_, err := repo.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, repo.PutSetting(ctx, "k", "v1"))
	require.NoError(t, repo.PutSetting(ctx, "k", "v2"))

	v, err := repo.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestCacheStore(t *testing.T) {
	ctx := context.Background()
	store := db.NewCacheStore(dbtest.Repository(t))

	now := time.Now()
	require.NoError(t, store.Store(ctx, &db.CacheEntry{Key: "uptime:a", Data: `{"x":1}`, Timestamp: db.NewMillis(now), TTL: 60000, CreatedAt: db.NewMillis(now)}))
	require.NoError(t, store.Store(ctx, &db.CacheEntry{Key: "uptime:b", Data: `{}`, Timestamp: db.NewMillis(now.Add(-time.Minute)), TTL: 1000, CreatedAt: db.NewMillis(now)}))
	require.NoError(t, store.Store(ctx, &db.CacheEntry{Key: "other_x", Data: `{}`, Timestamp: db.NewMillis(now), TTL: 60000, CreatedAt: db.NewMillis(now)}))

	e, err := store.Load(ctx, "uptime:a")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, e.Data)
	assert.False(t, e.Expired(now))

	keys, err := store.Keys(ctx, "uptime:")
	require.NoError(t, err)
	assert.Equal(t, []string{"uptime:a", "uptime:b"}, keys)

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Load(ctx, "uptime:b")
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err = store.DeletePrefix(ctx, "other_")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
