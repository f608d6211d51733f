package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/config"
	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/db/dbtest"
)

func TestPercentileNearestRank(t *testing.T) {
	durations := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	assert.Equal(t, int64(50), Percentile(durations, 0.50))
	assert.Equal(t, int64(90), Percentile(durations, 0.90))
	assert.Equal(t, int64(100), Percentile(durations, 0.95))
	assert.Equal(t, int64(100), Percentile(durations, 0.99))
	assert.Equal(t, int64(10), Percentile(durations, 0))
	assert.Equal(t, int64(0), Percentile(nil, 0.5))
	assert.Equal(t, int64(7), Percentile([]int64{7}, 0.99))
}

func TestPerformanceIsMonotonic(t *testing.T) {
	durations := []int64{3, 5, 5, 8, 13, 21, 34, 55, 89, 144, 233}
	p := performance(durations)

	assert.Equal(t, 11, p.Count)
	assert.Equal(t, int64(3), p.MinMs)
	assert.Equal(t, int64(233), p.MaxMs)
	assert.LessOrEqual(t, p.MinMs, p.P50Ms)
	assert.LessOrEqual(t, p.P50Ms, p.P90Ms)
	assert.LessOrEqual(t, p.P90Ms, p.P95Ms)
	assert.LessOrEqual(t, p.P95Ms, p.P99Ms)
	assert.LessOrEqual(t, p.P99Ms, p.MaxMs)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, Window24h, w)

	w, err = ParseWindow("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, w.Duration())

	_, err = ParseWindow("1y")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestEvaluateHealth(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := db.NewMillis(now.Add(-10 * time.Minute))

	tests := []struct {
		name    string
		summary Summary
		want    HealthStatus
		issues  int
	}{
		{"all good", Summary{SuccessRate: 100, AvgDurationMs: 500, LastSuccessAt: recent}, HealthHealthy, 0},
		{"low success", Summary{SuccessRate: 85, AvgDurationMs: 500, LastSuccessAt: recent}, HealthDegraded, 1},
		{"stale", Summary{SuccessRate: 100, LastSuccessAt: db.NewMillis(now.Add(-2 * time.Hour))}, HealthDegraded, 1},
		{"slow", Summary{SuccessRate: 100, AvgDurationMs: 31_000, LastSuccessAt: recent}, HealthDegraded, 1},
		{"no runs", Summary{SuccessRate: 100}, HealthDegraded, 1},
		{"failing", Summary{SuccessRate: 40, AvgDurationMs: 45_000, LastSuccessAt: recent}, HealthUnhealthy, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.summary
			h := evaluate(&s, now)
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Issues, tt.issues)
		})
	}
}

func sample(sourceID string, success bool, durationMs int64, at time.Time) *db.SyncMetric {
	return &db.SyncMetric{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		RunID:      uuid.New().String(),
		DurationMs: durationMs,
		Success:    success,
		Timestamp:  db.NewMillis(at),
	}
}

func TestServiceSummaryAndInvalidation(t *testing.T) {
	repo := dbtest.Repository(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	collector := NewCollector(config.MimirConfig{}, reg, reg, zap.NewNop())
	svc := NewService(repo, collector, zap.NewNop())

	now := time.Now()
	require.NoError(t, repo.CreateSource(ctx, &db.Source{ID: "s1", Name: "one", URL: "https://a", Slug: "a", CreatedAt: db.Now(), UpdatedAt: db.Now()}))

	svc.RecordSync(ctx, sample("s1", true, 100, now.Add(-time.Minute)))
	svc.RecordSync(ctx, sample("s1", true, 300, now.Add(-time.Minute)))
	svc.RecordSync(ctx, sample("s1", false, 50, now.Add(-time.Minute)))
	svc.RecordSync(ctx, sample("s1", true, 200, now.Add(-48*time.Hour)))

	sum, err := svc.Summary(ctx, Window24h)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalSyncs)
	assert.Equal(t, 2, sum.SuccessfulSyncs)
	assert.Equal(t, 1, sum.FailedSyncs)
	assert.InDelta(t, 66.67, sum.SuccessRate, 0.01)
	assert.Equal(t, 1, sum.TotalSources)

	week, err := svc.Summary(ctx, Window7d)
	require.NoError(t, err)
	assert.Equal(t, 4, week.TotalSyncs)

	perf, err := svc.Performance(ctx, Window24h)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.Count)
	assert.Equal(t, int64(100), perf.MinMs)
	assert.Equal(t, int64(300), perf.P99Ms)

	// A cached result is served until the next sample lands.
	again, err := svc.Summary(ctx, Window24h)
	require.NoError(t, err)
	assert.Same(t, sum, again)

	svc.RecordSync(ctx, sample("s1", true, 100, now))
	fresh, err := svc.Summary(ctx, Window24h)
	require.NoError(t, err)
	assert.Equal(t, 4, fresh.TotalSyncs)

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.syncsTotal.WithLabelValues("s1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.syncsTotal.WithLabelValues("s1", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sourcesTotal))
}

func TestCachedDropsResultInvalidatedDuringCompute(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())

	computed := 0
	stale := func() (any, error) {
		computed++
		// A sample lands while the aggregate is being read.
		svc.Invalidate()
		return computed, nil
	}

	v, err := svc.cached("summary:24h", stale)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = svc.cached("summary:24h", func() (any, error) {
		computed++
		return computed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v, "the result computed across an invalidation is not served")

	v, err = svc.cached("summary:24h", func() (any, error) {
		computed++
		return computed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestServiceHealthWithoutRuns(t *testing.T) {
	svc := NewService(dbtest.Repository(t), nil, zap.NewNop())

	h, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, h.Status)
	assert.Equal(t, 100.0, h.SuccessRate)
	assert.Equal(t, []string{"no successful sync in the last hour"}, h.Issues)
}
