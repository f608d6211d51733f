package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/uptime-sync/internal/db"
)

func finishedRun(status db.SyncStatus, at time.Time, monitors, heartbeats int) *db.SyncRun {
	return &db.SyncRun{
		Status:            status,
		StartedAt:         db.NewMillis(at.Add(-time.Second)),
		CompletedAt:       db.NewMillis(at),
		MonitorsUpdated:   monitors,
		HeartbeatsFetched: heartbeats,
	}
}

func TestParseStrategyKind(t *testing.T) {
	k, err := ParseStrategyKind("")
	require.NoError(t, err)
	assert.Equal(t, StrategySmart, k)

	k, err = ParseStrategyKind("heartbeat-only")
	require.NoError(t, err)
	assert.Equal(t, StrategyHeartbeatOnly, k)

	_, err = ParseStrategyKind("sometimes")
	assert.Error(t, err)
}

func TestShouldSync(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		strategy Strategy
		last     *db.SyncRun
		want     bool
	}{
		{"never synced", DefaultStrategy(StrategyIncremental), nil, true},
		{"full always", DefaultStrategy(StrategyFull), finishedRun(db.SyncCompleted, now, 3, 3), true},
		{"incremental too soon", DefaultStrategy(StrategyIncremental), finishedRun(db.SyncCompleted, now.Add(-time.Minute), 3, 0), false},
		{"incremental due", DefaultStrategy(StrategyIncremental), finishedRun(db.SyncCompleted, now.Add(-6*time.Minute), 3, 0), true},
		{"smart after success", DefaultStrategy(StrategySmart), finishedRun(db.SyncCompleted, now.Add(-time.Second), 3, 0), true},
		{"smart backs off after failure", DefaultStrategy(StrategySmart), finishedRun(db.SyncFailed, now.Add(-30*time.Second), 0, 0), false},
		{"smart retries after backoff", DefaultStrategy(StrategySmart), finishedRun(db.SyncFailed, now.Add(-2*time.Minute), 0, 0), true},
		{"smart empty page is stale-bounded", DefaultStrategy(StrategySmart), finishedRun(db.SyncCompleted, now.Add(-5*time.Minute), 0, 0), false},
		{"delta with changes", DefaultStrategy(StrategyDelta), finishedRun(db.SyncCompleted, now.Add(-2*time.Minute), 1, 0), true},
		{"delta without changes", DefaultStrategy(StrategyDelta), finishedRun(db.SyncCompleted, now.Add(-2*time.Minute), 0, 0), false},
		{"heartbeat-only always", DefaultStrategy(StrategyHeartbeatOnly), finishedRun(db.SyncCompleted, now, 0, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.ShouldSync(tt.last, now))
		})
	}
}

func TestStrategyOptions(t *testing.T) {
	base := DefaultOptions()
	base.IncludeHeartbeats = false

	full := DefaultStrategy(StrategyFull).Options(base)
	assert.True(t, full.IncludeHeartbeats)
	assert.False(t, full.Incremental)

	inc := DefaultStrategy(StrategyIncremental).Options(base)
	assert.True(t, inc.Incremental)
	assert.False(t, inc.IncludeHeartbeats)

	smart := DefaultStrategy(StrategySmart).Options(base)
	assert.Equal(t, base, smart)
}
