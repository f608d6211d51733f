package syncer

import (
	"fmt"
	"time"

	"github.com/leozw/uptime-sync/internal/db"
)

type StrategyKind string

const (
	StrategyFull          StrategyKind = "full"
	StrategyIncremental   StrategyKind = "incremental"
	StrategySmart         StrategyKind = "smart"
	StrategyHeartbeatOnly StrategyKind = "heartbeat-only"
	StrategyDelta         StrategyKind = "delta"
)

func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(s); k {
	case StrategyFull, StrategyIncremental, StrategySmart, StrategyHeartbeatOnly, StrategyDelta:
		return k, nil
	case "":
		return StrategySmart, nil
	default:
		return "", fmt.Errorf("unknown sync strategy %q", s)
	}
}

// Strategy decides whether a source is due on a scheduler tick and how it
// should be synced. Which parameters matter depends on Kind.
type Strategy struct {
	Kind StrategyKind
	// MinInterval is the minimum age of the last run before syncing again.
	MinInterval time.Duration
	// MaxStaleness bounds how long a source that produced no changes is left alone.
	MaxStaleness time.Duration
	// FailureBackoff is the wait after a failed run (smart only).
	FailureBackoff time.Duration
}

func DefaultStrategy(kind StrategyKind) Strategy {
	switch kind {
	case StrategyIncremental:
		return Strategy{Kind: kind, MinInterval: 5 * time.Minute}
	case StrategyHeartbeatOnly:
		return Strategy{Kind: kind}
	case StrategyDelta:
		return Strategy{Kind: kind, MinInterval: time.Minute, MaxStaleness: 15 * time.Minute}
	case StrategyFull:
		return Strategy{Kind: kind}
	default:
		return Strategy{Kind: StrategySmart, FailureBackoff: time.Minute, MaxStaleness: 10 * time.Minute}
	}
}

// ShouldSync reports whether a source whose last finished run is last
// (nil when it never ran) is due at now.
func (s Strategy) ShouldSync(last *db.SyncRun, now time.Time) bool {
	if last == nil {
		return true
	}
	age := now.Sub(lastActivity(last))

	switch s.Kind {
	case StrategyFull, StrategyHeartbeatOnly:
		return true
	case StrategyIncremental:
		return age >= s.MinInterval
	case StrategyDelta:
		if last.Status == db.SyncFailed || last.MonitorsUpdated+last.HeartbeatsFetched > 0 {
			return age >= s.MinInterval
		}
		return age >= s.MaxStaleness
	default:
		switch {
		case last.Status == db.SyncFailed:
			return age >= s.FailureBackoff
		case last.MonitorsUpdated == 0 && s.MaxStaleness > 0:
			return age >= s.MaxStaleness
		default:
			return age >= s.MinInterval
		}
	}
}

// Options derives the sync options for this strategy from the defaults.
func (s Strategy) Options(base Options) Options {
	opts := base
	switch s.Kind {
	case StrategyFull:
		opts.Incremental = false
		opts.IncludeHeartbeats = true
	case StrategyIncremental, StrategyDelta:
		opts.Incremental = true
	case StrategyHeartbeatOnly:
		opts.Incremental = true
		opts.IncludeHeartbeats = true
	}
	return opts
}

func lastActivity(run *db.SyncRun) time.Time {
	if !run.CompletedAt.IsZero() {
		return run.CompletedAt.Time
	}
	return run.StartedAt.Time
}
