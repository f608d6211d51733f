package metrics

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
)

// ResultTTL is how long an aggregation result is reused.
const ResultTTL = time.Minute

type Window string

const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case "":
		return Window24h, nil
	case Window24h, Window7d, Window30d:
		return w, nil
	default:
		return "", core.Invalid("unknown window %q, expected 24h, 7d or 30d", s)
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type Summary struct {
	Window          Window    `json:"window"`
	TotalSyncs      int       `json:"total_syncs"`
	SuccessfulSyncs int       `json:"successful_syncs"`
	FailedSyncs     int       `json:"failed_syncs"`
	SuccessRate     float64   `json:"success_rate"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	LastSyncAt      db.Millis `json:"last_sync_at"`
	LastSuccessAt   db.Millis `json:"last_success_at"`
	TotalSources    int       `json:"total_sources"`
	TotalMonitors   int       `json:"total_monitors"`
}

// Performance describes the durations of successful runs in a window.
type Performance struct {
	Window Window  `json:"window"`
	Count  int     `json:"count"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  int64   `json:"p50_ms"`
	P90Ms  int64   `json:"p90_ms"`
	P95Ms  int64   `json:"p95_ms"`
	P99Ms  int64   `json:"p99_ms"`
}

type cachedResult struct {
	value any
	at    time.Time
}

// Service records sync samples and answers aggregate queries over them.
type Service struct {
	repo      *db.Repository
	collector *Collector
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	results map[string]cachedResult
	// gen changes on every Invalidate; results computed across a change are not stored.
	gen uint64
}

func NewService(repo *db.Repository, collector *Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		collector: collector,
		logger:    logger,
		now:       time.Now,
		results:   make(map[string]cachedResult),
	}
}

// RecordSync persists one sample and drops every cached aggregate. A failed
// write is logged and otherwise ignored.
func (s *Service) RecordSync(ctx context.Context, sample *db.SyncMetric) {
	if err := s.repo.InsertSyncMetric(ctx, sample); err != nil {
		s.logger.Error("Failed to record sync metric",
			zap.String("source_id", sample.SourceID),
			zap.String("run_id", sample.RunID),
			zap.Error(err),
		)
	}
	s.Invalidate()

	if s.collector != nil {
		s.collector.RecordSync(sample)
	}
}

func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	clear(s.results)
}

func (s *Service) cached(key string, compute func() (any, error)) (any, error) {
	now := s.now()

	s.mu.Lock()
	if r, ok := s.results[key]; ok && now.Sub(r.at) < ResultTTL {
		s.mu.Unlock()
		return r.value, nil
	}
	gen := s.gen
	s.mu.Unlock()

	v, err := compute()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.results[key] = cachedResult{value: v, at: now}
	}
	s.mu.Unlock()
	return v, nil
}

func (s *Service) Summary(ctx context.Context, window Window) (*Summary, error) {
	v, err := s.cached("summary:"+string(window), func() (any, error) {
		return s.summary(ctx, window)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

func (s *Service) summary(ctx context.Context, window Window) (*Summary, error) {
	agg, err := s.repo.AggregateSyncMetrics(ctx, s.now().Add(-window.Duration()))
	if err != nil {
		return nil, fmt.Errorf("aggregate sync metrics: %w", err)
	}
	sources, err := s.repo.CountSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sources: %w", err)
	}
	monitors, err := s.repo.CountMonitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("count monitors: %w", err)
	}
	if s.collector != nil {
		s.collector.RecordInventory(sources, monitors)
	}

	return &Summary{
		Window:          window,
		TotalSyncs:      agg.Total,
		SuccessfulSyncs: agg.Successful,
		FailedSyncs:     agg.Total - agg.Successful,
		SuccessRate:     successRate(agg.Successful, agg.Total),
		AvgDurationMs:   agg.AvgDurationMs,
		LastSyncAt:      agg.LastRunAt,
		LastSuccessAt:   agg.LastSuccessAt,
		TotalSources:    sources,
		TotalMonitors:   monitors,
	}, nil
}

// successRate is a percentage; no runs at all counts as 100.
func successRate(successful, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(successful) / float64(total) * 100
}

func (s *Service) Performance(ctx context.Context, window Window) (*Performance, error) {
	v, err := s.cached("performance:"+string(window), func() (any, error) {
		durations, err := s.repo.SuccessfulDurations(ctx, s.now().Add(-window.Duration()))
		if err != nil {
			return nil, fmt.Errorf("load durations: %w", err)
		}
		p := performance(durations)
		p.Window = window
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Performance), nil
}

// performance expects durations sorted ascending.
func performance(durations []int64) *Performance {
	p := &Performance{Count: len(durations)}
	if len(durations) == 0 {
		return p
	}

	var sum int64
	for _, d := range durations {
		sum += d
	}
	p.MinMs = durations[0]
	p.MaxMs = durations[len(durations)-1]
	p.AvgMs = float64(sum) / float64(len(durations))
	p.P50Ms = Percentile(durations, 0.50)
	p.P90Ms = Percentile(durations, 0.90)
	p.P95Ms = Percentile(durations, 0.95)
	p.P99Ms = Percentile(durations, 0.99)
	return p
}

// Percentile is the nearest-rank percentile of an ascending slice: the value
// at index ceil(n*p)-1, clamped to the slice.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}
