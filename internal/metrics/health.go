package metrics

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

const (
	degradedSuccessRate  = 90.0
	unhealthySuccessRate = 50.0
	maxAvgDurationMs     = 30_000.0
	successFreshness     = time.Hour
)

type Health struct {
	Status        HealthStatus `json:"status"`
	SuccessRate   float64      `json:"success_rate"`
	AvgDurationMs float64      `json:"avg_duration_ms"`
	Issues        []string     `json:"issues"`
	Summary       *Summary     `json:"summary"`
	CheckedAt     time.Time    `json:"checked_at"`
}

// Health evaluates the last 24 hours of sync samples.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	summary, err := s.Summary(ctx, Window24h)
	if err != nil {
		return nil, err
	}
	return evaluate(summary, s.now()), nil
}

func evaluate(summary *Summary, now time.Time) *Health {
	h := &Health{
		Status:        HealthHealthy,
		SuccessRate:   summary.SuccessRate,
		AvgDurationMs: summary.AvgDurationMs,
		Issues:        []string{},
		Summary:       summary,
		CheckedAt:     now,
	}

	if summary.SuccessRate < degradedSuccessRate {
		h.Issues = append(h.Issues, fmt.Sprintf("low success rate: %.1f%%", summary.SuccessRate))
	}
	if summary.LastSuccessAt.IsZero() || now.Sub(summary.LastSuccessAt.Time) > successFreshness {
		h.Issues = append(h.Issues, "no successful sync in the last hour")
	}
	if summary.AvgDurationMs > maxAvgDurationMs {
		h.Issues = append(h.Issues, fmt.Sprintf("high average sync duration: %.0fms", summary.AvgDurationMs))
	}

	switch {
	case summary.SuccessRate < unhealthySuccessRate:
		h.Status = HealthUnhealthy
	case len(h.Issues) > 0:
		h.Status = HealthDegraded
	}
	return h
}
