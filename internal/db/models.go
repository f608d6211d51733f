package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/leozw/uptime-sync/internal/core"
)

type SyncStatus string

const (
	SyncPending            SyncStatus = "pending"
	SyncFetchingMonitors   SyncStatus = "fetching-monitors"
	SyncFetchingHeartbeats SyncStatus = "fetching-heartbeats"
	SyncUpdatingStore      SyncStatus = "updating-store"
	SyncCompleted          SyncStatus = "completed"
	SyncFailed             SyncStatus = "failed"
)

// TerminalSyncStatuses are the states a run ends in.
var TerminalSyncStatuses = []SyncStatus{SyncCompleted, SyncFailed}

// Terminal reports whether no further transition is possible.
func (s SyncStatus) Terminal() bool {
	return slices.Contains(TerminalSyncStatuses, s)
}

type Source struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	URL       string `json:"url" db:"url"`
	Slug      string `json:"slug" db:"slug"`
	CreatedAt Millis `json:"created_at" db:"created_at"`
	UpdatedAt Millis `json:"updated_at" db:"updated_at"`
}

type Monitor struct {
	ID        int64   `json:"id" db:"id"`
	SourceID  string  `json:"source_id" db:"source_id"`
	Name      string  `json:"name" db:"name"`
	URL       *string `json:"url,omitempty" db:"url"`
	Type      *string `json:"type,omitempty" db:"type"`
	Interval  *int    `json:"interval,omitempty" db:"interval"`
	CreatedAt Millis  `json:"created_at" db:"created_at"`
	UpdatedAt Millis  `json:"updated_at" db:"updated_at"`
}

type Heartbeat struct {
	MonitorID int64                `json:"monitor_id" db:"monitor_id"`
	SourceID  string               `json:"source_id" db:"source_id"`
	Status    core.HeartbeatStatus `json:"status" db:"status"`
	Ping      *float64             `json:"ping,omitempty" db:"ping"`
	Msg       *string              `json:"msg,omitempty" db:"msg"`
	Important bool                 `json:"important" db:"important"`
	Duration  *int64               `json:"duration,omitempty" db:"duration"`
	Timestamp Millis               `json:"timestamp" db:"timestamp"`
}

// SyncRun is one attempt to sync one source, stored in sync_history.
type SyncRun struct {
	ID                string     `json:"id" db:"id"`
	SourceID          string     `json:"source_id" db:"source_id"`
	RunID             string     `json:"run_id" db:"run_id"`
	Status            SyncStatus `json:"status" db:"status"`
	MonitorsUpdated   int        `json:"monitors_updated" db:"monitors_updated"`
	HeartbeatsFetched int        `json:"heartbeats_fetched" db:"heartbeats_fetched"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt         Millis     `json:"started_at" db:"started_at"`
	CompletedAt       Millis     `json:"completed_at" db:"completed_at"`
	DurationMs        int64      `json:"duration_ms" db:"duration_ms"`
}

// SyncMetric is one metrics sample, written for every finished run.
type SyncMetric struct {
	ID                string  `json:"id" db:"id"`
	SourceID          string  `json:"source_id" db:"source_id"`
	RunID             string  `json:"run_id" db:"run_id"`
	DurationMs        int64   `json:"duration_ms" db:"duration_ms"`
	Success           bool    `json:"success" db:"success"`
	MonitorsUpdated   int     `json:"monitors_updated" db:"monitors_updated"`
	HeartbeatsFetched int     `json:"heartbeats_fetched" db:"heartbeats_fetched"`
	ErrorMessage      *string `json:"error_message,omitempty" db:"error_message"`
	Timestamp         Millis  `json:"timestamp" db:"timestamp"`
}

type CacheEntry struct {
	Key       string `db:"key"`
	Data      string `db:"data"`
	Timestamp Millis `db:"timestamp"`
	TTL       int64  `db:"ttl"`
	CreatedAt Millis `db:"created_at"`
}

// Expired uses writeTime + ttl < now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.Timestamp.Add(time.Duration(e.TTL)*time.Millisecond).Before(now)
}

type Setting struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt Millis `db:"updated_at"`
}

// MonitorSummary is a monitor joined with aggregates over its stored heartbeats.
type MonitorSummary struct {
	Monitor
	LastStatus      *string  `json:"last_status,omitempty" db:"last_status"`
	LastHeartbeatAt Millis   `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	UptimePercent   *float64 `json:"uptime_percent,omitempty" db:"uptime_percent"`
	AvgPing         *float64 `json:"avg_ping,omitempty" db:"avg_ping"`
}

// SyncAggregate is the raw SQL aggregate over sync_metrics in a window.
type SyncAggregate struct {
	Total         int     `db:"total"`
	Successful    int     `db:"successful"`
	AvgDurationMs float64 `db:"avg_duration_ms"`
	LastRunAt     Millis  `db:"last_run_at"`
	LastSuccessAt Millis  `db:"last_success_at"`
}

// Millis is a timestamp stored as unix milliseconds. The zero value maps to NULL.
type Millis struct {
	time.Time
}

func NewMillis(t time.Time) Millis {
	return Millis{Time: t.UTC().Truncate(time.Millisecond)}
}

func Now() Millis {
	return NewMillis(time.Now())
}

func (m Millis) Value() (driver.Value, error) {
	if m.IsZero() {
		return nil, nil
	}
	return m.UnixMilli(), nil
}

func (m *Millis) Scan(value interface{}) error {
	if value == nil {
		m.Time = time.Time{}
		return nil
	}
	t, err := core.ParseTimestamp(value)
	if err != nil {
		return fmt.Errorf("scan millis: %w", err)
	}
	m.Time = t.UTC()
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(m.Time)
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Time = time.Time{}
		return nil
	}
	return json.Unmarshal(data, &m.Time)
}
