package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leozw/uptime-sync/internal/core"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) q(query string) string {
	return r.db.Rebind(query)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Source operations

func (r *Repository) CreateSource(ctx context.Context, s *Source) error {
	query := `
        INSERT INTO sources (id, name, url, slug, created_at, updated_at)
        VALUES (:id, :name, :url, :slug, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		if isUniqueViolation(err) {
			return core.Conflict("source with url %s and slug %s already exists", s.URL, s.Slug)
		}
		return core.Persistence("create source", err)
	}
	return nil
}

func (r *Repository) GetSource(ctx context.Context, id string) (*Source, error) {
	var s Source
	err := r.db.GetContext(ctx, &s, r.q(`SELECT * FROM sources WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("source", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) ListSources(ctx context.Context) ([]*Source, error) {
	sources := []*Source{}
	err := r.db.SelectContext(ctx, &sources, `SELECT * FROM sources ORDER BY created_at, id`)
	return sources, err
}

func (r *Repository) UpdateSource(ctx context.Context, s *Source) error {
	query := `
        UPDATE sources SET
            name = :name,
            url = :url,
            slug = :slug,
            updated_at = :updated_at
        WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Conflict("source with url %s and slug %s already exists", s.URL, s.Slug)
		}
		return core.Persistence("update source", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("source", s.ID)
	}
	return nil
}

// DeleteSource removes a source. Monitors and heartbeats cascade.
func (r *Repository) DeleteSource(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM sources WHERE id = ?`), id)
	if err != nil {
		return core.Persistence("delete source", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("source", id)
	}
	return nil
}

func (r *Repository) CountSources(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sources`)
	return count, err
}

// Monitor operations

// UpsertMonitor inserts the monitor or overwrites its mutable fields.
func (r *Repository) UpsertMonitor(ctx context.Context, m *Monitor) error {
	query := `
        INSERT INTO monitors (
            id, source_id, name, url, type, interval, created_at, updated_at
        ) VALUES (
            :id, :source_id, :name, :url, :type, :interval, :created_at, :updated_at
        ) ON CONFLICT (id, source_id) DO UPDATE SET
            name = excluded.name,
            url = excluded.url,
            type = excluded.type,
            interval = excluded.interval,
            updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return core.Persistence("upsert monitor", err)
	}
	return nil
}

func (r *Repository) ListMonitors(ctx context.Context, sourceID string) ([]*Monitor, error) {
	monitors := []*Monitor{}
	err := r.db.SelectContext(ctx, &monitors,
		r.q(`SELECT * FROM monitors WHERE source_id = ? ORDER BY id`), sourceID)
	return monitors, err
}

func (r *Repository) CountMonitors(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM monitors`)
	return count, err
}

// MonitorSummaries returns the monitors of a source with their latest stored
// heartbeat and uptime/ping aggregates since the given time.
func (r *Repository) MonitorSummaries(ctx context.Context, sourceID string, since time.Time) ([]*MonitorSummary, error) {
	query := `
        SELECT m.*,
            (SELECT h.status FROM heartbeats h
                WHERE h.monitor_id = m.id AND h.source_id = m.source_id
                ORDER BY h.timestamp DESC LIMIT 1) AS last_status,
            (SELECT MAX(h.timestamp) FROM heartbeats h
                WHERE h.monitor_id = m.id AND h.source_id = m.source_id) AS last_heartbeat_at,
            (SELECT AVG(CASE WHEN h.status = 'up' THEN 100.0 ELSE 0.0 END) FROM heartbeats h
                WHERE h.monitor_id = m.id AND h.source_id = m.source_id AND h.timestamp >= ?) AS uptime_percent,
            (SELECT AVG(h.ping) FROM heartbeats h
                WHERE h.monitor_id = m.id AND h.source_id = m.source_id AND h.timestamp >= ?) AS avg_ping
        FROM monitors m
        WHERE m.source_id = ?
        ORDER BY m.id`

	summaries := []*MonitorSummary{}
	sinceMs := since.UnixMilli()
	err := r.db.SelectContext(ctx, &summaries, r.q(query), sinceMs, sinceMs, sourceID)
	return summaries, err
}

// Heartbeat operations

// InsertHeartbeat appends a heartbeat. A duplicate timestamp for the same
// monitor is ignored and reported as inserted=false.
func (r *Repository) InsertHeartbeat(ctx context.Context, h *Heartbeat) (bool, error) {
	query := `
        INSERT INTO heartbeats (
            monitor_id, source_id, status, ping, msg, important, duration, timestamp
        ) VALUES (
            :monitor_id, :source_id, :status, :ping, :msg, :important, :duration, :timestamp
        ) ON CONFLICT (monitor_id, source_id, timestamp) DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, h)
	if err != nil {
		return false, core.Persistence("insert heartbeat", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repository) ListHeartbeats(ctx context.Context, sourceID string, monitorID int64, limit int) ([]*Heartbeat, error) {
	heartbeats := []*Heartbeat{}
	query := `
        SELECT * FROM heartbeats
        WHERE source_id = ? AND monitor_id = ?
        ORDER BY timestamp DESC
        LIMIT ?`
	err := r.db.SelectContext(ctx, &heartbeats, r.q(query), sourceID, monitorID, limit)
	return heartbeats, err
}

func (r *Repository) CountHeartbeats(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.q(`SELECT COUNT(*) FROM heartbeats WHERE source_id = ?`), sourceID)
	return count, err
}

// Sync history

func (r *Repository) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `
        INSERT INTO sync_history (
            id, source_id, run_id, status, monitors_updated, heartbeats_fetched,
            error_message, started_at, completed_at, duration_ms
        ) VALUES (
            :id, :source_id, :run_id, :status, :monitors_updated, :heartbeats_fetched,
            :error_message, :started_at, :completed_at, :duration_ms
        )`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return core.Persistence("create sync run", err)
	}
	return nil
}

func (r *Repository) UpdateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `
        UPDATE sync_history SET
            status = :status,
            monitors_updated = :monitors_updated,
            heartbeats_fetched = :heartbeats_fetched,
            error_message = :error_message,
            completed_at = :completed_at,
            duration_ms = :duration_ms
        WHERE run_id = :run_id`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return core.Persistence("update sync run", err)
	}
	return nil
}

func (r *Repository) GetSyncRun(ctx context.Context, runID string) (*SyncRun, error) {
	var run SyncRun
	err := r.db.GetContext(ctx, &run, r.q(`SELECT * FROM sync_history WHERE run_id = ?`), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("sync run", runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns returns runs newest first; an empty sourceID lists all sources.
func (r *Repository) ListSyncRuns(ctx context.Context, sourceID string, limit int) ([]*SyncRun, error) {
	runs := []*SyncRun{}
	var err error
	if sourceID == "" {
		err = r.db.SelectContext(ctx, &runs,
			r.q(`SELECT * FROM sync_history ORDER BY started_at DESC LIMIT ?`), limit)
	} else {
		err = r.db.SelectContext(ctx, &runs,
			r.q(`SELECT * FROM sync_history WHERE source_id = ? ORDER BY started_at DESC LIMIT ?`), sourceID, limit)
	}
	return runs, err
}

func statusStrings(statuses []SyncStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// LastSyncRun returns the most recent finished run for a source, or nil.
func (r *Repository) LastSyncRun(ctx context.Context, sourceID string) (*SyncRun, error) {
	query, args, err := sqlx.In(`
        SELECT * FROM sync_history
        WHERE source_id = ? AND status IN (?)
        ORDER BY started_at DESC
        LIMIT 1`, sourceID, statusStrings(TerminalSyncStatuses))
	if err != nil {
		return nil, err
	}

	var run SyncRun
	err = r.db.GetContext(ctx, &run, r.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *Repository) PurgeSyncHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM sync_history WHERE started_at < ?`), before.UnixMilli())
	if err != nil {
		return 0, core.Persistence("purge sync history", err)
	}
	return res.RowsAffected()
}

// Sync metrics

func (r *Repository) InsertSyncMetric(ctx context.Context, m *SyncMetric) error {
	query := `
        INSERT INTO sync_metrics (
            id, source_id, run_id, duration_ms, success, monitors_updated,
            heartbeats_fetched, error_message, timestamp
        ) VALUES (
            :id, :source_id, :run_id, :duration_ms, :success, :monitors_updated,
            :heartbeats_fetched, :error_message, :timestamp
        )`

	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return core.Persistence("insert sync metric", err)
	}
	return nil
}

func (r *Repository) AggregateSyncMetrics(ctx context.Context, since time.Time) (*SyncAggregate, error) {
	query := `
        SELECT
            COUNT(*) AS total,
            COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful,
            COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
            MAX(timestamp) AS last_run_at,
            MAX(CASE WHEN success THEN timestamp END) AS last_success_at
        FROM sync_metrics
        WHERE timestamp >= ?`

	var agg SyncAggregate
	if err := r.db.GetContext(ctx, &agg, r.q(query), since.UnixMilli()); err != nil {
		return nil, err
	}
	return &agg, nil
}

// SuccessfulDurations returns durations of successful runs, ascending.
func (r *Repository) SuccessfulDurations(ctx context.Context, since time.Time) ([]int64, error) {
	durations := []int64{}
	query := `
        SELECT duration_ms FROM sync_metrics
        WHERE success = TRUE AND timestamp >= ?
        ORDER BY duration_ms ASC`
	err := r.db.SelectContext(ctx, &durations, r.q(query), since.UnixMilli())
	return durations, err
}

func (r *Repository) PurgeSyncMetrics(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM sync_metrics WHERE timestamp < ?`), before.UnixMilli())
	if err != nil {
		return 0, core.Persistence("purge sync metrics", err)
	}
	return res.RowsAffected()
}

// Settings

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, r.q(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.NotFound("setting", key)
	}
	return value, err
}

func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	query := `
        INSERT INTO settings (key, value, updated_at) VALUES (:key, :value, :updated_at)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, &Setting{Key: key, Value: value, UpdatedAt: Now()}); err != nil {
		return core.Persistence("save setting", err)
	}
	return nil
}
