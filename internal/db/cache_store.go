package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/leozw/uptime-sync/internal/core"
)

// CacheStore persists cache entries in the cache_entries table. It is the
// default durable layer behind the in-memory cache.
type CacheStore struct {
	repo *Repository
}

func NewCacheStore(repo *Repository) *CacheStore {
	return &CacheStore{repo: repo}
}

func (s *CacheStore) Load(ctx context.Context, key string) (*CacheEntry, error) {
	var e CacheEntry
	err := s.repo.db.GetContext(ctx, &e, s.repo.q(`SELECT * FROM cache_entries WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("cache entry", key)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CacheStore) Store(ctx context.Context, e *CacheEntry) error {
	query := `
        INSERT INTO cache_entries (key, data, timestamp, ttl, created_at)
        VALUES (:key, :data, :timestamp, :ttl, :created_at)
        ON CONFLICT (key) DO UPDATE SET
            data = excluded.data,
            timestamp = excluded.timestamp,
            ttl = excluded.ttl`

	if _, err := s.repo.db.NamedExecContext(ctx, query, e); err != nil {
		return core.Persistence("store cache entry", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.repo.db.ExecContext(ctx, s.repo.q(`DELETE FROM cache_entries WHERE key = ?`), key); err != nil {
		return core.Persistence("delete cache entry", err)
	}
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (s *CacheStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := s.repo.db.ExecContext(ctx,
		s.repo.q(`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`), likePrefix(prefix))
	if err != nil {
		return 0, core.Persistence("clear cache entries", err)
	}
	return res.RowsAffected()
}

func (s *CacheStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := s.repo.db.SelectContext(ctx, &keys,
		s.repo.q(`SELECT key FROM cache_entries WHERE key LIKE ? ESCAPE '\' ORDER BY key`), likePrefix(prefix))
	return keys, err
}

// DeleteExpired removes entries with timestamp + ttl < now.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.repo.db.ExecContext(ctx,
		s.repo.q(`DELETE FROM cache_entries WHERE timestamp + ttl < ?`), now.UnixMilli())
	if err != nil {
		return 0, core.Persistence("sweep cache entries", err)
	}
	return res.RowsAffected()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
