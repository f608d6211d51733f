// Package cache is a two-tier key/value cache: an in-process map in front of
// a durable Backend. Values are stored as JSON.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Backend is the durable layer. Load returns an error wrapping
// core.ErrNotFound when the key is absent.
type Backend interface {
	Load(ctx context.Context, key string) (*db.CacheEntry, error)
	Store(ctx context.Context, e *db.CacheEntry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	// Prefix namespaces every key as "prefix:key".
	Prefix     string
	DefaultTTL time.Duration
	Now        func() time.Time
}

type entry struct {
	data    []byte
	written time.Time
	ttl     time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return e.written.Add(e.ttl).Before(now)
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	backend    Backend
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	MemoryEntries int     `json:"memory_entries"`
	Prefix        string  `json:"prefix"`
}

func New(backend Backend, opts Options, logger *zap.Logger) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries:    make(map[string]*entry),
		backend:    backend,
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
		logger:     logger,
	}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Cache) unkey(k string) string {
	if c.prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, c.prefix+":")
}

// Get decodes the cached value for key into dest and reports whether it was
// found. Durable-layer read failures count as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	full := c.key(key)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[full]
	c.mu.RUnlock()

	if ok {
		if !e.expired(now) {
			c.hits.Add(1)
			return true, json.Unmarshal(e.data, dest)
		}
		c.evict(ctx, full)
	}

	if c.backend != nil {
		stored, err := c.backend.Load(ctx, full)
		switch {
		case err == nil && stored.Expired(now):
			c.evict(ctx, full)
		case err == nil:
			e = &entry{
				data:    []byte(stored.Data),
				written: stored.Timestamp.Time,
				ttl:     time.Duration(stored.TTL) * time.Millisecond,
			}
			c.mu.Lock()
			c.entries[full] = e
			c.mu.Unlock()
			c.hits.Add(1)
			return true, json.Unmarshal(e.data, dest)
		case !errors.Is(err, core.ErrNotFound):
			c.logger.Warn("Cache backend read failed", zap.String("key", full), zap.Error(err))
		}
	}

	c.misses.Add(1)
	return false, nil
}

// Set writes value to both layers. A ttl <= 0 uses the default. A failed
// durable write is logged; the in-memory entry is still written.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	full := c.key(key)
	now := c.now()

	c.mu.Lock()
	c.entries[full] = &entry{data: data, written: now, ttl: ttl}
	c.mu.Unlock()

	if c.backend != nil {
		err := c.backend.Store(ctx, &db.CacheEntry{
			Key:       full,
			Data:      string(data),
			Timestamp: db.NewMillis(now),
			TTL:       ttl.Milliseconds(),
			CreatedAt: db.NewMillis(now),
		})
		if err != nil {
			c.logger.Warn("Cache backend write failed", zap.String("key", full), zap.Error(err))
		}
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) {
	c.evict(ctx, c.key(key))
}

func (c *Cache) evict(ctx context.Context, full string) {
	c.mu.Lock()
	delete(c.entries, full)
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Delete(ctx, full); err != nil {
			c.logger.Warn("Cache backend delete failed", zap.String("key", full), zap.Error(err))
		}
	}
}

// Clear removes every key starting with prefix from both layers and returns
// the number of entries removed from the larger of the two.
func (c *Cache) Clear(ctx context.Context, prefix string) (int, error) {
	full := c.key(prefix)

	c.mu.Lock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, full) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.backend == nil {
		return removed, nil
	}
	n, err := c.backend.DeletePrefix(ctx, full)
	if err != nil {
		return removed, err
	}
	return max(removed, int(n)), nil
}

// Keys lists the unprefixed keys starting with prefix across both layers.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	full := c.key(prefix)
	seen := make(map[string]struct{})

	c.mu.RLock()
	for k := range c.entries {
		if strings.HasPrefix(k, full) {
			seen[k] = struct{}{}
		}
	}
	c.mu.RUnlock()

	if c.backend != nil {
		stored, err := c.backend.Keys(ctx, full)
		if err != nil {
			return nil, err
		}
		for _, k := range stored {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, c.unkey(k))
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep drops expired entries from both layers.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.backend == nil {
		return removed, nil
	}
	n, err := c.backend.DeleteExpired(ctx, now)
	return removed + int(n), err
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Warn("Cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Debug("Cache sweep removed entries", zap.Int("removed", n))
			}
		}
	}
}

func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()

	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	s := Stats{Hits: hits, Misses: misses, MemoryEntries: n, Prefix: c.prefix}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}
