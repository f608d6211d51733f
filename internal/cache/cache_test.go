package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/db/dbtest"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newCache(t *testing.T) (*Cache, *db.CacheStore, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := db.NewCacheStore(dbtest.Repository(t))
	c := New(store, Options{Prefix: "uptime", Now: clk.now}, zap.NewNop())
	return c, store, clk
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSetGet(t *testing.T) {
	c, store, _ := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", payload{Name: "x", Count: 2}, 0))

	var got payload
	ok, err := c.Get(ctx, "a", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "x", Count: 2}, got)

	stored, err := store.Load(ctx, "uptime:a")
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL.Milliseconds(), stored.TTL)

	ok, err = c.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)
}

func TestGetFallsBackToBackend(t *testing.T) {
	c, store, clk := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", payload{Name: "x"}, time.Minute))

	// A fresh process sees only the durable layer.
	fresh := New(store, Options{Prefix: "uptime", Now: clk.now}, zap.NewNop())
	var got payload
	ok, err := fresh.Get(ctx, "a", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.Name)
	assert.Equal(t, 1, fresh.Stats().MemoryEntries)
}

func TestExpiredEntryIsGoneFromBothLayers(t *testing.T) {
	c, store, clk := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", payload{Name: "v"}, 100*time.Millisecond))
	clk.advance(150 * time.Millisecond)

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Sweep(ctx)
	require.NoError(t, err)

	assert.Zero(t, c.Stats().MemoryEntries)
	_, err = store.Load(ctx, "uptime:k")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSweepRemovesUnreadExpiredEntries(t *testing.T) {
	c, store, clk := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, 100*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", 2, time.Hour))
	clk.advance(time.Second)

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)

	_, err = store.Load(ctx, "uptime:short")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClearByPrefix(t *testing.T) {
	c, _, _ := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "heartbeats:a", 1, 0))
	require.NoError(t, c.Set(ctx, "heartbeats:b", 2, 0))
	require.NoError(t, c.Set(ctx, "metrics:24h", 3, 0))

	n, err := c.Clear(ctx, "heartbeats:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics:24h"}, keys)
}

type brokenBackend struct{}

func (brokenBackend) Load(context.Context, string) (*db.CacheEntry, error) {
	return nil, errors.New("disk on fire")
}
func (brokenBackend) Store(context.Context, *db.CacheEntry) error { return errors.New("disk on fire") }
func (brokenBackend) Delete(context.Context, string) error { return errors.New("disk on fire") }
func (brokenBackend) DeletePrefix(context.Context, string) (int64, error) {
	return 0, errors.New("disk on fire")
}
func (brokenBackend) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New("disk on fire")
}
func (brokenBackend) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk on fire")
}

func TestBackendWriteFailureIsSwallowed(t *testing.T) {
	c := New(brokenBackend{}, Options{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "b", 0))

	var got string
	ok, err := c.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", got)

	ok, err = c.Get(ctx, "other", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
