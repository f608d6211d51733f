package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

// storedEntry is the JSON form of a cache entry kept under its key.
type storedEntry struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	TTL       int64  `json:"ttl"`
	CreatedAt int64  `json:"created_at"`
}

// CacheBackend keeps cache entries in Redis. Entries carry a native
// expiration, so DeleteExpired has nothing to do.
type CacheBackend struct {
	client *Client
}

func NewCacheBackend(client *Client) *CacheBackend {
	return &CacheBackend{client: client}
}

func (b *CacheBackend) Load(ctx context.Context, key string) (*db.CacheEntry, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.NotFound("cache entry", key)
	}
	if err != nil {
		return nil, err
	}

	var s storedEntry
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &db.CacheEntry{
		Key:       key,
		Data:      s.Data,
		Timestamp: db.NewMillis(time.UnixMilli(s.Timestamp)),
		TTL:       s.TTL,
		CreatedAt: db.NewMillis(time.UnixMilli(s.CreatedAt)),
	}, nil
}

func (b *CacheBackend) Store(ctx context.Context, e *db.CacheEntry) error {
	data, err := json.Marshal(storedEntry{
		Data:      e.Data,
		Timestamp: e.Timestamp.UnixMilli(),
		TTL:       e.TTL,
		CreatedAt: e.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return b.client.Set(ctx, e.Key, data, time.Duration(e.TTL)*time.Millisecond).Err()
}

func (b *CacheBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *CacheBackend) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := b.Keys(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	return b.client.Del(ctx, keys...).Result()
}

func (b *CacheBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *CacheBackend) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
