package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/syncer"
)

const (
	MinIntervalSeconds     = 30
	DefaultIntervalSeconds = 300
	DefaultConcurrentSyncs = 3

	ConfigSettingKey           = "scheduler_config"
	AutoSyncEnabledSettingKey  = "auto_sync_enabled"
	AutoSyncIntervalSettingKey = "auto_sync_interval"
)

// Config is the runtime scheduler configuration persisted in settings.
type Config struct {
	IntervalSeconds int                 `json:"interval_seconds"`
	Enabled         bool                `json:"enabled"`
	ConcurrentSyncs int                 `json:"concurrent_syncs"`
	Strategy        syncer.StrategyKind `json:"strategy"`
	DefaultOptions  SyncOptions         `json:"default_options"`
}

type SyncOptions struct {
	IncludeHeartbeats bool `json:"include_heartbeats"`
	Incremental       bool `json:"incremental"`
	TimeoutMs         int  `json:"timeout_ms"`
	MaxRetries        int  `json:"max_retries"`
}

func (o SyncOptions) engineOptions() syncer.Options {
	return syncer.Options{
		IncludeHeartbeats: o.IncludeHeartbeats,
		Incremental:       o.Incremental,
		Timeout:           time.Duration(o.TimeoutMs) * time.Millisecond,
		MaxRetries:        o.MaxRetries,
	}
}

func DefaultConfig() Config {
	return Config{
		IntervalSeconds: DefaultIntervalSeconds,
		Enabled:         true,
		ConcurrentSyncs: DefaultConcurrentSyncs,
		Strategy:        syncer.StrategySmart,
		DefaultOptions: SyncOptions{
			IncludeHeartbeats: true,
			TimeoutMs:         30_000,
			MaxRetries:        syncer.DefaultMaxRetries,
		},
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ConfigUpdate is a partial Config; nil fields are left unchanged.
type ConfigUpdate struct {
	IntervalSeconds *int                 `json:"interval_seconds"`
	Enabled         *bool                `json:"enabled"`
	ConcurrentSyncs *int                 `json:"concurrent_syncs"`
	Strategy        *syncer.StrategyKind `json:"strategy"`
	DefaultOptions  *SyncOptionsUpdate   `json:"default_options"`
}

// SyncOptionsUpdate is a partial SyncOptions; nil fields are left unchanged.
type SyncOptionsUpdate struct {
	IncludeHeartbeats *bool `json:"include_heartbeats"`
	Incremental       *bool `json:"incremental"`
	TimeoutMs         *int  `json:"timeout_ms"`
	MaxRetries        *int  `json:"max_retries"`
}

func (o SyncOptions) merge(u *SyncOptionsUpdate) SyncOptions {
	if u == nil {
		return o
	}
	if u.IncludeHeartbeats != nil {
		o.IncludeHeartbeats = *u.IncludeHeartbeats
	}
	if u.Incremental != nil {
		o.Incremental = *u.Incremental
	}
	if u.TimeoutMs != nil {
		o.TimeoutMs = *u.TimeoutMs
	}
	if u.MaxRetries != nil {
		o.MaxRetries = *u.MaxRetries
	}
	return o
}

// Validate rejects values a caller asked for explicitly but that are out of range.
func (u ConfigUpdate) Validate() error {
	if u.IntervalSeconds != nil && *u.IntervalSeconds < MinIntervalSeconds {
		return core.Invalid("interval_seconds must be at least %d", MinIntervalSeconds)
	}
	if u.ConcurrentSyncs != nil && *u.ConcurrentSyncs < 1 {
		return core.Invalid("concurrent_syncs must be at least 1")
	}
	if u.Strategy != nil {
		if _, err := syncer.ParseStrategyKind(string(*u.Strategy)); err != nil {
			return core.Invalid("%v", err)
		}
	}
	if o := u.DefaultOptions; o != nil {
		if (o.TimeoutMs != nil && *o.TimeoutMs < 0) || (o.MaxRetries != nil && *o.MaxRetries < 0) {
			return core.Invalid("timeout_ms and max_retries must not be negative")
		}
	}
	return nil
}

func (c Config) merge(u *ConfigUpdate) Config {
	if u == nil {
		return c
	}
	if u.IntervalSeconds != nil {
		c.IntervalSeconds = *u.IntervalSeconds
	}
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
	if u.ConcurrentSyncs != nil {
		c.ConcurrentSyncs = *u.ConcurrentSyncs
	}
	if u.Strategy != nil {
		c.Strategy = *u.Strategy
	}
	c.DefaultOptions = c.DefaultOptions.merge(u.DefaultOptions)
	return c
}

// clamp forces every field into range instead of rejecting it.
func (c Config) clamp() Config {
	c.IntervalSeconds = max(c.IntervalSeconds, MinIntervalSeconds)
	c.ConcurrentSyncs = max(c.ConcurrentSyncs, 1)
	if kind, err := syncer.ParseStrategyKind(string(c.Strategy)); err == nil {
		c.Strategy = kind
	} else {
		c.Strategy = syncer.StrategySmart
	}
	if c.DefaultOptions.TimeoutMs <= 0 {
		c.DefaultOptions.TimeoutMs = 30_000
	}
	if c.DefaultOptions.MaxRetries <= 0 {
		c.DefaultOptions.MaxRetries = syncer.DefaultMaxRetries
	}
	return c
}

type settingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

func loadConfig(ctx context.Context, store settingsStore) (Config, error) {
	cfg := DefaultConfig()

	raw, err := store.GetSetting(ctx, ConfigSettingKey)
	if errors.Is(err, core.ErrNotFound) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultConfig(), err
	}
	return cfg.clamp(), nil
}

func saveConfig(ctx context.Context, store settingsStore, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := store.PutSetting(ctx, ConfigSettingKey, string(data)); err != nil {
		return err
	}
	if err := store.PutSetting(ctx, AutoSyncEnabledSettingKey, strconv.FormatBool(cfg.Enabled)); err != nil {
		return err
	}
	return store.PutSetting(ctx, AutoSyncIntervalSettingKey, strconv.Itoa(cfg.IntervalSeconds))
}
