// Package app assembles the sync services from configuration. Both the API
// server and the command-line tool build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/cache"
	"github.com/leozw/uptime-sync/internal/config"
	"github.com/leozw/uptime-sync/internal/core"
	"github.com/leozw/uptime-sync/internal/db"
	"github.com/leozw/uptime-sync/internal/metrics"
	"github.com/leozw/uptime-sync/internal/remote"
	"github.com/leozw/uptime-sync/internal/scheduler"
	"github.com/leozw/uptime-sync/internal/storage/redis"
	"github.com/leozw/uptime-sync/internal/syncer"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sqlx.DB
	Repo      *db.Repository
	Registry  *prometheus.Registry
	Collector *metrics.Collector
	Stats     *metrics.Service
	Cache     *cache.Cache
	Remote    *remote.Client
	Engine    *syncer.Engine
	Scheduler *scheduler.Scheduler
	Purger    *scheduler.Purger

	redis *redis.Client
}

// NewLogger returns a development logger in debug mode and a production
// logger otherwise.
func NewLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New connects to the database, applies migrations and wires every service.
// The scheduler is created stopped.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	core.SetLocalZone(cfg.Location())

	database, err := db.NewConnection(db.Options{
		Driver:         cfg.Database.Driver,
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		MaxIdleConns:   cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Repo:     db.NewRepository(database),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var backend cache.Backend = db.NewCacheStore(a.Repo)
	if cfg.Redis.URL != "" {
		a.redis = redis.NewClient(cfg.Redis.URL)
		backend = redis.NewCacheBackend(a.redis)
		logger.Info("Using Redis cache backend")
	}
	a.Cache = cache.New(backend, cache.Options{
		Prefix:     cfg.Cache.Prefix,
		DefaultTTL: cfg.Cache.TTL,
	}, logger.Named("cache"))

	a.Collector = metrics.NewCollector(cfg.Mimir, a.Registry, a.Registry, logger.Named("metrics"))
	a.Stats = metrics.NewService(a.Repo, a.Collector, logger.Named("stats"))

	a.Remote = remote.NewClient(remote.Options{
		RateLimit: cfg.Remote.RateLimit,
		Burst:     cfg.Remote.Burst,
		UserAgent: cfg.Remote.UserAgent,
	}, logger.Named("remote"))

	a.Engine = syncer.NewEngine(syncer.EngineConfig{
		Repo:        a.Repo,
		Fetcher:     a.Remote,
		Cache:       a.Cache,
		CacheTTL:    cfg.Cache.TTL,
		Recorder:    a.Stats,
		BackoffBase: cfg.Scheduler.BackoffBase,
		Logger:      logger.Named("sync"),
	})

	a.Scheduler = scheduler.NewScheduler(a.Repo, a.Engine, a.Collector, logger.Named("scheduler"), scheduler.Options{
		Warmup:     cfg.Scheduler.Warmup,
		BatchPause: cfg.Scheduler.BatchPause,
	})
	a.Purger = scheduler.NewPurger(a.Repo, a.Cache, a.Stats, logger.Named("purge"))

	return a, nil
}

// RunBackground starts the cache sweeper, the retention purge and the
// metrics remote write. They stop with ctx.
func (a *App) RunBackground(ctx context.Context) {
	go a.Cache.Run(ctx, a.Config.Cache.SweepInterval)
	go a.Purger.Run(ctx, a.Config.Scheduler.Retention, a.Config.Scheduler.PurgeInterval)
	go a.Collector.StartRemoteWrite(ctx)
}

func (a *App) Close() {
	a.Scheduler.Close()
	if a.redis != nil {
		a.redis.Close()
	}
	a.DB.Close()
}
