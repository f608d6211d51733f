package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/config"
	"github.com/leozw/uptime-sync/internal/db"
)

type Collector struct {
	config   *config.MimirConfig
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	// Sync run metrics
	syncDuration      *prometheus.HistogramVec
	syncsTotal        *prometheus.CounterVec
	monitorsUpdated   *prometheus.GaugeVec
	heartbeatsFetched *prometheus.GaugeVec
	lastRunTimestamp  *prometheus.GaugeVec
	lastSuccess       *prometheus.GaugeVec

	// Inventory
	sourcesTotal  prometheus.Gauge
	monitorsTotal prometheus.Gauge

	// Scheduler
	schedulerRunning prometheus.Gauge
	syncsInFlight    prometheus.Gauge

	// Cache
	cacheHits    prometheus.Gauge
	cacheMisses  prometheus.Gauge
	cacheEntries prometheus.Gauge
}

// NewCollector registers the sync metrics on reg. gatherer is what remote
// write reads from; it is normally the same registry.
func NewCollector(cfg config.MimirConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) *Collector {
	f := promauto.With(reg)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{
		config:   &cfg,
		gatherer: gatherer,
		logger:   logger,

		syncDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uptime_sync_duration_seconds",
				Help:    "Duration of source syncs in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"source_id"},
		),

		syncsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uptime_sync_runs_total",
				Help: "Total number of source syncs by outcome",
			},
			[]string{"source_id", "status"},
		),

		monitorsUpdated: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uptime_sync_monitors_updated",
				Help: "Monitors updated by the last sync of a source",
			},
			[]string{"source_id"},
		),

		heartbeatsFetched: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uptime_sync_heartbeats_fetched",
				Help: "Heartbeats fetched by the last sync of a source",
			},
			[]string{"source_id"},
		),

		lastRunTimestamp: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uptime_sync_last_run_timestamp",
				Help: "Unix time of the last sync of a source",
			},
			[]string{"source_id"},
		),

		lastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uptime_sync_last_success_timestamp",
				Help: "Unix time of the last successful sync of a source",
			},
			[]string{"source_id"},
		),

		sourcesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_sources_total",
			Help: "Number of configured sources",
		}),

		monitorsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_monitors_total",
			Help: "Number of stored monitors",
		}),

		schedulerRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_scheduler_running",
			Help: "Whether the scheduler timers are armed (1) or not (0)",
		}),

		syncsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_in_flight",
			Help: "Number of source syncs currently running",
		}),

		cacheHits: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_cache_hits",
			Help: "Cache hits since start",
		}),

		cacheMisses: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_cache_misses",
			Help: "Cache misses since start",
		}),

		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_sync_cache_memory_entries",
			Help: "Entries held in the in-memory cache tier",
		}),
	}
}

func (c *Collector) RecordSync(sample *db.SyncMetric) {
	labels := prometheus.Labels{"source_id": sample.SourceID}

	status := "success"
	if !sample.Success {
		status = "failure"
	}
	c.syncsTotal.With(prometheus.Labels{"source_id": sample.SourceID, "status": status}).Inc()
	c.syncDuration.With(labels).Observe(float64(sample.DurationMs) / 1000)
	c.monitorsUpdated.With(labels).Set(float64(sample.MonitorsUpdated))
	c.heartbeatsFetched.With(labels).Set(float64(sample.HeartbeatsFetched))

	ts := float64(sample.Timestamp.Unix())
	c.lastRunTimestamp.With(labels).Set(ts)
	if sample.Success {
		c.lastSuccess.With(labels).Set(ts)
	}
}

func (c *Collector) RecordInventory(sources, monitors int) {
	c.sourcesTotal.Set(float64(sources))
	c.monitorsTotal.Set(float64(monitors))
}

func (c *Collector) SetSchedulerRunning(running bool) {
	v := 0.0
	if running {
		v = 1
	}
	c.schedulerRunning.Set(v)
}

func (c *Collector) SetInFlight(n int) {
	c.syncsInFlight.Set(float64(n))
}

func (c *Collector) RecordCacheStats(hits, misses int64, entries int) {
	c.cacheHits.Set(float64(hits))
	c.cacheMisses.Set(float64(misses))
	c.cacheEntries.Set(float64(entries))
}

// ForgetSource drops the per-source series of a deleted source.
func (c *Collector) ForgetSource(sourceID string) {
	labels := prometheus.Labels{"source_id": sourceID}
	c.syncDuration.DeletePartialMatch(labels)
	c.syncsTotal.DeletePartialMatch(labels)
	c.monitorsUpdated.Delete(labels)
	c.heartbeatsFetched.Delete(labels)
	c.lastRunTimestamp.Delete(labels)
	c.lastSuccess.Delete(labels)
}
