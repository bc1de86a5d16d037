// Package metrics collects and exposes Prometheus metrics for publish,
// resolve, sync and cache activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the engine's counters. Services hold a *Collector
// and record events through it; a nil-safe no-op is available for tests.
type Collector struct {
	publishTotal    *prometheus.CounterVec
	resolveTotal    *prometheus.CounterVec
	syncTransitions *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	prunedBytes     prometheus.Counter
	storedBlocks    prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagmesh_publish_total",
			Help: "Published documents by kind and outcome.",
		}, []string{"kind", "outcome"}),
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagmesh_resolve_total",
			Help: "Name resolutions by outcome.",
		}, []string{"outcome"}),
		syncTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagmesh_sync_transitions_total",
			Help: "Sync operation state transitions.",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagmesh_cache_hits_total",
			Help: "Document cache hits by kind.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagmesh_cache_misses_total",
			Help: "Document cache misses by kind.",
		}, []string{"kind"}),
		prunedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tagmesh_cache_pruned_bytes_total",
			Help: "Bytes reclaimed from the block cache by pruning.",
		}),
		storedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tagmesh_cached_blocks",
			Help: "Content blocks currently held in the local cache.",
		}),
	}

	reg.MustRegister(
		c.publishTotal,
		c.resolveTotal,
		c.syncTransitions,
		c.cacheHits,
		c.cacheMisses,
		c.prunedBytes,
		c.storedBlocks,
	)

	return c
}

func (c *Collector) RecordPublish(kind, outcome string) {
	if c == nil {
		return
	}
	c.publishTotal.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordResolve(outcome string) {
	if c == nil {
		return
	}
	c.resolveTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSyncTransition(status string) {
	if c == nil {
		return
	}
	c.syncTransitions.WithLabelValues(status).Inc()
}

func (c *Collector) RecordCacheHit(kind string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordCacheMiss(kind string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPrunedBytes(n int64) {
	if c == nil {
		return
	}
	c.prunedBytes.Add(float64(n))
}

func (c *Collector) SetCachedBlocks(n int64) {
	if c == nil {
		return
	}
	c.storedBlocks.Set(float64(n))
}

// Handler returns the HTTP handler serving the /metrics scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
