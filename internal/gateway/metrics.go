package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// Metrics owns the gateway's Prometheus registry: per-action request
// counters and latency histograms, plus whatever collectors the gateway
// registers at start.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates an isolated registry so tests never collide on the
// global default.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "user_memory",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Envelope requests by action and result code.",
		}, []string{"action", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "user_memory",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Envelope request latency by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
	m.registry.MustRegister(m.requests, m.duration)
	return m
}

// Observe records one completed envelope request. code is "ok" for
// successes and the stable error code otherwise.
func (m *Metrics) Observe(action, code string, elapsed time.Duration) {
	m.requests.WithLabelValues(action, code).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// Register adds a collector to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statsTimeout bounds the store query issued per scrape.
const statsTimeout = 5 * time.Second

// statsCollector exports point-in-time gauges scraped from the store,
// the embedder cache, and the event hub. Collect queries live state; a
// failing store simply drops its gauges from that scrape.
type statsCollector struct {
	store    memory.RecordStore
	embedder memory.InstrumentedEmbedder
	hub      *events.Hub

	records     *prometheus.Desc
	entities    *prometheus.Desc
	captures    *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	cacheSize   *prometheus.Desc
	subscribers *prometheus.Desc
	dropped     *prometheus.Desc
}

func newStatsCollector(store memory.RecordStore, embedder memory.InstrumentedEmbedder, hub *events.Hub) *statsCollector {
	return &statsCollector{
		store:    store,
		embedder: embedder,
		hub:      hub,
		records: prometheus.NewDesc("user_memory_store_records",
			"Rows in the memory table.", nil, nil),
		entities: prometheus.NewDesc("user_memory_store_entities",
			"Rows in the memory_entities table.", nil, nil),
		captures: prometheus.NewDesc("user_memory_store_screen_captures",
			"Records of type screen_capture.", nil, nil),
		cacheHits: prometheus.NewDesc("user_memory_embedder_cache_hits_total",
			"Embedding cache hits.", nil, nil),
		cacheMisses: prometheus.NewDesc("user_memory_embedder_cache_misses_total",
			"Embedding cache misses.", nil, nil),
		cacheSize: prometheus.NewDesc("user_memory_embedder_cache_size",
			"Entries currently in the embedding cache.", nil, nil),
		subscribers: prometheus.NewDesc("user_memory_events_subscribers",
			"Connected event-stream subscribers.", nil, nil),
		dropped: prometheus.NewDesc("user_memory_events_dropped_total",
			"Events dropped on slow subscribers.", nil, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.entities
	ch <- c.captures
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheSize
	ch <- c.subscribers
	ch <- c.dropped
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		stats, err := c.store.Stats(ctx)
		cancel()
		if err == nil {
			ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(stats.Records))
			ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue, float64(stats.Entities))
			ch <- prometheus.MustNewConstMetric(c.captures, prometheus.GaugeValue, float64(stats.ScreenCaptures))
		}
	}
	if c.embedder != nil {
		cs := c.embedder.CacheStats()
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(cs.Hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(cs.Misses))
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(cs.Size))
	}
	if c.hub != nil {
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(c.hub.Subscribers()))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.hub.Dropped()))
	}
}
