// Package observability holds the Prometheus metrics of the gateway.
package observability

import (
	"net/http"
	"time"

	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "menu_builder_gateway"

// Result labels for strategy outcomes.
const (
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultNetwork     = "network"
	ResultFallback    = "fallback"
	ResultOffline     = "offline"
	ResultPassThrough = "pass_through"
)

// Metrics is the gateway's metric set. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	cacheWrites    *prometheus.CounterVec
	syncReplayed   *prometheus.CounterVec
	syncFailed     *prometheus.CounterVec
	purged         prometheus.Counter
	lifecycleState *prometheus.GaugeVec
	online         prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Intercepted requests by strategy and result.",
		}, []string{"strategy", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "origin_fetch_duration_seconds",
			Help:      "Duration of network fetches to the origin or CDN.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Responses written to a cache partition.",
		}, []string{"partition"}),
		syncReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_replayed_total",
			Help:      "Offline submissions delivered to the origin.",
		}, []string{"tag"}),
		syncFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failed_total",
			Help:      "Offline submissions kept after a failed replay.",
		}, []string{"tag"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_purged_total",
			Help:      "Stale cache partitions deleted on activation.",
		}),
		lifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "origin_online",
			Help:      "1 when the last connectivity probe reached the origin.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.fetchDuration, m.cacheWrites,
		m.syncReplayed, m.syncFailed, m.purged,
		m.lifecycleState, m.online,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest counts one intercepted request.
func (m *Metrics) RecordRequest(strategy, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, result).Inc()
}

// ObserveFetch records a network fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCacheWrite counts a write to a partition.
func (m *Metrics) RecordCacheWrite(partition string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(partition).Inc()
}

// Subscribe feeds bus events that carry no direct call site into the metrics.
func (m *Metrics) Subscribe(bus *events.Bus) {
	if m == nil {
		return
	}
	bus.Subscribe(m.handleEvent)
}

func (m *Metrics) handleEvent(event *events.Event) {
	switch event.Type {
	case events.TypeSyncCompleted:
		tag, _ := event.Properties["tag"].(string)
		if n, ok := event.Properties["replayed"].(int); ok {
			m.syncReplayed.WithLabelValues(tag).Add(float64(n))
		}
		if n, ok := event.Properties["failed"].(int); ok {
			m.syncFailed.WithLabelValues(tag).Add(float64(n))
		}
	case events.TypePartitionPurged:
		m.purged.Inc()
	case events.TypeStateChanged:
		state, _ := event.Properties["state"].(string)
		m.lifecycleState.Reset()
		m.lifecycleState.WithLabelValues(state).Set(1)
	case events.TypeConnectivity:
		if online, ok := event.Properties["online"].(bool); ok {
			if online {
				m.online.Set(1)
			} else {
				m.online.Set(0)
			}
		}
	}
}
