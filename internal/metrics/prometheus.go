// Package metrics exports query cache activity to Prometheus
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/briangreenhill/productcache/cache"
)

const namespace = "productcache"

// CacheMetrics counts cache events by kind. It implements cache.Metrics.
type CacheMetrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec

	hit, miss, fetch, shared, drop, evict prometheus.Counter
}

// NewCacheMetrics creates the counters on a fresh registry, together with
// the Go runtime and process collectors
func NewCacheMetrics() *CacheMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Query cache events by kind.",
	}, []string{"event"})
	registry.MustRegister(events)

	return &CacheMetrics{
		registry: registry,
		events:   events,
		hit:      events.WithLabelValues("hit"),
		miss:     events.WithLabelValues("miss"),
		fetch:    events.WithLabelValues("fetch"),
		shared:   events.WithLabelValues("shared"),
		drop:     events.WithLabelValues("drop"),
		evict:    events.WithLabelValues("evict"),
	}
}

func (m *CacheMetrics) Hit()    { m.hit.Inc() }
func (m *CacheMetrics) Miss()   { m.miss.Inc() }
func (m *CacheMetrics) Fetch()  { m.fetch.Inc() }
func (m *CacheMetrics) Shared() { m.shared.Inc() }
func (m *CacheMetrics) Drop()   { m.drop.Inc() }
func (m *CacheMetrics) Evict()  { m.evict.Inc() }

// Counts returns the current value of each event counter
func (m *CacheMetrics) Counts() map[string]uint64 {
	out := make(map[string]uint64, 6)
	for name, c := range map[string]prometheus.Counter{
		"hit": m.hit, "miss": m.miss, "fetch": m.fetch,
		"shared": m.shared, "drop": m.drop, "evict": m.evict,
	} {
		var pb dto.Metric
		if err := c.Write(&pb); err == nil {
			out[name] = uint64(pb.GetCounter().GetValue())
		}
	}
	return out
}

// TrackEntries exposes the number of cached entries as a gauge read at
// scrape time
func (m *CacheMetrics) TrackEntries(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries currently held by the query cache.",
	}, func() float64 { return float64(size()) }))
}

// Handler serves the registry in the Prometheus text format
func (m *CacheMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ cache.Metrics = (*CacheMetrics)(nil)
