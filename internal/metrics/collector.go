// Package metrics exposes the cache core's counters and gauges through
// a Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumaview/lumaview/pkg/types"
)

// Collector owns the Prometheus metrics for one viewer instance. It is
// registered against its own registry so tests and embedders can run
// isolated instances.
type Collector struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	residentBytes prometheus.Gauge
	residentCount prometheus.Gauge
	windowSize    prometheus.Gauge
	inFlight      prometheus.Gauge
	pressureRuns  prometheus.Counter
	loadDuration  prometheus.Histogram
	loadFailures  prometheus.Counter
}

// NewCollector creates and registers the metric set under the given
// namespace ("lumaview" when empty).
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "lumaview"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups partitioned by outcome (hit/miss).",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted, partitioned by reason.",
		}, []string{"reason"}),
		residentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_resident_bytes",
			Help:      "Estimated cost of resident entries in bytes.",
		}),
		residentCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_resident_entries",
			Help:      "Number of resident entries.",
		}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_effective_size",
			Help:      "Effective sliding-window radius.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loads_in_flight",
			Help:      "Loads dispatched but not yet settled.",
		}),
		pressureRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_pressure_runs_total",
			Help:      "Emergency eviction passes triggered by the memory budget.",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Wall time of successful decode operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Decode operations that failed (cancellations excluded).",
		}),
	}

	c.registry.MustRegister(
		c.lookups,
		c.evictions,
		c.residentBytes,
		c.residentCount,
		c.windowSize,
		c.inFlight,
		c.pressureRuns,
		c.loadDuration,
		c.loadFailures,
	)

	return c
}

// Registry returns the collector's private registry for HTTP exposure.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveStatistics mirrors a statistics snapshot into the gauges.
// Lookup counters are driven from the snapshot's monotone hit/miss
// totals, so this must only be called with snapshots from one cache.
func (c *Collector) ObserveStatistics(stats types.Statistics) {
	c.residentBytes.Set(float64(stats.MemoryBytes))
	c.residentCount.Set(float64(stats.ResidentCount))
}

// RecordLookup counts one hit or miss.
func (c *Collector) RecordLookup(hit bool) {
	if hit {
		c.lookups.WithLabelValues("hit").Inc()
	} else {
		c.lookups.WithLabelValues("miss").Inc()
	}
}

// ObserveLoadDuration records one successful decode's wall time.
func (c *Collector) ObserveLoadDuration(d time.Duration) {
	c.loadDuration.Observe(d.Seconds())
}

// RecordLoadFailure counts one decode failure.
func (c *Collector) RecordLoadFailure() {
	c.loadFailures.Inc()
}

// SetInFlight mirrors the scheduler's in-flight load count.
func (c *Collector) SetInFlight(n int) {
	c.inFlight.Set(float64(n))
}

// EventSink returns a sink that mirrors the observability stream into
// the eviction, pressure, and window metrics.
func (c *Collector) EventSink() types.EventSink {
	return (*metricSink)(c)
}

type metricSink Collector

func (m *metricSink) EntryEvicted(_ types.Key, reason types.EvictReason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}

func (m *metricSink) MemoryPressureHandled(_ int, newUsage int64) {
	m.pressureRuns.Inc()
	m.residentBytes.Set(float64(newUsage))
}

func (m *metricSink) WindowResized(_, newSize int) {
	m.windowSize.Set(float64(newSize))
}
