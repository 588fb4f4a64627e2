package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements Metrics on top of a Prometheus registry,
// registering counters/gauges/histograms lazily on first use so components
// can report arbitrary metric names without a central enum.
type PrometheusMetrics struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a metrics collector backed by registry. If
// registry is nil, a fresh private registry is used (never the global
// default, so multiple Database instances in one process don't collide).
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry, e.g. to mount promhttp.Handler.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Increment(name string, labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters[name]
	if !ok {
		c = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "s3db",
			Name:      name,
			Help:      "s3db counter: " + name,
		}, labelNames(labels))
		p.counters[name] = c
	}
	c.With(labelValues(labels)).Inc()
}

func (p *PrometheusMetrics) Gauge(name string, value float64, labels ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.gauges[name]
	if !ok {
		g = promauto.With(p.registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "s3db",
			Name:      name,
			Help:      "s3db gauge: " + name,
		}, labelNames(labels))
		p.gauges[name] = g
	}
	g.With(labelValues(labels)).Set(value)
}

func (p *PrometheusMetrics) Timing(name string, d time.Duration, labels ...string) {
	p.mu.Lock()
	h, ok := p.histograms[name]
	if !ok {
		h = promauto.With(p.registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "s3db",
			Name:      name,
			Help:      "s3db timing: " + name,
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		p.histograms[name] = h
	}
	p.mu.Unlock()
	h.With(labelValues(labels)).Observe(d.Seconds())
}

func labelNames(kv []string) []string {
	if len(kv) == 0 {
		return nil
	}
	names := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		names = append(names, kv[i])
	}
	return names
}

func labelValues(kv []string) prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i+1 < len(kv); i += 2 {
		labels[kv[i]] = kv[i+1]
	}
	return labels
}
