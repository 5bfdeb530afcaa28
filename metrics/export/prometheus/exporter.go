package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authflux "github.com/tidewell/authflux"
)

type metricsSource interface {
	MetricsSnapshot() authflux.MetricsSnapshot
	AuditDropped() uint64
}

var latencyUpperBoundsSeconds = []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0}

// Exporter implements prometheus.Collector over an Authority's metrics
// snapshot.
type Exporter struct {
	source       metricsSource
	counterDescs map[authflux.MetricID]*prometheus.Desc
	droppedDesc  *prometheus.Desc
	latencyDesc  *prometheus.Desc
}

// NewExporter creates an Exporter that reads from the given [authflux.Authority].
func NewExporter(authority *authflux.Authority) *Exporter {
	return NewExporterFromSource(authority)
}

// NewExporterFromSource creates an Exporter from any metrics source,
// mainly for tests.
func NewExporterFromSource(source metricsSource) *Exporter {
	counterDescs := make(map[authflux.MetricID]*prometheus.Desc)
	for id := authflux.MetricID(0); authflux.MetricName(id) != "unknown"; id++ {
		name := authflux.MetricName(id)
		counterDescs[id] = prometheus.NewDesc(
			"authflux_"+name+"_total",
			"authflux counter "+name+".",
			nil, nil,
		)
	}

	e := &Exporter{
		source:       source,
		counterDescs: counterDescs,
		droppedDesc: prometheus.NewDesc(
			"authflux_audit_dropped_total",
			"Audit events dropped because the dispatch buffer was full.",
			nil, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"authflux_validate_latency_seconds",
			"Access token validation latency.",
			nil, nil,
		),
	}
	return e
}

// Handler returns an http.Handler serving this exporter from a private
// registry.
func (e *Exporter) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counterDescs {
		ch <- d
	}
	ch <- e.droppedDesc
	ch <- e.latencyDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()

	for id, value := range snapshot.Counters {
		if id == authflux.MetricValidateLatency {
			continue
		}
		desc, ok := e.counterDescs[id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}

	ch <- prometheus.MustNewConstMetric(e.droppedDesc, prometheus.CounterValue, float64(e.source.AuditDropped()))

	if buckets, ok := snapshot.Histograms[authflux.MetricValidateLatency]; ok {
		e.collectLatency(ch, buckets)
	}
}

func (e *Exporter) collectLatency(ch chan<- prometheus.Metric, buckets []uint64) {
	cumulative := make(map[float64]uint64, len(latencyUpperBoundsSeconds))
	var count uint64
	var sum float64

	for i, n := range buckets {
		count += n
		if i < len(latencyUpperBoundsSeconds) {
			bound := latencyUpperBoundsSeconds[i]
			cumulative[bound] = count
			sum += float64(n) * bound
		} else {
			// Overflow bucket: attribute the largest finite bound.
			sum += float64(n) * latencyUpperBoundsSeconds[len(latencyUpperBoundsSeconds)-1]
		}
	}

	ch <- prometheus.MustNewConstHistogram(e.latencyDesc, count, sum, cumulative)
}
