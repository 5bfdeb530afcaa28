package authflux

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by authflux APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricIssue is an exported constant or variable used by the token authority.
	MetricIssue MetricID = iota
	// MetricRefreshSuccess is an exported constant or variable used by the token authority.
	MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the token authority.
	MetricRefreshFailure
	// MetricRefreshReuseDetected is an exported constant or variable used by the token authority.
	MetricRefreshReuseDetected
	// MetricChainRevoked counts refresh-token rows revoked by breach handling.
	MetricChainRevoked
	// MetricLogout is an exported constant or variable used by the token authority.
	MetricLogout
	// MetricBlacklistAdd is an exported constant or variable used by the token authority.
	MetricBlacklistAdd
	// MetricBlacklistHit is an exported constant or variable used by the token authority.
	MetricBlacklistHit
	// MetricBlacklistMiss is an exported constant or variable used by the token authority.
	MetricBlacklistMiss
	// MetricValidateSuccess is an exported constant or variable used by the token authority.
	MetricValidateSuccess
	// MetricValidateFailure is an exported constant or variable used by the token authority.
	MetricValidateFailure
	// MetricValidateLatency is the single latency histogram.
	MetricValidateLatency

	metricIDCount
)

// MetricName returns the stable snake_case name for a MetricID, used by the
// Prometheus exporter.
func MetricName(id MetricID) string {
	switch id {
	case MetricIssue:
		return "issue"
	case MetricRefreshSuccess:
		return "refresh_success"
	case MetricRefreshFailure:
		return "refresh_failure"
	case MetricRefreshReuseDetected:
		return "refresh_reuse_detected"
	case MetricChainRevoked:
		return "chain_revoked"
	case MetricLogout:
		return "logout"
	case MetricBlacklistAdd:
		return "blacklist_add"
	case MetricBlacklistHit:
		return "blacklist_hit"
	case MetricBlacklistMiss:
		return "blacklist_miss"
	case MetricValidateSuccess:
		return "validate_success"
	case MetricValidateFailure:
		return "validate_failure"
	case MetricValidateLatency:
		return "validate_latency"
	default:
		return "unknown"
	}
}

const histBucketCount = 9

type paddedCounter struct {
	value uint64
	_     [56]byte
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics defines a public type used by authflux APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by authflux APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics constructs a counter registry for the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the registry records anything at all.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments a counter. It is a no-op on a nil or disabled registry.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments a counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records a validation latency sample when histograms are enabled.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a point-in-time copy of all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	case ms <= 1000:
		return 7
	default:
		return 8
	}
}
