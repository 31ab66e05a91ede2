package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blocklock/pkg/dberror"
)

const (
	metricsNamespace = "blocklock"
	metricsSubsystem = "lock"
)

// Metrics exposes lock table activity as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Upgrades    prometheus.Counter
	Waits       *prometheus.CounterVec
	Aborts      *prometheus.CounterVec
	WaitSeconds prometheus.Histogram
	Resources   prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Lock requests that reached the lock table, by mode.",
		}, []string{"mode"}),
		Upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "upgrades_total",
			Help:      "Shared locks upgraded to exclusive in place.",
		}),
		Waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "waits_total",
			Help:      "Requests that could not be granted immediately, by strategy.",
		}, []string{"strategy"}),
		Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "aborts_total",
			Help:      "Transactions aborted by the lock manager, by reason.",
		}, []string{"reason"}),
		WaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "wait_seconds",
			Help:      "Time spent parked on an incompatible request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		Resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "resources",
			Help:      "Resources with at least one granted or waiting request.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Requests, m.Upgrades, m.Waits, m.Aborts, m.WaitSeconds, m.Resources)
	}
	return m
}

func (m *Metrics) request(mode LockMode) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) upgrade() {
	if m == nil {
		return
	}
	m.Upgrades.Inc()
}

func (m *Metrics) wait(kind StrategyKind, d time.Duration) {
	if m == nil {
		return
	}
	m.Waits.WithLabelValues(kind.String()).Inc()
	m.WaitSeconds.Observe(d.Seconds())
}

func (m *Metrics) abort(reason dberror.AbortReason) {
	if m == nil {
		return
	}
	m.Aborts.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) resources(n int) {
	if m == nil {
		return
	}
	m.Resources.Set(float64(n))
}
