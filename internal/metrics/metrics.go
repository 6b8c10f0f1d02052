// Package metrics exposes Prometheus counters for key operations, slot
// usage and sharding sessions. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "klinghsm"

// Session outcomes.
const (
	OutcomeStarted    = "started"
	OutcomeCompleted  = "completed"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
	OutcomeLost       = "lost"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry   *prometheus.Registry
	ops        *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	slots      *prometheus.GaugeVec
	sessions   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Key management operations by result kind.",
		}, []string{"op", "result"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of key management operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"op"}),
		slots: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots_in_use",
			Help:      "Allocated key slots by kind.",
		}, []string{"kind"}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slip39_sessions_total",
			Help:      "SLIP-39 sessions by mode and outcome.",
		}, []string{"mode", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOp records one operation. The result label is "ok" or the
// error kind name.
func (m *Metrics) ObserveOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = hsmerr.KindOf(err).String()
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetSlots sets the number of allocated slots of one kind.
func (m *Metrics) SetSlots(kind string, n int) {
	if m == nil {
		return
	}
	m.slots.WithLabelValues(kind).Set(float64(n))
}

// Session counts a session state change.
func (m *Metrics) Session(mode, outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(mode, outcome).Inc()
}
