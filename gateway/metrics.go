package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the gateway's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	connections prometheus.Gauge
	requests    *prometheus.CounterVec
	inflight    prometheus.Gauge
	cancelled   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "extipc",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Connected client sessions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Client requests by method and outcome.",
		}, []string{"method", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "extipc",
			Subsystem: "gateway",
			Name:      "inflight",
			Help:      "Asynchronous requests awaiting completion.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "gateway",
			Name:      "cancelled_total",
			Help:      "Asynchronous requests cancelled by a disconnect.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.requests, m.inflight, m.cancelled)
	}
	return m
}

func (m *Metrics) connected(delta float64) {
	if m != nil {
		m.connections.Add(delta)
	}
}

func (m *Metrics) request(method, outcome string) {
	if m != nil {
		m.requests.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) pending(delta float64) {
	if m != nil {
		m.inflight.Add(delta)
	}
}

func (m *Metrics) cancel(n int) {
	if m != nil && n > 0 {
		m.cancelled.Add(float64(n))
	}
}
