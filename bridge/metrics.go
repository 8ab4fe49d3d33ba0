package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bridge's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	up       prometheus.Gauge
	exits    *prometheus.CounterVec
	calls    *prometheus.CounterVec
	requests prometheus.Counter
	events   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "extipc",
			Subsystem: "bridge",
			Name:      "host_up",
			Help:      "Whether the extension host is running.",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "bridge",
			Name:      "host_exits_total",
			Help:      "Extension host exits by reason.",
		}, []string{"reason"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Manager calls by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "bridge",
			Name:      "extension_requests_total",
			Help:      "Requests received from extension sessions.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extipc",
			Subsystem: "bridge",
			Name:      "events_total",
			Help:      "Extension events by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.up, m.exits, m.calls, m.requests, m.events)
	}
	return m
}

func (m *Metrics) setUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.up.Set(1)
	} else {
		m.up.Set(0)
	}
}

func (m *Metrics) exited(reason string) {
	if m != nil {
		m.exits.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) call(outcome string) {
	if m != nil {
		m.calls.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) request() {
	if m != nil {
		m.requests.Inc()
	}
}

func (m *Metrics) event(direction string) {
	if m != nil {
		m.events.WithLabelValues(direction).Inc()
	}
}
