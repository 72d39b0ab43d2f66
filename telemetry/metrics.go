package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics are the agent's own Prometheus collectors.
type Metrics struct {
	Registrations    *prometheus.CounterVec
	Heartbeats       *prometheus.CounterVec
	HeartbeatRetries prometheus.Counter
	Registered       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicemonitor",
			Name:      "registrations_total",
			Help:      "Registration handshakes with the dashboard, by result.",
		}, []string{"result"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicemonitor",
			Name:      "heartbeats_total",
			Help:      "Heartbeat cycles, by result.",
		}, []string{"result"}),
		HeartbeatRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "servicemonitor",
			Name:      "heartbeat_retries_total",
			Help:      "Heartbeat send attempts retried after a failure.",
		}),
		Registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicemonitor",
			Name:      "registered",
			Help:      "1 once the dashboard has assigned an instance id.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Registrations, m.Heartbeats, m.HeartbeatRetries, m.Registered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is NewMetrics that panics on registration conflicts.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// RegistrationDone records a registration outcome.
func (m *Metrics) RegistrationDone(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Registrations.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.Registrations.WithLabelValues(ResultSuccess).Inc()
	m.Registered.Set(1)
}

// HeartbeatDone records a heartbeat cycle outcome.
func (m *Metrics) HeartbeatDone(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Heartbeats.WithLabelValues(ResultFailure).Inc()
		return
	}
	m.Heartbeats.WithLabelValues(ResultSuccess).Inc()
}

// HeartbeatRetried records one retried attempt.
func (m *Metrics) HeartbeatRetried() {
	if m == nil {
		return
	}
	m.HeartbeatRetries.Inc()
}
