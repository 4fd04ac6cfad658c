// Package metrics exposes Prometheus instrumentation for signer sessions.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether instrumentation is enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every session in a process.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	published       *prometheus.CounterVec
	sessions        prometheus.Gauge
	reconnects      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_requests_total",
			Help: "Device requests executed by the session queue, by kind and result.",
		}, []string{"kind", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signer_request_duration_seconds",
			Help:    "Time spent executing device requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 10, 30},
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_status_transitions_total",
			Help: "Session status transitions by target status.",
		}, []string{"status"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_events_total",
			Help: "Events published to session listeners, by type.",
		}, []string{"type"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signer_sessions_open",
			Help: "Number of open signer sessions.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_reconnect_attempts_total",
			Help: "Registry reopen attempts by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.requestDuration, m.transitions, m.published, m.sessions, m.reconnects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest records a settled queue request.
func (m *Metrics) ObserveRequest(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.requests.WithLabelValues(kind, result).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveTransition records a status change.
func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// ObserveEvent records a published event.
func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(eventType).Inc()
}

// SessionOpened increments the open session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// ObserveReconnect records a registry reopen attempt.
func (m *Metrics) ObserveReconnect(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reconnects.WithLabelValues(result).Inc()
}
