// Package metrics defines the Prometheus collectors shared by the binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const namespace = "dupahar"

type Metrics struct {
	Connections         prometheus.Gauge
	Events              *prometheus.CounterVec
	Broadcasts          *prometheus.CounterVec
	PresenceTransitions *prometheus.CounterVec
	Archived            *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "connections",
			Help: "Open websocket connections.",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "events_total",
			Help: "Inbound events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "broadcasts_total",
			Help: "Outbound frames queued to connections, by event.",
		}, []string{"event"}),
		PresenceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "transitions_total",
			Help: "Committed presence transitions, by status.",
		}, []string{"status"}),
		Archived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messaging", Name: "archived_total",
			Help: "Event log records processed by the archiver, by event and outcome.",
		}, []string{"event", "outcome"}),
		gatherer: reg,
	}
}

// Event counts one handled inbound event.
func (m *Metrics) Event(event model.EventType, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Events.WithLabelValues(string(event), outcome).Inc()
}

// Archive counts one event log record processed by the archiver.
func (m *Metrics) Archive(event model.EventType, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Archived.WithLabelValues(string(event), outcome).Inc()
}

func (m *Metrics) Broadcast(event model.EventType, frames int) {
	if m == nil || frames == 0 {
		return
	}
	m.Broadcasts.WithLabelValues(string(event)).Add(float64(frames))
}

func (m *Metrics) Presence(status model.PresenceStatus) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Connected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) Disconnected() {
	if m != nil {
		m.Connections.Dec()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
