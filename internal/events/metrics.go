package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks event delivery through the in-process bus.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec
	WaitTimeouts  *prometheus.CounterVec
}

// NewMetrics registers the event metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officehub_events_emitted_total",
			Help: "Total number of events dispatched on the in-process bus",
		}, []string{"type"}),
		WaitTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officehub_event_wait_timeouts_total",
			Help: "Total number of event waits that gave up before the event arrived",
		}, []string{"type"}),
	}
}

func (m *Metrics) IncrementEmitted(eventType string) {
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementWaitTimeout(eventType string) {
	m.WaitTimeouts.WithLabelValues(eventType).Inc()
}
