package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Relayed *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Relayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officehub_outbox_relayed_total",
			Help: "Outbox entries handed to the broker, by event type and result",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) ObserveRelay(eventType, result string) {
	m.Relayed.WithLabelValues(eventType, result).Inc()
}
