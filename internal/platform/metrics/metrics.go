package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers the HTTP metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "officehub_http_request_duration_seconds",
			Help:    "Latency of API requests by route pattern and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officehub_http_requests_total",
			Help: "API requests by route pattern, method and status",
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) ObserveRequest(route, method string, status int, start time.Time) {
	m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
