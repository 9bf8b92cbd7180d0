package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the office module.
type Metrics struct {
	OfficesCreated    prometheus.Counter
	OfficesDeleted    prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationFailures *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return &Metrics{
		OfficesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officehub_offices_created_total",
			Help: "Total number of offices and branches created",
		}),
		OfficesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "officehub_offices_deleted_total",
			Help: "Total number of offices deleted",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "officehub_office_operation_duration_seconds",
			Help:    "Duration of office service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OperationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "officehub_office_operation_failures_total",
			Help: "Office service operations that returned an error, by error code",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncrementOfficesCreated() {
	m.OfficesCreated.Inc()
}

func (m *Metrics) IncrementOfficesDeleted() {
	m.OfficesDeleted.Inc()
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementFailure(operation, code string) {
	m.OperationFailures.WithLabelValues(operation, code).Inc()
}
