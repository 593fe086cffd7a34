package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of a store server.
type Metrics struct {
	// Object lifecycle
	ObjectsCreated prometheus.Counter
	ObjectsSealed  prometheus.Counter
	ObjectsAborted prometheus.Counter
	ObjectsDeleted prometheus.Counter
	ObjectsEvicted prometheus.Counter

	// Occupancy
	Objects   prometheus.Gauge
	BytesUsed prometheus.Gauge
	Sessions  prometheus.Gauge

	// Requests
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers store metrics with reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObjectsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_created_total",
			Help:      "Total number of objects created",
		}),
		ObjectsSealed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_sealed_total",
			Help:      "Total number of objects sealed",
		}),
		ObjectsAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_aborted_total",
			Help:      "Total number of unsealed objects discarded",
		}),
		ObjectsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_deleted_total",
			Help:      "Total number of objects deleted by clients",
		}),
		ObjectsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_evicted_total",
			Help:      "Total number of idle objects evicted to make room",
		}),

		Objects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects",
			Help:      "Current number of objects in the store",
		}),
		BytesUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bytes_used",
			Help:      "Bytes allocated to objects",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Current number of connected clients",
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests by operation and outcome",
		}, []string{"op", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration by operation, including get waits",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"op"}),
	}
}

// RecordRequest records one handled request. outcome is "ok" or an error kind.
func (m *Metrics) RecordRequest(op Op, outcome string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(string(op), outcome).Inc()
	m.RequestDuration.WithLabelValues(string(op)).Observe(duration.Seconds())
}

// RecordEvent updates the lifecycle counters for ev.
func (m *Metrics) RecordEvent(ev Event) {
	switch ev.Kind {
	case EventCreated:
		m.ObjectsCreated.Inc()
		m.Objects.Inc()
		m.BytesUsed.Add(float64(ev.Size))
		return
	case EventSealed:
		m.ObjectsSealed.Inc()
		return
	case EventAborted:
		m.ObjectsAborted.Inc()
	case EventDeleted:
		m.ObjectsDeleted.Inc()
	case EventEvicted:
		m.ObjectsEvicted.Inc()
	}
	m.Objects.Dec()
	m.BytesUsed.Sub(float64(ev.Size))
}
