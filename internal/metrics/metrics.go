package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters of one service instance. Each instance owns a
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Accepted        prometheus.Counter
	Rejected        *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	Retries         prometheus.Counter
	Terminal        *prometheus.CounterVec
	HealthChecks    *prometheus.CounterVec
	DeliverySeconds *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_accepted_total",
			Help: "Payments accepted and queued for delivery.",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_rejected_total",
			Help: "Payments rejected at acceptance, by reason.",
		}, []string{"reason"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_delivery_attempts_total",
			Help: "Calls to payment processors, by processor and outcome.",
		}, []string{"processor", "outcome"}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_delivery_retries_total",
			Help: "Deliveries handed back to the queue with backoff.",
		}),
		Terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_terminal_total",
			Help: "Payments that reached a terminal outcome, by source.",
		}, []string{"source"}),
		HealthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_health_checks_total",
			Help: "Health checks issued, by processor and result.",
		}, []string{"processor", "result"}),
		DeliverySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_delivery_duration_seconds",
			Help:    "Latency of calls to payment processors.",
			Buckets: prometheus.DefBuckets,
		}, []string{"processor"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
