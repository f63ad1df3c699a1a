package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the intake endpoint and test deliveries
var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrator_requests_total",
			Help: "Total number of integrator request submissions by result code",
		},
		[]string{"result"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrator_delivery_attempts_total",
			Help: "Total number of test deliveries by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "integrator_delivery_duration_seconds",
			Help:    "Duration of outbound test deliveries",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "integrator_audit_write_failures_total",
			Help: "Total number of delivery attempt audit writes that failed",
		},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "integrator_rate_limited_total",
			Help: "Total number of submissions rejected by the rate limiter",
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(DeliveryAttemptsTotal)
		prometheus.MustRegister(DeliveryDuration)
		prometheus.MustRegister(AuditWriteFailures)
		prometheus.MustRegister(RateLimitedTotal)
	})
}
