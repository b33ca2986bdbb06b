package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tfdoom",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Control-channel instructions by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tfdoom",
			Subsystem: "control",
			Name:      "request_duration_seconds",
			Help:      "Control-channel connection handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"verb", "outcome"},
	)
	backendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tfdoom",
			Subsystem: "backend",
			Name:      "invocations_total",
			Help:      "Terraform invocations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tfdoom",
			Subsystem: "backend",
			Name:      "invocation_duration_seconds",
			Help:      "Terraform invocation duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tfdoom",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests on the metrics endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tfdoom",
			Subsystem: "control",
			Name:      "active_connections",
			Help:      "Control-channel connections currently being handled.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			controlRequests,
			controlDuration,
			backendCalls,
			backendDuration,
			httpRequests,
			activeConnections,
		)
	})
}

func RecordControlRequest(verb, outcome string, duration time.Duration) {
	RegisterMetrics()
	if verb == "" {
		verb = "none"
	}
	controlRequests.WithLabelValues(verb, outcome).Inc()
	controlDuration.WithLabelValues(verb, outcome).Observe(duration.Seconds())
}

func RecordBackendCall(operation, outcome string, duration time.Duration) {
	RegisterMetrics()
	backendCalls.WithLabelValues(operation, outcome).Inc()
	backendDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path, status string) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, status).Inc()
}

// TrackConnection bumps the active connection gauge and returns the matching release.
func TrackConnection() func() {
	RegisterMetrics()
	activeConnections.Inc()
	return activeConnections.Dec
}
