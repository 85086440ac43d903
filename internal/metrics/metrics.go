// Package metrics provides Prometheus instrumentation for the session
// service. It exposes counters for session lifecycle events and backend
// failures, a histogram of stored payload sizes and HTTP request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated counts successfully stored sessions.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_created_total",
		Help: "Total number of sessions stored",
	})

	// SessionFetches counts fetch attempts, labeled by result:
	// "hit", "miss" or "error".
	SessionFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_fetches_total",
		Help: "Total number of session fetch attempts",
	}, []string{"result"})

	// SessionsConsumed counts single-use sessions removed by a read.
	SessionsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_consumed_total",
		Help: "Total number of sessions consumed by a single-use read",
	})

	// BackendErrors counts storage backend failures by operation.
	BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_backend_errors_total",
		Help: "Total number of storage backend failures",
	}, []string{"op"}) // op = "put", "get", "delete", "take"

	// PayloadBytes records the encoded size of stored payloads.
	PayloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_payload_bytes",
		Help:    "Size of stored session payloads in bytes",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B .. 4MiB
	})

	// RequestDuration records HTTP request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route", "method", "status"})

	// BackendInfo is set to 1 for the storage backend chosen at startup.
	BackendInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_backend_info",
		Help: "Storage backend selected at startup",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		SessionFetches,
		SessionsConsumed,
		BackendErrors,
		PayloadBytes,
		RequestDuration,
		BackendInfo,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBackend records which storage backend is in use.
func SetBackend(kind string) {
	BackendInfo.Reset()
	BackendInfo.WithLabelValues(kind).Set(1)
}

// Observer feeds session lifecycle events into the collectors above.
type Observer struct{}

// SessionCreated counts the session and records its payload size.
func (Observer) SessionCreated(_ string, size int) {
	SessionsCreated.Inc()
	PayloadBytes.Observe(float64(size))
}

// SessionFetched counts a fetch hit and, when consumed, a consumption.
func (Observer) SessionFetched(_ string, consumed bool) {
	SessionFetches.WithLabelValues("hit").Inc()
	if consumed {
		SessionsConsumed.Inc()
	}
}

// BackendError counts a backend failure for op.
func (Observer) BackendError(op string) {
	BackendErrors.WithLabelValues(op).Inc()
}

// FetchMiss records a fetch that found nothing.
func FetchMiss() {
	SessionFetches.WithLabelValues("miss").Inc()
}

// FetchError records a fetch that failed on the backend.
func FetchError() {
	SessionFetches.WithLabelValues("error").Inc()
}
