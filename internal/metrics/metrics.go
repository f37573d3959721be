// Package metrics holds the Prometheus collectors exported by the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for relay requests.
const (
	OutcomeOK            = "ok"
	OutcomeNotConfigured = "not_configured"
	OutcomeUpstreamError = "upstream_error"
	OutcomeStreamAborted = "stream_aborted"
	OutcomeBadRequest    = "bad_request"
	OutcomeRateLimited   = "rate_limited"
)

// Relay groups the collectors updated by the completion relay.
type Relay struct {
	requests *prometheus.CounterVec
	chunks   prometheus.Counter
	bytes    prometheus.Counter
	duration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewRelay registers relay collectors on a fresh registry.
func NewRelay() *Relay {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Relay{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_requests_total",
			Help: "Relay requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		chunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_stream_chunks_total",
			Help: "Text chunks forwarded to callers.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_stream_bytes_total",
			Help: "Bytes of generated text forwarded to callers.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_request_duration_seconds",
			Help:    "Time from request start until the response finished.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		gatherer: reg,
	}
}

// Observe records one finished request. A nil receiver is a no-op.
func (m *Relay) Observe(endpoint, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.duration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// AddChunk counts a forwarded chunk of n bytes.
func (m *Relay) AddChunk(n int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytes.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Relay) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
