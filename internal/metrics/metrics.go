// Package metrics exposes Prometheus metrics for dispatch runs and
// the HTTP API.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for wablast
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal *prometheus.CounterVec
	MediaUploadsTotal   prometheus.Counter
	RunsTotal           *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// Rate limiting
	RateLimitDeniedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_messages_sent_total",
				Help: "Total number of messages accepted by the provider",
			},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_messages_failed_total",
				Help: "Total number of per-recipient send failures",
			},
			[]string{"reason"},
		),
		MediaUploadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_media_uploads_total",
				Help: "Total number of media uploads to the provider",
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_runs_total",
				Help: "Total number of dispatch runs by kind and mode",
			},
			[]string{"kind", "mode"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wablast_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RateLimitDeniedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_ratelimit_denied_total",
				Help: "Total number of sends denied by the rate limiter",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.MediaUploadsTotal,
		m.RunsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.RateLimitDeniedTotal,
	)

	return m
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSent implements the dispatch recorder hook.
func (m *Metrics) RecordSent() {
	m.MessagesSentTotal.Inc()
}

// RecordFailed implements the dispatch recorder hook. The raw error is
// collapsed to a coarse reason label to keep cardinality bounded.
func (m *Metrics) RecordFailed(reason string) {
	m.MessagesFailedTotal.WithLabelValues(failureReason(reason)).Inc()
	if strings.Contains(reason, "rate limit exceeded") {
		m.RateLimitDeniedTotal.Inc()
	}
}

// RecordUpload implements the dispatch recorder hook.
func (m *Metrics) RecordUpload() {
	m.MediaUploadsTotal.Inc()
}

// RecordRun counts one dispatch run.
func (m *Metrics) RecordRun(kind string, dryRun bool) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	m.RunsTotal.WithLabelValues(kind, mode).Inc()
}

func failureReason(err string) string {
	switch {
	case strings.Contains(err, "invalid phone"):
		return "invalid_phone"
	case strings.Contains(err, "rate limit"):
		return "rate_limited"
	case strings.Contains(err, "API error"):
		return "provider"
	default:
		return "transport"
	}
}
