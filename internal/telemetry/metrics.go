// Package telemetry exposes Prometheus metrics for the request pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics records pipeline request outcomes. A nil receiver is a
// no-op so callers can pass metrics through optionally.
type RequestMetrics struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewRequestMetrics registers the pipeline metrics on reg.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	m := &RequestMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appkit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of pipeline requests by method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appkit",
			Subsystem: "http",
			Name:      "request_failures_total",
			Help:      "Pipeline failures by network error type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.duration, m.failures)
	return m
}

// ObserveRequest records one completed round trip. status 0 means the
// request never produced an HTTP response.
func (m *RequestMetrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveFailure counts one classified failure.
func (m *RequestMetrics) ObserveFailure(errType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(errType).Inc()
}
