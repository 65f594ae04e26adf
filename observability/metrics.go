package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics captures the request counters and latency histograms for the
// JSON-RPC surface, segmented by method and outcome.
type RPCMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcOnce sync.Once
	rpcReg  *RPCMetrics
)

// RPC returns the singleton metrics registry for the JSON-RPC server.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcReg = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "willvault",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Count of RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "willvault",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Count of RPC failures segmented by method and reason.",
			}, []string{"method", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "willvault",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "willvault",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of throttled RPC requests segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcReg.requests,
			rpcReg.errors,
			rpcReg.latency,
			rpcReg.throttles,
		)
	})
	return rpcReg
}

// Observe records the execution metrics for an RPC method call.
func (m *RPCMetrics) Observe(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(method, "engine").Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded" so dashboards and alerts
// remain consistent.
func (m *RPCMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
