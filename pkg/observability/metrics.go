// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the cagekeep execution broker.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets defines histogram buckets suited for code-execution latencies,
// ranging from 10ms to 600s (the maximum allowed execution timeout).
var ExecBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cagekeep_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cagekeep_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExecBuckets,
		},
		[]string{"method"},
	)

	// ExecutionsTotal counts executions by language and outcome status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cagekeep_executions_total",
			Help: "Total code executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration records wall-clock execution duration in seconds by language.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cagekeep_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecBuckets,
		},
		[]string{"language"},
	)

	// ActiveSessions tracks the number of currently active sandbox sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cagekeep_active_sessions",
			Help: "Active sandbox sessions",
		},
	)

	// ResourceUsageGauge reports the most recent sampled resource usage per
	// session, labeled by resource kind (memory_mb, cpu_percent, disk_mb, pids).
	ResourceUsageGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cagekeep_session_resource_usage",
			Help: "Most recent sampled resource usage per session",
		},
		[]string{"session_id", "resource"},
	)

	// RateLimitRejectedTotal counts executions rejected by the per-principal
	// rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cagekeep_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"principal_id"},
	)

	// QueueDepth tracks the number of jobs waiting in the async execution queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cagekeep_async_queue_depth",
			Help: "Pending jobs in the async execution queue",
		},
	)

	// SamplerWarningsTotal counts resource-limit warnings raised by the
	// Resource Sampler, labeled by resource kind.
	SamplerWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cagekeep_sampler_warnings_total",
			Help: "Resource sampler warnings",
		},
		[]string{"resource"},
	)

	// ScreenerRejectionsTotal counts executions rejected by the static
	// code screener, labeled by language and risk level.
	ScreenerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cagekeep_screener_rejections_total",
			Help: "Screener rejections",
		},
		[]string{"language", "risk_level"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		ActiveSessions,
		ResourceUsageGauge,
		RateLimitRejectedTotal,
		QueueDepth,
		SamplerWarningsTotal,
		ScreenerRejectionsTotal,
	)
}
