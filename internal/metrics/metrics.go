// Package metrics exposes Prometheus metrics and health endpoints for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradegate"

var (
	// Session lifecycle
	SessionConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_connected",
		Help:      "Whether the venue session is connected (1) or not (0)",
	}, []string{"platform"})

	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connects_total",
		Help:      "Connect attempts by outcome",
	}, []string{"platform", "outcome"})

	ReadinessWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "readiness_wait_seconds",
		Help:      "Time from login start until the first account snapshot",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"platform"})

	// Event stream
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Venue events applied to the cache",
	}, []string{"platform", "type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Venue events discarded because the session was stopped",
	}, []string{"platform"})

	// Orders
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders by direction and outcome",
	}, []string{"platform", "direction", "status"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_submit_seconds",
		Help:      "Order submission round-trip latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// Synchronous queries
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Synchronous venue queries by outcome",
	}, []string{"platform", "query", "outcome"})

	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_seconds",
		Help:      "Synchronous venue query latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"query"})

	// Account
	AccountBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "account_balance",
		Help:      "Latest account balance",
	}, []string{"platform", "account"})

	AccountAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "account_available",
		Help:      "Latest available funds",
	}, []string{"platform", "account"})

	// Tool facade and HTTP API
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool facade invocations by action and outcome",
	}, []string{"action", "outcome"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP API requests by route and status code",
	}, []string{"route", "code"})

	// System
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type",
	}, []string{"type"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last process heartbeat",
	})

	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
