package metrics

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics. The zero value and a nil
// *Recorder are both usable.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSessionStatus records whether a platform session is connected.
func (r *Recorder) RecordSessionStatus(platform string, connected bool) {
	if connected {
		SessionConnected.WithLabelValues(platform).Set(1)
	} else {
		SessionConnected.WithLabelValues(platform).Set(0)
	}
}

// RecordConnect records a connect attempt and, when ready, how long the
// readiness wait took.
func (r *Recorder) RecordConnect(platform, outcome string, wait time.Duration) {
	ConnectsTotal.WithLabelValues(platform, outcome).Inc()
	if outcome == "ready" {
		ReadinessWait.WithLabelValues(platform).Observe(wait.Seconds())
	}
}

// RecordEvent records one applied venue event.
func (r *Recorder) RecordEvent(platform, eventType string) {
	EventsTotal.WithLabelValues(platform, eventType).Inc()
}

// RecordEventDropped records a venue event lost after stop.
func (r *Recorder) RecordEventDropped(platform string) {
	EventsDropped.WithLabelValues(platform).Inc()
}

// RecordOrder records an order outcome.
func (r *Recorder) RecordOrder(platform, direction, status string) {
	OrdersTotal.WithLabelValues(platform, direction, status).Inc()
}

// RecordOrderLatency records order submission latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordQuery records a synchronous venue query.
func (r *Recorder) RecordQuery(platform, query string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	QueriesTotal.WithLabelValues(platform, query, outcome).Inc()
	QueryLatency.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAccount records the latest account funds.
func (r *Recorder) RecordAccount(platform, accountID string, balance, available decimal.Decimal) {
	AccountBalance.WithLabelValues(platform, accountID).Set(balance.InexactFloat64())
	AccountAvailable.WithLabelValues(platform, accountID).Set(available.InexactFloat64())
}

// RecordToolCall records a tool facade invocation.
func (r *Recorder) RecordToolCall(action string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	ToolCallsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAPIRequest records an HTTP API request.
func (r *Recorder) RecordAPIRequest(route string, code int) {
	APIRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordUptime records process uptime.
func (r *Recorder) RecordUptime(uptime time.Duration) {
	UptimeSeconds.Set(uptime.Seconds())
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}

// ObserveQuery observes the elapsed time as query latency.
func (t *Timer) ObserveQuery(query string) {
	QueryLatency.WithLabelValues(query).Observe(t.Elapsed().Seconds())
}
