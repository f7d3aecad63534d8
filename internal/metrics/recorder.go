package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSignal records a signal emitted by a producer.
func (r *Recorder) RecordSignal(strategy, side string) {
	SignalsEmitted.WithLabelValues(strategy, side).Inc()
}

// RecordSignalLatency records queue latency of a dequeued signal.
func (r *Recorder) RecordSignalLatency(strategy string, d time.Duration) {
	SignalLatency.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordSignalExpired records a signal dropped for staleness.
func (r *Recorder) RecordSignalExpired(strategy string) {
	SignalsExpired.WithLabelValues(strategy).Inc()
}

// RecordSignalRejected records an allocator rejection.
func (r *Recorder) RecordSignalRejected(strategy, reason string) {
	SignalsRejected.WithLabelValues(strategy, reason).Inc()
}

// RecordQueueDepth records the current queue length.
func (r *Recorder) RecordQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// RecordBucket records usage and headroom for a bucket.
func (r *Recorder) RecordBucket(bucket string, usage, headroom decimal.Decimal) {
	BucketUsage.WithLabelValues(bucket).Set(usage.InexactFloat64())
	BucketHeadroom.WithLabelValues(bucket).Set(headroom.InexactFloat64())
}

// RecordOpenPositions records a strategy's open-position count.
func (r *Recorder) RecordOpenPositions(strategy string, n int) {
	OpenPositions.WithLabelValues(strategy).Set(float64(n))
}

// RecordOrder records an order submission outcome.
func (r *Recorder) RecordOrder(strategy, market, status string) {
	OrdersSubmitted.WithLabelValues(strategy, market, status).Inc()
}

// RecordLeverageConfigured records a leverage change request.
func (r *Recorder) RecordLeverageConfigured() {
	LeverageEvents.WithLabelValues("configured").Inc()
}

// RecordLeverageApplied records the leverage the venue applied.
func (r *Recorder) RecordLeverageApplied(symbol string, leverage int) {
	LeverageEvents.WithLabelValues("applied").Inc()
	LeverageApplied.WithLabelValues(symbol).Set(float64(leverage))
}

// RecordLeverageMismatch records a venue leverage mismatch.
func (r *Recorder) RecordLeverageMismatch() {
	LeverageEvents.WithLabelValues("mismatch").Inc()
}

// RecordUniverse records a universe update.
func (r *Recorder) RecordUniverse(strategy string, version uint64, size int) {
	UniverseSize.WithLabelValues(strategy).Set(float64(size))
	UniverseVersion.WithLabelValues(strategy).Set(float64(version))
}

// RecordScreenerCycle records a screener cycle outcome.
func (r *Recorder) RecordScreenerCycle(ok bool, d time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	ScreenerCycles.WithLabelValues(status).Inc()
	ScreenerDuration.Observe(d.Seconds())
}

// RecordFetchError records a failed screener fetch.
func (r *Recorder) RecordFetchError(kind string) {
	ScreenerFetchErrors.WithLabelValues(kind).Inc()
}

// RecordStreamReconnect records a producer stream reconnect.
func (r *Recorder) RecordStreamReconnect(strategy string) {
	StreamReconnects.WithLabelValues(strategy).Inc()
}

// RecordFeedStatus records a producer's stream connection status.
func (r *Recorder) RecordFeedStatus(strategy string, connected bool) {
	if connected {
		FeedConnected.WithLabelValues(strategy).Set(1)
	} else {
		FeedConnected.WithLabelValues(strategy).Set(0)
	}
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
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

// ObserveExecution observes the elapsed time as dispatcher latency.
func (t *Timer) ObserveExecution() {
	ExecutionLatency.Observe(t.Elapsed().Seconds())
}
