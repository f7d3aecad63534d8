// Package metrics exposes Prometheus collectors for the trading runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strategy_runtime"

// Signal metrics
var (
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_emitted_total",
		Help:      "Signals emitted by producers.",
	}, []string{"strategy", "side"})

	SignalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "signal_latency_seconds",
		Help:      "Time between enqueue and dequeue of a signal.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"strategy"})

	SignalsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_expired_total",
		Help:      "Signals dropped at dequeue because their TTL elapsed.",
	}, []string{"strategy"})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "allocations_rejected_total",
		Help:      "Signals rejected by the allocator.",
	}, []string{"strategy", "reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_queue_depth",
		Help:      "Signals waiting in the pipeline queue.",
	})
)

// Capital metrics
var (
	BucketUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bucket_usage_fraction",
		Help:      "Reserved fraction of equity per bucket.",
	}, []string{"bucket"})

	BucketHeadroom = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bucket_headroom_fraction",
		Help:      "Unreserved budget fraction per bucket.",
	}, []string{"bucket"})

	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_positions",
		Help:      "Open positions counted against each strategy's cap.",
	}, []string{"strategy"})
)

// Execution metrics
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_submitted_total",
		Help:      "Orders submitted to the router by outcome.",
	}, []string{"strategy", "market", "status"})

	LeverageEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leverage_events_total",
		Help:      "Leverage configured, applied and mismatch events.",
	}, []string{"event"})

	LeverageApplied = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leverage_applied",
		Help:      "Leverage the venue applied on the last order per symbol.",
	}, []string{"symbol"})

	ExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_latency_seconds",
		Help:      "Dispatcher execute() duration.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Universe metrics
var (
	UniverseSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "universe_size",
		Help:      "Symbols in each strategy's universe.",
	}, []string{"strategy"})

	UniverseVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "universe_version",
		Help:      "Current universe version per strategy.",
	}, []string{"strategy"})

	ScreenerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "screener_cycles_total",
		Help:      "Screener cycles by outcome.",
	}, []string{"status"})

	ScreenerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "screener_cycle_seconds",
		Help:      "Screener cycle duration.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 60},
	})

	ScreenerFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "screener_fetch_errors_total",
		Help:      "Failed screener fetches by kind.",
	}, []string{"kind"})
)

// Stream and system metrics
var (
	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Price stream reconnects per producer.",
	}, []string{"strategy"})

	FeedConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "Price stream connection status per producer (1 = connected).",
	}, []string{"strategy"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last processed signal.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo publishes version labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
