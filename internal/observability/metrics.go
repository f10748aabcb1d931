// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Quote metrics
	QuotesTotal   *prometheus.CounterVec
	QuoteDuration *prometheus.HistogramVec

	// Execution metrics
	SwapsTotal         *prometheus.CounterVec
	SwapDuration       *prometheus.HistogramVec
	ApprovalsSubmitted *prometheus.CounterVec
	GasUsed            *prometheus.HistogramVec

	// Strategy metrics
	StrategyEvaluations *prometheus.CounterVec
	TickDuration        prometheus.Histogram
	ActiveStrategies    prometheus.Gauge

	// Trade log metrics
	TradesLogged    *prometheus.CounterVec
	PublishFailures prometheus.Counter

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
	PriceFeedUpdates   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swap_engine"
	}

	return &Metrics{
		// Quote metrics
		QuotesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "requests_total",
			Help:      "Total number of backend quote requests by backend and result kind",
		}, []string{"backend", "result"}),
		QuoteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "duration_seconds",
			Help:      "Backend quote latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		// Execution metrics
		SwapsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swaps_total",
			Help:      "Total number of executed intents by mode, side and outcome",
		}, []string{"mode", "side", "outcome"}),
		SwapDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swap_duration_seconds",
			Help:      "End-to-end intent execution time in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		ApprovalsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "approvals_total",
			Help:      "Total number of approval transactions by outcome",
		}, []string{"outcome"}),
		GasUsed: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "gas_used",
			Help:      "Gas used by confirmed swap transactions",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 8),
		}, []string{"chain"}),

		// Strategy metrics
		StrategyEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "evaluations_total",
			Help:      "Total number of strategy evaluations by kind and result",
		}, []string{"kind", "result"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "tick_duration_seconds",
			Help:      "Strategy tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveStrategies: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "active",
			Help:      "Number of active strategies seen by the last tick",
		}),

		// Trade log metrics
		TradesLogged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "records_total",
			Help:      "Total number of trade record writes by status",
		}, []string{"status"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tradelog",
			Name:      "publish_failures_total",
			Help:      "Total number of trade events that could not be published",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed chain RPC calls",
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last completed strategy tick",
		}),
		PriceFeedUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "updates_total",
			Help:      "Total number of streamed price updates by symbol",
		}, []string{"symbol"}),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordQuote records one backend quote attempt; result is "ok" or an error kind.
func RecordQuote(backend, result string, seconds float64) {
	DefaultMetrics.QuotesTotal.WithLabelValues(backend, result).Inc()
	DefaultMetrics.QuoteDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordSwap records an executed intent; outcome is "success" or an error kind.
func RecordSwap(mode, side, outcome string, seconds float64) {
	DefaultMetrics.SwapsTotal.WithLabelValues(mode, side, outcome).Inc()
	DefaultMetrics.SwapDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordApproval records an approval transaction outcome.
func RecordApproval(outcome string) {
	DefaultMetrics.ApprovalsSubmitted.WithLabelValues(outcome).Inc()
}

// RecordGasUsed records gas used by a confirmed swap.
func RecordGasUsed(chain string, gas uint64) {
	DefaultMetrics.GasUsed.WithLabelValues(chain).Observe(float64(gas))
}

// RecordStrategyEvaluation records a strategy evaluation result
// ("skipped", "waiting", "fired", "error").
func RecordStrategyEvaluation(kind, result string) {
	DefaultMetrics.StrategyEvaluations.WithLabelValues(kind, result).Inc()
}

// RecordTick records a completed strategy tick.
func RecordTick(active int, seconds float64) {
	DefaultMetrics.TickDuration.Observe(seconds)
	DefaultMetrics.ActiveStrategies.Set(float64(active))
	DefaultMetrics.LastSuccessfulTick.Set(float64(time.Now().Unix()))
}

// RecordTradeLogged records a trade record write.
func RecordTradeLogged(status string) {
	DefaultMetrics.TradesLogged.WithLabelValues(status).Inc()
}

// RecordPublishFailure records a failed trade event publish.
func RecordPublishFailure() {
	DefaultMetrics.PublishFailures.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// ObserveRPC is a chain.HTTPClient observer feeding the RPC metrics.
func ObserveRPC(method string, d time.Duration, err error) {
	RecordRPCLatency(method, d.Seconds())
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPriceUpdate records a streamed price update.
func RecordPriceUpdate(symbol string) {
	DefaultMetrics.PriceFeedUpdates.WithLabelValues(symbol).Inc()
}
