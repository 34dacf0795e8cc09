// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Signal metrics
	SignalsReceived prometheus.Counter
	SignalsAccepted prometheus.Counter
	SignalsDenied   *prometheus.CounterVec
	SignalErrors    prometheus.Counter

	// Order metrics
	OrdersPlaced *prometheus.CounterVec
	OrderErrors  *prometheus.CounterVec

	// Position metrics
	OpenPositions   prometheus.Gauge
	PositionsClosed *prometheus.CounterVec
	TradesRecorded  *prometheus.CounterVec

	// Risk metrics
	TradingLocked   prometheus.Gauge
	DailyLoss       prometheus.Gauge
	CurrentDrawdown prometheus.Gauge

	// Reconcile metrics
	ReconcileTicks    prometheus.Counter
	ReconcileDuration prometheus.Histogram

	// Gateway metrics
	GatewayCallLatency *prometheus.HistogramVec

	// Health metrics
	LastReconcile prometheus.Gauge
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "signal_trade_engine"
	}

	return &Metrics{
		// Signal metrics
		SignalsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "received_total",
			Help:      "Total number of trade signals received",
		}),
		SignalsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "accepted_total",
			Help:      "Total number of trade signals that opened a position",
		}),
		SignalsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "denied_total",
			Help:      "Total number of trade signals denied by check",
		}, []string{"check"}),
		SignalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "errors_total",
			Help:      "Total number of signals that failed during execution",
		}),

		// Order metrics
		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Total number of orders placed by type",
		}, []string{"type"}),
		OrderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "errors_total",
			Help:      "Total number of order placement errors by type",
		}, []string{"type"}),

		// Position metrics
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Current number of tracked open positions",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Total number of positions closed by reason",
		}, []string{"reason"}),
		TradesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "trades_recorded_total",
			Help:      "Total number of realized fills recorded by result",
		}, []string{"result"}),

		// Risk metrics
		TradingLocked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "trading_locked",
			Help:      "Whether new entries are currently locked (1) or allowed (0)",
		}),
		DailyLoss: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_loss",
			Help:      "Accumulated realized loss for the current day",
		}),
		CurrentDrawdown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "current_drawdown_percent",
			Help:      "Current drawdown from peak balance in percent",
		}),

		// Reconcile metrics
		ReconcileTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "reconcile_ticks_total",
			Help:      "Total number of reconcile ticks executed",
		}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconcile pass over all positions",
			Buckets:   prometheus.DefBuckets,
		}),

		// Gateway metrics
		GatewayCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_latency_seconds",
			Help:      "Exchange gateway call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Health metrics
		LastReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_reconcile_timestamp",
			Help:      "Unix timestamp of the last completed reconcile pass",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSignalReceived increments the signals received counter.
func RecordSignalReceived() {
	DefaultMetrics.SignalsReceived.Inc()
}

// RecordSignalAccepted increments the signals accepted counter.
func RecordSignalAccepted() {
	DefaultMetrics.SignalsAccepted.Inc()
}

// RecordSignalDenied records a denied signal by check name.
func RecordSignalDenied(check string) {
	DefaultMetrics.SignalsDenied.WithLabelValues(check).Inc()
}

// RecordSignalError increments the signal errors counter.
func RecordSignalError() {
	DefaultMetrics.SignalErrors.Inc()
}

// RecordOrderPlaced records a placed order by type.
func RecordOrderPlaced(orderType string) {
	DefaultMetrics.OrdersPlaced.WithLabelValues(orderType).Inc()
}

// RecordOrderError records an order placement error by type.
func RecordOrderError(orderType string) {
	DefaultMetrics.OrderErrors.WithLabelValues(orderType).Inc()
}

// UpdateOpenPositions updates the open positions gauge.
func UpdateOpenPositions(count int) {
	DefaultMetrics.OpenPositions.Set(float64(count))
}

// RecordPositionClosed records a closed position by reason.
func RecordPositionClosed(reason string) {
	DefaultMetrics.PositionsClosed.WithLabelValues(reason).Inc()
}

// RecordTrade records a realized fill by result.
func RecordTrade(isWin bool) {
	result := "loss"
	if isWin {
		result = "win"
	}
	DefaultMetrics.TradesRecorded.WithLabelValues(result).Inc()
}

// UpdateRiskState updates the risk gauges.
func UpdateRiskState(locked bool, dailyLoss, drawdown float64) {
	v := 0.0
	if locked {
		v = 1
	}
	DefaultMetrics.TradingLocked.Set(v)
	DefaultMetrics.DailyLoss.Set(dailyLoss)
	DefaultMetrics.CurrentDrawdown.Set(drawdown)
}

// RecordReconcile records one reconcile pass.
func RecordReconcile(seconds float64, unixNow int64) {
	DefaultMetrics.ReconcileTicks.Inc()
	DefaultMetrics.ReconcileDuration.Observe(seconds)
	DefaultMetrics.LastReconcile.Set(float64(unixNow))
}

// RecordGatewayCall records exchange gateway call latency.
func RecordGatewayCall(method string, seconds float64) {
	DefaultMetrics.GatewayCallLatency.WithLabelValues(method).Observe(seconds)
}
