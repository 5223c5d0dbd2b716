package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers both the service edge (submissions, cancellations,
// withdrawals) and the matching engine gauges. It satisfies
// engine.Metrics.
type Metrics struct {
	OrderSubmissions    *prometheus.CounterVec
	OrderCancellations  *prometheus.CounterVec
	TradesExecuted      *prometheus.CounterVec
	WithdrawalRequests  *prometheus.CounterVec
	WithdrawalDecisions *prometheus.CounterVec
	MatchDuration       *prometheus.HistogramVec
	OrderbookDepth      *prometheus.GaugeVec
	OrderbookSpread     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		OrderSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_order_submissions_total",
			Help: "Order submissions by outcome.",
		}, []string{"status"}),
		OrderCancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_order_cancellations_total",
			Help: "Order cancellations by outcome.",
		}, []string{"status"}),
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_trades_executed_total",
			Help: "Executed trades by symbol.",
		}, []string{"symbol"}),
		WithdrawalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_withdrawal_requests_total",
			Help: "Withdrawal requests by outcome.",
		}, []string{"status"}),
		WithdrawalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_withdrawal_decisions_total",
			Help: "Admin withdrawal decisions by outcome.",
		}, []string{"decision"}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_match_duration_seconds",
			Help:    "Time spent matching one incoming order.",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol", "side", "type"}),
		OrderbookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_orderbook_depth",
			Help: "Resting orders per book side.",
		}, []string{"symbol", "side"}),
		OrderbookSpread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_orderbook_spread",
			Help: "Best ask minus best bid.",
		}, []string{"symbol"}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.OrderSubmissions,
		m.OrderCancellations,
		m.TradesExecuted,
		m.WithdrawalRequests,
		m.WithdrawalDecisions,
		m.MatchDuration,
		m.OrderbookDepth,
		m.OrderbookSpread,
	)
}

func (m *Metrics) ObserveOrder(symbol, side, orderType string, duration time.Duration) {
	m.MatchDuration.WithLabelValues(symbol, side, orderType).Observe(duration.Seconds())
}

func (m *Metrics) ObserveTrades(symbol string, count int) {
	m.TradesExecuted.WithLabelValues(symbol).Add(float64(count))
}

func (m *Metrics) SetOrderbookDepth(symbol, side string, depth float64) {
	m.OrderbookDepth.WithLabelValues(symbol, side).Set(depth)
}

func (m *Metrics) SetOrderbookSpread(symbol string, spread float64) {
	m.OrderbookSpread.WithLabelValues(symbol).Set(spread)
}
