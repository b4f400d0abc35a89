// Package metrics exposes Prometheus counters and gauges for the execution
// core. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/riskexec/risk"
)

const namespace = "riskexec"

type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	denials         *prometheus.CounterVec
	retries         *prometheus.CounterVec
	tradesClosed    *prometheus.CounterVec
	tradePnL        *prometheus.HistogramVec

	breakerTripped prometheus.Gauge
	multiplier     prometheus.Gauge
	peakProfit     prometheus.Gauge
	dailyPnLPct    prometheus.Gauge
	protection     prometheus.Gauge
	openPositions  prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders sent to the broker",
		}, []string{"symbol", "side", "mode"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order state transitions by target status",
		}, []string{"status"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_denials_total",
			Help:      "Open requests denied by the risk gate",
		}, []string{"code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_retries_total",
			Help:      "Broker calls retried after a transient failure",
		}, []string{"op"}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Round trips closed, by outcome",
		}, []string{"outcome"}),
		tradePnL: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_pnl",
			Help:      "Realized profit per round trip",
			Buckets:   []float64{-1000, -500, -250, -100, -50, 0, 50, 100, 250, 500, 1000},
		}, []string{"symbol"}),
		breakerTripped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_tripped",
			Help:      "1 while the circuit breaker is tripped",
		}),
		multiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_multiplier",
			Help:      "Emotional control size multiplier",
		}),
		peakProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_peak_profit",
			Help:      "Peak realized plus unrealized profit today",
		}),
		dailyPnLPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl_pct",
			Help:      "Realized profit today in percent of starting equity",
		}),
		protection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profit_protection_active",
			Help:      "1 while profit protection is active",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions",
		}),
	}

	m.registry.MustRegister(
		m.ordersSubmitted, m.transitions, m.denials, m.retries,
		m.tradesClosed, m.tradePnL,
		m.breakerTripped, m.multiplier, m.peakProfit, m.dailyPnLPct,
		m.protection, m.openPositions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(symbol, side, mode string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(symbol, side, mode).Inc()
}

func (m *Metrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RiskDenied(code string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(code).Inc()
}

// BrokerRetry matches retry.RetryFunc.
func (m *Metrics) BrokerRetry(op string, attempt int, err error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) TradeClosed(symbol string, pnl float64) {
	if m == nil {
		return
	}
	outcome := "win"
	if pnl < 0 {
		outcome = "loss"
	}
	m.tradesClosed.WithLabelValues(outcome).Inc()
	m.tradePnL.WithLabelValues(symbol).Observe(pnl)
}

func (m *Metrics) OpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// ObserveRisk matches the risk supervisor's observer hook.
func (m *Metrics) ObserveRisk(s risk.State) {
	if m == nil {
		return
	}
	m.breakerTripped.Set(boolFloat(s.Breaker.Tripped))
	m.protection.Set(boolFloat(s.Protection.Active))
	m.multiplier.Set(s.Emotional.SizeMultiplier.InexactFloat64())
	m.peakProfit.Set(s.Protection.DailyPeakProfit.InexactFloat64())
	m.dailyPnLPct.Set(s.Breaker.DailyPnLPct.InexactFloat64())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
