// Package metrics collects Prometheus metrics for the forecast orchestrator,
// trading simulation, and order book. Adapted from
// pkg/trader/metrics/metrics.go (one *prometheus.Registry per process,
// CounterVec/HistogramVec/GaugeVec grouped by concern, thin Record*/Update*
// wrapper methods) and retargeted from Polymarket order/position/signal
// metrics to forecast-phase and simulation-round metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects and exposes every Prometheus series this process emits.
type Metrics struct {
	registry *prometheus.Registry

	// Orchestrator metrics
	ForecastRuns     *prometheus.CounterVec
	ForecastDuration *prometheus.HistogramVec
	PhaseDuration    *prometheus.HistogramVec
	AgentRuns        *prometheus.CounterVec
	AgentTokens      *prometheus.CounterVec
	LLMErrors        *prometheus.CounterVec

	// Order book metrics
	OrdersPlaced  *prometheus.CounterVec
	TradesTotal   *prometheus.CounterVec
	TradeVolume   *prometheus.CounterVec
	OpenOrders    *prometheus.GaugeVec
	BookSpread    *prometheus.GaugeVec

	// Simulation metrics
	RoundsTotal     *prometheus.CounterVec
	RoundDuration   *prometheus.HistogramVec
	TraderSkips     *prometheus.CounterVec
	TraderFailures  *prometheus.CounterVec

	// HTTP surface metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New builds a Metrics collector bound to a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ForecastRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_forecast_runs_total",
				Help: "Total number of orchestrator runs by terminal status",
			},
			[]string{"status"},
		),
		ForecastDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_forecast_duration_seconds",
				Help:    "Total wall-clock duration of a complete forecast run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
			[]string{"persona"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_phase_duration_seconds",
				Help:    "Duration of one orchestrator phase",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"phase"},
		),
		AgentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_agent_runs_total",
				Help: "Total agent executions by phase and terminal status",
			},
			[]string{"phase", "status"},
		),
		AgentTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_agent_tokens_total",
				Help: "Total LLM tokens consumed by phase",
			},
			[]string{"phase"},
		),
		LLMErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_llm_errors_total",
				Help: "Total LLM client errors by kind",
			},
			[]string{"kind"},
		),

		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_orders_placed_total",
				Help: "Total orders placed by side",
			},
			[]string{"side"},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trades_total",
				Help: "Total trades executed",
			},
			[]string{"market"},
		),
		TradeVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trade_volume_contracts",
				Help: "Total contract volume traded",
			},
			[]string{"market"},
		),
		OpenOrders: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecastmarket_open_orders",
				Help: "Current number of open orders per market",
			},
			[]string{"market"},
		),
		BookSpread: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forecastmarket_book_spread_cents",
				Help: "Current best bid/ask spread in cents",
			},
			[]string{"market"},
		),

		RoundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_simulation_rounds_total",
				Help: "Total simulation rounds run",
			},
			[]string{"session"},
		),
		RoundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_simulation_round_duration_seconds",
				Help:    "Wall-clock duration of one simulation round",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"session"},
		),
		TraderSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trader_skips_total",
				Help: "Total rounds a trader skipped (e.g. unchanged tracked post)",
			},
			[]string{"trader"},
		),
		TraderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trader_failures_total",
				Help: "Total trader agent executions that failed",
			},
			[]string{"trader"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_http_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_http_request_duration_seconds",
				Help:    "HTTP request handling duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	m.registerAll()
	return m
}

func (m *Metrics) registerAll() {
	m.registry.MustRegister(
		m.ForecastRuns, m.ForecastDuration, m.PhaseDuration, m.AgentRuns, m.AgentTokens, m.LLMErrors,
		m.OrdersPlaced, m.TradesTotal, m.TradeVolume, m.OpenOrders, m.BookSpread,
		m.RoundsTotal, m.RoundDuration, m.TraderSkips, m.TraderFailures,
		m.HTTPRequests, m.HTTPDuration,
	)
}

// Registry returns the Prometheus registry these metrics are registered
// against, for mounting behind promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordForecastRun records one terminal orchestrator run.
func (m *Metrics) RecordForecastRun(persona, status string, durationSeconds float64) {
	m.ForecastRuns.WithLabelValues(status).Inc()
	m.ForecastDuration.WithLabelValues(persona).Observe(durationSeconds)
}

// RecordPhase records one orchestrator phase's duration.
func (m *Metrics) RecordPhase(phase string, durationSeconds float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordAgentRun records one agent execution's terminal status and token
// usage.
func (m *Metrics) RecordAgentRun(phase, status string, tokens int) {
	m.AgentRuns.WithLabelValues(phase, status).Inc()
	if tokens > 0 {
		m.AgentTokens.WithLabelValues(phase).Add(float64(tokens))
	}
}

// RecordLLMError records one LLM client error by kind (rate_limited,
// upstream, network, invalid_output).
func (m *Metrics) RecordLLMError(kind string) {
	m.LLMErrors.WithLabelValues(kind).Inc()
}

// RecordOrder records one order placement.
func (m *Metrics) RecordOrder(side string) {
	m.OrdersPlaced.WithLabelValues(side).Inc()
}

// RecordTrades records newly executed trades against a market.
func (m *Metrics) RecordTrades(market string, count, volume int) {
	m.TradesTotal.WithLabelValues(market).Add(float64(count))
	m.TradeVolume.WithLabelValues(market).Add(float64(volume))
}

// UpdateBook updates a market's current open-order count and spread.
func (m *Metrics) UpdateBook(market string, openOrders int, spreadCents *int) {
	m.OpenOrders.WithLabelValues(market).Set(float64(openOrders))
	if spreadCents != nil {
		m.BookSpread.WithLabelValues(market).Set(float64(*spreadCents))
	}
}

// RecordRound records one simulation round's duration.
func (m *Metrics) RecordRound(session string, durationSeconds float64) {
	m.RoundsTotal.WithLabelValues(session).Inc()
	m.RoundDuration.WithLabelValues(session).Observe(durationSeconds)
}

// RecordTraderSkip records a trader skipping its round.
func (m *Metrics) RecordTraderSkip(trader string) {
	m.TraderSkips.WithLabelValues(trader).Inc()
}

// RecordTraderFailure records a trader agent execution failure.
func (m *Metrics) RecordTraderFailure(trader string) {
	m.TraderFailures.WithLabelValues(trader).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}
