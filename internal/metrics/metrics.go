// Package metrics exposes the engine's Prometheus series: counters and
// gauges the scheduler, position manager, and risk guard update as the
// pipeline runs. Grounded on chidi150c-coinbase's metrics.go (package
// vars registered via prometheus.MustRegister in init, with small
// exported setter/incrementer functions the rest of the program calls),
// adapted to this engine's own series names and adding the /metrics
// HTTP handler that main.go mounts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signal decisions emitted, by kind.",
		},
		[]string{"kind"},
	)

	TradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_opened_total",
			Help: "Positions opened, by entry mode.",
		},
		[]string{"entry_mode"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Closing trades, by result and exit reason.",
		},
		[]string{"result", "reason"},
	)

	RegimeSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_regime_switches_total",
			Help: "Regime mode transitions, by destination mode.",
		},
		[]string{"to_mode"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of symbols currently holding an open position.",
		},
	)

	PortfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_portfolio_cash_usd",
			Help: "Free cash balance available for new entries.",
		},
	)

	RiskGuardState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_risk_guard_open",
			Help: "1 when the risk guard is blocking new entries, 0 otherwise.",
		},
	)

	SchedulerCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_scheduler_cycle_seconds",
			Help:    "Wall time of one scheduler RunOnce pass across all tracked symbols.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SymbolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_symbol_errors_total",
			Help: "Per-symbol processing errors encountered by the scheduler.",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsGenerated,
		TradesOpened,
		TradesClosed,
		RegimeSwitches,
		OpenPositions,
		PortfolioEquity,
		RiskGuardState,
		SchedulerCycleSeconds,
		SymbolErrors,
	)
}

// Handler returns the Prometheus scrape handler to mount at a
// configured path (spec's single-owner ambient observability layer;
// not gated by any trading Non-goal).
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRiskGuardState translates the boolean open/closed posture
// into the gauge's 0/1 series.
func ObserveRiskGuardState(open bool) {
	if open {
		RiskGuardState.Set(1)
	} else {
		RiskGuardState.Set(0)
	}
}
