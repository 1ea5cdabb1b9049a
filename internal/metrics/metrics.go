// Package metrics exposes Prometheus counters and gauges for executor
// operability: how many strategies are running, how the broker and
// platform connections are behaving, and what the runtimes are doing.
// Registered in init() and served by internal/api's /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveRuntimes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_active_runtimes",
			Help: "Number of strategy runtimes currently tracked by ExecutorCore.",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_open_positions",
			Help: "Number of currently open positions across all runtimes.",
		},
	)

	DailyPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "executor_daily_pnl",
			Help: "Realized PnL for the current trading day, per strategy.",
		},
		[]string{"strategy_id"},
	)

	BrokerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_broker_retries_total",
			Help: "Count of retried broker operations, by operation kind.",
		},
		[]string{"operation"},
	)

	// CircuitBreakerState mirrors platformlink.BreakerState as a 0/1/2 gauge
	// (closed/half-open/open) so dashboards can alert on sustained opens.
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_platform_circuit_breaker_state",
			Help: "PlatformLink circuit breaker state: 0=closed, 1=half-open, 2=open.",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_commands_total",
			Help: "Commands processed by ExecutorCore, by kind.",
		},
		[]string{"kind"},
	)

	TradeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_trade_events_total",
			Help: "Trade events emitted, by event kind.",
		},
		[]string{"kind"},
	)

	RiskBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_risk_blocks_total",
			Help: "Entries blocked by RiskGate, by reason.",
		},
		[]string{"reason"},
	)

	FilterBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_filter_blocks_total",
			Help: "Entries blocked by the filter stack, by filter name.",
		},
		[]string{"filter"},
	)
)

func init() {
	prometheus.MustRegister(
		ActiveRuntimes,
		OpenPositions,
		DailyPnL,
		BrokerRetriesTotal,
		CircuitBreakerState,
		CommandsTotal,
		TradeEventsTotal,
		RiskBlocksTotal,
		FilterBlocksTotal,
	)
}

// Handler returns the promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BreakerStateValue maps platformlink.Link.BreakerState()'s string value
// onto the gauge value CircuitBreakerState expects, without importing
// platformlink (avoided to keep metrics a leaf package).
func BreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	default:
		return 2
	}
}
