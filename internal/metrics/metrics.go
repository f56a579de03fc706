/*

This file contains the Prometheus instrumentation for the allocation core.
Collectors are registered once at package init and written to by the bundle
and the strategies; the web server mounts Handler under /metrics.

*/

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed bundle cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rwacore",
		Name:      "cycles_total",
		Help:      "Completed bundle rebalance cycles.",
	})

	// RebalancesExecuted counts cycles where the gate passed and
	// instructions were executed.
	RebalancesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rwacore",
		Name:      "rebalances_executed_total",
		Help:      "Cycles in which the rebalance gate passed.",
	})

	// InstructionsTotal counts executed rebalance instructions by outcome.
	InstructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwacore",
		Name:      "instructions_total",
		Help:      "Executed rebalance instructions by outcome.",
	}, []string{"outcome"})

	// EmergencyExits counts emergency exit invocations per strategy.
	EmergencyExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rwacore",
		Name:      "emergency_exits_total",
		Help:      "Emergency exit invocations per strategy.",
	}, []string{"strategy"})

	// AllocatedCapital tracks the bundle's deployed capital in base-asset
	// units, exported as a float for dashboards.
	AllocatedCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rwacore",
		Name:      "allocated_capital_base_units",
		Help:      "Capital currently deployed across exposure strategies.",
	})

	// StrategyExposure tracks per-strategy notional exposure.
	StrategyExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rwacore",
		Name:      "strategy_exposure_base_units",
		Help:      "Notional exposure per strategy.",
	}, []string{"strategy"})

	// CircuitBreakerActive is 1 while the circuit breaker blocks inflow.
	CircuitBreakerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rwacore",
		Name:      "circuit_breaker_active",
		Help:      "Whether the circuit breaker currently blocks capital inflow.",
	})
)

// Handler exposes the default registry for the web server.
func Handler() http.Handler {
	return promhttp.Handler()
}
