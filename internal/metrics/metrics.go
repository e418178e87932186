// Package metrics defines the Prometheus series tstopd exposes at
// /metrics, grounded in chidi150c-coinbase/metrics.go's package-level
// CounterVec/GaugeVec + init()-registration idiom, retargeted from
// signal-generation metrics to the stop-tracking domain.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EntryOrdersPlaced counts entry limit-buy orders submitted, by pair.
	EntryOrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_entry_orders_placed_total",
			Help: "Entry limit-buy orders submitted.",
		},
		[]string{"pair"},
	)

	// StopOrdersPlaced counts stop-limit orders placed (initial and
	// replacements), by pair and reason (initial|ratchet|timeout|reconcile).
	StopOrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_stop_orders_placed_total",
			Help: "Stop-limit orders placed, split by reason.",
		},
		[]string{"pair", "reason"},
	)

	// StopRatchets counts successful trailing-stop ratchets.
	StopRatchets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_stop_ratchets_total",
			Help: "Trailing stop ratchets applied.",
		},
		[]string{"pair"},
	)

	// OpenPositions reports the current number of open positions per pair
	// (0 or 1 per pair under this engine's model, spec.md §3).
	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tstopd_open_positions",
			Help: "Open positions, per pair.",
		},
		[]string{"pair"},
	)

	// RateLimitWaits counts times the governor made a caller wait before a
	// venue call, by endpoint.
	RateLimitWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_rate_limit_waits_total",
			Help: "Times the rate-limit governor delayed a request.",
		},
		[]string{"endpoint"},
	)

	// VenueErrors counts non-2xx venue responses, by status class.
	VenueErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_venue_errors_total",
			Help: "Venue error responses, by status class.",
		},
		[]string{"pair", "status_class"},
	)

	// PortfolioEquity reports the capital pool's current allocated equity.
	PortfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tstopd_portfolio_equity_usd",
			Help: "Total equity currently allocated across open positions.",
		},
	)

	// ReconcileRuns counts startup/periodic reconciliation passes.
	ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tstopd_reconcile_runs_total",
			Help: "Reconciliation passes run, by outcome (clean|repaired).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		EntryOrdersPlaced,
		StopOrdersPlaced,
		StopRatchets,
		OpenPositions,
		RateLimitWaits,
		VenueErrors,
		PortfolioEquity,
		ReconcileRuns,
	)
}
