package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger metrics
	TradesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_trades_applied_total",
			Help: "Total number of trades applied to the ledger",
		},
		[]string{"side", "asset", "venue"},
	)

	TradeApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coinpilot_trade_apply_duration_seconds",
			Help:    "Ledger trade application duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RealizedGains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_realized_gain_events_total",
			Help: "Total number of realized gain events emitted by the tax-lot matcher",
		},
		[]string{"asset", "term"},
	)

	ReconciliationMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coinpilot_reconciliation_mismatches_total",
			Help: "Total number of lot-sum vs position-amount mismatches detected",
		},
	)

	// Recurring plan metrics
	PlanExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_plan_executions_total",
			Help: "Total number of recurring plan executions",
		},
		[]string{"status"},
	)

	PlansDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinpilot_plans_due",
			Help: "Number of plans found due in the last sweep",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coinpilot_sweep_duration_seconds",
			Help:    "Recurring investment sweep duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	// Backtest metrics
	BacktestsRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_backtests_total",
			Help: "Total number of backtest runs",
		},
		[]string{"strategy", "status"},
	)

	BacktestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coinpilot_backtest_duration_seconds",
			Help:    "Backtest simulation duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
	)

	// External collaborator metrics
	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coinpilot_external_call_duration_seconds",
			Help:    "Duration of price-feed and payment-gateway calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator", "operation"},
	)

	ExternalCallFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_external_call_failures_total",
			Help: "Total number of failed price-feed and payment-gateway calls",
		},
		[]string{"collaborator", "operation"},
	)
)
