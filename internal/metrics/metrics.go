package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsCreated counts ingested alerts by type.
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"alert_type", "severity"},
	)

	// AlertsEscalated counts escalation transitions by trigger.
	AlertsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_alerts_escalated_total",
			Help: "Total number of alert escalations",
		},
		[]string{"alert_type", "trigger"},
	)

	// AlertsAutoClosed counts system closures by type.
	AlertsAutoClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_alerts_auto_closed_total",
			Help: "Total number of alerts auto-closed by the system",
		},
		[]string{"alert_type"},
	)

	// AlertsResolved counts operator closures by type.
	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_alerts_resolved_total",
			Help: "Total number of alerts resolved by operators",
		},
		[]string{"alert_type"},
	)

	// EvaluationFailures counts swallowed evaluation errors by workflow.
	EvaluationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_evaluation_failures_total",
			Help: "Total number of contained rule evaluation failures",
		},
		[]string{"workflow"},
	)

	// SweepRuns counts auto-close sweep outcomes.
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_sweep_runs_total",
			Help: "Total number of auto-close sweep executions",
		},
		[]string{"outcome"},
	)

	// SweepProcessed counts alerts evaluated by the sweep.
	SweepProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetalert_sweep_alerts_processed_total",
			Help: "Total number of alerts evaluated by auto-close sweeps",
		},
	)

	// SweepClosed counts alerts closed by the sweep.
	SweepClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetalert_sweep_alerts_closed_total",
			Help: "Total number of alerts closed by auto-close sweeps",
		},
	)

	// SweepDuration observes sweep wall time.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetalert_sweep_duration_seconds",
			Help:    "Auto-close sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		},
	)

	// RuleReloads counts rule snapshot reload outcomes.
	RuleReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetalert_rule_reloads_total",
			Help: "Total number of rule reload attempts",
		},
		[]string{"outcome"},
	)
)
