package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EscrowActionsTotal counts escrow gateway actions by action and result.
	EscrowActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_actions_total",
			Help: "Total escrow actions performed, by action and result",
		},
		[]string{"action", "result"},
	)

	// WebhookDeliveriesTotal counts outbound webhook delivery attempts by result.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total webhook delivery attempts, by result",
		},
		[]string{"result"},
	)

	// CronRunsTotal counts dispatcher task runs by task type and result.
	CronRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_runs_total",
			Help: "Total cron task executions, by task and result",
		},
		[]string{"task", "result"},
	)

	// CronRunDuration observes how long each claimed task run took.
	CronRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cron_run_duration_seconds",
			Help:    "Duration of claimed cron task runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)
