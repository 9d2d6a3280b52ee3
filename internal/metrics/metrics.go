package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook dispatch
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_requests_total",
			Help: "Webhook requests by trigger type and dispatch outcome",
		},
		[]string{"trigger_type", "outcome"},
	)

	TriggerSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_trigger_skips_total",
			Help: "Deliveries dropped by the admissibility filter",
		},
		[]string{"trigger_type"},
	)

	SlackDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slack_duplicate_events_total",
			Help: "Slack retries acknowledged without re-execution",
		},
	)

	// Execution
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_executions_total",
			Help: "Flow executions by trigger type and final status",
		},
		[]string{"trigger_type", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_execution_duration_seconds",
			Help:    "Wall time of flow executions in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"trigger_type"},
	)

	// Queue
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_queue_tasks_total",
			Help: "Queued execution tasks by source and result",
		},
		[]string{"source", "result"},
	)

	// Scheduler
	CronFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cron_fires_total",
			Help: "Cron schedule fires by result",
		},
		[]string{"result"},
	)

	ScheduledFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_scheduled_flows",
			Help: "Flows currently registered with the cron scheduler",
		},
	)
)
