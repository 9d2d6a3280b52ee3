package queue

import (
	"bubbleflow.app/relay/internal/trigger"
)

// TaskSource records what put an execution on the stream.
type TaskSource string

const (
	TaskSourceWebhook TaskSource = "webhook"
	TaskSourceCron    TaskSource = "cron"
)

// ExecutionTask is one deferred flow run. ExecutionID is assigned by the
// producer side so redeliveries update the same execution row.
type ExecutionTask struct {
	ExecutionID int64
	FlowID      int64
	WebhookID   *int64
	Source      TaskSource
	Event       trigger.Snapshot
	TraceID     *string
	Attempt     int
}
