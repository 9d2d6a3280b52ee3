package worker

import (
	"context"
	"errors"

	"bubbleflow.app/relay/internal/queue"
)

// ErrPermanent marks failures a retry cannot fix. Such tasks skip the retry
// budget and go straight to the DLQ.
var ErrPermanent = errors.New("permanent task failure")

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TaskProcessor runs one deferred execution.
type TaskProcessor interface {
	Process(ctx context.Context, task queue.ExecutionTask) error
}
