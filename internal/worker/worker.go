package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/internal/metrics"
	"bubbleflow.app/relay/internal/queue"
)

type Config struct {
	MaxAttempts int
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer  Consumer
	processor TaskProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor TaskProcessor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.HandleMessage(ctx, msg)
	}
	return nil
}

// HandleMessage processes msg and settles it: ack on success, requeue or
// DLQ on failure. Exported so the reclaimer shares the same path.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:   &msg.ID,
		ExecutionID: &msg.Task.ExecutionID,
		FlowID:      &msg.Task.FlowID,
		WebhookID:   msg.Task.WebhookID,
		TriggerType: logger.Ptr(string(msg.Task.Event.Type)),
	})

	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_task",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(
		attribute.Int64("execution.id", msg.Task.ExecutionID),
		attribute.Int64("flow.id", msg.Task.FlowID),
		attribute.Int("task.attempt", msg.Attempt),
	)

	if err := w.processSafe(ctx, msg); err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "task processing failed", "error", err, "attempt", msg.Attempt)
		w.handleFailedMessage(ctx, msg, err)
		return
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The reclaimer will redeliver; the execution row is reset on retry.
		slog.WarnContext(ctx, "failed to ack message", "error", err)
	}
	metrics.QueueTasksTotal.WithLabelValues(string(msg.Task.Source), "processed").Inc()
}

func (w *Worker) processSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in task processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	slog.InfoContext(ctx, "processing task",
		"source", msg.Task.Source,
		"attempt", msg.Attempt)
	return w.processor.Process(ctx, msg.Task)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, ErrPermanent) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "giving up on task, sending to DLQ", "attempts", msg.Attempt)
		metrics.QueueTasksTotal.WithLabelValues(string(msg.Task.Source), "dead_lettered").Inc()
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	metrics.QueueTasksTotal.WithLabelValues(string(msg.Task.Source), "requeued").Inc()
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
