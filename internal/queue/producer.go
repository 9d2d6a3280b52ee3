package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task ExecutionTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task ExecutionTask) error {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	event, err := json.Marshal(task.Event)
	if err != nil {
		return fmt.Errorf("encode trigger event: %w", err)
	}

	source := task.Source
	if source == "" {
		source = TaskSourceWebhook
	}

	fields := map[string]any{
		"execution_id": task.ExecutionID,
		"flow_id":      task.FlowID,
		"source":       string(source),
		"trigger_type": string(task.Event.Type),
		"event":        string(event),
		"attempt":      attempt,
	}
	if task.WebhookID != nil {
		fields["webhook_id"] = *task.WebhookID
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue execution: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued execution",
		"execution_id", task.ExecutionID,
		"flow_id", task.FlowID,
		"trigger_type", task.Event.Type,
		"source", source,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
