package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/trigger"
)

// Processor rebuilds the queued trigger event and runs the flow.
type Processor struct {
	flows      store.FlowStore
	executions store.ExecutionStore
	engine     engine.Engine
}

// NewProcessor expects eng to record executions itself.
func NewProcessor(flows store.FlowStore, executions store.ExecutionStore, eng engine.Engine) *Processor {
	return &Processor{flows: flows, executions: executions, engine: eng}
}

func (p *Processor) Process(ctx context.Context, task queue.ExecutionTask) error {
	flow, err := p.flows.GetByID(ctx, task.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: flow %d no longer exists", ErrPermanent, task.FlowID)
		}
		return fmt.Errorf("fetching flow: %w", err)
	}

	event, err := task.Event.RestoreStrict()
	if err != nil {
		var parseErr *trigger.ParseError
		if errors.As(err, &parseErr) {
			p.recordRejected(ctx, task, err)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	res, err := p.engine.Run(ctx, engine.Request{
		ExecutionID: task.ExecutionID,
		FlowID:      flow.ID,
		Code:        flow.Code,
		Event:       event,
	})
	if err != nil {
		if errors.Is(err, engine.ErrNotStarted) {
			return fmt.Errorf("running flow: %w", err)
		}
		// The runner may already have seen the request. The recorder has
		// stored the failure, so the task is never handed out again.
		return fmt.Errorf("%w: running flow: %v", ErrPermanent, err)
	}

	if res != nil && !res.Success {
		slog.WarnContext(ctx, "flow reported failure", "error", logger.Truncate(res.Error, 500))
	}
	return nil
}

// recordRejected stores a failed execution for a payload that does not fit
// its trigger type. The flow is not run.
func (p *Processor) recordRejected(ctx context.Context, task queue.ExecutionTask, cause error) {
	slog.WarnContext(ctx, "trigger payload rejected", "error", cause)

	payload, err := json.Marshal(task.Event)
	if err != nil {
		payload = json.RawMessage(`{}`)
	}
	execution := &model.Execution{
		ID:          task.ExecutionID,
		FlowID:      task.FlowID,
		TriggerType: string(task.Event.Type),
		Status:      model.ExecutionStatusRunning,
		Payload:     payload,
	}
	if err := p.executions.Create(ctx, execution); err != nil {
		slog.ErrorContext(ctx, "failed to record rejected execution", "error", err)
		return
	}
	msg := cause.Error()
	if err := p.executions.Complete(ctx, task.ExecutionID, model.ExecutionStatusError, nil, &msg); err != nil {
		slog.ErrorContext(ctx, "failed to complete rejected execution", "error", err)
	}
}
