package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bubbleflow.app/relay/common/id"
	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/metrics"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/trigger"
)

// ExecutionRecorder wraps an engine and persists an execution row around
// every run. It is itself an engine.Engine.
type ExecutionRecorder struct {
	next     engine.Engine
	txRunner TxRunner
}

func NewExecutionRecorder(next engine.Engine, txRunner TxRunner) *ExecutionRecorder {
	return &ExecutionRecorder{next: next, txRunner: txRunner}
}

func (r *ExecutionRecorder) Run(ctx context.Context, req engine.Request) (*engine.Result, error) {
	req, err := r.start(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ExecutionID: &req.ExecutionID})

	started := time.Now()
	res, runErr := r.next.Run(ctx, req)
	r.finish(ctx, req, started, res, runErr)
	return res, runErr
}

func (r *ExecutionRecorder) RunStreaming(ctx context.Context, req engine.Request, emit func(engine.StreamEvent) error) (*engine.Result, error) {
	req, err := r.start(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ExecutionID: &req.ExecutionID})

	started := time.Now()
	res, runErr := r.next.RunStreaming(ctx, req, emit)
	r.finish(ctx, req, started, res, runErr)
	return res, runErr
}

func (r *ExecutionRecorder) start(ctx context.Context, req engine.Request) (engine.Request, error) {
	if req.ExecutionID == 0 {
		req.ExecutionID = id.New()
	}

	payload, err := json.Marshal(req.Event)
	if err != nil {
		return req, fmt.Errorf("%w: encoding execution payload: %v", engine.ErrNotStarted, err)
	}

	execution := &model.Execution{
		ID:          req.ExecutionID,
		FlowID:      req.FlowID,
		TriggerType: string(trigger.Common(req.Event).Type),
		Status:      model.ExecutionStatusRunning,
		Payload:     payload,
	}
	if err := r.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		return sp.Executions().Create(ctx, execution)
	}); err != nil {
		return req, fmt.Errorf("%w: recording execution start: %w", engine.ErrNotStarted, err)
	}
	return req, nil
}

func (r *ExecutionRecorder) finish(ctx context.Context, req engine.Request, started time.Time, res *engine.Result, runErr error) {
	triggerType := string(trigger.Common(req.Event).Type)

	status := model.ExecutionStatusSuccess
	var (
		data   json.RawMessage
		errMsg *string
	)
	switch {
	case runErr != nil:
		status = model.ExecutionStatusError
		errMsg = logger.Ptr(runErr.Error())
	case res == nil:
		status = model.ExecutionStatusError
		errMsg = logger.Ptr("execution engine returned no result")
	case !res.Success:
		status = model.ExecutionStatusError
		errMsg = logger.Ptr(res.Error)
		data = res.Data
	default:
		data = res.Data
	}

	elapsed := time.Since(started)
	metrics.ExecutionsTotal.WithLabelValues(triggerType, string(status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(triggerType).Observe(elapsed.Seconds())

	// The run already happened; bookkeeping failures are logged, not returned.
	if err := r.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := sp.Executions().Complete(ctx, req.ExecutionID, status, data, errMsg); err != nil {
			return fmt.Errorf("completing execution: %w", err)
		}
		if err := sp.Flows().RecordExecution(ctx, req.FlowID); err != nil {
			return fmt.Errorf("bumping flow execution count: %w", err)
		}
		return nil
	}); err != nil {
		slog.ErrorContext(ctx, "failed to record execution result", "error", err, "status", status)
	}

	slog.InfoContext(ctx, "execution finished",
		"status", status,
		"duration_ms", elapsed.Milliseconds())
}
