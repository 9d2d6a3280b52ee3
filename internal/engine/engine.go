package engine

import (
	"context"
	"encoding/json"
	"errors"

	"bubbleflow.app/relay/internal/trigger"
)

// ErrStreamIncomplete is returned when a streaming run ends without a
// terminal event from the runner.
var ErrStreamIncomplete = errors.New("execution stream ended without a result")

// ErrNotStarted marks run failures that happened before the request was
// handed to the runner. Only these are safe to retry.
var ErrNotStarted = errors.New("execution not started")

// Engine runs flow code against a trigger event.
type Engine interface {
	Run(ctx context.Context, req Request) (*Result, error)
	// RunStreaming forwards intermediate events to emit in the order the
	// runner produced them. A non-nil error from emit aborts the run.
	RunStreaming(ctx context.Context, req Request, emit func(StreamEvent) error) (*Result, error)
}

type Request struct {
	ExecutionID int64
	FlowID      int64
	Code        string
	Event       trigger.Event
}

// Result is the outcome reported by the runner. A failed flow is a Result
// with Success false, not an error.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	// Recoverable is the runner's own verdict on a streamed error event.
	Recoverable bool `json:"recoverable,omitempty"`
}

func Failure(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

// StreamEvent is one runner event. Fields holds everything but the type.
type StreamEvent struct {
	Type   string
	Fields map[string]any
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if t, ok := fields["type"].(string); ok {
		e.Type = t
	}
	delete(fields, "type")
	e.Fields = fields
	return nil
}

type wireRequest struct {
	ExecutionID string        `json:"executionId"`
	FlowID      int64         `json:"flowId"`
	Code        string        `json:"code"`
	Payload     trigger.Event `json:"payload"`
}
