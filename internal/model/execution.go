package model

import (
	"encoding/json"
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// Execution records one run of a flow against one trigger event.
type Execution struct {
	ID          int64           `json:"id"`
	FlowID      int64           `json:"flow_id"`
	TriggerType string          `json:"trigger_type"`
	Status      ExecutionStatus `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
