package model

import (
	"encoding/json"
	"time"
)

// Flow is a stored BubbleFlow: generated code plus how it is triggered.
type Flow struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	TriggerType    string          `json:"trigger_type"`
	Code           string          `json:"-"`
	CronExpr       *string         `json:"cron,omitempty"`
	CronActive     bool            `json:"cron_active"`
	DefaultInputs  json.RawMessage `json:"default_inputs,omitempty"`
	ExecutionCount int32           `json:"execution_count"`
	LastExecutedAt *time.Time      `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Inputs decodes DefaultInputs. Malformed or non-object inputs yield nil.
func (f *Flow) Inputs() map[string]any {
	if len(f.DefaultInputs) == 0 {
		return nil
	}
	var inputs map[string]any
	if err := json.Unmarshal(f.DefaultInputs, &inputs); err != nil {
		return nil
	}
	return inputs
}
