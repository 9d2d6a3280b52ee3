package store

import (
	"context"
	"encoding/json"
	"errors"

	"bubbleflow.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// WebhookStore defines the contract for webhook lookups
type WebhookStore interface {
	GetByUserAndPath(ctx context.Context, userID, path string) (*model.Webhook, error)
	GetByID(ctx context.Context, id int64) (*model.Webhook, error)
}

// FlowStore defines the contract for flow data access
type FlowStore interface {
	GetByID(ctx context.Context, id int64) (*model.Flow, error)
	ListCronActive(ctx context.Context) ([]model.Flow, error)
	RecordExecution(ctx context.Context, id int64) error
}

// ExecutionStore defines the contract for execution records
type ExecutionStore interface {
	Create(ctx context.Context, execution *model.Execution) error
	Complete(ctx context.Context, id int64, status model.ExecutionStatus, result json.RawMessage, errMsg *string) error
	GetByID(ctx context.Context, id int64) (*model.Execution, error)
	ListByFlow(ctx context.Context, flowID int64, limit int32) ([]model.Execution, error)
}
