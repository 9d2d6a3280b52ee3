package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"bubbleflow.app/relay/core/db"
	"bubbleflow.app/relay/internal/model"
)

const executionColumns = `id, flow_id, trigger_type, status, payload, result, error, started_at, completed_at`

type executionStore struct {
	conn db.DBTX
}

func newExecutionStore(conn db.DBTX) ExecutionStore {
	return &executionStore{conn: conn}
}

// Create inserts the execution as running. Re-creating an existing id (a
// redelivered queue task) resets it.
func (s *executionStore) Create(ctx context.Context, execution *model.Execution) error {
	row := s.conn.QueryRow(ctx,
		`INSERT INTO executions (id, flow_id, trigger_type, status, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		   SET status = EXCLUDED.status, payload = EXCLUDED.payload, started_at = now(),
		       result = NULL, error = NULL, completed_at = NULL
		 RETURNING `+executionColumns,
		execution.ID, execution.FlowID, execution.TriggerType, string(execution.Status), []byte(execution.Payload))
	created, err := scanExecution(row)
	if err != nil {
		return err
	}
	*execution = *created
	return nil
}

func (s *executionStore) Complete(ctx context.Context, id int64, status model.ExecutionStatus, result json.RawMessage, errMsg *string) error {
	var resultArg any
	if len(result) > 0 {
		resultArg = []byte(result)
	}
	tag, err := s.conn.Exec(ctx,
		`UPDATE executions SET status = $2, result = $3, error = $4, completed_at = now() WHERE id = $1`,
		id, string(status), resultArg, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *executionStore) GetByID(ctx context.Context, id int64) (*model.Execution, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (s *executionStore) ListByFlow(ctx context.Context, flowID int64, limit int32) ([]model.Execution, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE flow_id = $1 ORDER BY started_at DESC LIMIT $2`,
		flowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Execution, 0)
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *execution)
	}
	return result, rows.Err()
}

func scanExecution(row pgx.Row) (*model.Execution, error) {
	var (
		e         model.Execution
		status    string
		completed pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.FlowID, &e.TriggerType, &status, &e.Payload, &e.Result, &e.Error, &e.StartedAt, &completed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = model.ExecutionStatus(status)
	e.CompletedAt = toTimePointer(completed)
	return &e, nil
}

func toTimePointer(value pgtype.Timestamptz) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
