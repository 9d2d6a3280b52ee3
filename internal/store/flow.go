package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"bubbleflow.app/relay/core/db"
	"bubbleflow.app/relay/internal/model"
)

const flowColumns = `id, user_id, name, trigger_type, code, cron_expr, cron_active,
	default_inputs, execution_count, last_executed_at, created_at, updated_at`

type flowStore struct {
	conn db.DBTX
}

func newFlowStore(conn db.DBTX) FlowStore {
	return &flowStore{conn: conn}
}

func (s *flowStore) GetByID(ctx context.Context, id int64) (*model.Flow, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	flow, err := scanFlow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return flow, nil
}

func (s *flowStore) ListCronActive(ctx context.Context) ([]model.Flow, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+flowColumns+` FROM flows
		 WHERE cron_active AND cron_expr IS NOT NULL AND trigger_type = 'schedule/cron'
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []model.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

func (s *flowStore) RecordExecution(ctx context.Context, id int64) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE flows SET execution_count = execution_count + 1, last_executed_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFlow(row pgx.Row) (*model.Flow, error) {
	var (
		f            model.Flow
		lastExecuted pgtype.Timestamptz
	)
	if err := row.Scan(
		&f.ID, &f.UserID, &f.Name, &f.TriggerType, &f.Code, &f.CronExpr, &f.CronActive,
		&f.DefaultInputs, &f.ExecutionCount, &lastExecuted, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.LastExecutedAt = toTimePointer(lastExecuted)
	return &f, nil
}
