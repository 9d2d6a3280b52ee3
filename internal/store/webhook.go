package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"bubbleflow.app/relay/core/db"
	"bubbleflow.app/relay/internal/model"
)

const webhookColumns = `id, user_id, path, flow_id, is_active, created_at, updated_at`

type webhookStore struct {
	conn db.DBTX
}

func newWebhookStore(conn db.DBTX) WebhookStore {
	return &webhookStore{conn: conn}
}

func (s *webhookStore) GetByUserAndPath(ctx context.Context, userID, path string) (*model.Webhook, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE user_id = $1 AND path = $2`,
		userID, path)
	return scanWebhook(row)
}

func (s *webhookStore) GetByID(ctx context.Context, id int64) (*model.Webhook, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

func scanWebhook(row pgx.Row) (*model.Webhook, error) {
	var w model.Webhook
	if err := row.Scan(&w.ID, &w.UserID, &w.Path, &w.FlowID, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}
