package model

import "time"

// Webhook maps an owner and path to a flow. The relay only reads it.
type Webhook struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Path      string    `json:"path"`
	FlowID    int64     `json:"flow_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
