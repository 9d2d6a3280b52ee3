package store

import (
	"bubbleflow.app/relay/core/db"
)

type Stores struct {
	conn db.DBTX
}

// NewStores binds stores to a pool or to a transaction.
func NewStores(conn db.DBTX) *Stores {
	return &Stores{conn: conn}
}

func (s *Stores) Webhooks() WebhookStore {
	return newWebhookStore(s.conn)
}

func (s *Stores) Flows() FlowStore {
	return newFlowStore(s.conn)
}

func (s *Stores) Executions() ExecutionStore {
	return newExecutionStore(s.conn)
}
