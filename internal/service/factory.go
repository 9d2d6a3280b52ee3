package service

import (
	"log/slog"

	"bubbleflow.app/relay/internal/dedupe"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/slack"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/trigger"
)

type ServicesConfig struct {
	Stores   *store.Stores
	TxRunner TxRunner
	// Engine is the raw flow runner; executions are recorded around it.
	Engine   engine.Engine
	Producer queue.Producer
	Registry *trigger.Registry
	Verifier *slack.Verifier
	Guard    dedupe.Guard
}

type Services struct {
	cfg      ServicesConfig
	recorder *ExecutionRecorder
}

func NewServices(cfg ServicesConfig) *Services {
	if cfg.Registry == nil {
		cfg.Registry = trigger.Default()
	}
	if cfg.Guard == nil {
		cfg.Guard = dedupe.Noop()
	}
	return &Services{
		cfg:      cfg,
		recorder: NewExecutionRecorder(cfg.Engine, cfg.TxRunner),
	}
}

func (s *Services) Registry() *trigger.Registry {
	return s.cfg.Registry
}

func (s *Services) Dispatch() DispatchService {
	return NewDispatchService(DispatchDeps{
		Webhooks: s.cfg.Stores.Webhooks(),
		Flows:    s.cfg.Stores.Flows(),
		Engine:   s.recorder,
		Queue:    s.cfg.Producer,
		Registry: s.cfg.Registry,
		Verifier: s.cfg.Verifier,
		Guard:    s.cfg.Guard,
		Logger:   slog.Default().With("component", "relay.dispatch"),
	})
}
