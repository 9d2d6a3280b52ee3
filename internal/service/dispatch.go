package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bubbleflow.app/relay/common/id"
	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/internal/dedupe"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/metrics"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/slack"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/trigger"
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrWebhookInactive  = errors.New("webhook is not active")
	ErrInvalidSignature = errors.New("invalid request signature")
)

type DispatchRequest struct {
	UserID  string
	Path    string
	Method  string
	Headers http.Header
	RawBody []byte
	// Body is the decoded JSON object; nil when the body was empty or not an object.
	Body map[string]any
}

type DispatchOutcome string

const (
	OutcomeChallenge DispatchOutcome = "challenge"
	OutcomeSkipped   DispatchOutcome = "skipped"
	OutcomeDuplicate DispatchOutcome = "duplicate"
	OutcomeDeferred  DispatchOutcome = "deferred"
	OutcomeExecuted  DispatchOutcome = "executed"
)

type DispatchResult struct {
	Outcome     DispatchOutcome
	TriggerType trigger.Type
	// Challenge is the url_verification token to echo back.
	Challenge   string
	ExecutionID int64
	// Result is set for OutcomeExecuted. Engine failures are folded into it.
	Result *engine.Result
}

// Stream terminal event types.
const (
	EventStreamComplete = "stream_complete"
	EventStreamError    = "error"
)

type DispatchService interface {
	// Dispatch runs the flow behind a webhook and waits for its result, or
	// queues it when the trigger type is deferred.
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)

	// DispatchStream runs the flow and forwards engine events to emit. When
	// the outcome is OutcomeExecuted the last emitted event is either
	// stream_complete or error. Errors returned before anything was emitted
	// mean the request was rejected.
	DispatchStream(ctx context.Context, req DispatchRequest, emit func(engine.StreamEvent) error) (*DispatchResult, error)
}

type dispatchService struct {
	webhooks store.WebhookStore
	flows    store.FlowStore
	engine   engine.Engine
	queue    queue.Producer
	registry *trigger.Registry
	verifier *slack.Verifier
	guard    dedupe.Guard
	logger   *slog.Logger
}

type DispatchDeps struct {
	Webhooks store.WebhookStore
	Flows    store.FlowStore
	Engine   engine.Engine
	Queue    queue.Producer
	Registry *trigger.Registry
	Verifier *slack.Verifier
	Guard    dedupe.Guard
	Logger   *slog.Logger
}

func NewDispatchService(deps DispatchDeps) DispatchService {
	if deps.Registry == nil {
		deps.Registry = trigger.Default()
	}
	if deps.Guard == nil {
		deps.Guard = dedupe.Noop()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &dispatchService{
		webhooks: deps.Webhooks,
		flows:    deps.Flows,
		engine:   deps.Engine,
		queue:    deps.Queue,
		registry: deps.Registry,
		verifier: deps.Verifier,
		guard:    deps.Guard,
		logger:   deps.Logger,
	}
}

// admitted carries a request that passed every gate up to normalization.
type admitted struct {
	webhook  *model.Webhook
	flow     *model.Flow
	def      trigger.Definition
	event    trigger.Event
	request  trigger.Request
	eventKey string
}

func (s *dispatchService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	span := logger.StartSpan(ctx, "dispatch.sync")
	defer span.End()
	ctx = span.Context()

	res, adm, err := s.admit(ctx, req, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	ctx = s.withFields(ctx, adm)

	executionID := id.New()
	result := &DispatchResult{TriggerType: adm.def.Type, ExecutionID: executionID}

	if adm.def.Deferred {
		task := queue.ExecutionTask{
			ExecutionID: executionID,
			FlowID:      adm.flow.ID,
			WebhookID:   &adm.webhook.ID,
			Source:      queue.TaskSourceWebhook,
			Event:       trigger.SnapshotOf(adm.event, adm.request),
		}
		if traceID := logger.TraceID(ctx); traceID != "" {
			task.TraceID = &traceID
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			// Let the sender's retry through.
			s.guard.Forget(ctx, adm.eventKey)
			metrics.QueueTasksTotal.WithLabelValues(string(queue.TaskSourceWebhook), "enqueue_failed").Inc()
			span.RecordError(err)
			return nil, fmt.Errorf("enqueueing execution: %w", err)
		}
		metrics.QueueTasksTotal.WithLabelValues(string(queue.TaskSourceWebhook), "enqueued").Inc()
		s.count(adm.def.Type, OutcomeDeferred)
		result.Outcome = OutcomeDeferred
		return result, nil
	}

	runRes, runErr := s.engine.Run(ctx, s.engineRequest(executionID, adm))
	if runErr != nil {
		s.logger.ErrorContext(ctx, "flow execution failed", "error", runErr)
		runRes = engine.Failure(runErr.Error())
	} else if runRes == nil {
		runRes = engine.Failure("execution engine returned no result")
	}
	s.count(adm.def.Type, OutcomeExecuted)
	result.Outcome = OutcomeExecuted
	result.Result = runRes
	return result, nil
}

func (s *dispatchService) DispatchStream(ctx context.Context, req DispatchRequest, emit func(engine.StreamEvent) error) (*DispatchResult, error) {
	span := logger.StartSpan(ctx, "dispatch.stream")
	defer span.End()
	ctx = span.Context()

	res, adm, err := s.admit(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	ctx = s.withFields(ctx, adm)

	executionID := id.New()
	result := &DispatchResult{
		Outcome:     OutcomeExecuted,
		TriggerType: adm.def.Type,
		ExecutionID: executionID,
	}
	s.count(adm.def.Type, OutcomeExecuted)

	runRes, runErr := s.engine.RunStreaming(ctx, s.engineRequest(executionID, adm), emit)
	if runErr != nil {
		s.logger.ErrorContext(ctx, "streaming execution failed", "error", runErr)
		span.RecordError(runErr)
		result.Result = engine.Failure(runErr.Error())
		_ = emit(engine.StreamEvent{
			Type: EventStreamError,
			Fields: map[string]any{
				"error":       runErr.Error(),
				"recoverable": false,
			},
		})
		return result, nil
	}
	if runRes == nil {
		runRes = engine.Failure("execution engine returned no result")
	}
	result.Result = runRes
	if !runRes.Success {
		_ = emit(engine.StreamEvent{
			Type: EventStreamError,
			Fields: map[string]any{
				"executionId": id.String(executionID),
				"error":       runRes.Error,
				"recoverable": runRes.Recoverable,
			},
		})
		return result, nil
	}
	_ = emit(engine.StreamEvent{
		Type: EventStreamComplete,
		Fields: map[string]any{
			"executionId": id.String(executionID),
			"result":      runRes,
			"timestamp":   trigger.FormatTimestamp(time.Now()),
		},
	})
	return result, nil
}

// admit runs the gates shared by both paths. A non-nil result means the
// request was answered without execution.
func (s *dispatchService) admit(ctx context.Context, req DispatchRequest, checkActive bool) (*DispatchResult, *admitted, error) {
	if challenge, ok := urlVerification(req.Body); ok {
		s.logger.InfoContext(ctx, "answered slack url verification", "path", req.Path)
		return &DispatchResult{Outcome: OutcomeChallenge, Challenge: challenge}, nil, nil
	}

	webhook, flow, err := s.resolve(ctx, req.UserID, req.Path)
	if err != nil {
		return nil, nil, err
	}
	def := s.registry.Lookup(trigger.Type(flow.TriggerType))
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WebhookID:   &webhook.ID,
		FlowID:      &flow.ID,
		UserID:      &req.UserID,
		TriggerType: logger.Ptr(string(def.Type)),
	})

	if checkActive && !webhook.IsActive {
		s.count(def.Type, "inactive")
		return nil, nil, ErrWebhookInactive
	}

	if def.Type.IsSlack() {
		if err := s.verifier.Verify(req.Headers, req.RawBody); err != nil {
			s.logger.WarnContext(ctx, "rejected slack request", "error", err)
			s.count(def.Type, "bad_signature")
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	if s.registry.ShouldSkip(def.Type, req.Body) {
		s.logger.DebugContext(ctx, "delivery skipped by trigger filter")
		metrics.TriggerSkipsTotal.WithLabelValues(string(def.Type)).Inc()
		s.count(def.Type, OutcomeSkipped)
		return &DispatchResult{Outcome: OutcomeSkipped, TriggerType: def.Type}, nil, nil
	}

	var eventKey string
	if def.Type.IsSlack() {
		eventKey = dedupe.SlackEventKey(req.Body)
		if !s.guard.FirstSeen(ctx, eventKey) {
			s.logger.InfoContext(ctx, "duplicate slack delivery acknowledged", "event_id", eventKey)
			metrics.SlackDuplicatesTotal.Inc()
			s.count(def.Type, OutcomeDuplicate)
			return &DispatchResult{Outcome: OutcomeDuplicate, TriggerType: def.Type}, nil, nil
		}
	}

	treq := trigger.Request{
		Path:    req.Path,
		Method:  req.Method,
		Headers: trigger.NewHeaders(req.Headers),
	}
	return nil, &admitted{
		webhook:  webhook,
		flow:     flow,
		def:      def,
		event:    s.registry.Normalize(def.Type, req.Body, treq),
		request:  treq,
		eventKey: eventKey,
	}, nil
}

func (s *dispatchService) resolve(ctx context.Context, userID, path string) (*model.Webhook, *model.Flow, error) {
	webhook, err := s.webhooks.GetByUserAndPath(ctx, userID, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.count("", "not_found")
			return nil, nil, ErrWebhookNotFound
		}
		return nil, nil, fmt.Errorf("fetching webhook: %w", err)
	}

	flow, err := s.flows.GetByID(ctx, webhook.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.count("", "not_found")
			return nil, nil, ErrWebhookNotFound
		}
		return nil, nil, fmt.Errorf("fetching flow: %w", err)
	}
	return webhook, flow, nil
}

func (s *dispatchService) engineRequest(executionID int64, adm *admitted) engine.Request {
	return engine.Request{
		ExecutionID: executionID,
		FlowID:      adm.flow.ID,
		Code:        adm.flow.Code,
		Event:       adm.event,
	}
}

func (s *dispatchService) withFields(ctx context.Context, adm *admitted) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		WebhookID:   &adm.webhook.ID,
		FlowID:      &adm.flow.ID,
		TriggerType: logger.Ptr(string(adm.def.Type)),
	})
}

func (s *dispatchService) count(t trigger.Type, outcome DispatchOutcome) {
	metrics.WebhookRequestsTotal.WithLabelValues(string(t), string(outcome)).Inc()
}

func urlVerification(body map[string]any) (string, bool) {
	if body == nil || body["type"] != "url_verification" {
		return "", false
	}
	challenge, _ := body["challenge"].(string)
	return challenge, true
}
