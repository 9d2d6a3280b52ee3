package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bubbleflow.app/relay/common/id"
	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/service"
	"bubbleflow.app/relay/internal/slack"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/trigger"
)

func jsonRequest(body map[string]any) service.DispatchRequest {
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	return service.DispatchRequest{
		UserID:  "user_1",
		Path:    "orders",
		Method:  http.MethodPost,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		RawBody: raw,
		Body:    body,
	}
}

func mentionBody(eventID string) map[string]any {
	return map[string]any{
		"type":     "event_callback",
		"event_id": eventID,
		"event": map[string]any{
			"type":    "app_mention",
			"text":    "<@U0BOT> summarize this",
			"user":    "U123",
			"channel": "C456",
			"ts":      "1700000000.000100",
		},
	}
}

var _ = Describe("DispatchService", func() {
	var (
		ctx      context.Context
		webhooks *mockWebhookStore
		flows    *mockFlowStore
		eng      *stubEngine
		producer *mockProducer
		guard    *memoryGuard
		verifier *slack.Verifier
		webhook  *model.Webhook
		flow     *model.Flow
		svc      service.DispatchService
	)

	newService := func() service.DispatchService {
		return service.NewDispatchService(service.DispatchDeps{
			Webhooks: webhooks,
			Flows:    flows,
			Engine:   eng,
			Queue:    producer,
			Verifier: verifier,
			Guard:    guard,
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		webhook = &model.Webhook{ID: 11, UserID: "user_1", Path: "orders", FlowID: 22, IsActive: true}
		flow = &model.Flow{ID: 22, UserID: "user_1", TriggerType: string(trigger.TypeHTTP), Code: "export default flow"}

		webhooks = &mockWebhookStore{
			getByUserAndPathFn: func(_ context.Context, userID, path string) (*model.Webhook, error) {
				if userID == webhook.UserID && path == webhook.Path {
					return webhook, nil
				}
				return nil, store.ErrNotFound
			},
		}
		flows = &mockFlowStore{
			getByIDFn: func(_ context.Context, flowID int64) (*model.Flow, error) {
				if flowID == flow.ID {
					return flow, nil
				}
				return nil, store.ErrNotFound
			},
		}
		eng = &stubEngine{result: &engine.Result{Success: true, Data: json.RawMessage(`{"total":3}`)}}
		producer = &mockProducer{}
		guard = newMemoryGuard()
		verifier = nil
		svc = newService()
	})

	Describe("Dispatch", func() {
		It("answers url verification before looking up the webhook", func() {
			res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{
				"type":      "url_verification",
				"challenge": "abc123",
			}))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeChallenge))
			Expect(res.Challenge).To(Equal("abc123"))
			Expect(webhooks.lookups).To(BeZero())
			Expect(eng.calls).To(BeZero())
		})

		It("returns ErrWebhookNotFound for an unknown path", func() {
			req := jsonRequest(map[string]any{"a": 1.0})
			req.Path = "missing"

			_, err := svc.Dispatch(ctx, req)
			Expect(err).To(MatchError(service.ErrWebhookNotFound))
		})

		It("returns ErrWebhookNotFound when the flow is gone", func() {
			webhook.FlowID = 99

			_, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
			Expect(err).To(MatchError(service.ErrWebhookNotFound))
		})

		It("wraps unexpected lookup errors", func() {
			webhooks.getByUserAndPathFn = func(context.Context, string, string) (*model.Webhook, error) {
				return nil, errors.New("connection reset")
			}

			_, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(errors.Is(err, service.ErrWebhookNotFound)).To(BeFalse())
		})

		It("rejects inactive webhooks", func() {
			webhook.IsActive = false

			_, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
			Expect(err).To(MatchError(service.ErrWebhookInactive))
			Expect(eng.calls).To(BeZero())
		})

		It("executes http flows and returns the engine result", func() {
			res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{"order": "o-1"}))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(res.TriggerType).To(Equal(trigger.TypeHTTP))
			Expect(res.ExecutionID).NotTo(BeZero())
			Expect(res.Result.Success).To(BeTrue())
			Expect(string(res.Result.Data)).To(MatchJSON(`{"total":3}`))

			Expect(eng.calls).To(Equal(1))
			Expect(eng.lastReq.ExecutionID).To(Equal(res.ExecutionID))
			Expect(eng.lastReq.FlowID).To(Equal(flow.ID))
			Expect(eng.lastReq.Code).To(Equal(flow.Code))

			flat := eng.lastReq.Event.Flatten()
			Expect(flat["type"]).To(Equal(trigger.TypeHTTP))
			Expect(flat["path"]).To(Equal("orders"))
			Expect(flat["order"]).To(Equal("o-1"))
			Expect(flat["method"]).To(Equal(http.MethodPost))
		})

		It("folds engine transport errors into a failed result", func() {
			eng.result = nil
			eng.err = errors.New("engine unreachable")

			res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(res.Result.Success).To(BeFalse())
			Expect(res.Result.Error).To(Equal("engine unreachable"))
		})

		It("treats a nil engine result as a failure", func() {
			eng.result = nil

			res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Result.Success).To(BeFalse())
		})

		It("runs unknown trigger types through the generic definition", func() {
			flow.TriggerType = "github/push"

			res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{"ref": "main"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(eng.lastReq.Event.Flatten()["ref"]).To(Equal("main"))
		})

		Context("with a slack trigger", func() {
			BeforeEach(func() {
				flow.TriggerType = string(trigger.TypeSlackBotMentioned)
			})

			It("acknowledges and enqueues the event", func() {
				res, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev1")))

				Expect(err).NotTo(HaveOccurred())
				Expect(res.Outcome).To(Equal(service.OutcomeDeferred))
				Expect(eng.calls).To(BeZero())

				Expect(producer.tasks).To(HaveLen(1))
				task := producer.tasks[0]
				Expect(task.ExecutionID).To(Equal(res.ExecutionID))
				Expect(task.FlowID).To(Equal(flow.ID))
				Expect(*task.WebhookID).To(Equal(webhook.ID))
				Expect(task.Source).To(Equal(queue.TaskSourceWebhook))
				Expect(task.Event.Type).To(Equal(trigger.TypeSlackBotMentioned))
				Expect(task.Event.Path).To(Equal("orders"))
			})

			It("skips non-mention events", func() {
				body := mentionBody("Ev2")
				body["event"].(map[string]any)["type"] = "message"

				res, err := svc.Dispatch(ctx, jsonRequest(body))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Outcome).To(Equal(service.OutcomeSkipped))
				Expect(producer.tasks).To(BeEmpty())
			})

			It("skips bot messages for message_received flows without running", func() {
				flow.TriggerType = string(trigger.TypeSlackMessageReceived)

				res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{
					"type":     "event_callback",
					"event_id": "Ev9",
					"event":    map[string]any{"type": "message", "bot_id": "B123", "text": "hi"},
				}))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Outcome).To(Equal(service.OutcomeSkipped))
				Expect(producer.tasks).To(BeEmpty())
				Expect(eng.calls).To(BeZero())
			})

			It("acknowledges duplicate deliveries once", func() {
				first, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev3")))
				Expect(err).NotTo(HaveOccurred())
				Expect(first.Outcome).To(Equal(service.OutcomeDeferred))

				second, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev3")))
				Expect(err).NotTo(HaveOccurred())
				Expect(second.Outcome).To(Equal(service.OutcomeDuplicate))
				Expect(producer.tasks).To(HaveLen(1))
			})

			It("releases the event id when enqueueing fails", func() {
				producer.err = errors.New("redis down")

				_, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev4")))
				Expect(err).To(MatchError(ContainSubstring("redis down")))
				Expect(guard.forgotten).To(ContainElement("Ev4"))

				producer.err = nil
				res, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev4")))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Outcome).To(Equal(service.OutcomeDeferred))
			})

			Context("when signatures are verified", func() {
				const secret = "signing-secret"

				BeforeEach(func() {
					verifier = slack.NewVerifier(secret, 5*time.Minute)
					svc = newService()
				})

				signed := func(req service.DispatchRequest) service.DispatchRequest {
					ts := strconv.FormatInt(time.Now().Unix(), 10)
					req.Headers.Set(slack.HeaderTimestamp, ts)
					req.Headers.Set(slack.HeaderSignature, slack.Sign([]byte(secret), ts, req.RawBody))
					return req
				}

				It("admits correctly signed requests", func() {
					res, err := svc.Dispatch(ctx, signed(jsonRequest(mentionBody("Ev5"))))
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Outcome).To(Equal(service.OutcomeDeferred))
				})

				It("rejects unsigned requests", func() {
					_, err := svc.Dispatch(ctx, jsonRequest(mentionBody("Ev6")))
					Expect(err).To(MatchError(service.ErrInvalidSignature))
					Expect(producer.tasks).To(BeEmpty())
				})

				It("rejects tampered bodies", func() {
					req := signed(jsonRequest(mentionBody("Ev7")))
					req.RawBody = append(req.RawBody, ' ')

					_, err := svc.Dispatch(ctx, req)
					Expect(err).To(MatchError(service.ErrInvalidSignature))
				})

				It("does not verify non-slack triggers", func() {
					flow.TriggerType = string(trigger.TypeHTTP)

					res, err := svc.Dispatch(ctx, jsonRequest(map[string]any{}))
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
				})
			})
		})
	})

	Describe("DispatchStream", func() {
		var events []engine.StreamEvent

		collect := func(ev engine.StreamEvent) error {
			events = append(events, ev)
			return nil
		}

		BeforeEach(func() {
			events = nil
			eng.events = []engine.StreamEvent{
				{Type: "bubble_start", Fields: map[string]any{"bubbleName": "fetch"}},
				{Type: "log_line", Fields: map[string]any{"message": "hi"}},
			}
		})

		It("forwards engine events and ends with stream_complete", func() {
			res, err := svc.DispatchStream(ctx, jsonRequest(map[string]any{}), collect)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(events).To(HaveLen(3))
			Expect(events[0].Type).To(Equal("bubble_start"))
			Expect(events[1].Type).To(Equal("log_line"))

			last := events[2]
			Expect(last.Type).To(Equal(service.EventStreamComplete))
			Expect(last.Fields["executionId"]).To(Equal(id.String(res.ExecutionID)))
			Expect(last.Fields["result"]).To(Equal(eng.result))

			stamp, ok := last.Fields["timestamp"].(string)
			Expect(ok).To(BeTrue())
			parsed, err := time.Parse(time.RFC3339Nano, stamp)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(BeTemporally("~", time.Now(), time.Minute))
		})

		It("ends with the runner's error event when the flow fails", func() {
			eng.result = &engine.Result{Success: false, Error: "rate limited", Recoverable: true}

			res, err := svc.DispatchStream(ctx, jsonRequest(map[string]any{}), collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Result.Success).To(BeFalse())

			Expect(events).To(HaveLen(3))
			last := events[2]
			Expect(last.Type).To(Equal(service.EventStreamError))
			Expect(last.Fields["error"]).To(Equal("rate limited"))
			Expect(last.Fields["recoverable"]).To(BeTrue())
			Expect(last.Fields["executionId"]).To(Equal(id.String(res.ExecutionID)))
		})

		It("ends with a non-recoverable error event when the engine fails", func() {
			eng.result = nil
			eng.err = errors.New("stream broke")

			res, err := svc.DispatchStream(ctx, jsonRequest(map[string]any{}), collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Result.Success).To(BeFalse())

			last := events[len(events)-1]
			Expect(last.Type).To(Equal(service.EventStreamError))
			Expect(last.Fields["error"]).To(Equal("stream broke"))
			Expect(last.Fields["recoverable"]).To(BeFalse())
		})

		It("runs inactive webhooks", func() {
			webhook.IsActive = false

			res, err := svc.DispatchStream(ctx, jsonRequest(map[string]any{}), collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(eng.calls).To(Equal(1))
		})

		It("rejects unknown webhooks without emitting", func() {
			req := jsonRequest(map[string]any{})
			req.Path = "missing"

			_, err := svc.DispatchStream(ctx, req, collect)
			Expect(err).To(MatchError(service.ErrWebhookNotFound))
			Expect(events).To(BeEmpty())
		})

		It("answers url verification without emitting", func() {
			res, err := svc.DispatchStream(ctx, jsonRequest(map[string]any{
				"type":      "url_verification",
				"challenge": "xyz",
			}), collect)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeChallenge))
			Expect(events).To(BeEmpty())
		})

		It("executes slack triggers inline instead of deferring", func() {
			flow.TriggerType = string(trigger.TypeSlackBotMentioned)

			res, err := svc.DispatchStream(ctx, jsonRequest(mentionBody("Ev8")), collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.OutcomeExecuted))
			Expect(producer.tasks).To(BeEmpty())
			Expect(eng.calls).To(Equal(1))
		})
	})
})
