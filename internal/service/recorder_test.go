package service_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/service"
	"bubbleflow.app/relay/internal/trigger"
)

var _ = Describe("ExecutionRecorder", func() {
	var (
		ctx        context.Context
		next       *stubEngine
		executions *mockExecutionStore
		flows      *mockFlowStore
		recorder   *service.ExecutionRecorder
		req        engine.Request
	)

	BeforeEach(func() {
		ctx = context.Background()
		next = &stubEngine{result: &engine.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}}
		executions = &mockExecutionStore{}
		flows = &mockFlowStore{}
		txRunner := &mockTxRunner{provider: &mockStoreProvider{executions: executions, flows: flows}}
		recorder = service.NewExecutionRecorder(next, txRunner)
		req = engine.Request{
			ExecutionID: 9,
			FlowID:      3,
			Event:       trigger.Normalize(trigger.TypeCron, map[string]any{"cron": "* * * * *"}, trigger.Request{}),
		}
	})

	It("records a running execution then its success", func() {
		res, err := recorder.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())

		Expect(executions.created).To(HaveLen(1))
		Expect(executions.created[0].ID).To(Equal(int64(9)))
		Expect(executions.created[0].Status).To(Equal(model.ExecutionStatusRunning))
		Expect(executions.created[0].TriggerType).To(Equal("schedule/cron"))
		Expect(string(executions.created[0].Payload)).To(ContainSubstring(`"cron":"* * * * *"`))

		Expect(executions.completed).To(HaveLen(1))
		Expect(executions.completed[0].status).To(Equal(model.ExecutionStatusSuccess))
		Expect(string(executions.completed[0].result)).To(MatchJSON(`{"ok":true}`))
		Expect(flows.recorded).To(Equal([]int64{3}))
	})

	It("records flow failures", func() {
		next.result = engine.Failure("bad input")

		res, err := recorder.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeFalse())
		Expect(executions.completed[0].status).To(Equal(model.ExecutionStatusError))
		Expect(*executions.completed[0].errMsg).To(Equal("bad input"))
	})

	It("records transport errors and passes them through", func() {
		next.result = nil
		next.err = errors.New("connection refused")

		_, err := recorder.Run(ctx, req)
		Expect(err).To(MatchError("connection refused"))
		Expect(errors.Is(err, engine.ErrNotStarted)).To(BeFalse())
		Expect(executions.completed[0].status).To(Equal(model.ExecutionStatusError))
		Expect(*executions.completed[0].errMsg).To(Equal("connection refused"))
	})

	It("assigns an id when none is given", func() {
		req.ExecutionID = 0

		_, err := recorder.Run(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.lastReq.ExecutionID).NotTo(BeZero())
		Expect(executions.created[0].ID).To(Equal(next.lastReq.ExecutionID))
	})

	It("does not run when the execution cannot be recorded", func() {
		executions.createErr = errors.New("db down")

		_, err := recorder.Run(ctx, req)
		Expect(err).To(MatchError(ContainSubstring("db down")))
		Expect(errors.Is(err, engine.ErrNotStarted)).To(BeTrue())
		Expect(next.calls).To(BeZero())
	})

	It("forwards stream events through", func() {
		next.events = []engine.StreamEvent{{Type: "log_line"}, {Type: "bubble_end"}}

		var seen []string
		_, err := recorder.RunStreaming(ctx, req, func(ev engine.StreamEvent) error {
			seen = append(seen, ev.Type)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]string{"log_line", "bubble_end"}))
		Expect(executions.completed).To(HaveLen(1))
	})
})
