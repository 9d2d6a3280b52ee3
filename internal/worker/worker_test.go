package worker_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/trigger"
	"bubbleflow.app/relay/internal/worker"
)

func message(id string, attempt int) queue.Message {
	return queue.Message{
		ID:      id,
		Attempt: attempt,
		Task: queue.ExecutionTask{
			ExecutionID: 1,
			FlowID:      2,
			Source:      queue.TaskSourceWebhook,
			Event:       trigger.Snapshot{Type: trigger.TypeHTTP, Timestamp: "2024-05-01T10:00:00.000Z"},
			Attempt:     attempt,
		},
	}
}

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *fakeConsumer
		processor *fakeProcessor
		w         *worker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &fakeConsumer{}
		processor = &fakeProcessor{}
		w = worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
	})

	Describe("HandleMessage", func() {
		It("acks processed tasks", func() {
			w.HandleMessage(ctx, message("1-0", 1))
			Expect(consumer.Acked()).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("requeues failures while attempts remain", func() {
			processor.fn = func(queue.ExecutionTask) error { return errors.New("engine down") }
			w.HandleMessage(ctx, message("1-0", 2))
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.dlq).To(BeEmpty())
			Expect(consumer.Acked()).To(BeEmpty())
		})

		It("dead-letters the final attempt", func() {
			processor.fn = func(queue.ExecutionTask) error { return errors.New("engine down") }
			w.HandleMessage(ctx, message("1-0", 3))
			Expect(consumer.dlq).To(HaveKeyWithValue("1-0", "engine down"))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("dead-letters permanent failures immediately", func() {
			processor.fn = func(queue.ExecutionTask) error {
				return fmt.Errorf("%w: flow gone", worker.ErrPermanent)
			}
			w.HandleMessage(ctx, message("1-0", 1))
			Expect(consumer.dlq).To(HaveKey("1-0"))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("recovers from panics", func() {
			processor.fn = func(queue.ExecutionTask) error { panic("boom") }
			Expect(func() { w.HandleMessage(ctx, message("1-0", 1)) }).NotTo(Panic())
			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
		})
	})

	It("drains batches until stopped", func() {
		consumer.batches = [][]queue.Message{
			{message("1-0", 1), message("2-0", 1)},
			{message("3-0", 1)},
		}

		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(processor.Count).Should(Equal(3))
		Eventually(consumer.Acked).Should(Equal([]string{"1-0", "2-0", "3-0"}))

		w.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns when the context ends", func() {
		cctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- w.Run(cctx) }()

		cancel()
		Eventually(done, time.Second).Should(Receive(MatchError(context.Canceled)))
	})
})
