package worker_test

import (
	"context"
	"encoding/json"
	"sync"

	"bubbleflow.app/relay/internal/engine"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/queue"
)

type fakeConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	acked    []string
	requeued []string
	dlq      map[string]string
}

func (f *fakeConsumer) Read(context.Context) ([]queue.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeConsumer) Ack(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg.ID)
	return nil
}

func (f *fakeConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, msg.ID)
	return nil
}

func (f *fakeConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dlq == nil {
		f.dlq = map[string]string{}
	}
	f.dlq[msg.ID] = errMsg
	return nil
}

func (f *fakeConsumer) Acked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type fakeProcessor struct {
	mu    sync.Mutex
	fn    func(task queue.ExecutionTask) error
	tasks []queue.ExecutionTask
}

func (f *fakeProcessor) Process(_ context.Context, task queue.ExecutionTask) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(task)
	}
	return nil
}

func (f *fakeProcessor) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type mockFlowStore struct {
	getByIDFn func(ctx context.Context, id int64) (*model.Flow, error)
}

func (m *mockFlowStore) GetByID(ctx context.Context, id int64) (*model.Flow, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockFlowStore) ListCronActive(context.Context) ([]model.Flow, error) { return nil, nil }

func (m *mockFlowStore) RecordExecution(context.Context, int64) error { return nil }

type mockExecutionStore struct {
	created   []model.Execution
	completed map[int64]model.ExecutionStatus
	errors    map[int64]string
}

func (m *mockExecutionStore) Create(_ context.Context, e *model.Execution) error {
	m.created = append(m.created, *e)
	return nil
}

func (m *mockExecutionStore) Complete(_ context.Context, id int64, status model.ExecutionStatus, _ json.RawMessage, errMsg *string) error {
	if m.completed == nil {
		m.completed = map[int64]model.ExecutionStatus{}
		m.errors = map[int64]string{}
	}
	m.completed[id] = status
	if errMsg != nil {
		m.errors[id] = *errMsg
	}
	return nil
}

func (m *mockExecutionStore) GetByID(context.Context, int64) (*model.Execution, error) {
	return nil, nil
}

func (m *mockExecutionStore) ListByFlow(context.Context, int64, int32) ([]model.Execution, error) {
	return nil, nil
}

type mockEngine struct {
	runFn    func(req engine.Request) (*engine.Result, error)
	requests []engine.Request
}

func (m *mockEngine) Run(_ context.Context, req engine.Request) (*engine.Result, error) {
	m.requests = append(m.requests, req)
	if m.runFn != nil {
		return m.runFn(req)
	}
	return &engine.Result{Success: true}, nil
}

func (m *mockEngine) RunStreaming(ctx context.Context, req engine.Request, _ func(engine.StreamEvent) error) (*engine.Result, error) {
	return m.Run(ctx, req)
}
