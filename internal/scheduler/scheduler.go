package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"bubbleflow.app/relay/common/id"
	"bubbleflow.app/relay/common/logger"
	"bubbleflow.app/relay/internal/dedupe"
	"bubbleflow.app/relay/internal/metrics"
	"bubbleflow.app/relay/internal/model"
	"bubbleflow.app/relay/internal/queue"
	"bubbleflow.app/relay/internal/store"
	"bubbleflow.app/relay/internal/trigger"
)

// Standard 5-field expressions plus descriptors such as "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a flow's cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type Config struct {
	TickInterval   time.Duration
	ReloadInterval time.Duration
}

type entry struct {
	flow     model.Flow
	expr     string
	schedule cronlib.Schedule
	next     time.Time
}

// Scheduler fires schedule/cron flows by putting execution tasks on the
// queue. Several worker replicas may run one; the fire lock makes each
// (flow, fire time) enqueue once.
type Scheduler struct {
	flows    store.FlowStore
	producer queue.Producer
	locks    dedupe.Guard
	registry *trigger.Registry
	cfg      Config

	mu      sync.Mutex
	entries map[int64]*entry

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(flows store.FlowStore, producer queue.Producer, locks dedupe.Guard, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = time.Minute
	}
	if locks == nil {
		locks = dedupe.Noop()
	}
	return &Scheduler{
		flows:     flows,
		producer:  producer,
		locks:     locks,
		registry:  trigger.Default(),
		cfg:       cfg,
		entries:   make(map[int64]*entry),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.scheduler"})

	if err := s.Reload(ctx, time.Now()); err != nil {
		slog.ErrorContext(ctx, "initial schedule load failed", "error", err)
	}

	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	reload := time.NewTicker(s.cfg.ReloadInterval)
	defer reload.Stop()

	slog.InfoContext(ctx, "cron scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"reload_interval", s.cfg.ReloadInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "cron scheduler stopping")
			return
		case now := <-reload.C:
			if err := s.Reload(ctx, now); err != nil {
				slog.ErrorContext(ctx, "schedule reload failed", "error", err)
			}
		case now := <-tick.C:
			s.Tick(ctx, now)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// Reload syncs entries with the cron-active flows in the store. Flows whose
// expression did not change keep their next fire time.
func (s *Scheduler) Reload(ctx context.Context, now time.Time) error {
	flows, err := s.flows.ListCronActive(ctx)
	if err != nil {
		return fmt.Errorf("listing cron flows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(flows))
	for _, flow := range flows {
		if flow.CronExpr == nil || *flow.CronExpr == "" {
			continue
		}
		expr := *flow.CronExpr
		seen[flow.ID] = struct{}{}

		if existing, ok := s.entries[flow.ID]; ok && existing.expr == expr {
			existing.flow = flow
			continue
		}

		schedule, err := ParseSchedule(expr)
		if err != nil {
			slog.WarnContext(ctx, "skipping flow with invalid cron expression",
				"flow_id", flow.ID,
				"cron", expr,
				"error", err)
			delete(s.entries, flow.ID)
			delete(seen, flow.ID)
			continue
		}
		s.entries[flow.ID] = &entry{
			flow:     flow,
			expr:     expr,
			schedule: schedule,
			next:     schedule.Next(now),
		}
	}

	for flowID := range s.entries {
		if _, ok := seen[flowID]; !ok {
			delete(s.entries, flowID)
		}
	}

	metrics.ScheduledFlows.Set(float64(len(s.entries)))
	return nil
}

// Tick fires every entry due at now. A missed window fires once, not once
// per missed slot.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []entry
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, *e)
		e.next = e.schedule.Next(now)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e)
	}
}

// Next reports when flowID fires next.
func (s *Scheduler) Next(flowID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[flowID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

func (s *Scheduler) fire(ctx context.Context, e entry) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		FlowID:      &e.flow.ID,
		TriggerType: logger.Ptr(string(trigger.TypeCron)),
	})

	lockKey := fmt.Sprintf("%d:%d", e.flow.ID, e.next.Unix())
	if !s.locks.FirstSeen(ctx, lockKey) {
		metrics.CronFiresTotal.WithLabelValues("locked").Inc()
		return
	}

	body := map[string]any{"cron": e.expr}
	if inputs := e.flow.Inputs(); inputs != nil {
		body["body"] = inputs
	}
	req := trigger.Request{Path: fmt.Sprintf("cron/%d", e.flow.ID), Method: "POST"}
	event := s.registry.Normalize(trigger.TypeCron, body, req)

	task := queue.ExecutionTask{
		ExecutionID: id.New(),
		FlowID:      e.flow.ID,
		Source:      queue.TaskSourceCron,
		Event:       trigger.SnapshotOf(event, req),
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		s.locks.Forget(ctx, lockKey)
		metrics.CronFiresTotal.WithLabelValues("enqueue_failed").Inc()
		slog.ErrorContext(ctx, "failed to enqueue cron execution", "error", err, "cron", e.expr)
		return
	}

	metrics.CronFiresTotal.WithLabelValues("fired").Inc()
	metrics.QueueTasksTotal.WithLabelValues(string(queue.TaskSourceCron), "enqueued").Inc()
	slog.InfoContext(ctx, "cron flow fired", "cron", e.expr, "scheduled_for", e.next)
}
