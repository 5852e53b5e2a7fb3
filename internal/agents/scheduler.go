package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/schedules"
)

// Priority is one of the four scheduling levels SPEC_FULL §4.9 names.
// Higher values run first among tasks due at the same time.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// String renders a Priority as its canonical lowercase name, used as a
// metrics label and in log fields.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ScheduleTaskRequest is the input to the Scheduler. Exactly one of Delay or
// CronExpression should be set: Delay for a one-shot task, CronExpression
// for a recurring one.
type ScheduleTaskRequest struct {
	Name           string
	IntentText     string
	Project        string
	Priority       Priority
	Delay          *time.Duration
	CronExpression string
}

// TaskScheduled is the Scheduler's output.
type TaskScheduled struct {
	TaskID      string
	ScheduledAt time.Time
}

// Scheduler wraps internal/schedules.Manager's priority queue, translating
// between the Scheduler agent's request/response shapes and the manager's
// CRUD API.
type Scheduler struct {
	manager *schedules.Manager
	logger  *zap.Logger
}

// NewScheduler wires a schedules.Manager.
func NewScheduler(manager *schedules.Manager, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{manager: manager, logger: logger}
}

// ScheduleTask enqueues req, computing RunAt from Delay when the caller
// asked for a one-shot task.
func (s *Scheduler) ScheduleTask(ctx context.Context, req ScheduleTaskRequest) (TaskScheduled, error) {
	in := schedules.CreateTaskInput{
		Name:           req.Name,
		IntentText:     req.IntentText,
		Project:        req.Project,
		CronExpression: req.CronExpression,
		Priority:       int(req.Priority),
	}
	if req.Delay != nil {
		runAt := time.Now().Add(*req.Delay)
		in.RunAt = &runAt
	}

	task, err := s.manager.CreateTask(in)
	if err != nil {
		return TaskScheduled{}, err
	}

	scheduledAt := time.Now()
	if task.NextRunAt != nil {
		scheduledAt = *task.NextRunAt
	}
	return TaskScheduled{TaskID: task.ID, ScheduledAt: scheduledAt}, nil
}

// DueTasks returns every task whose next run is at or before now, for a
// supervisor loop to dispatch back through Intent→Plan→Execute→Critique.
func (s *Scheduler) DueTasks(now time.Time) []*schedules.ScheduledTask {
	return s.manager.DueTasks(now)
}

// RecordOutcome updates a task's run counters after dispatch.
func (s *Scheduler) RecordOutcome(taskID string, success bool) {
	s.manager.RecordOutcome(taskID, success)
}

// Handler adapts ScheduleTask to an actor.Handler.
func (s *Scheduler) Handler() actor.Handler {
	return func(ctx context.Context, msg actor.Message) error {
		start := time.Now()
		req, ok := msg.Payload.(ScheduleTaskRequest)
		if !ok {
			return fmt.Errorf("scheduler: unexpected payload type %T", msg.Payload)
		}
		result, err := s.ScheduleTask(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordAgentExecution("scheduler", status, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		metrics.TasksScheduled.WithLabelValues(req.Priority.String()).Inc()
		if msg.ReplyTo != nil {
			msg.ReplyTo <- result
		}
		return nil
	}
}
