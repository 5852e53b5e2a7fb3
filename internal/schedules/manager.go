package schedules

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrTaskNotFound = errors.New("schedules: task not found")
	ErrInvalidCron  = errors.New("schedules: invalid cron expression")
	ErrNoTrigger    = errors.New("schedules: either cron_expression or run_at is required")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Manager is the Scheduler agent's in-memory task queue, ordered by next-run
// time (earliest first) with priority breaking ties.
type Manager struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*ScheduledTask
	pq    taskHeap
}

// NewManager creates an empty schedule manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		tasks:  make(map[string]*ScheduledTask),
	}
}

// CreateTask adds a new scheduled task and computes its first NextRunAt.
func (m *Manager) CreateTask(in CreateTaskInput) (*ScheduledTask, error) {
	if in.CronExpression == "" && in.RunAt == nil {
		return nil, ErrNoTrigger
	}

	next, err := nextRun(in.CronExpression, in.RunAt, time.Now())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task := &ScheduledTask{
		ID:             uuid.New().String(),
		Name:           in.Name,
		IntentText:     in.IntentText,
		Project:        in.Project,
		CronExpression: in.CronExpression,
		RunAt:          in.RunAt,
		Priority:       in.Priority,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextRunAt:      &next,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	heap.Push(&m.pq, task)

	m.logger.Info("scheduled task created",
		zap.String("task_id", task.ID), zap.String("name", task.Name),
		zap.Time("next_run_at", next))
	return task, nil
}

// nextRun resolves the next fire time: a one-shot RunAt, or the next
// occurrence of a cron expression after `after`.
func nextRun(cronExpr string, runAt *time.Time, after time.Time) (time.Time, error) {
	if runAt != nil {
		return *runAt, nil
	}
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule.Next(after), nil
}

// GetTask retrieves a task by id.
func (m *Manager) GetTask(taskID string) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// UpdateTask patches the named fields and, if the trigger changed, reschedules.
func (m *Manager) UpdateTask(in UpdateTaskInput) (*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[in.TaskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	rescheduled := false
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.IntentText != nil {
		t.IntentText = *in.IntentText
	}
	if in.CronExpression != nil {
		t.CronExpression = *in.CronExpression
		rescheduled = true
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
		rescheduled = true
	}
	t.UpdatedAt = time.Now()

	if rescheduled && t.CronExpression != "" {
		next, err := nextRun(t.CronExpression, nil, time.Now())
		if err != nil {
			return nil, err
		}
		t.NextRunAt = &next
		m.pq.fix(t)
	}

	return t, nil
}

// PauseTask removes a task from the fireable queue without deleting it.
func (m *Manager) PauseTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = StatusPaused
	m.pq.remove(t)
	return nil
}

// ResumeTask re-enters a paused task into the queue at its next cron/run time.
func (m *Manager) ResumeTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusPaused {
		return nil
	}
	next, err := nextRun(t.CronExpression, t.RunAt, time.Now())
	if err != nil {
		return err
	}
	t.NextRunAt = &next
	t.Status = StatusActive
	heap.Push(&m.pq, t)
	return nil
}

// DeleteTask removes a task entirely.
func (m *Manager) DeleteTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = StatusDeleted
	m.pq.remove(t)
	delete(m.tasks, taskID)
	return nil
}

// DueTasks pops and returns every active task whose NextRunAt is at or
// before `now`, rescheduling recurring ones and removing one-shot ones.
func (m *Manager) DueTasks(now time.Time) []*ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*ScheduledTask
	for m.pq.Len() > 0 && !m.pq[0].NextRunAt.After(now) {
		t := heap.Pop(&m.pq).(*ScheduledTask)
		due = append(due, t)

		t.LastRunAt = t.NextRunAt
		t.TotalRuns++

		if t.CronExpression != "" {
			next, err := nextRun(t.CronExpression, nil, now)
			if err == nil {
				t.NextRunAt = &next
				heap.Push(&m.pq, t)
				continue
			}
			m.logger.Warn("failed to compute next run, pausing task",
				zap.String("task_id", t.ID), zap.Error(err))
			t.Status = StatusPaused
		} else {
			t.Status = StatusDeleted
			delete(m.tasks, t.ID)
		}
	}
	return due
}

// RecordOutcome marks the most recent run of a task as successful or failed,
// feeding the Scheduler agent's run-history fields.
func (m *Manager) RecordOutcome(taskID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	if success {
		t.SuccessfulRuns++
	} else {
		t.FailedRuns++
	}
}

// ListTasks returns all non-deleted tasks.
func (m *Manager) ListTasks() []*ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status != StatusDeleted {
			out = append(out, t)
		}
	}
	return out
}

// taskHeap is a container/heap priority queue ordered by NextRunAt (earliest
// first), with higher Priority breaking ties.
type taskHeap []*ScheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	ti, tj := h[i].NextRunAt, h[j].NextRunAt
	if ti == nil || tj == nil {
		return false
	}
	if ti.Equal(*tj) {
		return h[i].Priority > h[j].Priority
	}
	return ti.Before(*tj)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*ScheduledTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// remove deletes t from the heap by identity, no-op if absent (used when
// pausing/deleting a task that is currently queued).
func (h *taskHeap) remove(t *ScheduledTask) {
	for i, cur := range *h {
		if cur == t {
			heap.Remove(h, i)
			return
		}
	}
}

// fix re-establishes heap order for t after its NextRunAt/Priority changed.
func (h *taskHeap) fix(t *ScheduledTask) {
	for i, cur := range *h {
		if cur == t {
			heap.Fix(h, i)
			return
		}
	}
}
