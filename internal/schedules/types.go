// Package schedules implements the Scheduler agent's task queue (SPEC_FULL
// §4.9/§4.10 C10): recurring or one-shot work items ordered by next-run time
// and priority. It replaces the teacher's Postgres-backed, Temporal-schedule
// CRUD service (internal/schedules/db.go) with an in-memory priority queue,
// since there is no SQL store or Temporal scheduler left in the core
// (DESIGN.md) — recurrence math now comes from robfig/cron/v3 instead of a
// Temporal Schedule resource.
package schedules

import "time"

// Status is a scheduled task's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// ScheduledTask is one entry in the Scheduler agent's queue: either a
// recurring task (CronExpression set) or a one-shot delayed task (RunAt set).
type ScheduledTask struct {
	ID             string
	Name           string
	IntentText     string // fed to the Intent Analyzer when the task fires
	Project        string
	CronExpression string     // empty for one-shot tasks
	RunAt          *time.Time // set for one-shot tasks, nil for recurring
	Priority       int        // higher runs first among tasks due at the same time
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
}

// CreateTaskInput is the input to Manager.CreateTask.
type CreateTaskInput struct {
	Name           string
	IntentText     string
	Project        string
	CronExpression string
	RunAt          *time.Time
	Priority       int
}

// UpdateTaskInput patches a subset of a ScheduledTask's mutable fields.
type UpdateTaskInput struct {
	TaskID         string
	Name           *string
	IntentText     *string
	CronExpression *string
	Priority       *int
}
