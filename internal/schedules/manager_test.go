package schedules

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCreateTask_OneShotComputesNextRun(t *testing.T) {
	m := NewManager(zap.NewNop())
	runAt := time.Now().Add(time.Hour)
	task, err := m.CreateTask(CreateTaskInput{Name: "reindex", IntentText: "reindex assets tier", RunAt: &runAt})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.NextRunAt == nil || !task.NextRunAt.Equal(runAt) {
		t.Fatalf("expected next run at %v, got %v", runAt, task.NextRunAt)
	}
}

func TestCreateTask_RejectsMissingTrigger(t *testing.T) {
	m := NewManager(zap.NewNop())
	if _, err := m.CreateTask(CreateTaskInput{Name: "bad"}); err != ErrNoTrigger {
		t.Fatalf("expected ErrNoTrigger, got %v", err)
	}
}

func TestCreateTask_RejectsBadCron(t *testing.T) {
	m := NewManager(zap.NewNop())
	if _, err := m.CreateTask(CreateTaskInput{Name: "bad", CronExpression: "not a cron"}); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestDueTasks_ReturnsAndReschedulesRecurring(t *testing.T) {
	m := NewManager(zap.NewNop())
	past := time.Now().Add(-time.Minute)
	task, err := m.CreateTask(CreateTaskInput{Name: "oneshot", RunAt: &past})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	due := m.DueTasks(time.Now())
	if len(due) != 1 || due[0].ID != task.ID {
		t.Fatalf("expected the one-shot task to be due, got %+v", due)
	}
	if _, err := m.GetTask(task.ID); err != ErrTaskNotFound {
		t.Fatalf("expected one-shot task to be removed after firing, got err=%v", err)
	}

	recurring, err := m.CreateTask(CreateTaskInput{Name: "every-minute", CronExpression: "* * * * *"})
	if err != nil {
		t.Fatalf("CreateTask recurring: %v", err)
	}
	recurring.NextRunAt = ptrTime(time.Now().Add(-time.Second))
	m.pq.fix(recurring)

	due = m.DueTasks(time.Now())
	if len(due) != 1 {
		t.Fatalf("expected recurring task due, got %d", len(due))
	}
	got, err := m.GetTask(recurring.ID)
	if err != nil {
		t.Fatalf("recurring task should still exist: %v", err)
	}
	if got.TotalRuns != 1 {
		t.Fatalf("expected TotalRuns=1, got %d", got.TotalRuns)
	}
}

func TestPauseAndResumeTask(t *testing.T) {
	m := NewManager(zap.NewNop())
	task, _ := m.CreateTask(CreateTaskInput{Name: "p", CronExpression: "* * * * *"})
	if err := m.PauseTask(task.ID); err != nil {
		t.Fatalf("PauseTask: %v", err)
	}
	if m.pq.Len() != 0 {
		t.Fatalf("expected paused task removed from queue")
	}
	if err := m.ResumeTask(task.ID); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if m.pq.Len() != 1 {
		t.Fatalf("expected resumed task back in queue")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
