package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/streaming"
)

// ExecutionStatus is one step or plan's run state (SPEC_FULL §4.9).
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
)

// ToolInvoker runs one plan step's tool and returns its result, or an error
// if the tool failed or does not exist. dryRun callers must validate
// availability/parameters without any side effect.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, parameters map[string]interface{}, dryRun bool) (map[string]interface{}, error)
}

// ExecutePlanRequest is the input to the Executor.
type ExecutePlanRequest struct {
	Plan   Plan
	DryRun bool
}

// StepResult is one step's outcome, returned as part of ExecutionCompleted.
type StepResult struct {
	StepID string
	Status ExecutionStatus
	Output map[string]interface{}
	Err    string
}

// ExecutionCompleted is the Executor's terminal output for one plan run.
type ExecutionCompleted struct {
	PlanID        string
	Success       bool
	Results       []StepResult
	ExecutionTime time.Duration
}

// Executor runs a Plan's steps in dependency order (the Planner already
// topologically sorted Plan.Steps), publishing ExecutionProgress events as
// it goes so SSE/log subscribers can follow a workflow live. A failed step
// does not halt the run: steps whose dependency failed (or was skipped) are
// skipped, and independent steps still run.
type Executor struct {
	invoker ToolInvoker
	stream  *streaming.Manager
	logger  *zap.Logger
}

// NewExecutor wires a tool invoker and the shared streaming.Manager used for
// ExecutionProgress pub/sub.
func NewExecutor(invoker ToolInvoker, stream *streaming.Manager, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{invoker: invoker, stream: stream, logger: logger}
}

// Execute runs every step of req.Plan, skipping those with a failed
// dependency, and publishes progress for each step transition.
func (e *Executor) Execute(ctx context.Context, req ExecutePlanRequest) ExecutionCompleted {
	start := time.Now()
	results := make([]StepResult, 0, len(req.Plan.Steps))
	failed := make(map[string]bool)

	for _, step := range req.Plan.Steps {
		if dependencyFailed(step, failed) {
			results = append(results, StepResult{StepID: step.ID, Status: StatusSkipped})
			failed[step.ID] = true
			e.publish(req.Plan.ID, "step_skipped", step.ID, "dependency failed")
			continue
		}

		e.publish(req.Plan.ID, "step_started", step.ID, step.ToolName)

		output, err := e.invoker.Invoke(ctx, step.ToolName, step.Parameters, req.DryRun)
		if err != nil {
			results = append(results, StepResult{StepID: step.ID, Status: StatusFailed, Err: err.Error()})
			failed[step.ID] = true
			e.publish(req.Plan.ID, "step_failed", step.ID, err.Error())
			continue
		}

		results = append(results, StepResult{StepID: step.ID, Status: StatusCompleted, Output: output})
		e.publish(req.Plan.ID, "step_completed", step.ID, step.ToolName)
	}

	success := len(failed) == 0
	completed := ExecutionCompleted{
		PlanID:        req.Plan.ID,
		Success:       success,
		Results:       results,
		ExecutionTime: time.Since(start),
	}

	status := "workflow_completed"
	if !success {
		status = "workflow_failed"
	}
	e.publish(req.Plan.ID, status, "", "")
	return completed
}

func dependencyFailed(step PlanStep, failed map[string]bool) bool {
	for _, dep := range step.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

func (e *Executor) publish(planID, eventType, stepID, message string) {
	if e.stream == nil {
		return
	}
	e.stream.Publish(planID, streaming.ExecutionProgress{
		WorkflowID: planID,
		Type:       eventType,
		Message:    message,
		Payload:    map[string]interface{}{"step_id": stepID},
		Timestamp:  time.Now(),
	})
}

// Handler adapts Execute to an actor.Handler.
func (e *Executor) Handler() actor.Handler {
	return func(ctx context.Context, msg actor.Message) error {
		start := time.Now()
		req, ok := msg.Payload.(ExecutePlanRequest)
		if !ok {
			return fmt.Errorf("executor: unexpected payload type %T", msg.Payload)
		}
		result := e.Execute(ctx, req)
		status := "ok"
		if !result.Success {
			status = "error"
		}
		metrics.RecordAgentExecution("executor", status, time.Since(start).Seconds())
		if msg.ReplyTo != nil {
			msg.ReplyTo <- result
		}
		if !result.Success {
			return fmt.Errorf("executor: plan %s failed", req.Plan.ID)
		}
		return nil
	}
}
