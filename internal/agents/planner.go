package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/validation"
)

// PlanStep is one node in a plan's DAG: a tool invocation and the step IDs
// it depends on.
type PlanStep struct {
	ID           string
	ToolName     string
	Parameters   map[string]interface{}
	Dependencies []string
}

// Plan is a directed acyclic list of steps (SPEC_FULL §4.9). Steps is kept
// in the topological order validation.DetectCyclicDependencies produced, so
// the Executor can run it front-to-back respecting dependencies without
// re-deriving the order.
type Plan struct {
	ID     string
	Intent IntentKind
	Steps  []PlanStep
}

// CreatePlanRequest is the input to the Planner.
type CreatePlanRequest struct {
	PlanID      string
	Intent      IntentAnalyzed
	IntentText  string
	Constraints map[string]interface{}
	Tools       []RankedTool // ranked candidates from the Tool Context Builder
}

// PlanCreated is the Planner's output.
type PlanCreated struct {
	Plan                 Plan
	EstimatedTime        int // seconds, a coarse per-step estimate
	ResourceRequirements map[string]interface{}
}

// ErrNoToolsAvailable is returned when the Tool Context Builder produced no
// usable candidate for a requested intent.
var ErrNoToolsAvailable = fmt.Errorf("planner: no tools available for intent")

// ErrCyclicPlan is returned when a hand-authored or templated plan would
// deadlock the Executor.
var ErrCyclicPlan = fmt.Errorf("planner: plan contains a dependency cycle")

// intentTemplates maps each intent kind to a fixed sequence of tool roles the Planner expands into
// concrete steps once it knows which ranked tools are available. Templates
// keep planning deterministic under the same inputs and tool set, per
// SPEC_FULL §4.9's "MUST produce plans deterministic" requirement — there is
// no LLM call or randomness in step selection, only a lookup plus a
// best-match tool pick.
var intentTemplates = map[IntentKind][]string{
	IntentRecall:   {"search"},
	IntentRemember: {"remember"},
	IntentForget:   {"forget"},
	IntentAnalyze:  {"search", "critique"},
	IntentSchedule: {"schedule_task"},
}

// Planner turns an analyzed intent plus a ranked tool list into a validated,
// dependency-ordered Plan.
type Planner struct {
	logger *zap.Logger
}

// NewPlanner constructs a Planner.
func NewPlanner(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger}
}

// CreatePlan expands req.Intent into a Plan using the fixed template for its
// kind, picking the best-ranked available tool for each templated role, then
// validates the result is acyclic via internal/validation's Kahn's-algorithm
// topological sort.
func (p *Planner) CreatePlan(ctx context.Context, req CreatePlanRequest) (PlanCreated, error) {
	roles := intentTemplates[req.Intent.Intent]
	if len(roles) == 0 {
		roles = []string{"search"} // ambiguous intent: default to a read-only lookup
	}

	byName := make(map[string]RankedTool, len(req.Tools))
	for _, t := range req.Tools {
		byName[t.Skill.Name] = t
	}

	steps := make([]PlanStep, 0, len(roles))
	var prevID string
	for i, role := range roles {
		tool, ok := bestMatchForRole(req.Tools, role, byName)
		if !ok {
			return PlanCreated{}, fmt.Errorf("%w: role %q", ErrNoToolsAvailable, role)
		}

		step := PlanStep{
			ID:         fmt.Sprintf("%s-step-%d", req.PlanID, i),
			ToolName:   tool.Skill.Name,
			Parameters: map[string]interface{}{"intent_text": req.IntentText},
		}
		if prevID != "" {
			step.Dependencies = []string{prevID}
		}
		steps = append(steps, step)
		prevID = step.ID
	}

	ordered, err := validatePlanDAG(steps)
	if err != nil {
		return PlanCreated{}, err
	}

	plan := Plan{ID: req.PlanID, Intent: req.Intent.Intent, Steps: ordered}
	return PlanCreated{
		Plan:                 plan,
		EstimatedTime:        len(ordered) * 5,
		ResourceRequirements: map[string]interface{}{"step_count": len(ordered)},
	}, nil
}

// bestMatchForRole picks the highest-similarity ranked tool whose category
// or name matches role; if no RankedTool matches, it falls back to the
// highest-similarity tool overall so a narrowly-tagged catalog still
// produces a plan.
func bestMatchForRole(tools []RankedTool, role string, byName map[string]RankedTool) (RankedTool, bool) {
	if exact, ok := byName[role]; ok {
		return exact, true
	}

	var best RankedTool
	found := false
	for _, t := range tools {
		if t.Skill.Category != role {
			continue
		}
		if !found || t.Similarity > best.Similarity {
			best, found = t, true
		}
	}
	if found {
		return best, true
	}

	sorted := append([]RankedTool(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })
	if len(sorted) == 0 {
		return RankedTool{}, false
	}
	return sorted[0], true
}

// validatePlanDAG runs internal/validation's cycle detector over the plan's
// step dependencies and returns the steps in topological order.
func validatePlanDAG(steps []PlanStep) ([]PlanStep, error) {
	infos := make([]validation.StepInfo, len(steps))
	byID := make(map[string]PlanStep, len(steps))
	for i, s := range steps {
		infos[i] = validation.StepInfo{ID: s.ID, Dependencies: s.Dependencies}
		byID[s.ID] = s
	}

	result := validation.DetectCyclicDependencies(infos)
	if result.HasCycle {
		return nil, fmt.Errorf("%w: %v", ErrCyclicPlan, result.CyclePath)
	}

	ordered := make([]PlanStep, 0, len(result.SortedOrder))
	for _, id := range result.SortedOrder {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

// Handler adapts CreatePlan to an actor.Handler.
func (p *Planner) Handler() actor.Handler {
	return func(ctx context.Context, msg actor.Message) error {
		start := time.Now()
		req, ok := msg.Payload.(CreatePlanRequest)
		if !ok {
			return fmt.Errorf("planner: unexpected payload type %T", msg.Payload)
		}
		result, err := p.CreatePlan(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordAgentExecution("planner", status, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		metrics.PlanSteps.Observe(float64(len(result.Plan.Steps)))
		if msg.ReplyTo != nil {
			msg.ReplyTo <- result
		}
		return nil
	}
}
