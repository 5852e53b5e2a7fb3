package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/formatting"
	"github.com/opencortex/memex/internal/metrics"
)

// CritiqueResultRequest is the input to the Critic.
type CritiqueResultRequest struct {
	Result  ExecutionCompleted
	Context map[string]interface{}
}

// CritiqueCompleted is the Critic's output.
type CritiqueCompleted struct {
	Feedback     string
	Suggestions  []string
	QualityScore float32
}

// Critic inspects an Executor's result and produces feedback, a suggestion
// list, and a 0..1 quality score. Scoring is a fixed rubric over step
// outcomes rather than an LLM call, so a critique is reproducible for the
// same ExecutionCompleted input.
type Critic struct {
	logger *zap.Logger
}

// NewCritic constructs a Critic.
func NewCritic(logger *zap.Logger) *Critic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critic{logger: logger}
}

// Critique scores req.Result and formats feedback with a complete
// suggestions section via internal/formatting.
func (c *Critic) Critique(ctx context.Context, req CritiqueResultRequest) CritiqueCompleted {
	total := len(req.Result.Results)
	if total == 0 {
		return CritiqueCompleted{
			Feedback:     "no steps were executed",
			Suggestions:  []string{"verify the plan produced at least one step"},
			QualityScore: 0,
		}
	}

	var completed, failed, skipped int
	var failures []string
	for _, r := range req.Result.Results {
		switch r.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
			failures = append(failures, fmt.Sprintf("%s: %s", r.StepID, r.Err))
		case StatusSkipped:
			skipped++
		}
	}

	score := float32(completed) / float32(total)

	var body strings.Builder
	fmt.Fprintf(&body, "%d/%d steps completed", completed, total)
	if failed > 0 {
		fmt.Fprintf(&body, ", %d failed", failed)
	}
	if skipped > 0 {
		fmt.Fprintf(&body, ", %d skipped", skipped)
	}
	body.WriteString(".")

	suggestions := make([]string, 0, len(failures)+1)
	for _, f := range failures {
		suggestions = append(suggestions, "investigate failure in "+f)
	}
	if skipped > 0 {
		suggestions = append(suggestions, "re-run skipped steps once their dependency succeeds")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "no changes needed")
	}

	feedback := formatting.FormatCritiqueFeedback(body.String(), suggestions)

	return CritiqueCompleted{
		Feedback:     feedback,
		Suggestions:  suggestions,
		QualityScore: score,
	}
}

// Handler adapts Critique to an actor.Handler.
func (c *Critic) Handler() actor.Handler {
	return func(ctx context.Context, msg actor.Message) error {
		start := time.Now()
		req, ok := msg.Payload.(CritiqueResultRequest)
		if !ok {
			return fmt.Errorf("critic: unexpected payload type %T", msg.Payload)
		}
		result := c.Critique(ctx, req)
		metrics.RecordAgentExecution("critic", "ok", time.Since(start).Seconds())
		metrics.CritiqueQualityScore.Observe(float64(result.QualityScore))
		if msg.ReplyTo != nil {
			msg.ReplyTo <- result
		}
		return nil
	}
}
