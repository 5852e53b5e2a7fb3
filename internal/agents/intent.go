package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/metrics"
)

// IntentKind is a coarse classification of what the user is asking for.
// The Planner picks a strategy per kind rather than re-deriving it.
type IntentKind string

const (
	IntentRecall    IntentKind = "recall"    // asking to retrieve remembered information
	IntentRemember  IntentKind = "remember"  // asking to store new information
	IntentForget    IntentKind = "forget"    // asking to remove information
	IntentSchedule  IntentKind = "schedule"  // asking for recurring or delayed work
	IntentAnalyze   IntentKind = "analyze"   // asking for synthesis/critique over existing memory
	IntentAmbiguous IntentKind = "ambiguous" // could not confidently classify
)

// AnalyzeIntentRequest is the input to the Intent Analyzer (SPEC_FULL §4.9).
type AnalyzeIntentRequest struct {
	UserInput string
	Context   map[string]interface{}
}

// IntentAnalyzed is the Intent Analyzer's output.
type IntentAnalyzed struct {
	Intent           IntentKind
	Confidence       float32
	SuggestedActions []string
}

// intentRule is one lexical classifier: any of Keywords matching the lower-
// cased input yields Kind at Confidence. Rules are tried in order; the
// first match wins. This is a deliberately simple, inspectable classifier —
// SPEC_FULL §4.9 requires the Planner (which consumes this output) to be
// deterministic, and a fixed rule table is trivially so.
type intentRule struct {
	Kind       IntentKind
	Keywords   []string
	Confidence float32
	Actions    []string
}

var intentRules = []intentRule{
	{
		Kind:       IntentForget,
		Keywords:   []string{"forget", "delete", "remove", "erase"},
		Confidence: 0.9,
		Actions:    []string{"forget"},
	},
	{
		Kind:       IntentSchedule,
		Keywords:   []string{"every day", "every hour", "remind me", "schedule", "recurring", "at 9am", "cron"},
		Confidence: 0.85,
		Actions:    []string{"schedule_task"},
	},
	{
		Kind:       IntentRemember,
		Keywords:   []string{"remember", "note that", "save this", "store this", "keep in mind"},
		Confidence: 0.85,
		Actions:    []string{"remember"},
	},
	{
		Kind:       IntentAnalyze,
		Keywords:   []string{"summarize", "compare", "critique", "analyze", "review my", "what patterns"},
		Confidence: 0.75,
		Actions:    []string{"search", "critique"},
	},
	{
		Kind:       IntentRecall,
		Keywords:   []string{"what did", "recall", "find", "search for", "do you remember", "when did"},
		Confidence: 0.8,
		Actions:    []string{"search"},
	},
}

// IntentAnalyzer classifies free-text user input into an IntentKind with a
// confidence score and a list of suggested follow-on actions for the
// Planner to expand into a plan.
type IntentAnalyzer struct {
	logger *zap.Logger
}

// NewIntentAnalyzer constructs an Intent Analyzer.
func NewIntentAnalyzer(logger *zap.Logger) *IntentAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentAnalyzer{logger: logger}
}

// Analyze classifies req.UserInput.
func (a *IntentAnalyzer) Analyze(ctx context.Context, req AnalyzeIntentRequest) (IntentAnalyzed, error) {
	lower := strings.ToLower(req.UserInput)

	for _, rule := range intentRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return IntentAnalyzed{
					Intent:           rule.Kind,
					Confidence:       rule.Confidence,
					SuggestedActions: rule.Actions,
				}, nil
			}
		}
	}

	return IntentAnalyzed{
		Intent:           IntentAmbiguous,
		Confidence:       0.3,
		SuggestedActions: []string{"search"},
	}, nil
}

// Handler adapts Analyze to an actor.Handler: msg.Payload must be an
// AnalyzeIntentRequest. On success the IntentAnalyzed result is sent
// directly on msg.ReplyTo (when the caller used Ask rather than Send), and
// the handler returns nil so the runtime's own reply(nil) is a harmless
// no-op against an already-drained channel.
func (a *IntentAnalyzer) Handler() actor.Handler {
	return func(ctx context.Context, msg actor.Message) error {
		start := time.Now()
		req, ok := msg.Payload.(AnalyzeIntentRequest)
		if !ok {
			return fmt.Errorf("intent: unexpected payload type %T", msg.Payload)
		}
		result, err := a.Analyze(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordAgentExecution("intent_analyzer", status, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if msg.ReplyTo != nil {
			msg.ReplyTo <- result
		}
		return nil
	}
}
