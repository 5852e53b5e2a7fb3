package agents

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/policy"
	"github.com/opencortex/memex/internal/skills"
)

// Embedder is the minimal capability the Tool Context Builder needs from
// C1's embedding service: turn intent/description text into a vector so
// tool ranking can reuse the same semantic space as memory search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RankedTool is one candidate the Planner can choose from, ordered by
// semantic fit to the intent.
type RankedTool struct {
	Skill      skills.SkillSummary
	Similarity float32
	Decision   *policy.Decision
}

// ToolContextRequest describes the capability lookup the Planner is making
// on behalf of one agent turn.
type ToolContextRequest struct {
	SessionID       string
	UserID          string
	AgentID         string // requesting actor's ID.String()
	IntentText      string
	Environment     string
	Mode            string
	ComplexityScore float64
	TokenBudget     int
	Category        string // optional, narrows candidates to one skill category
}

// ToolContextBuilder ranks and filters the skills registered in the catalog
// against one intent, per SPEC_FULL §4.9: cosine similarity between the
// intent embedding and each tool descriptor's embedding (reusing C1),
// filtered by capability/platform/security-level/experimental flag through
// an OPA policy decision. Tool catalogs are small enough (tens, not
// millions, of entries) that a linear cosine scan replaces the full C4
// HNSW index without a measurable quality or latency cost — so unlike
// search's ANN path, this builder does not stand up an index.Index.
type ToolContextBuilder struct {
	registry *skills.SkillRegistry
	embedder Embedder
	engine   policy.Engine
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string][]float32 // skill key -> description embedding
}

// NewToolContextBuilder wires a skill catalog, an embedder, and an (optional)
// policy engine. engine may be nil, in which case BuildContext falls back to
// an allow-all static filter, matching SPEC_FULL §4.9's "remains usable
// without OPA configured" requirement.
func NewToolContextBuilder(registry *skills.SkillRegistry, embedder Embedder, engine policy.Engine, logger *zap.Logger) *ToolContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolContextBuilder{
		registry: registry,
		embedder: embedder,
		engine:   engine,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// BuildContext ranks every enabled skill against req.IntentText and returns
// the subset that passes capability/budget/policy filtering, most relevant
// first.
func (b *ToolContextBuilder) BuildContext(ctx context.Context, req ToolContextRequest) ([]RankedTool, error) {
	var candidates []skills.SkillSummary
	if req.Category != "" {
		candidates = b.registry.ListByCategory(req.Category)
	} else {
		candidates = b.registry.List()
	}

	intentVec, err := b.embedder.Embed(ctx, req.IntentText)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedTool, 0, len(candidates))
	for _, s := range candidates {
		if !s.Enabled {
			continue
		}
		if req.TokenBudget > 0 {
			if entry, ok := b.registry.Get(s.Name); ok && entry.Skill.BudgetMax > 0 && entry.Skill.BudgetMax > req.TokenBudget {
				continue
			}
		}

		vec, err := b.descriptorEmbedding(ctx, s)
		if err != nil {
			b.logger.Warn("toolcontext: skill embedding failed, skipping", zap.String("skill", s.Name), zap.Error(err))
			continue
		}

		decision, err := b.evaluate(ctx, req, s)
		if err != nil {
			b.logger.Warn("toolcontext: policy evaluation failed, defaulting to deny", zap.String("skill", s.Name), zap.Error(err))
			continue
		}
		if decision != nil && !decision.Allow {
			continue
		}

		ranked = append(ranked, RankedTool{
			Skill:      s,
			Similarity: cosine(intentVec, vec),
			Decision:   decision,
		})
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })
	return ranked, nil
}

// descriptorEmbedding returns (embedding and computing, if necessary) the
// vector for a skill's description, cached by name since descriptions don't
// change between requests in a registry's lifetime.
func (b *ToolContextBuilder) descriptorEmbedding(ctx context.Context, s skills.SkillSummary) ([]float32, error) {
	b.mu.RLock()
	vec, ok := b.cache[s.Name]
	b.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := b.embedder.Embed(ctx, s.Name+": "+s.Description)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[s.Name] = vec
	b.mu.Unlock()
	return vec, nil
}

// evaluate consults the policy engine for one candidate skill, applying the
// allow-all fallback when no engine is wired or the engine is disabled.
func (b *ToolContextBuilder) evaluate(ctx context.Context, req ToolContextRequest, s skills.SkillSummary) (*policy.Decision, error) {
	if b.engine == nil || !b.engine.IsEnabled() {
		return &policy.Decision{Allow: true, Reason: "policy engine not configured"}, nil
	}

	input := &policy.PolicyInput{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		AgentID:         req.AgentID,
		Query:           s.Name,
		Mode:            req.Mode,
		Environment:     req.Environment,
		ComplexityScore: req.ComplexityScore,
		TokenBudget:     req.TokenBudget,
		Context: map[string]interface{}{
			"capabilities": s.RequiresTools,
			"dangerous":    s.Dangerous,
			"category":     s.Category,
			"experimental": s.Category == "experimental",
		},
	}
	return b.engine.Evaluate(ctx, input)
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
