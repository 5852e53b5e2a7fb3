// Package memex is the public facade over the memory engine: it wires the
// per-tier stores/indexes, the transaction manager, the promotion engine,
// the search/rerank pipeline, and the five-agent actor runtime into the
// operations an embedding application actually calls — remember, recall,
// get, forget, optimize, health, stats, and the scoped transaction handle.
package memex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/actor"
	"github.com/opencortex/memex/internal/agents"
	"github.com/opencortex/memex/internal/budget"
	"github.com/opencortex/memex/internal/degradation"
	"github.com/opencortex/memex/internal/embedding"
	"github.com/opencortex/memex/internal/health"
	"github.com/opencortex/memex/internal/index"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/policy"
	"github.com/opencortex/memex/internal/promotion"
	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/rerank"
	"github.com/opencortex/memex/internal/schedules"
	"github.com/opencortex/memex/internal/search"
	"github.com/opencortex/memex/internal/session"
	"github.com/opencortex/memex/internal/skills"
	"github.com/opencortex/memex/internal/store"
	"github.com/opencortex/memex/internal/streaming"
	"github.com/opencortex/memex/internal/txn"
	"github.com/opencortex/memex/internal/util"
)

// Engine is the assembled memory core: every component in SPEC_FULL's
// C1-C12 list, constructed once and addressed through the methods below.
type Engine struct {
	logger *zap.Logger

	embedder *embedding.Service
	reranker *rerank.Service

	stores  map[record.Tier]*store.Store
	indexes map[record.Tier]*index.Index

	txMgr     *txn.Manager
	promotion *promotion.Engine
	pipeline  *search.Pipeline

	runtime   *actor.Runtime
	bus       *actor.EventBus
	budgetMgr *budget.Manager
	streamMgr *streaming.Manager

	skillRegistry *skills.SkillRegistry
	policyEngine  policy.Engine
	toolContext   *agents.ToolContextBuilder

	intentAnalyzer *agents.IntentAnalyzer
	planner        *agents.Planner
	executor       *agents.Executor
	critic         *agents.Critic
	scheduler      *agents.Scheduler

	health      *health.Manager
	degradation *degradation.Manager
	sessionMgr  *session.Manager
}

// Config configures construction of an Engine. Zero values fall back to the
// same performance-mode defaults internal/config.Load() would choose for an
// unconfigured environment.
type Config struct {
	Dimension int // embedding dimension; must match the configured model

	EmbeddingConfig   embedding.Config
	EmbeddingProvider embedding.Provider // nil uses the deterministic fallback provider

	RerankConfig   rerank.Config
	RerankProvider rerank.Provider // nil disables reranking (bypass, not degrade)

	DataDir string

	ResourceBudget budget.ResourceBudget

	StreamingRedisAddr string        // streaming always uses in-memory fan-out; non-empty only marks the streaming Redis link as up for degradation checks
	PolicyEngine       policy.Engine // nil falls back to allow-all

	SkillsDir string

	// SessionRedisAddr enables correlation-session bookkeeping: when set,
	// Remember persists each call's Session id to Redis via
	// internal/session.Manager and appends a trimmed turn to its history so
	// the Search Pipeline's context-aware boost (SPEC_FULL §4.7) has
	// something to match against. Empty disables session tracking; Session
	// on the returned Record is still whatever the caller passed in.
	SessionRedisAddr string
}

// New assembles a fully wired Engine: per-tier stores/indexes on disk under
// cfg.DataDir, the embedding/rerank services, the transaction and promotion
// managers, the search pipeline, and the actor runtime. New spawns no
// agents; SpawnAgents starts the five agents for a workflow.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 384
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	stores := make(map[record.Tier]*store.Store)
	indexes := make(map[record.Tier]*index.Index)
	backends := make(map[record.Tier]*search.TierBackend)
	txBackends := make(map[record.Tier]*txn.Backend)
	promStores := make(map[record.Tier]*store.Store)

	for _, tier := range record.AllTiers() {
		path := fmt.Sprintf("%s/%s", cfg.DataDir, tier.String())
		st, err := store.Open(path, cfg.Dimension, tier, logger)
		if err != nil {
			return nil, fmt.Errorf("memex: opening store for tier %s: %w", tier, err)
		}
		ix, err := index.New(index.DefaultConfig(cfg.Dimension), tier)
		if err != nil {
			return nil, fmt.Errorf("memex: building index for tier %s: %w", tier, err)
		}
		stores[tier] = st
		indexes[tier] = ix
		backends[tier] = &search.TierBackend{Store: st, Index: ix}
		txBackends[tier] = &txn.Backend{Store: st, Index: ix}
		promStores[tier] = st
	}

	embProvider := cfg.EmbeddingProvider
	if embProvider == nil {
		embProvider = embedding.NewFallbackProvider(cfg.Dimension)
	}
	embCfg := cfg.EmbeddingConfig
	embCfg.Dimension = cfg.Dimension
	embedder := embedding.NewService(embCfg, embProvider, embedding.NewLocalLRU(10_000, 64<<20), embedding.NewWhitespaceTokenizer(), logger)

	var rerankSvc *rerank.Service
	if cfg.RerankProvider != nil {
		rerankSvc = rerank.NewService(cfg.RerankConfig, cfg.RerankProvider, logger)
	}

	txMgr := txn.NewManager(txBackends, 30*time.Second, logger)
	txMgr.Start()

	promEngine := promotion.NewEngine(promotion.DefaultConfig(), promotion.DefaultTierRules(), promStores, txMgr, nil, logger)

	var reranker search.Reranker
	if rerankSvc != nil {
		reranker = rerankSvc
	}
	pipeline := search.New(search.DefaultConfig(), backends, embedder, reranker, nil, logger)

	defaultBudget := cfg.ResourceBudget
	if defaultBudget == (budget.ResourceBudget{}) {
		defaultBudget = budget.ResourceBudget{MailboxCapacity: 1000, CPUBudget: time.Second, MemoryBudget: 256 << 20}
	}
	bus := actor.NewEventBus()
	budgetMgr := budget.NewManager(defaultBudget, logger)
	runtime := actor.NewRuntime(budgetMgr, bus, logger)

	skillRegistry := skills.NewRegistry()
	if cfg.SkillsDir != "" {
		if err := skillRegistry.LoadDirectory(cfg.SkillsDir); err != nil {
			return nil, fmt.Errorf("memex: loading skills: %w", err)
		}
	}
	if err := skillRegistry.Finalize(); err != nil {
		return nil, fmt.Errorf("memex: finalizing skill registry: %w", err)
	}

	// in-memory fan-out; swap in a redis.Client for cross-process replay
	streamMgr := streaming.NewManager(nil, logger)

	var sessionMgr *session.Manager
	if cfg.SessionRedisAddr != "" {
		mgr, err := session.NewManager(cfg.SessionRedisAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("memex: connecting session store: %w", err)
		}
		sessionMgr = mgr
	}

	rerankerConfigured := cfg.RerankProvider != nil
	degradationMgr := degradation.NewManager(func() degradation.EngineDependencies {
		return degradation.EngineDependencies{
			EmbeddingFallbackActive: embedder.Stats().FallbackActive,
			RerankerConfigured:      rerankerConfigured,
			StreamingRedisConnected: cfg.StreamingRedisAddr != "",
		}
	}, logger)

	engine := &Engine{
		logger:         logger,
		embedder:       embedder,
		reranker:       rerankSvc,
		stores:         stores,
		indexes:        indexes,
		txMgr:          txMgr,
		promotion:      promEngine,
		pipeline:       pipeline,
		runtime:        runtime,
		bus:            bus,
		budgetMgr:      budgetMgr,
		streamMgr:      streamMgr,
		skillRegistry:  skillRegistry,
		policyEngine:   cfg.PolicyEngine,
		intentAnalyzer: agents.NewIntentAnalyzer(logger),
		planner:        agents.NewPlanner(logger),
		executor:       agents.NewExecutor(noopInvoker{}, streamMgr, logger),
		critic:         agents.NewCritic(logger),
		scheduler:      agents.NewScheduler(schedules.NewManager(logger), logger),
		health:         health.NewManager(logger),
		degradation:    degradationMgr,
		sessionMgr:     sessionMgr,
	}
	engine.toolContext = agents.NewToolContextBuilder(skillRegistry, embedder, cfg.PolicyEngine, logger)
	engine.registerHealthCheckers()

	return engine, nil
}

// noopInvoker is the Executor's default ToolInvoker until a caller supplies
// a real one via SetToolInvoker — it lets an Engine construct cleanly
// before the embedding application has registered its own tools.
type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, toolName string, parameters map[string]interface{}, dryRun bool) (map[string]interface{}, error) {
	return nil, fmt.Errorf("memex: no tool invoker registered for %q", toolName)
}

// SetToolInvoker replaces the Executor's tool invoker — the embedding
// application's own dispatch table for whatever tools its skills describe.
func (e *Engine) SetToolInvoker(invoker agents.ToolInvoker) {
	e.executor = agents.NewExecutor(invoker, e.streamMgr, e.logger)
}

func (e *Engine) registerHealthCheckers() {
	_ = e.health.RegisterChecker(health.NewCustomHealthChecker("embedding", true, 2*time.Second, func(ctx context.Context) health.CheckResult {
		stats := e.embedder.Stats()
		status := health.StatusHealthy
		if stats.FallbackActive {
			status = health.StatusDegraded
		}
		return health.CheckResult{Status: status, Message: stats.ActiveProvider}
	}))
	for _, tier := range record.AllTiers() {
		tier := tier
		_ = e.health.RegisterChecker(health.NewCustomHealthChecker("index-"+tier.String(), tier == record.Interact, time.Second, func(ctx context.Context) health.CheckResult {
			st := e.indexes[tier].Stats()
			return health.CheckResult{Status: health.StatusHealthy, Message: fmt.Sprintf("%d vectors", st.Count)}
		}))
	}
	if e.reranker != nil {
		_ = e.health.RegisterChecker(health.NewCustomHealthChecker("reranker", false, 2*time.Second, func(ctx context.Context) health.CheckResult {
			return health.CheckResult{Status: health.StatusHealthy}
		}))
	}
}

// Start brings up the Engine's background loops (promotion cycle, health
// checks). Callers should defer Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.promotion.Start(ctx)
	if err := e.degradation.Start(ctx); err != nil {
		return err
	}
	return e.health.Start(ctx)
}

// Stop tears down background loops and flushes the transaction manager's
// janitor. It does not close the per-tier stores or write index snapshots,
// and Engine has no snapshot method of its own.
func (e *Engine) Stop() error {
	e.promotion.Stop()
	e.txMgr.Stop()
	_ = e.degradation.Stop()
	if e.sessionMgr != nil {
		_ = e.sessionMgr.Close()
	}
	return e.health.Stop()
}

// RememberRequest is the input to Remember.
type RememberRequest struct {
	Text    string
	Tier    record.Tier // defaults to record.Interact when zero value
	Kind    string
	Tags    []string
	Project string
	Session string
}

// Remember embeds text, builds a Record, and inserts it transactionally
// into the requested tier (Interact by default — new memories start at the
// freshest tier and are promoted later by the promotion engine).
func (e *Engine) Remember(ctx context.Context, req RememberRequest) (*record.Record, error) {
	start := time.Now()
	r, err := e.remember(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	tierLabel := req.Tier.String()
	metrics.RecordMemoryOperation("remember", tierLabel, status, time.Since(start).Seconds())
	return r, err
}

func (e *Engine) remember(ctx context.Context, req RememberRequest) (*record.Record, error) {
	// Oversized text is truncated to the policy limit rather than rejected
	// (spec.md §3's "text equal (or truncated per policy)" get contract),
	// preserving whole words where possible.
	if len(req.Text) > record.MaxTextBytes {
		req.Text = util.TruncateString(req.Text, record.MaxTextBytes, true)
	}
	if err := record.ValidateText(req.Text); err != nil {
		return nil, err
	}
	tier := req.Tier // record.Interact is the zero value, so an unset Tier already defaults there

	vec, err := e.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	r := &record.Record{
		ID:           record.NewID(),
		Text:         req.Text,
		Embedding:    vec,
		Tier:         tier,
		Kind:         req.Kind,
		Tags:         req.Tags,
		Project:      req.Project,
		Session:      req.Session,
		CreatedAt:    time.Now(),
		LastAccessAt: time.Now(),
	}

	err = e.txMgr.Run(func(h *txn.Handle) error {
		return h.Execute(txn.Insert(tier, r))
	})
	if err != nil {
		return nil, err
	}

	if e.sessionMgr != nil && req.Session != "" {
		if _, serr := e.sessionMgr.CreateSessionWithID(ctx, req.Session, req.Project); serr != nil {
			e.logger.Warn("session bookkeeping: create failed", zap.String("session", req.Session), zap.Error(serr))
		} else if serr := e.sessionMgr.AppendTurn(ctx, req.Session, session.Turn{
			Kind:      "remember",
			Text:      util.TruncateString(r.Text, 500, true),
			Timestamp: time.Now(),
		}); serr != nil {
			e.logger.Warn("session bookkeeping: append turn failed", zap.String("session", req.Session), zap.Error(serr))
		}
	}

	return r, nil
}

// Recall runs a semantic search query through the Search Pipeline (C7),
// embedding it first unless the caller already supplied a vector.
func (e *Engine) Recall(ctx context.Context, q record.SearchQuery) ([]record.SearchResult, error) {
	start := time.Now()
	if q.Rerank && e.degradation.FallbackBehaviorFor("recall_rerank") == degradation.BehaviorSkip {
		q.Rerank = false
	}
	results, err := e.pipeline.Search(ctx, q)
	status := "ok"
	if err != nil {
		status = "error"
	}
	tierLabel := "mixed"
	if len(q.TargetTiers) == 1 {
		tierLabel = q.TargetTiers[0].String()
	}
	metrics.RecordMemoryOperation("recall", tierLabel, status, time.Since(start).Seconds())
	if err == nil {
		metrics.RecallResultsReturned.Observe(float64(len(results)))
	}

	if e.sessionMgr != nil && q.Session != "" && err == nil {
		if serr := e.sessionMgr.AppendTurn(ctx, q.Session, session.Turn{
			Kind:      "recall",
			Text:      util.TruncateString(q.Text, 500, true),
			Timestamp: time.Now(),
		}); serr != nil {
			e.logger.Warn("session bookkeeping: append turn failed", zap.String("session", q.Session), zap.Error(serr))
		}
	}

	return results, err
}

// Get fetches one record by ID from the given tier.
func (e *Engine) Get(tier record.Tier, id record.ID) (*record.Record, error) {
	st, ok := e.stores[tier]
	if !ok {
		return nil, fmt.Errorf("memex: unknown tier %s", tier)
	}
	return st.Get(id)
}

// Forget transactionally removes a record from its tier.
func (e *Engine) Forget(ctx context.Context, tier record.Tier, id record.ID) error {
	start := time.Now()
	err := e.txMgr.Run(func(h *txn.Handle) error {
		return h.Execute(txn.Delete(tier, id))
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordMemoryOperation("forget", tier.String(), status, time.Since(start).Seconds())
	return err
}

// Optimize runs one promotion/demotion/eviction cycle across all tiers.
func (e *Engine) Optimize(ctx context.Context, opts promotion.CycleOptions) (promotion.CycleResult, error) {
	start := time.Now()
	result, err := e.promotion.RunCycle(ctx, opts)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordPromotionCycle(status, time.Since(start).Seconds(),
		tierCounts(result.Promoted), tierCounts(result.Demoted), tierCounts(result.Evicted))
	return result, err
}

func tierCounts(candidates []promotion.Candidate) map[string]int {
	counts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		counts[c.SourceTier.String()]++
	}
	return counts
}

// Health reports the aggregate health of every registered component.
func (e *Engine) Health(ctx context.Context) health.OverallHealth {
	return e.health.GetOverallHealth(ctx)
}

// HealthManager exposes the underlying health.Manager so a caller can mount
// its HTTP handler (health.NewHTTPHandler) on its own admin mux before the
// rest of the Engine's components finish starting.
func (e *Engine) HealthManager() *health.Manager { return e.health }

// Stats is a point-in-time snapshot of engine occupancy and provider state.
type Stats struct {
	Embedding embedding.Stats
	Tiers     map[record.Tier]index.Stats
}

// Stats reports per-tier index occupancy and the embedding service's
// cache/fallback state.
func (e *Engine) Stats() Stats {
	tiers := make(map[record.Tier]index.Stats, len(e.indexes))
	for tier, ix := range e.indexes {
		tiers[tier] = ix.Stats()
	}
	return Stats{Embedding: e.embedder.Stats(), Tiers: tiers}
}

// BeginTx opens a scoped transaction handle spanning every tier's
// store+index (C5). Callers must Commit or Close (Close rolls back if
// Commit was never reached).
func (e *Engine) BeginTx() *txn.Handle {
	return e.txMgr.BeginHandle()
}

// Runtime exposes the actor runtime so callers can spawn their own actors
// alongside the five built-in agents.
func (e *Engine) Runtime() *actor.Runtime { return e.runtime }

// Degradation exposes the degradation manager so a caller can check
// IsDegraded or consult FallbackBehaviorFor before an operation outside the
// ones Engine already guards internally (e.g. before an expensive tool
// context rebuild).
func (e *Engine) Degradation() *degradation.Manager { return e.degradation }

// SpawnAgents starts the five agents as actors named via agents' station
// naming scheme, keyed by workflowID so repeated calls with the same
// workflowID produce the same names across a replay.
func (e *Engine) SpawnAgents(ctx context.Context, workflowID string) AgentHandles {
	metrics.ActorsSpawned.Add(5)
	return AgentHandles{
		IntentAnalyzer: e.runtime.Spawn(ctx, agents.GetAgentName(workflowID, 0), e.intentAnalyzer.Handler()),
		Planner:        e.runtime.Spawn(ctx, agents.GetAgentName(workflowID, 1), e.planner.Handler()),
		Executor:       e.runtime.Spawn(ctx, agents.GetAgentName(workflowID, 2), e.executor.Handler()),
		Critic:         e.runtime.Spawn(ctx, agents.GetAgentName(workflowID, 3), e.critic.Handler()),
		Scheduler:      e.runtime.Spawn(ctx, agents.GetAgentName(workflowID, 4), e.scheduler.Handler()),
	}
}

// AgentHandles is the set of actor handles for one workflow's agent fleet.
type AgentHandles struct {
	IntentAnalyzer actor.Handle
	Planner        actor.Handle
	Executor       actor.Handle
	Critic         actor.Handle
	Scheduler      actor.Handle
}

// BuildToolContext ranks the skill catalog against an intent for the
// Planner, gated by the configured policy engine.
func (e *Engine) BuildToolContext(ctx context.Context, req agents.ToolContextRequest) ([]agents.RankedTool, error) {
	return e.toolContext.BuildContext(ctx, req)
}
