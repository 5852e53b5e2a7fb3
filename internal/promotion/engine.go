package promotion

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/store"
	"github.com/opencortex/memex/internal/txn"
)

// demoteMirror names, for each non-Interact tier, the tier a record moves
// back down to when its Score decays below cfg.DemotionScoreThreshold
// (spec.md §4.5's "demotion follows the mirror policy").
var demoteMirror = map[record.Tier]record.Tier{
	record.Insights: record.Interact,
	record.Assets:   record.Insights,
}

type retryState struct {
	backoff     time.Duration
	nextAttempt time.Time
}

// CycleOptions selects a cycle's operational mode (spec.md §4.5).
type CycleOptions struct {
	DryRun   bool
	Force    bool
	ForceIDs []record.ID
}

// CycleResult reports what one cycle did (or, under DryRun, would do).
type CycleResult struct {
	Promoted []Candidate
	Demoted  []Candidate
	Evicted  []Candidate
	Failed   int
}

// Engine runs the Promotion Engine (C6) cycle, either on a ticker or on
// demand.
type Engine struct {
	cfg     Config
	rules   map[record.Tier]TierRule
	stores  map[record.Tier]*store.Store
	txMgr   *txn.Manager
	cluster ClusterDensity
	logger  *zap.Logger

	retryMu sync.Mutex
	retries map[record.ID]*retryState

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

// NewEngine builds a promotion Engine. cluster may be nil (no clustering
// boost).
func NewEngine(cfg Config, rules map[record.Tier]TierRule, stores map[record.Tier]*store.Store, txMgr *txn.Manager, cluster ClusterDensity, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		rules:   rules,
		stores:  stores,
		txMgr:   txMgr,
		cluster: cluster,
		logger:  logger,
		retries: make(map[record.ID]*retryState),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic cycle loop. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.loop(ctx)
}

// Stop halts the periodic loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	close(e.stopCh)
	e.started = false
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunCycle(ctx, CycleOptions{}); err != nil {
				e.logger.Error("promotion: cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle executes one selection-and-transition pass. The cycle never
// holds a lock across its whole body — each transition is its own
// transaction, so a slow or failing record never blocks the rest.
func (e *Engine) RunCycle(ctx context.Context, opts CycleOptions) (CycleResult, error) {
	now := time.Now()

	promote := e.selectPromotions(now, opts)
	var demote []Candidate
	if !opts.Force {
		demote = e.selectDemotions(now)
	}
	evict := e.selectEvictions(now)

	result := CycleResult{}
	if opts.DryRun {
		result.Promoted = promote
		result.Demoted = demote
		result.Evicted = evict
		return result, nil
	}

	result.Promoted, result.Failed = e.applyTransitions(ctx, promote, func(c Candidate) error {
		rule := e.rules[c.SourceTier]
		return e.issueMove(c.Record.ID, c.SourceTier, rule.PromoteTo)
	})

	demoted, demoteFailed := e.applyTransitions(ctx, demote, func(c Candidate) error {
		return e.issueMove(c.Record.ID, c.SourceTier, demoteMirror[c.SourceTier])
	})
	result.Demoted = demoted
	result.Failed += demoteFailed

	evicted, evictFailed := e.applyTransitions(ctx, evict, func(c Candidate) error {
		return e.issueEvict(c.Record.ID, c.SourceTier)
	})
	result.Evicted = evicted
	result.Failed += evictFailed

	return result, nil
}

// applyTransitions issues one transition per candidate concurrently,
// bounded via errgroup.SetLimit so a cycle with thousands of candidates
// doesn't open thousands of transactions at once. Each candidate's
// transition is independent (its own transaction against one record), so
// ordering across candidates never matters.
func (e *Engine) applyTransitions(ctx context.Context, candidates []Candidate, apply func(Candidate) error) ([]Candidate, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	var mu sync.Mutex
	var applied []Candidate
	failed := 0

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if err := apply(c); err != nil {
				e.recordFailure(c.Record.ID, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			e.clearBackoff(c.Record.ID)
			mu.Lock()
			applied = append(applied, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return applied, failed
}

func (e *Engine) selectPromotions(now time.Time, opts CycleOptions) []Candidate {
	var out []Candidate
	for tier, rule := range e.rules {
		st, ok := e.stores[tier]
		if !ok {
			continue
		}
		for _, r := range st.List(0) {
			if opts.Force && !containsID(opts.ForceIDs, r.ID) {
				continue
			}
			if e.isBackingOff(r.ID, now) {
				continue
			}
			hours := now.Sub(r.LastAccessAt).Hours()
			if !opts.Force {
				if r.AccessCount < rule.MinAccessCount {
					continue
				}
				if hours > rule.MaxHoursSinceSeen {
					continue
				}
				if r.Score < rule.MinScore {
					continue
				}
			}
			density := 0.0
			if e.cluster != nil {
				density = e.cluster.Density(r.ID)
			}
			score := promotionScore(e.cfg, r, hours, rule.MaxHoursSinceSeen, density)
			out = append(out, Candidate{Record: r, SourceTier: tier, Score: score, Action: ActionPromote, ClusterDens: density})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if e.cfg.PerCycleBudget > 0 && len(out) > e.cfg.PerCycleBudget {
		out = out[:e.cfg.PerCycleBudget]
	}
	return out
}

func (e *Engine) selectDemotions(now time.Time) []Candidate {
	var out []Candidate
	for tier := range demoteMirror {
		st, ok := e.stores[tier]
		if !ok {
			continue
		}
		for _, r := range st.List(0) {
			if e.isBackingOff(r.ID, now) {
				continue
			}
			if r.Score < e.cfg.DemotionScoreThreshold {
				out = append(out, Candidate{Record: r, SourceTier: tier, Action: ActionDemote})
			}
		}
	}
	return out
}

func (e *Engine) selectEvictions(now time.Time) []Candidate {
	var out []Candidate
	for _, tier := range []record.Tier{record.Interact, record.Insights} {
		st, ok := e.stores[tier]
		if !ok {
			continue
		}
		for _, r := range st.List(0) {
			if e.isBackingOff(r.ID, now) {
				continue
			}
			if now.Sub(r.LastAccessAt) >= e.cfg.TTL && r.Score < e.cfg.MinimumKeepScore {
				out = append(out, Candidate{Record: r, SourceTier: tier, Action: ActionEvict})
			}
		}
	}
	return out
}

func (e *Engine) issueMove(id record.ID, from, to record.Tier) error {
	return e.txMgr.Run(func(h *txn.Handle) error {
		return h.Execute(txn.Promote(id, from, to))
	})
}

func (e *Engine) issueEvict(id record.ID, tier record.Tier) error {
	return e.txMgr.Run(func(h *txn.Handle) error {
		return h.Execute(txn.Delete(tier, id))
	})
}

// recordFailure tracks a failed transition's exponential backoff, capped
// at cfg.MaxRetryBackoff (spec.md §4.5: "retried on the next cycle with
// exponential backoff, capped").
func (e *Engine) recordFailure(id record.ID, err error) {
	e.logger.Warn("promotion: transition failed, will retry with backoff",
		zap.String("record_id", id.String()), zap.Error(err))

	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	st, ok := e.retries[id]
	if !ok {
		st = &retryState{backoff: e.cfg.Interval}
		e.retries[id] = st
	} else {
		st.backoff *= 2
		if st.backoff > e.cfg.MaxRetryBackoff {
			st.backoff = e.cfg.MaxRetryBackoff
		}
	}
	st.nextAttempt = time.Now().Add(st.backoff)
}

func (e *Engine) clearBackoff(id record.ID) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	delete(e.retries, id)
}

func (e *Engine) isBackingOff(id record.ID, now time.Time) bool {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	st, ok := e.retries[id]
	return ok && now.Before(st.nextAttempt)
}

func containsID(ids []record.ID, target record.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
