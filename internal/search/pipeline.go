package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/index"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/store"
	"github.com/opencortex/memex/internal/tracing"
)

// TierBackend is one tier's pair of query-time backends.
type TierBackend struct {
	Store *store.Store
	Index *index.Index
}

// Pipeline implements the Search Pipeline (C7) over a set of per-tier
// backends.
type Pipeline struct {
	cfg      Config
	backends map[record.Tier]*TierBackend
	embedder Embedder
	reranker Reranker
	texter   TextSearcher
	logger   *zap.Logger
}

// New builds a Pipeline. reranker and textSearcher may be nil.
func New(cfg Config, backends map[record.Tier]*TierBackend, embedder Embedder, reranker Reranker, textSearcher TextSearcher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, backends: backends, embedder: embedder, reranker: reranker, texter: textSearcher, logger: logger}
}

type annHit struct {
	tier     record.Tier
	id       record.ID
	distance float32
}

type hydrated struct {
	record       *record.Record
	tier         record.Tier
	similarity   float32
	rerank       *float32
	fromFallback bool
}

// scored is a hydrated item plus its final composite rank score.
type scored struct {
	item  hydrated
	score float32
}

func (s scored) embeddingOf() []float32 { return s.item.record.Embedding }

// Search runs the nine-step pipeline from spec.md §4.6.
func (p *Pipeline) Search(ctx context.Context, q record.SearchQuery) ([]record.SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "search.Pipeline.Search")
	defer span.End()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	results, err := p.runOnce(ctx, q, q.ScoreThreshold, p.cfg.OverFetchFactor, q.TargetTiers)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		broadTiers := record.AllTiers()
		broadThreshold := q.ScoreThreshold * p.cfg.BroadenedThresholdFactor
		broadFactor := p.cfg.OverFetchFactor * p.cfg.BroadenedOverFetchFactor
		results, err = p.runOnce(ctx, q, broadThreshold, broadFactor, broadTiers)
		if err != nil {
			return nil, err
		}
	}

	p.recordAccessAsync(results)
	return results, nil
}

// runOnce executes steps 2 through 8 for one attempt (the original
// parameters, or the broadened retry).
func (p *Pipeline) runOnce(ctx context.Context, q record.SearchQuery, threshold float32, overFetchFactor float64, tiers []record.Tier) ([]record.SearchResult, error) {
	// Step 2: plan. A short-circuit text/filter path is only eligible
	// when the query carries no vector, is simple, and a TextSearcher is
	// actually wired in.
	if len(q.Vector) == 0 && p.texter != nil && isSimpleQuery(q) {
		recs, err := p.texter.SearchText(ctx, q.Text, q.Filter, tiers, q.Limit)
		if err != nil {
			return nil, err
		}
		return p.finalize(q, toFallbackHydrated(recs), false), nil
	}

	vector := q.Vector
	fromFallbackEmbedding := false
	if len(vector) == 0 {
		if p.embedder == nil {
			return nil, record.ErrEmptyQueryText
		}
		v, err := p.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		vector = v
		if fa, ok := p.embedder.(fallbackAwareEmbedder); ok {
			fromFallbackEmbedding = fa.FallbackActive()
		}
	}

	limit := q.Limit
	kPrime := int(math.Max(float64(limit)*overFetchFactor, float64(limit+p.cfg.OverFetchMargin)))

	// Step 3: ANN search per tier, merged.
	var hits []annHit
	for _, tier := range tiers {
		b, ok := p.backends[tier]
		if !ok || b.Index == nil {
			continue
		}
		searchStart := time.Now()
		tierHits, err := b.Index.Search(vector, kPrime)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordVectorSearch(tier.String(), status, time.Since(searchStart).Seconds())
		if err != nil {
			continue
		}
		for _, h := range tierHits {
			hits = append(hits, annHit{tier: tier, id: h.ID, distance: h.Distance})
		}
	}
	// A record only ever lives in the tier its id was inserted into, but
	// keep the merge defensive against a stale double-write.
	hits = lo.UniqBy(hits, func(h annHit) record.ID { return h.id })

	// Step 4: hydrate + post-hoc filter.
	var items []hydrated
	now := time.Now()
	for _, h := range hits {
		b := p.backends[h.tier]
		r, err := b.Store.Get(h.id)
		if err != nil {
			continue
		}
		if !q.Filter.Match(r, now) {
			continue
		}
		similarity := 1 - h.distance
		items = append(items, hydrated{record: r, tier: h.tier, similarity: similarity})
	}

	// Step 5: prune by score threshold.
	pruned := items[:0]
	for _, it := range items {
		if it.similarity >= threshold {
			pruned = append(pruned, it)
		}
	}
	items = pruned

	return p.finalize(q, withFallbackFlag(items, fromFallbackEmbedding), q.Rerank), nil
}

func toFallbackHydrated(recs []*record.Record) []hydrated {
	out := make([]hydrated, len(recs))
	for i, r := range recs {
		out[i] = hydrated{record: r, tier: r.Tier, similarity: 1}
	}
	return out
}

func withFallbackFlag(items []hydrated, fallback bool) []hydrated {
	if !fallback {
		return items
	}
	for i := range items {
		items[i].fromFallback = fallback
	}
	return items
}

func (p *Pipeline) finalize(q record.SearchQuery, items []hydrated, allowRerank bool) []record.SearchResult {
	// Step 6: rerank.
	usedRerank := false
	if allowRerank && p.reranker != nil && len(items) > q.Limit && q.Text != "" {
		n := p.cfg.RerankTopN
		if n > len(items) {
			n = len(items)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].similarity > items[j].similarity })
		top := items[:n]
		texts := lo.Map(top, func(it hydrated, _ int) string { return it.record.Text })
		scores, err := p.reranker.Score(context.Background(), q.Text, texts)
		if err == nil && len(scores) == len(top) {
			for i := range top {
				s := scores[i]
				top[i].rerank = &s
			}
			usedRerank = true
			metrics.RerankRequests.WithLabelValues("ok").Inc()
		} else {
			metrics.RerankRequests.WithLabelValues("error").Inc()
		}
	}

	weights := p.cfg.WeightsWithoutRerank
	if usedRerank {
		weights = p.cfg.WeightsWithRerank
	}

	// Step 7: rank by weighted combination, with the context-aware boost
	// applied to the composite score before sorting.
	rankedItems := make([]scored, len(items))
	for i, it := range items {
		recency := recencyFactor(time.Since(it.record.LastAccessAt), p.cfg.RecencyHalfLife)
		popularity := popularityFactor(it.record.AccessCount, p.cfg.PopularitySaturation)

		s := weights.Similarity*it.similarity + weights.Recency*float32(recency) + weights.Popularity*float32(popularity)
		if it.rerank != nil {
			s += weights.Rerank * *it.rerank
		}
		if q.Project != "" && it.record.Project == q.Project {
			s *= p.cfg.ContextBoost
		} else if q.Session != "" && it.record.Session == q.Session {
			s *= p.cfg.ContextBoost
		}
		rankedItems[i] = scored{item: it, score: s}
	}
	sort.Slice(rankedItems, func(i, j int) bool { return rankedItems[i].score > rankedItems[j].score })

	// Step 8: diversity pass.
	if p.cfg.DiversityEnabled {
		rankedItems = suppressNearDuplicates(rankedItems, p.cfg.DiversityThreshold)
	}

	if len(rankedItems) > q.Limit {
		rankedItems = rankedItems[:q.Limit]
	}

	out := make([]record.SearchResult, len(rankedItems))
	for i, s := range rankedItems {
		out[i] = record.SearchResult{
			Record:       s.item.record,
			Similarity:   s.item.similarity,
			RerankScore:  s.item.rerank,
			Rank:         uint32(i + 1),
			FromFallback: s.item.fromFallback,
		}
	}
	return out
}

// recencyFactor returns a (0,1] weight that halves every halfLife.
func recencyFactor(age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * age.Hours() / halfLife.Hours())
}

// popularityFactor saturates at 1.0 once accessCount reaches roughly
// saturation accesses, log-scaled so early accesses matter more.
func popularityFactor(accessCount uint32, saturation float64) float64 {
	if saturation <= 0 {
		return 0
	}
	v := math.Log1p(float64(accessCount)) / math.Log1p(saturation)
	if v > 1 {
		v = 1
	}
	return v
}

// isSimpleQuery decides eligibility for the text/filter short-circuit:
// simple text, few filter tags, and a small limit.
func isSimpleQuery(q record.SearchQuery) bool {
	return q.Text != "" && len(q.Filter.Tags) <= 2 && q.Limit <= 10
}

// recordAccessAsync reports returned ids to the Record Store without
// blocking the caller (spec.md §4.6 step 9: "best-effort... must not
// block").
func (p *Pipeline) recordAccessAsync(results []record.SearchResult) {
	if len(results) == 0 {
		return
	}
	go func() {
		now := time.Now()
		for _, r := range results {
			b, ok := p.backends[r.Record.Tier]
			if !ok {
				continue
			}
			if err := b.Store.RecordAccess(r.Record.ID, now, 0.01); err != nil {
				p.logger.Debug("search: access recording failed", zap.Error(err))
			}
		}
	}()
}
