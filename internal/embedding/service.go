package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/circuitbreaker"
	"github.com/opencortex/memex/internal/metrics"
	"github.com/opencortex/memex/internal/ratecontrol"
)

// Service is the embedding engine's C1 contract: embed/embed_batch/dim, plus
// the two-tier cache and chunking that sit in front of whichever Provider is
// active. A circuit breaker guards the primary provider; a trip falls back
// to the always-available deterministic provider rather than failing the
// caller, per spec.md §9's "never let embedding unavailability stop the
// pipeline" rationale.
type Service struct {
	cfg      Config
	primary  Provider
	fallback Provider
	cache    Cache
	chunker  *Chunker
	cb       *circuitbreaker.CircuitBreaker
	logger   *zap.Logger

	mu           sync.RWMutex
	usingFallback bool
}

// NewService wires a primary provider (hugot or http, selected by the
// caller) behind a circuit breaker, with the deterministic fallback
// provider as the open-circuit path, and a tiered LRU+Redis cache in front
// of both.
func NewService(cfg Config, primary Provider, cache Cache, tok Tokenizer, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewLocalLRU(cfg.CacheEntries, cfg.CacheBytes)
	}

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.FailureThreshold = 5
	cbConfig.Timeout = 30 * time.Second
	cb := circuitbreaker.NewCircuitBreaker("embedding-provider", cbConfig, logger)

	return &Service{
		cfg:      cfg,
		primary:  primary,
		fallback: NewFallbackProvider(cfg.Dimension),
		cache:    cache,
		chunker:  NewChunker(tok, cfg.Chunking),
		cb:       cb,
		logger:   logger,
	}
}

// Dim reports the fixed embedding dimension D for this deployment.
func (s *Service) Dim() int { return s.cfg.Dimension }

// Embed produces a single unit-norm vector for text, consulting the cache
// first. Long text is chunked and the chunk vectors are averaged and
// renormalized, since a downstream HNSW index expects one vector per record.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if chunks := s.chunker.ChunkText(text); len(chunks) > 0 {
		vecs := make([][]float32, len(chunks))
		for i, c := range chunks {
			v, err := s.embedOne(ctx, c.Text)
			if err != nil {
				return nil, err
			}
			vecs[i] = v
		}
		return averageAndNormalize(vecs), nil
	}
	return s.embedOne(ctx, text)
}

func (s *Service) embedOne(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(s.cfg.ModelID, text)
	if v, ok := s.cache.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.Inc()
		return v, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, vecs[0], s.cfg.CacheTTL)
	return vecs[0], nil
}

// EmbedBatch produces one vector per input text, in order. It does not
// consult the cache per-element — callers that want caching should go
// through Embed, which is the path the record store and search pipeline
// use for single records; EmbedBatch exists for bulk ingest where the
// cache hit rate is expected to be near zero anyway.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()

	var out [][]float32
	cbErr := s.cb.ExecuteWithRetry(ctx, ratecontrol.PolicyFor("embedding"), func() error {
		vecs, err := s.primary.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for _, v := range vecs {
			if len(v) != s.cfg.Dimension {
				return fmt.Errorf("%w: provider %s returned %d dims, want %d", ErrDimensionMismatch, s.primary.Name(), len(v), s.cfg.Dimension)
			}
		}
		out = vecs
		return nil
	})

	if cbErr == nil {
		s.setFallbackActive(false)
		metrics.RecordEmbeddingRequest(s.primary.Name(), "ok", time.Since(start).Seconds())
		return out, nil
	}

	s.logger.Warn("embedding primary provider unavailable, using deterministic fallback",
		zap.String("provider", s.primary.Name()),
		zap.Error(cbErr),
	)
	s.setFallbackActive(true)
	metrics.RecordEmbeddingRequest(s.primary.Name(), "fallback", time.Since(start).Seconds())
	vecs, err := s.fallback.Embed(ctx, texts)
	if err != nil {
		metrics.RecordEmbeddingRequest(s.fallback.Name(), "error", 0)
	}
	return vecs, err
}

// FallbackActive reports whether the most recent embed call was served by
// the deterministic fallback provider rather than the primary model.
func (s *Service) FallbackActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usingFallback
}

func (s *Service) setFallbackActive(v bool) {
	s.mu.Lock()
	s.usingFallback = v
	s.mu.Unlock()
}

// Stats reports cache occupancy and whether the circuit breaker has
// diverted traffic to the fallback provider.
func (s *Service) Stats() Stats {
	stats := s.cache.Stats()
	s.mu.RLock()
	stats.FallbackActive = s.usingFallback
	s.mu.RUnlock()
	if stats.FallbackActive {
		stats.ActiveProvider = s.fallback.Name()
	} else {
		stats.ActiveProvider = s.primary.Name()
	}
	return stats
}

func averageAndNormalize(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float32, dim)
	for _, v := range vecs {
		for i, f := range v {
			sum[i] += f
		}
	}
	n := float32(len(vecs))
	for i := range sum {
		sum[i] /= n
	}
	return normalize(sum)
}
