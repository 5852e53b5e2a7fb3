package rerank

import (
	"context"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/circuitbreaker"
	"github.com/opencortex/memex/internal/ratecontrol"
)

// Service guards a Provider with a circuit breaker and implements
// search.Reranker directly: Score(ctx, queryText, documents) ([]float32, error).
// There is no fallback path on trip — spec.md §4.7 requires the reranker be
// bypassed entirely rather than degrade precision, so a tripped breaker
// simply returns ErrUnavailable and the caller skips reranking.
type Service struct {
	cfg      Config
	provider Provider
	cb       *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewService wires a provider (hugot or http, selected by the caller)
// behind a circuit breaker.
func NewService(cfg Config, provider Provider, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.FailureThreshold = cfg.FailureThreshold
	cbConfig.Timeout = cfg.RecoveryTimeout
	cb := circuitbreaker.NewCircuitBreaker("reranker-provider", cbConfig, logger)

	return &Service{cfg: cfg, provider: provider, cb: cb, logger: logger}
}

// Score scores documents against queryText, batching at cfg.BatchSize and
// preserving input order.
func (s *Service) Score(ctx context.Context, queryText string, documents []string) ([]float32, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	out := make([]float32, 0, len(documents))
	for start := 0; start < len(documents); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := documents[start:end]

		var scores []float32
		cbErr := s.cb.ExecuteWithRetry(ctx, ratecontrol.PolicyFor("rerank"), func() error {
			sc, err := s.provider.Score(ctx, queryText, batch)
			if err != nil {
				return err
			}
			scores = sc
			return nil
		})
		if cbErr != nil {
			s.logger.Warn("reranker unavailable, bypassing", zap.Error(cbErr))
			return nil, ErrUnavailable
		}
		out = append(out, scores...)
	}
	return out, nil
}
