package degradation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DegradationStrategy defines how the engine should degrade when a
// dependency is unhealthy.
type DegradationStrategy interface {
	// ShouldDegrade returns true if the engine should favor cheaper/simpler
	// behavior over its normal path.
	ShouldDegrade(ctx context.Context) (bool, DegradationLevel, error)

	// GetFallbackBehavior returns the fallback behavior for a specific operation.
	GetFallbackBehavior(operation string) FallbackBehavior

	// RecordDegradation records a degradation event for metrics.
	RecordDegradation(level DegradationLevel, reason string)
}

// DegradationLevel represents the severity of degradation.
type DegradationLevel int

const (
	LevelNone DegradationLevel = iota
	LevelMinor                // one dependency degraded
	LevelModerate             // two dependencies degraded
	LevelSevere               // three or more degraded
)

func (d DegradationLevel) String() string {
	switch d {
	case LevelNone:
		return "none"
	case LevelMinor:
		return "minor"
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// FallbackBehavior defines how to handle an operation while degraded.
type FallbackBehavior int

const (
	BehaviorProceed FallbackBehavior = iota // continue with warnings
	BehaviorDegrade                         // use a cheaper path
	BehaviorCache                           // serve cached results only
	BehaviorSkip                            // skip non-essential work
	BehaviorFail                            // fail fast
)

func (f FallbackBehavior) String() string {
	switch f {
	case BehaviorProceed:
		return "proceed"
	case BehaviorDegrade:
		return "degrade"
	case BehaviorCache:
		return "cache"
	case BehaviorSkip:
		return "skip"
	case BehaviorFail:
		return "fail"
	default:
		return "unknown"
	}
}

// DependencyHealth is the health status of one engine dependency.
type DependencyHealth struct {
	Name          string
	IsHealthy     bool
	LastCheckTime time.Time
}

// SystemHealth aggregates the engine's own dependency health, as reported
// by the components themselves (C1's fallback-provider flag, C8's
// configured-or-not state, streaming's redis link)
// rather than a separate probe — these are the same signals the health
// checkers in internal/health already expose.
type SystemHealth struct {
	Embedding DependencyHealth // degraded when the fallback embedding provider is active
	Reranker  DependencyHealth // degraded when no rerank provider is configured
	Streaming DependencyHealth // degraded when running without a redis-backed event log
	Overall   DegradationLevel
	Timestamp time.Time
}

// EngineDependencies reports the current health of the engine's optional
// dependencies, supplied by internal/memex so DefaultStrategy never needs
// a direct import of the engine's concrete types.
type EngineDependencies struct {
	EmbeddingFallbackActive bool // true once the real embedding provider has failed over
	RerankerConfigured      bool
	StreamingRedisConnected bool
}

// DefaultStrategy implements a conservative degradation strategy driven by
// whichever optional dependencies the engine was actually configured with.
type DefaultStrategy struct {
	logger               *zap.Logger
	deps                 func() EngineDependencies
	degradationThreshold int
}

// NewDefaultStrategy creates a DefaultStrategy. deps is polled on every
// ShouldDegrade/GetFallbackBehavior call rather than cached, so it should be
// cheap (a few field reads behind a mutex, as internal/embedding.Service's
// Stats already provides).
func NewDefaultStrategy(logger *zap.Logger, deps func() EngineDependencies) *DefaultStrategy {
	return &DefaultStrategy{
		logger:               logger,
		deps:                 deps,
		degradationThreshold: 2,
	}
}

// ShouldDegrade reports whether the engine should favor cheaper behavior,
// based on how many optional dependencies are currently degraded.
func (ds *DefaultStrategy) ShouldDegrade(ctx context.Context) (bool, DegradationLevel, error) {
	health := ds.checkSystemHealth()

	failedCount := 0
	if !health.Embedding.IsHealthy {
		failedCount++
	}
	if !health.Reranker.IsHealthy {
		failedCount++
	}
	if !health.Streaming.IsHealthy {
		failedCount++
	}

	var level DegradationLevel
	shouldDegrade := false

	switch failedCount {
	case 0:
		level = LevelNone
	case 1:
		level = LevelMinor
		shouldDegrade = true
	case 2:
		level = LevelModerate
		shouldDegrade = true
	default:
		level = LevelSevere
		shouldDegrade = true
	}

	if shouldDegrade {
		ds.logger.Warn("engine degradation triggered",
			zap.String("level", level.String()),
			zap.Int("degraded_dependencies", failedCount),
			zap.Bool("embedding_healthy", health.Embedding.IsHealthy),
			zap.Bool("reranker_healthy", health.Reranker.IsHealthy),
			zap.Bool("streaming_healthy", health.Streaming.IsHealthy),
		)
	}

	return shouldDegrade, level, nil
}

// GetFallbackBehavior returns the appropriate fallback behavior for an
// operation name, given current dependency health.
func (ds *DefaultStrategy) GetFallbackBehavior(operation string) FallbackBehavior {
	health := ds.checkSystemHealth()

	switch operation {
	case "recall_rerank":
		if !health.Reranker.IsHealthy {
			return BehaviorSkip // recall proceeds on raw similarity, no rerank pass
		}
		return BehaviorProceed

	case "embedding_request":
		if !health.Embedding.IsHealthy {
			return BehaviorDegrade // fallback-provider vectors are lower fidelity, not an error
		}
		return BehaviorProceed

	case "execution_progress_stream":
		if !health.Streaming.IsHealthy {
			return BehaviorProceed // in-memory fan-out still works, just not replayable across processes
		}
		return BehaviorProceed

	case "tool_context_ranking":
		if health.Overall >= LevelModerate {
			return BehaviorCache // reuse the last ranked tool set rather than re-embedding every descriptor
		}
		return BehaviorProceed

	default:
		return BehaviorProceed
	}
}

// RecordDegradation records a degradation event for monitoring.
func (ds *DefaultStrategy) RecordDegradation(level DegradationLevel, reason string) {
	ds.logger.Info("degradation event recorded",
		zap.String("level", level.String()),
		zap.String("reason", reason),
		zap.Time("timestamp", time.Now()),
	)
	degradationEventsTotal.WithLabelValues(level.String(), reason).Inc()
	currentDegradationLevel.Set(float64(level))
}

func (ds *DefaultStrategy) checkSystemHealth() SystemHealth {
	now := time.Now()
	d := ds.deps()

	health := SystemHealth{
		Timestamp: now,
		Embedding: DependencyHealth{Name: "embedding", IsHealthy: !d.EmbeddingFallbackActive, LastCheckTime: now},
		Reranker:  DependencyHealth{Name: "reranker", IsHealthy: d.RerankerConfigured, LastCheckTime: now},
		Streaming: DependencyHealth{Name: "streaming", IsHealthy: d.StreamingRedisConnected, LastCheckTime: now},
	}

	failedCount := 0
	if !health.Embedding.IsHealthy {
		failedCount++
	}
	if !health.Reranker.IsHealthy {
		failedCount++
	}
	if !health.Streaming.IsHealthy {
		failedCount++
	}

	switch failedCount {
	case 0:
		health.Overall = LevelNone
	case 1:
		health.Overall = LevelMinor
	case 2:
		health.Overall = LevelModerate
	default:
		health.Overall = LevelSevere
	}

	return health
}
