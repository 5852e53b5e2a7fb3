package degradation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager coordinates degradation tracking for the engine: it polls
// dependency health on a ticker and exposes the current DegradationLevel
// and per-operation FallbackBehavior to callers.
type Manager struct {
	strategy DegradationStrategy
	logger   *zap.Logger

	healthCheckInterval time.Duration
	stopCh              chan struct{}
	started             bool
	mu                  sync.RWMutex
}

// NewManager creates a degradation Manager backed by a DefaultStrategy
// polling deps.
func NewManager(deps func() EngineDependencies, logger *zap.Logger) *Manager {
	return &Manager{
		strategy:            NewDefaultStrategy(logger, deps),
		logger:              logger,
		healthCheckInterval: 30 * time.Second,
		stopCh:              make(chan struct{}),
	}
}

// Start begins background health monitoring.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	go m.healthMonitorLoop()
	m.logger.Info("degradation manager started", zap.Duration("health_check_interval", m.healthCheckInterval))
	return nil
}

// Stop stops background monitoring.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("degradation manager stopped")
	return nil
}

func (m *Manager) healthMonitorLoop() {
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.updateHealthMetrics()
		}
	}
}

func (m *Manager) updateHealthMetrics() {
	defaultStrategy, ok := m.strategy.(*DefaultStrategy)
	if !ok {
		return
	}
	health := defaultStrategy.checkSystemHealth()
	RecordDependencyHealth("embedding", health.Embedding.IsHealthy)
	RecordDependencyHealth("reranker", health.Reranker.IsHealthy)
	RecordDependencyHealth("streaming", health.Streaming.IsHealthy)
	currentDegradationLevel.Set(float64(health.Overall))
}

// GetStrategy returns the underlying degradation strategy.
func (m *Manager) GetStrategy() DegradationStrategy {
	return m.strategy
}

// CheckSystemHealth returns the current dependency health snapshot.
func (m *Manager) CheckSystemHealth(ctx context.Context) (*SystemHealth, error) {
	if defaultStrategy, ok := m.strategy.(*DefaultStrategy); ok {
		health := defaultStrategy.checkSystemHealth()
		return &health, nil
	}
	_, level, err := m.strategy.ShouldDegrade(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemHealth{Overall: level, Timestamp: time.Now()}, nil
}

// IsDegraded reports whether the engine is currently operating in a
// degraded state.
func (m *Manager) IsDegraded(ctx context.Context) (bool, DegradationLevel, error) {
	return m.strategy.ShouldDegrade(ctx)
}

// FallbackBehaviorFor returns the fallback behavior for a named operation
// (e.g. "recall_rerank", "embedding_request", "tool_context_ranking") given
// current dependency health, recording the decision for metrics.
func (m *Manager) FallbackBehaviorFor(operation string) FallbackBehavior {
	behavior := m.strategy.GetFallbackBehavior(operation)
	RecordFallbackBehavior(operation, behavior)
	return behavior
}
