package degradation

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func healthyDeps() EngineDependencies {
	return EngineDependencies{
		EmbeddingFallbackActive: false,
		RerankerConfigured:      true,
		StreamingRedisConnected: true,
	}
}

func TestShouldDegrade_AllHealthy(t *testing.T) {
	s := NewDefaultStrategy(zap.NewNop(), healthyDeps)
	degraded, level, err := s.ShouldDegrade(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if degraded {
		t.Fatalf("expected no degradation when every dependency is healthy")
	}
	if level != LevelNone {
		t.Fatalf("expected LevelNone, got %s", level)
	}
}

func TestShouldDegrade_OneDependencyDown(t *testing.T) {
	deps := healthyDeps()
	deps.RerankerConfigured = false
	s := NewDefaultStrategy(zap.NewNop(), func() EngineDependencies { return deps })

	degraded, level, err := s.ShouldDegrade(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !degraded {
		t.Fatalf("expected degradation with the reranker unconfigured")
	}
	if level != LevelMinor {
		t.Fatalf("expected LevelMinor with one dependency down, got %s", level)
	}
}

func TestShouldDegrade_AllDependenciesDown(t *testing.T) {
	deps := EngineDependencies{EmbeddingFallbackActive: true, RerankerConfigured: false, StreamingRedisConnected: false}
	s := NewDefaultStrategy(zap.NewNop(), func() EngineDependencies { return deps })

	_, level, err := s.ShouldDegrade(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != LevelSevere {
		t.Fatalf("expected LevelSevere with every dependency down, got %s", level)
	}
}

func TestGetFallbackBehavior_RerankSkippedWhenRerankerUnhealthy(t *testing.T) {
	deps := healthyDeps()
	deps.RerankerConfigured = false
	s := NewDefaultStrategy(zap.NewNop(), func() EngineDependencies { return deps })

	if got := s.GetFallbackBehavior("recall_rerank"); got != BehaviorSkip {
		t.Fatalf("expected BehaviorSkip for recall_rerank with no reranker configured, got %s", got)
	}
}

func TestGetFallbackBehavior_ProceedsWhenHealthy(t *testing.T) {
	s := NewDefaultStrategy(zap.NewNop(), healthyDeps)
	if got := s.GetFallbackBehavior("recall_rerank"); got != BehaviorProceed {
		t.Fatalf("expected BehaviorProceed when every dependency is healthy, got %s", got)
	}
	if got := s.GetFallbackBehavior("unknown_operation"); got != BehaviorProceed {
		t.Fatalf("expected BehaviorProceed for an unrecognized operation, got %s", got)
	}
}

func TestGetFallbackBehavior_EmbeddingDegradesOnFallback(t *testing.T) {
	deps := healthyDeps()
	deps.EmbeddingFallbackActive = true
	s := NewDefaultStrategy(zap.NewNop(), func() EngineDependencies { return deps })

	if got := s.GetFallbackBehavior("embedding_request"); got != BehaviorDegrade {
		t.Fatalf("expected BehaviorDegrade once the fallback embedding provider is active, got %s", got)
	}
}

func TestManager_StartStopIdempotent(t *testing.T) {
	m := NewManager(healthyDeps, zap.NewNop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}
