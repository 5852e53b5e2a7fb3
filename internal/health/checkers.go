package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/circuitbreaker"
)

// RedisHealthChecker checks the Redis L2 embedding cache.
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker.
func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false } // embedding cache, not record of truth
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: "redis", Critical: false, Timestamp: startTime}

	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusDegraded // cache miss path still works without Redis
		result.Error = err.Error()
		result.Message = "Redis ping failed; falling back to local cache only"
		result.Details = map[string]interface{}{"error": err.Error(), "latency_ms": result.Duration.Milliseconds()}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}
	return result
}

// Pinger is the minimal health-check surface a core component exposes: an
// embedding provider, reranker provider, or HNSW index snapshot store.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ComponentHealthChecker adapts any Pinger (embedding service, reranker,
// index, record store) into a health.Checker, replacing the teacher's
// one-off AgentCore/Database/LLMService checkers with a single generic shape.
type ComponentHealthChecker struct {
	name     string
	critical bool
	wrapper  *circuitbreaker.CircuitBreaker
	target   Pinger
	timeout  time.Duration
}

// NewComponentHealthChecker builds a checker for target, optionally guarded
// by a circuit breaker whose open state short-circuits the ping.
func NewComponentHealthChecker(name string, critical bool, target Pinger, wrapper *circuitbreaker.CircuitBreaker) *ComponentHealthChecker {
	return &ComponentHealthChecker{
		name:     name,
		critical: critical,
		wrapper:  wrapper,
		target:   target,
		timeout:  5 * time.Second,
	}
}

func (c *ComponentHealthChecker) Name() string           { return c.name }
func (c *ComponentHealthChecker) IsCritical() bool       { return c.critical }
func (c *ComponentHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *ComponentHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: c.name, Critical: c.critical, Timestamp: startTime}

	if c.wrapper != nil && c.wrapper.State() == circuitbreaker.StateOpen {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = fmt.Sprintf("%s circuit breaker is open", c.name)
		result.Duration = time.Since(startTime)
		return result
	}

	err := c.target.HealthCheck(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s health check failed", c.name)
		result.Details = map[string]interface{}{"error": err.Error(), "latency_ms": result.Duration.Milliseconds()}
		return result
	}

	if result.Duration > 200*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s responding but with high latency", c.name)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", c.name)
	}

	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
	return result
}

// CustomHealthChecker allows for ad hoc health check logic.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
