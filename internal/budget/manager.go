// Package budget tracks per-actor resource budgets for the actor runtime
// (SPEC_FULL §5 concurrency/resource model): mailbox depth, CPU time, and
// memory, with backpressure and a small per-actor circuit breaker on top.
// It replaces the teacher's Postgres-backed per-user/session LLM token
// budget with an in-memory monitor, since there is no SQL store left in the
// core (DESIGN.md) and the resource being budgeted is compute, not tokens.
package budget

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResourceBudget is the cap an actor (or actor class) operates under.
type ResourceBudget struct {
	MailboxCapacity int           // max queued messages before backpressure
	CPUBudget       time.Duration // CPU time allowed per accounting window
	MemoryBudget    int64         // bytes allowed per accounting window
	HardLimit       bool          // reject new work instead of just warning
	WarningThreshold float64      // warn at this fraction of budget (0.8 = 80%)
}

// ResourceUsage is the rolling consumption tracked against a ResourceBudget.
type ResourceUsage struct {
	MailboxDepth int
	CPUUsed      time.Duration
	MemoryUsed   int64
}

// Manager tracks resource budgets and usage per actor, mirroring the
// teacher's lock-ordering discipline (mu before the per-actor circuit
// breaker map) to avoid deadlocks between concurrent actors.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	budgets map[string]*ResourceBudget
	usage   map[string]*ResourceUsage

	defaultBudget ResourceBudget

	backpressureThreshold float64
	maxBackpressureDelay  time.Duration

	rateLimitsMu sync.RWMutex
	rateLimiters map[string]*rate.Limiter

	cbMu            sync.RWMutex
	circuitBreakers map[string]*actorCircuitBreaker
}

// Options configures a Manager's backpressure behavior.
type Options struct {
	BackpressureThreshold float64
	MaxBackpressureDelay  time.Duration
}

// NewManager creates a resource-budget manager with the given default
// per-actor budget.
func NewManager(defaultBudget ResourceBudget, logger *zap.Logger) *Manager {
	return NewManagerWithOptions(defaultBudget, logger, Options{})
}

// NewManagerWithOptions creates a Manager, applying non-zero overrides from
// opts on top of sensible defaults.
func NewManagerWithOptions(defaultBudget ResourceBudget, logger *zap.Logger, opts Options) *Manager {
	m := &Manager{
		logger:                logger,
		budgets:               make(map[string]*ResourceBudget),
		usage:                 make(map[string]*ResourceUsage),
		defaultBudget:         defaultBudget,
		backpressureThreshold: 0.8,
		maxBackpressureDelay:  5 * time.Second,
		rateLimiters:          make(map[string]*rate.Limiter),
		circuitBreakers:       make(map[string]*actorCircuitBreaker),
	}
	if opts.BackpressureThreshold > 0 {
		m.backpressureThreshold = opts.BackpressureThreshold
	}
	if opts.MaxBackpressureDelay > 0 {
		m.maxBackpressureDelay = opts.MaxBackpressureDelay
	}
	return m
}

// ErrResourceOverflow indicates a usage counter would overflow its range.
var ErrResourceOverflow = fmt.Errorf("budget: resource usage would overflow")

// CheckResult reports whether an actor may accept more work right now.
type CheckResult struct {
	CanProceed      bool
	Reason          string
	Warnings        []string
	Pressure        string // low, medium, high, critical
	BackpressureMs  int
}

func (m *Manager) budgetFor(actorID string) *ResourceBudget {
	m.mu.RLock()
	b, ok := m.budgets[actorID]
	m.mu.RUnlock()
	if ok {
		return b
	}
	return &m.defaultBudget
}

func (m *Manager) usageFor(actorID string) *ResourceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[actorID]
	if !ok {
		u = &ResourceUsage{}
		m.usage[actorID] = u
	}
	return u
}

// CheckBudget evaluates whether actorID can accept addMailbox more queued
// messages and addCPU more CPU time within its budget.
func (m *Manager) CheckBudget(ctx context.Context, actorID string, addMailbox int, addCPU time.Duration) (*CheckResult, error) {
	budget := m.budgetFor(actorID)
	usage := m.usageFor(actorID)

	result := &CheckResult{CanProceed: true}

	m.mu.RLock()
	mailboxAfter := usage.MailboxDepth + addMailbox
	cpuAfter := usage.CPUUsed + addCPU
	m.mu.RUnlock()

	if budget.MailboxCapacity > 0 && mailboxAfter > budget.MailboxCapacity {
		if budget.HardLimit {
			result.CanProceed = false
			result.Reason = fmt.Sprintf("mailbox capacity exceeded: %d/%d", mailboxAfter, budget.MailboxCapacity)
		} else {
			result.Warnings = append(result.Warnings, "mailbox capacity will be exceeded")
		}
	}
	if budget.CPUBudget > 0 && cpuAfter > budget.CPUBudget {
		if budget.HardLimit {
			result.CanProceed = false
			result.Reason = fmt.Sprintf("CPU budget exceeded: %s/%s", cpuAfter, budget.CPUBudget)
		} else {
			result.Warnings = append(result.Warnings, "CPU budget will be exceeded")
		}
	}

	var usagePercent float64
	if budget.MailboxCapacity > 0 {
		usagePercent = float64(mailboxAfter) / float64(budget.MailboxCapacity)
	}
	if budget.WarningThreshold > 0 && usagePercent > budget.WarningThreshold {
		result.Warnings = append(result.Warnings, fmt.Sprintf("mailbox at %.0f%% of budget", usagePercent*100))
	}

	result.Pressure = pressureLevel(usagePercent)
	if usagePercent >= m.backpressureThreshold {
		result.BackpressureMs = int(backpressureDelay(usagePercent, m.backpressureThreshold, m.maxBackpressureDelay).Milliseconds())
	}

	return result, nil
}

// RecordUsage adds consumed mailbox slots/CPU/memory to actorID's running
// total, returning ErrResourceOverflow if a counter would wrap.
func (m *Manager) RecordUsage(actorID string, mailboxDelta int, cpuDelta time.Duration, memDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[actorID]
	if !ok {
		u = &ResourceUsage{}
		m.usage[actorID] = u
	}
	if memDelta > 0 && u.MemoryUsed > (1<<62)-memDelta {
		return ErrResourceOverflow
	}
	u.MailboxDepth += mailboxDelta
	if u.MailboxDepth < 0 {
		u.MailboxDepth = 0
	}
	u.CPUUsed += cpuDelta
	u.MemoryUsed += memDelta
	return nil
}

// ResetUsage zeroes an actor's accounting window. Nothing in the runtime
// calls it automatically; usage accumulates until a caller resets it.
func (m *Manager) ResetUsage(actorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, actorID)
}

// SetBudget overrides the default budget for a specific actor.
func (m *Manager) SetBudget(actorID string, budget ResourceBudget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[actorID] = &budget
}

// GetPressure reports the current budget-pressure level for an actor.
func (m *Manager) GetPressure(actorID string) string {
	budget := m.budgetFor(actorID)
	m.mu.RLock()
	u, ok := m.usage[actorID]
	m.mu.RUnlock()
	if !ok || budget.MailboxCapacity == 0 {
		return "low"
	}
	return pressureLevel(float64(u.MailboxDepth) / float64(budget.MailboxCapacity))
}

func pressureLevel(usagePercent float64) string {
	switch {
	case usagePercent < 0.5:
		return "low"
	case usagePercent < 0.75:
		return "medium"
	case usagePercent < 0.9:
		return "high"
	default:
		return "critical"
	}
}

func backpressureDelay(usagePercent, threshold float64, maxDelay time.Duration) time.Duration {
	if usagePercent < threshold {
		return 0
	}
	switch {
	case usagePercent >= 1.0:
		return maxDelay
	case usagePercent >= 0.95:
		return maxDelay / 2
	case usagePercent >= 0.9:
		return maxDelay / 4
	case usagePercent >= 0.85:
		return maxDelay / 10
	default:
		return maxDelay / 50
	}
}

// SetRateLimit configures a token-bucket rate limit for an actor's message
// acceptance rate.
func (m *Manager) SetRateLimit(actorID string, requestsPerInterval int, interval time.Duration) {
	m.rateLimitsMu.Lock()
	defer m.rateLimitsMu.Unlock()
	ratePerSecond := float64(requestsPerInterval) / interval.Seconds()
	m.rateLimiters[actorID] = rate.NewLimiter(rate.Limit(ratePerSecond), requestsPerInterval)
}

// AllowRate reports whether actorID may accept another message under its
// configured rate limit; actors without one configured are always allowed.
func (m *Manager) AllowRate(actorID string) bool {
	m.rateLimitsMu.RLock()
	limiter, ok := m.rateLimiters[actorID]
	m.rateLimitsMu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// actorCircuitBreaker is a small per-actor failure tracker distinct from
// internal/circuitbreaker.CircuitBreaker, which wraps external dependency
// edges (embedding/reranker/index) rather than in-process actor failures.
type actorCircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int32
	successCount    int32
	lastFailureTime time.Time
	state           string // "closed", "open", "half-open"
	config          CircuitBreakerConfig
}

// CircuitBreakerConfig parameterizes an actor's failure circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenRequests int
}

// ConfigureCircuitBreaker installs a failure circuit breaker for actorID.
func (m *Manager) ConfigureCircuitBreaker(actorID string, config CircuitBreakerConfig) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.circuitBreakers[actorID] = &actorCircuitBreaker{state: "closed", config: config}
}

// RecordFailure registers a failed message handling attempt for actorID.
func (m *Manager) RecordFailure(actorID string) {
	m.cbMu.RLock()
	cb, ok := m.circuitBreakers[actorID]
	m.cbMu.RUnlock()
	if !ok {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	atomic.AddInt32(&cb.failureCount, 1)
	cb.lastFailureTime = time.Now()
	if int(cb.failureCount) >= cb.config.FailureThreshold {
		cb.state = "open"
	}
}

// RecordSuccess registers a successful message handling attempt for actorID.
func (m *Manager) RecordSuccess(actorID string) {
	m.cbMu.RLock()
	cb, ok := m.circuitBreakers[actorID]
	m.cbMu.RUnlock()
	if !ok {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "half-open" {
		atomic.AddInt32(&cb.successCount, 1)
		if int(cb.successCount) >= cb.config.HalfOpenRequests {
			cb.state = "closed"
			atomic.StoreInt32(&cb.failureCount, 0)
			atomic.StoreInt32(&cb.successCount, 0)
		}
	}
}

// CircuitState returns the current circuit state for actorID, transitioning
// open -> half-open once the reset timeout has elapsed.
func (m *Manager) CircuitState(actorID string) string {
	m.cbMu.RLock()
	cb, ok := m.circuitBreakers[actorID]
	m.cbMu.RUnlock()
	if !ok {
		return "closed"
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "open" && time.Since(cb.lastFailureTime) > cb.config.ResetTimeout {
		cb.state = "half-open"
		atomic.StoreInt32(&cb.successCount, 0)
	}
	return cb.state
}
