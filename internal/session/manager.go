package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/circuitbreaker"
	"github.com/opencortex/memex/internal/metrics"
)

// Manager keeps correlation sessions in Redis with a local LRU-ish cache on
// top, the same two-tier shape the teacher used for auth sessions.
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxSessions int
}

// NewManager creates a new session manager backed by the given Redis address.
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         2 * time.Hour,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: 10000,
	}, nil
}

// CreateSession starts a new correlation session for the given project.
func (m *Manager) CreateSession(ctx context.Context, project string) (*Session, error) {
	return m.CreateSessionWithID(ctx, uuid.New().String(), project)
}

// CreateSessionWithID creates a session with a caller-chosen id, returning the
// existing one if it is already present (idempotent re-entry into an ongoing
// conversation).
func (m *Manager) CreateSessionWithID(ctx context.Context, sessionID, project string) (*Session, error) {
	if existing, err := m.GetSession(ctx, sessionID); err == nil {
		return existing, nil
	}

	sess := &Session{
		ID:        sessionID,
		Project:   project,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(m.ttl),
		Context:   make(map[string]string),
	}

	if err := m.saveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[sessionID] = sess
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("created session", zap.String("session_id", sessionID), zap.String("project", project))
	metrics.SessionsCreated.Inc()
	return sess, nil
}

// GetSession retrieves a session by id.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	if sess, ok := m.localCache[sessionID]; ok {
		m.mu.RUnlock()
		metrics.SessionCacheHits.Inc()
		if sess.IsExpired() {
			_ = m.DeleteSession(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[sessionID] = time.Now()
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.RUnlock()
	metrics.SessionCacheMisses.Inc()

	key := m.sessionKey(sessionID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.IsExpired() {
		_ = m.DeleteSession(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	m.localCache[sessionID] = &sess
	m.cacheAccess[sessionID] = time.Now()
	m.cleanupLocalCache()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &sess, nil
}

// UpdateSession persists a modified session.
func (m *Manager) UpdateSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	sess.UpdatedAt = time.Now()
	if err := m.saveSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	m.mu.Lock()
	m.localCache[sess.ID] = sess
	m.mu.Unlock()
	return nil
}

// DeleteSession removes a session from Redis and the local cache.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	key := m.sessionKey(sessionID)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, sessionID)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return nil
}

// ExtendSession pushes a session's expiry out by duration.
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, duration time.Duration) error {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.ExpiresAt = time.Now().Add(duration)
	return m.UpdateSession(ctx, sess)
}

// AppendTurn records a remember/recall turn against a session.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, t Turn) error {
	sess, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.AppendTurn(t)
	return m.UpdateSession(ctx, sess)
}

// CleanupExpired scans and removes expired sessions from Redis.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := m.client.Keys(ctx, "session:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	cleaned := 0
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.IsExpired() {
			if err := m.client.Del(ctx, key).Err(); err == nil {
				cleaned++
			}
		}
	}

	m.logger.Info("cleaned up expired sessions", zap.Int("count", cleaned))
	return cleaned, nil
}

func (m *Manager) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (m *Manager) saveSession(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	key := m.sessionKey(sess.ID)
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, key, data, ttl).Err()
}

// cleanupLocalCache evicts the least-recently-accessed half of the local
// cache once it exceeds maxSessions.
func (m *Manager) cleanupLocalCache() {
	if len(m.localCache) <= m.maxSessions {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		accessTime := m.cacheAccess[id]
		entries = append(entries, accessEntry{id: id, time: accessTime})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxSessions / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}

// Close releases the underlying Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper exposes the underlying circuit-breaker-wrapped client for
// health checks.
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
