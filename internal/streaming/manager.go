// Package streaming is the Executor agent's progress pub/sub (SPEC_FULL
// §4.9 C10): callers subscribe to a running workflow's ExecutionProgress
// events (step started/completed/failed, critique requested) as they
// happen. It keeps the teacher's Redis Streams transport shape
// (internal/streaming/manager.go) so progress survives a process restart
// and can be replayed, but drops the Postgres event-log persistence and
// browser-screenshot sanitization that had no equivalent in this domain
// (DESIGN.md).
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ExecutionProgress is one event in a workflow's execution timeline.
type ExecutionProgress struct {
	WorkflowID string                 `json:"workflow_id"`
	Type       string                 `json:"type"` // e.g. "step_started", "step_completed", "step_failed", "critique"
	AgentID    string                 `json:"agent_id,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
	StreamID   string                 `json:"stream_id,omitempty"`
}

// Marshal returns JSON for an event, for SSE/log sinks.
func (e ExecutionProgress) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

type subscription struct {
	cancel context.CancelFunc
}

// Manager provides Redis-Streams-based pub/sub over a workflow's execution
// progress, falling back to a pure in-memory fan-out when no Redis client
// is configured.
//
// Callers must not close subscription channels themselves; the reader
// goroutine owns the channel lifetime — always call Unsubscribe.
type Manager struct {
	mu          sync.RWMutex
	redis       *redis.Client
	capacity    int
	subscribers map[string]map[chan ExecutionProgress]*subscription
	logger      *zap.Logger
	shutdownCh  chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates a progress manager. redisClient may be nil, in which
// case progress only fans out to in-process subscribers.
func NewManager(redisClient *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		redis:       redisClient,
		capacity:    1024,
		subscribers: make(map[string]map[chan ExecutionProgress]*subscription),
		logger:      logger,
		shutdownCh:  make(chan struct{}),
	}
}

func (m *Manager) streamKey(workflowID string) string { return fmt.Sprintf("memex:workflow:events:%s", workflowID) }
func (m *Manager) seqKey(workflowID string) string    { return fmt.Sprintf("memex:workflow:events:%s:seq", workflowID) }

// Subscribe adds a subscriber channel for workflowID; caller must drain and
// call Unsubscribe.
func (m *Manager) Subscribe(workflowID string, buffer int) chan ExecutionProgress {
	return m.SubscribeFrom(workflowID, buffer, "0-0")
}

// SubscribeFrom adds a subscriber starting from a specific Redis stream id.
func (m *Manager) SubscribeFrom(workflowID string, buffer int, startID string) chan ExecutionProgress {
	ch := make(chan ExecutionProgress, buffer)
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan ExecutionProgress]*subscription)
		m.subscribers[workflowID] = subs
	}
	subs[ch] = &subscription{cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.streamReader(ctx, workflowID, ch, startID)

	return ch
}

func (m *Manager) streamReader(ctx context.Context, workflowID string, ch chan ExecutionProgress, startID string) {
	defer m.wg.Done()
	defer close(ch)

	if m.redis == nil {
		select {
		case <-ctx.Done():
		case <-m.shutdownCh:
		}
		return
	}

	streamKey := m.streamKey(workflowID)
	lastID := startID
	retryDelay := time.Second
	const maxRetryDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		default:
		}

		result, err := m.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   5 * time.Second,
		}).Result()

		if err == redis.Nil {
			retryDelay = time.Second
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("failed to read progress stream",
				zap.String("workflow_id", workflowID), zap.Duration("retry_in", retryDelay), zap.Error(err))
			select {
			case <-time.After(retryDelay):
				if retryDelay *= 2; retryDelay > maxRetryDelay {
					retryDelay = maxRetryDelay
				}
			case <-ctx.Done():
				return
			case <-m.shutdownCh:
				return
			}
			continue
		}

		retryDelay = time.Second
		for _, stream := range result {
			for _, message := range stream.Messages {
				lastID = message.ID
				event := decodeEvent(workflowID, message)
				select {
				case ch <- event:
				default:
					m.logger.Warn("dropped progress event, subscriber slow",
						zap.String("workflow_id", workflowID), zap.String("type", event.Type))
				}
			}
		}
	}
}

func decodeEvent(workflowID string, message redis.XMessage) ExecutionProgress {
	event := ExecutionProgress{WorkflowID: workflowID, StreamID: message.ID}
	if v, ok := message.Values["type"].(string); ok {
		event.Type = v
	}
	if v, ok := message.Values["agent_id"].(string); ok {
		event.AgentID = v
	}
	if v, ok := message.Values["message"].(string); ok {
		event.Message = v
	}
	if v, ok := message.Values["seq"].(string); ok {
		if seq, err := strconv.ParseUint(v, 10, 64); err == nil {
			event.Seq = seq
		}
	}
	if v, ok := message.Values["ts_nano"].(string); ok {
		if nano, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.Timestamp = time.Unix(0, nano)
		}
	}
	if v, ok := message.Values["payload"].(string); ok && v != "" {
		var p map[string]interface{}
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			event.Payload = p
		}
	}
	return event
}

// Unsubscribe removes a subscriber channel and cancels its reader goroutine;
// the channel is closed by the reader after cancellation.
func (m *Manager) Unsubscribe(workflowID string, ch chan ExecutionProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[workflowID]; ok {
		if sub, exists := subs[ch]; exists {
			sub.cancel()
			delete(subs, ch)
			if len(subs) == 0 {
				delete(m.subscribers, workflowID)
			}
		}
	}
}

// Publish appends evt to the workflow's progress stream and fans it out to
// local subscribers when running without Redis.
func (m *Manager) Publish(workflowID string, evt ExecutionProgress) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if m.redis != nil {
		ctx := context.Background()
		seq, err := m.redis.Incr(ctx, m.seqKey(workflowID)).Result()
		if err != nil {
			m.logger.Warn("failed to increment progress sequence", zap.String("workflow_id", workflowID), zap.Error(err))
			seq = 0
		}
		evt.Seq = uint64(seq)

		var payloadJSON string
		if evt.Payload != nil {
			if b, err := json.Marshal(evt.Payload); err == nil {
				payloadJSON = string(b)
			}
		}

		streamKey := m.streamKey(workflowID)
		streamID, err := m.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			MaxLen: int64(m.capacity),
			Approx: true,
			Values: map[string]interface{}{
				"workflow_id": evt.WorkflowID,
				"type":        evt.Type,
				"agent_id":    evt.AgentID,
				"message":     evt.Message,
				"payload":     payloadJSON,
				"ts_nano":     strconv.FormatInt(evt.Timestamp.UnixNano(), 10),
				"seq":         strconv.FormatUint(evt.Seq, 10),
			},
		}).Result()
		if err != nil {
			m.logger.Warn("failed to publish progress event", zap.String("workflow_id", workflowID), zap.Error(err))
		} else {
			evt.StreamID = streamID
		}
		m.redis.Expire(ctx, streamKey, 24*time.Hour)
		m.redis.Expire(ctx, m.seqKey(workflowID), 48*time.Hour)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers[workflowID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns events with Seq greater than since, read from the
// Redis stream (nil if running without Redis).
func (m *Manager) ReplaySince(workflowID string, since uint64) []ExecutionProgress {
	if m.redis == nil {
		return nil
	}
	ctx := context.Background()
	messages, err := m.redis.XRange(ctx, m.streamKey(workflowID), "-", "+").Result()
	if err != nil {
		m.logger.Warn("failed to replay progress stream", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil
	}

	var events []ExecutionProgress
	for _, msg := range messages {
		event := decodeEvent(workflowID, msg)
		if event.Seq <= since {
			continue
		}
		events = append(events, event)
	}
	return events
}

// Shutdown cancels all subscriptions and waits for reader goroutines to
// exit, up to ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.shutdownCh)

	m.mu.Lock()
	for workflowID, subs := range m.subscribers {
		for ch, sub := range subs {
			sub.cancel()
			delete(subs, ch)
		}
		delete(m.subscribers, workflowID)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
