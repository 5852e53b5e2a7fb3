package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewManager(client, zap.NewNop())
}

func TestPublishAndSubscribe(t *testing.T) {
	m := newTestManager(t)
	workflowID := "wf-1"

	ch := m.Subscribe(workflowID, 10)
	defer m.Unsubscribe(workflowID, ch)

	m.Publish(workflowID, ExecutionProgress{WorkflowID: workflowID, Type: "step_started", Message: "planning"})
	m.Publish(workflowID, ExecutionProgress{WorkflowID: workflowID, Type: "step_completed", Message: "planning done"})

	select {
	case e := <-ch:
		assert.Equal(t, "step_started", e.Type)
		assert.Equal(t, "planning", e.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first event")
	}

	select {
	case e := <-ch:
		assert.Equal(t, "step_completed", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second event")
	}
}

func TestReplaySince(t *testing.T) {
	m := newTestManager(t)
	workflowID := "wf-2"

	for i := 0; i < 5; i++ {
		m.Publish(workflowID, ExecutionProgress{WorkflowID: workflowID, Type: "step_started"})
	}

	events := m.ReplaySince(workflowID, 0)
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	partial := m.ReplaySince(workflowID, 3)
	require.Len(t, partial, 2)
	for _, e := range partial {
		assert.Greater(t, e.Seq, uint64(3))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := newTestManager(t)
	workflowID := "wf-3"

	ch := m.Subscribe(workflowID, 10)
	m.Unsubscribe(workflowID, ch)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after Unsubscribe")
}

func TestInMemoryFanoutWithoutRedis(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	workflowID := "wf-4"

	ch := m.Subscribe(workflowID, 1)
	defer m.Unsubscribe(workflowID, ch)

	// no wait is needed before publishing: the channel registration is
	// synchronous under Subscribe's lock.
	m.Publish(workflowID, ExecutionProgress{WorkflowID: workflowID, Type: "step_started"})

	select {
	case e := <-ch:
		assert.Equal(t, "step_started", e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected local fan-out event")
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	m := newTestManager(t)
	ch := m.Subscribe("wf-5", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, open := <-ch
	assert.False(t, open)
}
