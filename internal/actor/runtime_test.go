package actor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencortex/memex/internal/budget"
)

func newTestRuntime() *Runtime {
	bm := budget.NewManager(budget.ResourceBudget{MailboxCapacity: 100}, nil)
	return NewRuntime(bm, NewEventBus(), nil)
}

func TestSpawnAndPingRoundTrips(t *testing.T) {
	rt := newTestRuntime()
	ctx := context.Background()
	h := rt.Spawn(ctx, "echo", func(ctx context.Context, msg Message) error { return nil })

	reply, err := h.Ask(ctx, Message{Kind: KindPing})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestCustomMessageReachesHandler(t *testing.T) {
	rt := newTestRuntime()
	ctx := context.Background()
	var received atomic.Value
	h := rt.Spawn(ctx, "recorder", func(ctx context.Context, msg Message) error {
		received.Store(msg.Payload)
		return nil
	})

	_, err := h.Ask(ctx, Message{Kind: KindCustom, TypeTag: "greet", Payload: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", received.Load())
}

func TestHandlerErrorIsReturnedToAsk(t *testing.T) {
	rt := newTestRuntime()
	ctx := context.Background()
	wantErr := errors.New("boom")
	h := rt.Spawn(ctx, "failing", func(ctx context.Context, msg Message) error { return wantErr })

	reply, err := h.Ask(ctx, Message{Kind: KindCustom})
	require.NoError(t, err)
	assert.Equal(t, wantErr, reply)
}

func TestStopDrainsAndTransitionsToStopped(t *testing.T) {
	rt := newTestRuntime()
	ctx := context.Background()
	var processed atomic.Int32
	h := rt.Spawn(ctx, "counter", func(ctx context.Context, msg Message) error {
		processed.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Send(Message{Kind: KindCustom}))
	}
	require.NoError(t, rt.Stop(ctx, h.ID()))

	state, ok := rt.State(h.ID())
	require.True(t, ok)
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, int32(5), processed.Load())
}

func TestPauseDefersCustomMessagesUntilResume(t *testing.T) {
	rt := newTestRuntime()
	ctx := context.Background()
	var processed atomic.Int32
	h := rt.Spawn(ctx, "pauser", func(ctx context.Context, msg Message) error {
		processed.Add(1)
		return nil
	})

	_, err := h.Ask(ctx, Message{Kind: KindPause})
	require.NoError(t, err)
	require.NoError(t, h.Send(Message{Kind: KindCustom}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), processed.Load(), "paused actor must not process custom messages yet")

	_, err = h.Ask(ctx, Message{Kind: KindResume})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventBusPublishesActorLifecycleEvents(t *testing.T) {
	rt := newTestRuntime()
	sub := rt.bus.Subscribe(supervisorTopic, 8)
	defer rt.bus.Unsubscribe(supervisorTopic, sub)

	ctx := context.Background()
	h := rt.Spawn(ctx, "watched", func(ctx context.Context, msg Message) error { return nil })
	require.NoError(t, rt.Stop(ctx, h.ID()))

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatal("timed out waiting for lifecycle events")
		}
	}
	assert.Contains(t, kinds, "ActorStarted")
	assert.Contains(t, kinds, "ActorStopped")
}

func TestEventBusIsBestEffortPerTopic(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("topicA", 1)
	bus.Publish(SystemEvent{Topic: "topicA", Kind: "first"})
	bus.Publish(SystemEvent{Topic: "topicA", Kind: "second"}) // dropped, channel full
	bus.Publish(SystemEvent{Topic: "topicB", Kind: "other"})  // different topic, unseen here

	ev := <-ch
	assert.Equal(t, "first", ev.Kind)
}
