package actor

import (
	"context"
	"sync"
	"time"
)

// Handler is the business logic an actor runs per message. ctx is
// cancelled at the next suspension point once a shutdown is requested;
// handlers should observe it on any blocking call (spec.md §4.8's
// cooperative-cancellation requirement).
type Handler func(ctx context.Context, msg Message) error

// Handle is a send-only capability to an actor's mailbox. Holding a Handle
// does not grant access to the actor's internal state.
type Handle struct {
	id  ID
	mbx *mailbox
}

// ID reports the target actor's id.
func (h Handle) ID() ID { return h.id }

// Send enqueues msg without blocking. Returns ErrMailboxClosed if the actor
// has begun stopping.
func (h Handle) Send(msg Message) error { return h.mbx.push(msg) }

// Ask sends msg with a fresh reply channel and blocks for a response or
// ctx's cancellation, whichever comes first.
func (h Handle) Ask(ctx context.Context, msg Message) (any, error) {
	reply := make(chan any, 1)
	msg.ReplyTo = reply
	if err := h.mbx.push(msg); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Actor is one actor's full state: identity, mailbox, lifecycle, and the
// handler its owner registered for custom/agent-specific messages.
type Actor struct {
	id      ID
	name    string
	mbx     *mailbox
	handler Handler

	mu    sync.RWMutex
	state State

	deferred    []Message // custom messages held while Paused, replayed on Resume
	gracePeriod time.Duration

	doneCh chan struct{}
}

func newActor(id ID, name string, handler Handler, gracePeriod time.Duration) *Actor {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	return &Actor{
		id:          id,
		name:        name,
		mbx:         newMailbox(),
		handler:     handler,
		state:       StateInitializing,
		gracePeriod: gracePeriod,
		doneCh:      make(chan struct{}),
	}
}

// Handle returns the send-only capability for this actor.
func (a *Actor) Handle() Handle { return Handle{id: a.id, mbx: a.mbx} }

// State reports the actor's current lifecycle state.
func (a *Actor) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Actor) setState(next State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.canTransitionTo(next) {
		return false
	}
	a.state = next
	return true
}

// MailboxDepth reports how many messages are currently queued.
func (a *Actor) MailboxDepth() int { return a.mbx.depth() }
