package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/budget"
	"github.com/opencortex/memex/internal/metrics"
)

// supervisorTopic is the event-bus topic lifecycle/budget notifications
// publish to (spec.md §4.8: "Supervisors receive ActorStarted/ActorStopped/
// ActorCrashed/BudgetViolation system messages").
const supervisorTopic = "supervisor"

// Runtime supervises a set of actors: it starts their run loops, routes
// lifecycle messages, checks each message against the shared resource
// budget manager, and republishes lifecycle/budget events on the event
// bus. Each actor gets its own goroutine rather than a hand-rolled
// green-thread scheduler over a fixed worker pool — a goroutine already is
// Go's cooperative scheduling unit, so "a shared worker pool" here is the
// Go runtime's own scheduler, and suspension still only happens at message
// boundaries and explicit blocking calls inside a handler, which is what
// spec.md §4.8 actually requires.
type Runtime struct {
	logger *zap.Logger
	budget *budget.Manager
	bus    *EventBus

	mu     sync.RWMutex
	actors map[ID]*Actor
}

// NewRuntime creates a Runtime. budgetMgr and bus must not be nil.
func NewRuntime(budgetMgr *budget.Manager, bus *EventBus, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		logger: logger,
		budget: budgetMgr,
		bus:    bus,
		actors: make(map[ID]*Actor),
	}
}

// Spawn creates and starts a new actor running handler, returning a Handle
// callers use to send it messages.
func (r *Runtime) Spawn(ctx context.Context, name string, handler Handler) Handle {
	a := newActor(NewID(), name, handler, 5*time.Second)

	r.mu.Lock()
	r.actors[a.id] = a
	r.mu.Unlock()

	a.setState(StateRunning)
	r.bus.Publish(SystemEvent{Topic: supervisorTopic, ActorID: a.id, Kind: "ActorStarted", Detail: name})

	go r.runLoop(ctx, a)
	return a.Handle()
}

// Lookup returns the Handle for a previously spawned actor, if still known
// to this runtime.
func (r *Runtime) Lookup(id ID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	if !ok {
		return Handle{}, false
	}
	return a.Handle(), true
}

// State reports id's current lifecycle state, if known.
func (r *Runtime) State(id ID) (State, bool) {
	r.mu.RLock()
	a, ok := r.actors[id]
	r.mu.RUnlock()
	if !ok {
		return StateStopped, false
	}
	return a.State(), true
}

// Stop requests a graceful shutdown of id, returning once the actor
// acknowledges or its grace period elapses.
func (r *Runtime) Stop(ctx context.Context, id ID) error {
	r.mu.RLock()
	a, ok := r.actors[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("actor: unknown id %s", id)
	}
	_ = a.mbx.push(Message{Kind: KindStop})

	select {
	case <-a.doneCh:
		return nil
	case <-time.After(a.gracePeriod):
		return fmt.Errorf("actor: %s did not stop within grace period", id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) runLoop(parent context.Context, a *Actor) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer close(a.doneCh)
	defer func() {
		if rec := recover(); rec != nil {
			a.setState(StateCrashed)
			r.bus.Publish(SystemEvent{Topic: supervisorTopic, ActorID: a.id, Kind: "ActorCrashed", Detail: fmt.Sprintf("%v", rec)})
			r.logger.Error("actor: handler panicked", zap.String("actor", a.id.String()), zap.Any("panic", rec))
		}
	}()

	actorKey := a.id.String()

	for {
		if !a.mbx.wait(ctx) {
			a.mbx.close()
			r.drainRemaining(ctx, a, actorKey)
			a.setState(StateStopped)
			r.bus.Publish(SystemEvent{Topic: supervisorTopic, ActorID: a.id, Kind: "ActorStopped"})
			return
		}

		msg, ok := a.mbx.pop()
		if !ok {
			continue
		}
		metrics.ActorMailboxDepth.WithLabelValues(actorKey).Set(float64(a.mbx.depth()))

		if stop := r.handleOne(ctx, a, msg, actorKey); stop {
			a.mbx.close()
			r.drainRemaining(ctx, a, actorKey)
			a.setState(StateStopped)
			r.bus.Publish(SystemEvent{Topic: supervisorTopic, ActorID: a.id, Kind: "ActorStopped"})
			return
		}
	}
}

// drainRemaining lets already-queued messages finish processing before the
// run loop exits, per spec.md §4.8's "MUST complete current message or
// abort cleanly within a grace period".
func (r *Runtime) drainRemaining(ctx context.Context, a *Actor, actorKey string) {
	a.setState(StateStopping)
	for {
		msg, ok := a.mbx.pop()
		if !ok {
			return
		}
		r.handleOne(ctx, a, msg, actorKey)
	}
}

// handleOne processes a single message at a message boundary: it checks
// the resource budget, dispatches built-in lifecycle/system kinds inline,
// and defers everything else to the actor's Handler. It returns true if
// the actor should stop.
func (r *Runtime) handleOne(ctx context.Context, a *Actor, msg Message, actorKey string) bool {
	start := time.Now()
	if r.budget != nil {
		result, err := r.budget.CheckBudget(ctx, actorKey, 0, 0)
		if err == nil && !result.CanProceed {
			r.bus.Publish(SystemEvent{Topic: supervisorTopic, ActorID: a.id, Kind: "BudgetViolation", Detail: result.Reason})
		}
	}

	switch msg.Kind {
	case KindStop, KindShutdown:
		msg.reply(nil)
		return true
	case KindPause:
		a.setState(StatePaused)
		msg.reply(nil)
		return false
	case KindResume:
		a.setState(StateRunning)
		a.mu.Lock()
		deferred := a.deferred
		a.deferred = nil
		a.mu.Unlock()
		for _, dm := range deferred {
			_ = a.mbx.push(dm)
		}
		msg.reply(nil)
		return false
	case KindPing:
		msg.reply("pong")
		return false
	case KindRestart:
		a.setState(StateRestarting)
		a.setState(StateInitializing)
		a.setState(StateRunning)
		msg.reply(nil)
		return false
	}

	if a.State() == StatePaused && msg.Kind == KindCustom {
		// Paused actors still drain lifecycle messages above, but custom
		// work is held until Resume replays it, instead of being re-queued
		// (which would spin the run loop while paused).
		a.mu.Lock()
		a.deferred = append(a.deferred, msg)
		a.mu.Unlock()
		return false
	}

	if a.handler != nil {
		if err := a.handler(ctx, msg); err != nil {
			r.logger.Warn("actor: handler returned error",
				zap.String("actor", actorKey), zap.String("kind", string(msg.Kind)), zap.Error(err))
			msg.reply(err)
		} else {
			msg.reply(nil)
		}
	}

	if r.budget != nil {
		_ = r.budget.RecordUsage(actorKey, 0, time.Since(start), 0)
	}
	return false
}
