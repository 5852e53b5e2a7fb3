// Package actor implements the Actor Runtime (C9): the concurrency and
// isolation substrate agents (C10) and background services run on. Each
// actor owns its state and processes messages sequentially off an
// unbounded mailbox; a runtime supervises lifecycle transitions and
// resource budgets (internal/budget), and a topic-keyed event bus (grounded
// on internal/streaming's Redis-or-in-memory subscriber-map/channel
// fan-out) reports lifecycle and budget events to anyone listening.
package actor

import (
	"github.com/opencortex/memex/internal/record"
)

// ID identifies one actor. Reused as record.ID (a uuid.UUID) for the same
// reason record.ID itself does: a random, collision-resistant 128-bit value
// with a ready text/binary encoding.
type ID = record.ID

// NewID returns a fresh random actor id.
func NewID() ID { return record.NewID() }

// State is a position in the actor lifecycle state machine (spec.md §4.8):
// Initializing -> Running <-> Paused -> Stopping -> Stopped, with Crashed
// terminal and Restarting transient.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateCrashed
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the lifecycle edges the state machine allows.
var validTransitions = map[State]map[State]bool{
	StateInitializing: {StateRunning: true, StateCrashed: true},
	StateRunning:       {StatePaused: true, StateStopping: true, StateCrashed: true},
	StatePaused:        {StateRunning: true, StateStopping: true, StateCrashed: true},
	StateStopping:      {StateStopped: true, StateCrashed: true},
	StateStopped:       {StateRestarting: true},
	StateCrashed:       {StateRestarting: true},
	StateRestarting:    {StateInitializing: true, StateCrashed: true},
}

func (s State) canTransitionTo(next State) bool {
	return validTransitions[s][next]
}

// Kind tags a Message as lifecycle, system, agent-specific, or opaque
// custom payload (spec.md §4.8's "tagged variant set").
type Kind string

const (
	KindStart         Kind = "start"
	KindStop          Kind = "stop"
	KindRestart       Kind = "restart"
	KindPing          Kind = "ping"
	KindShutdown      Kind = "shutdown"
	KindUpdateBudget  Kind = "update_budget"
	KindReportHealth  Kind = "report_health"
	KindPause         Kind = "pause"
	KindResume        Kind = "resume"
	KindCustom        Kind = "custom"
)

// Message is one mailbox entry. TypeTag and Payload are only meaningful
// when Kind is KindCustom (or an agent-specific custom kind layered on
// top, per §4.9); ReplyTo, if non-nil, receives exactly one value once the
// handler finishes processing this message.
type Message struct {
	Kind    Kind
	TypeTag string
	Payload any
	ReplyTo chan any
}

// reply sends v on ReplyTo if the sender asked for one, without blocking
// the actor if nobody is listening anymore.
func (m Message) reply(v any) {
	if m.ReplyTo == nil {
		return
	}
	select {
	case m.ReplyTo <- v:
	default:
	}
}
