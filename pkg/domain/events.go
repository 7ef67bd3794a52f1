package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTransition EventType = "transition"
	EventDispatch   EventType = "dispatch"
	EventRestart    EventType = "restart"
	EventSync       EventType = "sync"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	NodeID    string    `json:"node_id"`
	Kind      NodeKind  `json:"kind,omitempty"`
}

// TransitionEvent is emitted whenever a node changes lifecycle state.
type TransitionEvent struct {
	EventBase
	From     LifecycleState `json:"from"`
	To       LifecycleState `json:"to"`
	Duration time.Duration  `json:"duration,omitempty"` // time spent in From
	Err      string         `json:"err,omitempty"`
}

// DispatchEvent is emitted after a Dispatcher answered a request.
type DispatchEvent struct {
	EventBase
	Method   string        `json:"method"`
	ErrKind  ErrorKind     `json:"err_kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RestartEvent is emitted when a supervisor restarts or escalates a failed child.
type RestartEvent struct {
	EventBase
	Attempt   int  `json:"attempt"`
	Escalated bool `json:"escalated,omitempty"`
}

// SyncEvent is emitted when a sync run reaches a final status.
type SyncEvent struct {
	EventBase
	SyncID string     `json:"sync_id"`
	Status SyncStatus `json:"status"`
	Loaded int        `json:"loaded"`
}

// LifecycleHooks defines callbacks for federation observability.
// Every field is optional.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
	OnDispatch   func(context.Context, *DispatchEvent)
	OnRestart    func(context.Context, *RestartEvent)
	OnSync       func(context.Context, *SyncEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTransition: chain(h.OnTransition, other.OnTransition),
		OnDispatch:   chain(h.OnDispatch, other.OnDispatch),
		OnRestart:    chain(h.OnRestart, other.OnRestart),
		OnSync:       chain(h.OnSync, other.OnSync),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
