package domain

import (
	"fmt"
	"time"
)

// LifecycleState is the position of a supervised node in its lifecycle.
type LifecycleState int

const (
	StateCreated LifecycleState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateCreated:  "created",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

// String returns the lowercase name of the state.
func (s LifecycleState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Terminal reports whether the node is at rest and may be destroyed.
func (s LifecycleState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s LifecycleState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid lifecycle state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LifecycleState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = LifecycleState(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown lifecycle state %q", ErrInvalidArgs, string(text))
}

// Health is a point-in-time view of a supervised node.
type Health struct {
	State   LifecycleState `json:"state"`
	Message string         `json:"message,omitempty"`
	// Error holds the error that moved the node to Failed, if any.
	Error string    `json:"error,omitempty"`
	Since time.Time `json:"since"`
}

// Running is a shortcut for State == StateRunning.
func (h Health) Running() bool { return h.State == StateRunning }
