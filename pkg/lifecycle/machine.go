// Package lifecycle implements the Supervised contract as a small state machine
// that concrete nodes embed.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
)

// Func is a transition body. It runs without the machine lock held.
type Func func(ctx context.Context) error

// Machine tracks the lifecycle of one node.
//
// Start is valid from Created and Stopped. A concurrent Start observes Starting and
// returns immediately. Stop waits for an in-flight Start to settle. Failed is left
// only through Stop.
type Machine struct {
	kind domain.NodeKind
	id   string

	onStart Func
	onStop  Func

	mu      sync.Mutex
	state   domain.LifecycleState
	since   time.Time
	message string
	err     error
	settled chan struct{} // closed when the current Starting phase ends

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithStart sets the function run on Created/Stopped -> Starting.
func WithStart(fn Func) Option {
	return func(m *Machine) { m.onStart = fn }
}

// WithStop sets the function run on Running/Failed -> Stopping.
func WithStop(fn Func) Option {
	return func(m *Machine) { m.onStop = fn }
}

// WithHooks registers transition callbacks. They run synchronously under the
// machine lock and must not call back into the machine.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(m *Machine) { m.hooks = h }
}

// WithLogger configures a logger for the Machine.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine in the Created state.
func New(kind domain.NodeKind, id string, opts ...Option) *Machine {
	m := &Machine{
		kind:   kind,
		id:     id,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.now()
	m.logger = m.logger.With("component", "lifecycle", "kind", string(kind), "node_id", id)
	return m
}

// Health returns the current snapshot.
func (m *Machine) Health() domain.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := domain.Health{State: m.state, Message: m.message, Since: m.since}
	if m.err != nil {
		h.Error = m.err.Error()
	}
	return h
}

// State returns the current state.
func (m *Machine) State() domain.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs the start function and moves to Running, or to Failed if it errors.
func (m *Machine) Start(ctx context.Context) (domain.LifecycleState, error) {
	m.mu.Lock()
	switch m.state {
	case domain.StateRunning, domain.StateStarting:
		st := m.state
		m.mu.Unlock()
		return st, nil
	case domain.StateFailed, domain.StateStopping:
		st := m.state
		m.mu.Unlock()
		return st, fmt.Errorf("%w: start from %s", domain.ErrInvalidTransition, st)
	}
	from := m.state
	m.settled = make(chan struct{})
	m.setLocked(ctx, from, domain.StateStarting, nil)
	m.mu.Unlock()

	err := m.run(ctx, m.onStart)

	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.settled)
	m.settled = nil
	// Fail may have run while the start function was in flight.
	if m.state != domain.StateStarting {
		return m.state, err
	}
	if err != nil {
		m.setLocked(ctx, domain.StateStarting, domain.StateFailed, err)
		m.logger.Warn("Start failed", "err", err)
		return domain.StateFailed, err
	}
	m.setLocked(ctx, domain.StateStarting, domain.StateRunning, nil)
	return domain.StateRunning, nil
}

// Stop runs the stop function and moves to Stopped, or to Failed if it errors.
func (m *Machine) Stop(ctx context.Context) (domain.LifecycleState, error) {
	m.mu.Lock()
	for m.state == domain.StateStarting {
		settled := m.settled
		m.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return domain.StateStarting, ctx.Err()
		}
		m.mu.Lock()
	}

	switch m.state {
	case domain.StateCreated, domain.StateStopped, domain.StateStopping:
		st := m.state
		m.mu.Unlock()
		return st, nil
	}
	from := m.state
	m.setLocked(ctx, from, domain.StateStopping, nil)
	m.mu.Unlock()

	err := m.run(ctx, m.onStop)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.setLocked(ctx, domain.StateStopping, domain.StateFailed, err)
		m.logger.Warn("Stop failed", "err", err)
		return domain.StateFailed, err
	}
	m.setLocked(ctx, domain.StateStopping, domain.StateStopped, nil)
	return domain.StateStopped, nil
}

// Fail reports a runtime failure, such as a hosted process exiting. It only has an
// effect on Running or Starting nodes and reports whether the state changed.
func (m *Machine) Fail(err error) bool {
	if err == nil {
		err = domain.ErrInternal
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateRunning && m.state != domain.StateStarting {
		return false
	}
	m.setLocked(context.Background(), m.state, domain.StateFailed, err)
	m.logger.Error("Node failed", "err", err)
	return true
}

// SetMessage attaches a human readable note to the health snapshot without
// changing state. An empty message clears it.
func (m *Machine) SetMessage(msg string) {
	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()
}

// Require returns domain.ErrNotRunning unless the node is Running.
func (m *Machine) Require() error {
	if st := m.State(); st != domain.StateRunning {
		return fmt.Errorf("%w: %s %q is %s", domain.ErrNotRunning, m.kind, m.id, st)
	}
	return nil
}

func (m *Machine) run(ctx context.Context, fn Func) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrInternal, r)
		}
	}()
	return fn(ctx)
}

// setLocked must be called with m.mu held.
func (m *Machine) setLocked(ctx context.Context, from, to domain.LifecycleState, err error) {
	now := m.now()
	elapsed := now.Sub(m.since)
	m.state = to
	m.since = now
	switch to {
	case domain.StateFailed:
		m.err = err
	case domain.StateStarting, domain.StateStopped:
		m.err = nil
	}

	m.logger.Debug("Transition", "from", from.String(), "to", to.String())
	if m.hooks.OnTransition != nil {
		ev := &domain.TransitionEvent{
			EventBase: domain.EventBase{
				Timestamp: now,
				Type:      domain.EventTransition,
				NodeID:    m.id,
				Kind:      m.kind,
			},
			From:     from,
			To:       to,
			Duration: elapsed,
		}
		if err != nil {
			ev.Err = err.Error()
		}
		m.hooks.OnTransition(ctx, ev)
	}
}
