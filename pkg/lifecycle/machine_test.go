package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/lifecycle"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Contract(t *testing.T) {
	tests.SupervisedContractTest(t, func(t *testing.T) ports.Supervised {
		return lifecycle.New(domain.KindInstallation, "inst-1")
	})
}

func TestMachine_StartFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connector refused")
	m := lifecycle.New(domain.KindInstallation, "inst-1",
		lifecycle.WithStart(func(context.Context) error { return boom }),
	)

	st, err := m.Start(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.StateFailed, st)

	h := m.Health()
	assert.Equal(t, domain.StateFailed, h.State)
	assert.Equal(t, "connector refused", h.Error)

	t.Run("start from failed is invalid", func(t *testing.T) {
		_, err := m.Start(ctx)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("stop from failed recovers", func(t *testing.T) {
		st, err := m.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateStopped, st)
		assert.Empty(t, m.Health().Error)
	})
}

func TestMachine_StartPanicIsFailure(t *testing.T) {
	m := lifecycle.New(domain.KindWorkspace, "ws", lifecycle.WithStart(func(context.Context) error {
		panic("nil map")
	}))
	st, err := m.Start(context.Background())
	assert.Equal(t, domain.StateFailed, st)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestMachine_ConcurrentStart(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})
	calls := 0
	m := lifecycle.New(domain.KindInstallation, "inst-1", lifecycle.WithStart(func(context.Context) error {
		calls++
		close(entered)
		<-release
		return nil
	}))

	done := make(chan domain.LifecycleState)
	go func() {
		st, _ := m.Start(ctx)
		done <- st
	}()
	<-entered

	// A second Start observes Starting without running the start function.
	st, err := m.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStarting, st)

	// Health does not block on the in-flight start.
	assert.Equal(t, domain.StateStarting, m.Health().State)

	close(release)
	assert.Equal(t, domain.StateRunning, <-done)
	assert.Equal(t, 1, calls)
}

func TestMachine_StopWaitsForStart(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})
	m := lifecycle.New(domain.KindInstallation, "inst-1", lifecycle.WithStart(func(context.Context) error {
		close(entered)
		<-release
		return nil
	}))

	go func() { _, _ = m.Start(ctx) }()
	<-entered

	stopped := make(chan domain.LifecycleState)
	go func() {
		st, _ := m.Stop(ctx)
		stopped <- st
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before Start settled")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, domain.StateStopped, <-stopped)
}

func TestMachine_StopHonorsContextWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	m := lifecycle.New(domain.KindInstallation, "inst-1", lifecycle.WithStart(func(context.Context) error {
		close(entered)
		<-release
		return nil
	}))
	defer close(release)

	go func() { _, _ = m.Start(context.Background()) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	st, err := m.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StateStarting, st)
}

func TestMachine_StopFailure(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(domain.KindInstallation, "inst-1",
		lifecycle.WithStop(func(context.Context) error { return errors.New("flush failed") }),
	)
	_, err := m.Start(ctx)
	require.NoError(t, err)

	st, err := m.Stop(ctx)
	assert.Error(t, err)
	assert.Equal(t, domain.StateFailed, st)
}

func TestMachine_Fail(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(domain.KindInstallation, "inst-1")

	assert.False(t, m.Fail(errors.New("early")), "Fail before Start has no effect")

	_, _ = m.Start(ctx)
	assert.True(t, m.Fail(errors.New("process exited")))
	assert.Equal(t, domain.StateFailed, m.Health().State)
	assert.ErrorIs(t, m.Require(), domain.ErrNotRunning)
}

func TestMachine_Hooks(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen []string
	m := lifecycle.New(domain.KindWorkspace, "ws-1", lifecycle.WithHooks(domain.LifecycleHooks{
		OnTransition: func(_ context.Context, ev *domain.TransitionEvent) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "ws-1", ev.NodeID)
			assert.Equal(t, domain.KindWorkspace, ev.Kind)
			seen = append(seen, ev.From.String()+">"+ev.To.String())
		},
	}))

	_, _ = m.Start(ctx)
	_, _ = m.Stop(ctx)

	assert.Equal(t, []string{
		"created>starting",
		"starting>running",
		"running>stopping",
		"stopping>stopped",
	}, seen)
}

func TestMachine_SetMessage(t *testing.T) {
	m := lifecycle.New(domain.KindWorkspace, "ws-1")
	m.SetMessage("1 child failed")
	assert.Equal(t, "1 child failed", m.Health().Message)
	assert.Equal(t, domain.StateCreated, m.Health().State)
}
