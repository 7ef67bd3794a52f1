package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name string `json:"name"`
}

func newTestDispatcher() *dispatch.Dispatcher {
	d := dispatch.New(domain.KindInstallation, "inst-1")
	dispatch.Method(d, "greet", func(_ context.Context, a greetArgs) (string, error) {
		if a.Name == "" {
			return "", errors.New("name required")
		}
		return "hello " + a.Name, nil
	})
	dispatch.NoArgs(d, "empty", func(context.Context) (any, error) { return nil, nil })
	dispatch.NoArgs(d, "boom", func(context.Context) (any, error) { panic("nil pointer") })
	dispatch.NoArgs(d, "busy", func(context.Context) (any, error) {
		return nil, domain.ErrNotRunning
	})
	return d
}

func TestDispatcher_Handle(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher()

	t.Run("success", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{ID: 7, Method: "greet", Args: json.RawMessage(`{"name":"ada"}`)})
		require.Nil(t, resp.Error)
		assert.Equal(t, uint64(7), resp.ID)
		assert.JSONEq(t, `"hello ada"`, string(resp.Result))
	})

	t.Run("empty result is success", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{ID: 1, Method: "empty"})
		assert.Nil(t, resp.Error)
		assert.NoError(t, resp.Err())
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{ID: 2, Method: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.ErrKindUnknownMethod, resp.Error.Kind)
		assert.Equal(t, "nope", resp.Error.Context["method"])
	})

	t.Run("invalid args", func(t *testing.T) {
		for _, raw := range []string{`{"nom":"ada"}`, `[1,2]`, `{"name":"a"} {}`} {
			resp := d.Handle(ctx, domain.Request{Method: "greet", Args: json.RawMessage(raw)})
			require.NotNil(t, resp.Error, raw)
			assert.Equal(t, domain.ErrKindInvalidArgs, resp.Error.Kind, raw)
		}
	})

	t.Run("handler error", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{Method: "greet", Args: json.RawMessage(`{}`)})
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.ErrKindInternal, resp.Error.Kind)
		assert.Contains(t, resp.Error.Message, "name required")
	})

	t.Run("sentinel kinds survive", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{Method: "busy"})
		assert.ErrorIs(t, resp.Err(), domain.ErrNotRunning)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		resp := d.Handle(ctx, domain.Request{ID: 3, Method: "boom"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, domain.ErrKindInternal, resp.Error.Kind)
		assert.Equal(t, uint64(3), resp.ID)
	})
}

func TestDispatcher_RegisterTwicePanics(t *testing.T) {
	d := dispatch.New(domain.KindInstallation, "x")
	dispatch.NoArgs(d, "health", func(context.Context) (int, error) { return 1, nil })
	assert.Panics(t, func() {
		dispatch.NoArgs(d, "health", func(context.Context) (int, error) { return 2, nil })
	})
	assert.Equal(t, []string{"health"}, d.Methods())
}

func TestDispatcher_Routing(t *testing.T) {
	ctx := context.Background()
	child := newTestDispatcher()
	parent := dispatch.New(domain.KindWorkspace, "ws", dispatch.WithRoute(func(id string) (dispatch.Forwarder, bool) {
		if id == "inst-1" {
			return child, true
		}
		return nil, false
	}))

	resp := parent.Handle(ctx, domain.Request{ID: 5, Path: []string{"inst-1"}, Method: "greet", Args: json.RawMessage(`{"name":"grace"}`)})
	require.Nil(t, resp.Error)
	assert.Equal(t, uint64(5), resp.ID)
	assert.JSONEq(t, `"hello grace"`, string(resp.Result))

	resp = parent.Handle(ctx, domain.Request{Path: []string{"inst-9"}, Method: "greet"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.ErrKindUnknownID, resp.Error.Kind)

	resp = child.Handle(ctx, domain.Request{Path: []string{"deeper"}, Method: "greet"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.ErrKindUnknownID, resp.Error.Kind, "leaves have no children")
}

func TestDispatcher_DispatchHook(t *testing.T) {
	var mu sync.Mutex
	var events []*domain.DispatchEvent
	d := dispatch.New(domain.KindInstallation, "inst-1", dispatch.WithHooks(domain.LifecycleHooks{
		OnDispatch: func(_ context.Context, ev *domain.DispatchEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	}))
	_ = d.Handle(context.Background(), domain.Request{Method: "missing"})

	require.Len(t, events, 1)
	assert.Equal(t, "missing", events[0].Method)
	assert.Equal(t, domain.ErrKindUnknownMethod, events[0].ErrKind)
}

func TestServeAndClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, conn := memory.Pipe()
	d := newTestDispatcher()
	served := make(chan error, 1)
	go func() { served <- d.Serve(ctx, conn) }()

	client := dispatch.NewClient(tr)

	var out string
	require.NoError(t, client.Call(ctx, "greet", greetArgs{Name: "linus"}, &out))
	assert.Equal(t, "hello linus", out)

	t.Run("typed errors on the caller side", func(t *testing.T) {
		err := client.Call(ctx, "nope", nil, nil)
		assert.ErrorIs(t, err, domain.ErrUnknownMethod)

		err = client.Call(ctx, "greet", map[string]int{"age": 3}, &out)
		assert.ErrorIs(t, err, domain.ErrInvalidArgs)
	})

	t.Run("connection survives failures", func(t *testing.T) {
		err := client.Call(ctx, "boom", nil, nil)
		assert.ErrorIs(t, err, domain.ErrInternal)
		require.NoError(t, client.Call(ctx, "greet", greetArgs{Name: "again"}, &out))
		assert.Equal(t, "hello again", out)
	})

	require.NoError(t, client.Close())
	select {
	case err := <-served:
		assert.NoError(t, err, "peer disconnect ends Serve cleanly")
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}

	err := client.Call(ctx, "greet", greetArgs{Name: "x"}, &out)
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
}

func TestClient_Sub(t *testing.T) {
	ctx := context.Background()
	child := newTestDispatcher()
	parent := dispatch.New(domain.KindWorkspace, "ws", dispatch.WithRoute(func(id string) (dispatch.Forwarder, bool) {
		return child, id == "inst-1"
	}))

	tr, conn := memory.Pipe()
	defer tr.Close()
	go func() { _ = parent.Serve(ctx, conn) }()

	sub := dispatch.NewClient(tr).Sub("inst-1")
	assert.Equal(t, []string{"inst-1"}, sub.Path())

	var out string
	require.NoError(t, sub.Call(ctx, "greet", greetArgs{Name: "sub"}, &out))
	assert.Equal(t, "hello sub", out)
}
