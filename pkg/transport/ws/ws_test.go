package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx context.Context, conn *ws.Conn) {
	for {
		req, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		b, _ := json.Marshal(req.Path)
		_ = conn.Reply(ctx, domain.Response{ID: req.ID, Result: b})
	}
}

func TestWebsocket_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(ws.Handler(echo))
	defer srv.Close()

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.RoundTrip(ctx, domain.Request{Path: []string{"inst-1"}, Method: "health"})
	require.NoError(t, err)
	assert.JSONEq(t, `["inst-1"]`, string(resp.Result))
}

func TestWebsocket_ServerGone(t *testing.T) {
	srv := httptest.NewServer(ws.Handler(func(ctx context.Context, conn *ws.Conn) {
		_, _ = conn.Receive(ctx)
		// return without replying: the handler closes the connection
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.RoundTrip(ctx, domain.Request{Method: "health"})
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not notice the disconnect")
	}
}

func TestWebsocket_DialFailure(t *testing.T) {
	_, err := ws.Dial(context.Background(), "ws://127.0.0.1:1/none", nil)
	assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
}
