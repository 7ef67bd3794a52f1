package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/adapters/inprocess"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/adapters/remote"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/provider"
	"github.com/aretw0/max/pkg/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveWS exposes d on a test server and returns its websocket url.
func serveWS(t *testing.T, d *dispatch.Dispatcher, check func(*http.Request) bool) string {
	t.Helper()
	h := ws.Handler(func(ctx context.Context, conn *ws.Conn) { _ = d.Serve(ctx, conn) })
	if check != nil {
		next := h
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !check(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func hostedWorkspace(t *testing.T) *node.Workspace {
	t.Helper()
	deps := inprocess.Dependencies{Connectors: node.Catalog{memory.ConnectorName: memory.ConnectorFactory}}
	installs := provider.NewSelector[protocol.Installation, domain.InstallationID]().
		Register(domain.ProviderInProcess, inprocess.NewInstallationProvider(deps))
	w := node.NewWorkspace("ws-remote", installs)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func memoryInstallation() domain.DeploymentConfig {
	return domain.DeploymentConfig{Kind: domain.ProviderInProcess, Options: map[string]any{
		domain.KeyConnector: memory.ConnectorName,
		domain.KeySettings: map[string]any{"entities": []any{map[string]any{
			"name":    "user",
			"records": []any{map[string]any{"id": "u1"}},
		}}},
	}}
}

func TestProvider_Workspace(t *testing.T) {
	ctx := context.Background()
	w := hostedWorkspace(t)
	url := serveWS(t, protocol.NewWorkspaceDispatcher(w), func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer s3cret"
	})

	p := remote.NewWorkspaceProvider()

	_, err := p.Create(ctx, "ws-remote", domain.DeploymentConfig{Kind: domain.ProviderRemote, Options: map[string]any{"url": url}})
	assert.ErrorIs(t, err, domain.ErrNodeCreationFailed, "handshake without token is rejected")

	h, err := p.Create(ctx, "ws-remote", domain.DeploymentConfig{Kind: domain.ProviderRemote, Options: map[string]any{
		"url":   url,
		"token": "s3cret",
	}})
	require.NoError(t, err)

	_, err = p.Create(ctx, "ws-remote", domain.DeploymentConfig{Kind: domain.ProviderRemote, Options: map[string]any{"url": url, "token": "s3cret"}})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	st, err := h.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, st)
	assert.Equal(t, domain.StateRunning, w.Health().State, "the call reached the hosted workspace")

	require.NoError(t, h.Installations().Register(ctx, "inst-1", memoryInstallation()))
	_, err = h.Installations().Start(ctx, "inst-1")
	require.NoError(t, err)

	inst, ok := h.Installation("inst-1")
	require.True(t, ok)
	sh, err := inst.Sync(ctx)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := sh.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, rec.Status)

	res, err := h.Query(ctx, domain.Query{Entity: "user"})
	require.NoError(t, err)
	require.Len(t, res.Sets, 1)
	assert.Equal(t, "u1", res.Sets[0].Records[0].ID)

	require.NoError(t, p.Destroy(ctx, "ws-remote"))
	assert.Equal(t, domain.StateRunning, w.Health().State, "detaching leaves the remote node alone")
	require.NoError(t, p.Destroy(ctx, "ws-remote"))
}

func TestProvider_InstallationBelowPath(t *testing.T) {
	ctx := context.Background()
	w := hostedWorkspace(t)
	_, err := w.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Installations().Register(ctx, "inst-1", memoryInstallation()))
	url := serveWS(t, protocol.NewWorkspaceDispatcher(w), nil)

	p := remote.NewInstallationProvider()
	inst, err := p.Create(ctx, "inst-1", domain.DeploymentConfig{Kind: domain.ProviderRemote, Options: map[string]any{
		"url":  url,
		"path": []any{"inst-1"},
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy(context.Background(), "inst-1") })

	st, err := inst.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, st)

	d, err := inst.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", d.ID)
}

func TestDecodeOptions(t *testing.T) {
	_, err := remote.DecodeOptions(map[string]any{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)

	o, err := remote.DecodeOptions(map[string]any{
		"url":     "wss://example.test/rpc",
		"headers": map[string]any{"X-Tenant": "acme"},
		"path":    []any{"inst-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", o.Headers["X-Tenant"])
	assert.Equal(t, []string{"inst-1"}, o.Path)
}
