package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/aretw0/max/pkg/adapters/inprocess"
	maxmcp "github.com/aretw0/max/pkg/adapters/mcp"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t   *testing.T
	srv *maxmcp.Server
	seq atomic.Int64
}

func newClient(t *testing.T) *client {
	t.Helper()
	deps := inprocess.Dependencies{
		Connectors: node.Catalog{memory.ConnectorName: memory.ConnectorFactory},
	}
	installs := provider.NewSelector[protocol.Installation, domain.InstallationID]().
		Register(domain.ProviderInProcess, inprocess.NewInstallationProvider(deps))
	w := node.NewWorkspace("ws-1", installs)
	_, err := w.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	c := &client{t: t, srv: maxmcp.NewServer(w)}
	c.rpc("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	})
	return c
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) rpc(method string, params any) json.RawMessage {
	c.t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.seq.Add(1),
		"method":  method,
		"params":  params,
	})
	require.NoError(c.t, err)
	out := c.srv.MCPServer().HandleMessage(context.Background(), msg)
	data, err := json.Marshal(out)
	require.NoError(c.t, err)
	var resp rpcResponse
	require.NoError(c.t, json.Unmarshal(data, &resp))
	require.Nil(c.t, resp.Error, string(data))
	return resp.Result
}

type toolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent"`
}

func (c *client) call(name string, args map[string]any) toolResult {
	c.t.Helper()
	var res toolResult
	require.NoError(c.t, json.Unmarshal(c.rpc("tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}), &res))
	return res
}

func (c *client) mustCall(name string, args map[string]any, out any) {
	c.t.Helper()
	res := c.call(name, args)
	require.False(c.t, res.IsError, fmt.Sprint(res.Content))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(res.StructuredContent, out))
	}
}

var usersOptions = map[string]any{
	domain.KeyConnector: memory.ConnectorName,
	domain.KeySettings: map[string]any{"entities": []any{map[string]any{
		"name":    "user",
		"records": []any{map[string]any{"id": "u1"}, map[string]any{"id": "u2"}},
	}}},
}

func TestServer_ListTools(t *testing.T) {
	c := newClient(t)

	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(c.rpc("tools/list", map[string]any{}), &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"status", "register_installation", "start_installation", "stop_installation",
		"restart_installation", "schema", "sync", "sync_status", "query",
	}, names)
}

func TestServer_SyncAndQuery(t *testing.T) {
	c := newClient(t)

	var st maxmcp.StateResponse
	c.mustCall("register_installation", map[string]any{"id": "inst-1", "options": usersOptions}, &st)
	assert.Equal(t, "inst-1", st.ID)

	c.mustCall("start_installation", map[string]any{"id": "inst-1"}, &st)
	assert.Equal(t, domain.StateRunning.String(), st.State)

	res := c.call("schema", map[string]any{"id": "inst-1"})
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, `"user"`)

	var synced maxmcp.SyncResponse
	c.mustCall("sync", map[string]any{"id": "inst-1", "wait": true}, &synced)
	require.NotNil(t, synced.Sync)
	assert.Equal(t, domain.SyncSucceeded, synced.Sync.Status)

	var again maxmcp.SyncResponse
	c.mustCall("sync_status", map[string]any{"id": "inst-1", "sync": synced.Sync.ID}, &again)
	assert.Equal(t, synced.Sync.ID, again.Sync.ID)

	var qr domain.QueryResult
	c.mustCall("query", map[string]any{"entity": "user", "match": map[string]any{"id": "u2"}}, &qr)
	require.Len(t, qr.Sets, 1)
	require.Len(t, qr.Sets[0].Records, 1)
	assert.Equal(t, "u2", qr.Sets[0].Records[0].ID)

	var status maxmcp.StatusResponse
	c.mustCall("status", map[string]any{}, &status)
	assert.Equal(t, 1, status.Installations.Total)
	assert.Equal(t, 1, status.Installations.Running)
}

func TestServer_ToolErrors(t *testing.T) {
	c := newClient(t)

	assert.True(t, c.call("start_installation", map[string]any{"id": "ghost"}).IsError)
	assert.True(t, c.call("sync", map[string]any{"id": "ghost"}).IsError)
	assert.True(t, c.call("schema", map[string]any{}).IsError)

	c.mustCall("register_installation", map[string]any{"id": "inst-1", "options": usersOptions}, nil)
	assert.True(t, c.call("register_installation", map[string]any{"id": "inst-1", "options": usersOptions}).IsError)
	assert.True(t, c.call("sync_status", map[string]any{"id": "inst-1", "sync": "nope"}).IsError)
}

func TestServer_StatusResource(t *testing.T) {
	c := newClient(t)
	c.mustCall("register_installation", map[string]any{"id": "inst-1", "options": usersOptions}, nil)

	var read struct {
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(c.rpc("resources/read", map[string]any{"uri": maxmcp.StatusURI}), &read))
	require.Len(t, read.Contents, 1)
	assert.Equal(t, maxmcp.StatusURI, read.Contents[0].URI)

	var st maxmcp.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(read.Contents[0].Text), &st))
	assert.Equal(t, "ws-1", st.Workspace.ID)
	assert.Equal(t, 1, st.Installations.Total)
}
