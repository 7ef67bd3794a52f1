package protocol

import (
	"context"
	"sync"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// NewWorkspaceDispatcher serves ws. Requests whose path starts with an
// installation id are forwarded to that installation.
func NewWorkspaceDispatcher(ws Workspace, opts ...dispatch.Option) *dispatch.Dispatcher {
	route := dispatch.WithRoute(func(id string) (dispatch.Forwarder, bool) {
		inst, ok := ws.Installation(domain.InstallationID(id))
		if !ok {
			return nil, false
		}
		return asForwarder(inst), true
	})
	d := dispatch.New(domain.KindWorkspace, string(ws.ID()), append([]dispatch.Option{route}, opts...)...)
	registerLifecycle(d, ws)
	dispatch.NoArgs(d, MethodDescribe, func(ctx context.Context) (Description, error) {
		desc, err := ws.Describe(ctx)
		if err == nil {
			desc.Methods = d.Methods()
		}
		return desc, err
	})
	registerController(d, installationsPrefix, ws.Installations())
	dispatch.Method(d, MethodQuery, ws.Query)
	return d
}

func asWorkspaceForwarder(ws Workspace) dispatch.Forwarder {
	if f, ok := ws.(dispatch.Forwarder); ok {
		return f
	}
	return NewWorkspaceDispatcher(ws)
}

// WorkspaceClient is a Workspace handle backed by a Transport.
//
// Installation lookups are answered from a local cache of handles, filled by
// Register and List calls made through Installations and by Probe.
type WorkspaceClient struct {
	remoteNode
	id domain.WorkspaceID

	mu       sync.RWMutex
	installs map[domain.InstallationID]*InstallationClient

	ctl *controllerClient[domain.InstallationID]
}

// NewWorkspaceClient creates a handle for workspace id reachable through c.
func NewWorkspaceClient(id domain.WorkspaceID, c *dispatch.Client) *WorkspaceClient {
	wc := &WorkspaceClient{
		remoteNode: newRemoteNode(c),
		id:         id,
		installs:   make(map[domain.InstallationID]*InstallationClient),
	}
	wc.ctl = &controllerClient[domain.InstallationID]{
		c:      c,
		prefix: installationsPrefix,
		track:  wc.track,
		reset:  wc.reset,
	}
	return wc
}

func (wc *WorkspaceClient) ID() domain.WorkspaceID { return wc.id }

func (wc *WorkspaceClient) Installation(id domain.InstallationID) (Installation, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	ic, ok := wc.installs[id]
	if !ok {
		return nil, false
	}
	return ic, true
}

func (wc *WorkspaceClient) Installations() InstallationController { return wc.ctl }

func (wc *WorkspaceClient) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	var res domain.QueryResult
	err := wc.c.Call(ctx, MethodQuery, q, &res)
	return res, err
}

// Probe refreshes the workspace health and its installation handles.
func (wc *WorkspaceClient) Probe(ctx context.Context) (domain.Health, error) {
	h, err := wc.remoteNode.Probe(ctx)
	if err != nil {
		return h, err
	}
	if _, err := wc.ctl.List(ctx); err != nil {
		return h, err
	}
	return h, nil
}

func (wc *WorkspaceClient) track(id domain.InstallationID, present bool) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if !present {
		delete(wc.installs, id)
		return
	}
	if _, ok := wc.installs[id]; !ok {
		wc.installs[id] = NewInstallationClient(id, wc.c.Sub(string(id)))
	}
}

func (wc *WorkspaceClient) reset(ids []domain.InstallationID) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	next := make(map[domain.InstallationID]*InstallationClient, len(ids))
	for _, id := range ids {
		if ic, ok := wc.installs[id]; ok {
			next[id] = ic
			continue
		}
		next[id] = NewInstallationClient(id, wc.c.Sub(string(id)))
	}
	wc.installs = next
}

var (
	_ Workspace          = (*WorkspaceClient)(nil)
	_ ports.Prober       = (*WorkspaceClient)(nil)
	_ dispatch.Forwarder = (*WorkspaceClient)(nil)
)
