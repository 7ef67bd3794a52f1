package protocol

import (
	"context"
	"sync"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
)

// GlobalID is the id under which the root node reports itself.
const GlobalID = "global"

// NewGlobalDispatcher serves g. A path starting with a workspace id is
// forwarded to that workspace, which may forward it again to an installation.
func NewGlobalDispatcher(g Global, opts ...dispatch.Option) *dispatch.Dispatcher {
	route := dispatch.WithRoute(func(id string) (dispatch.Forwarder, bool) {
		ws, ok := g.Workspace(domain.WorkspaceID(id))
		if !ok {
			return nil, false
		}
		return asWorkspaceForwarder(ws), true
	})
	d := dispatch.New(domain.KindGlobal, GlobalID, append([]dispatch.Option{route}, opts...)...)
	registerLifecycle(d, g)
	dispatch.NoArgs(d, MethodDescribe, func(ctx context.Context) (Description, error) {
		desc, err := g.Describe(ctx)
		if err == nil {
			desc.Methods = d.Methods()
		}
		return desc, err
	})
	registerController(d, workspacesPrefix, g.Workspaces())
	dispatch.Method(d, MethodQuery, g.Query)
	return d
}

// GlobalClient is a Global handle backed by a Transport.
type GlobalClient struct {
	remoteNode

	mu         sync.RWMutex
	workspaces map[domain.WorkspaceID]*WorkspaceClient

	ctl *controllerClient[domain.WorkspaceID]
}

// NewGlobalClient creates a handle for the global node served through c.
func NewGlobalClient(c *dispatch.Client) *GlobalClient {
	gc := &GlobalClient{
		remoteNode: newRemoteNode(c),
		workspaces: make(map[domain.WorkspaceID]*WorkspaceClient),
	}
	gc.ctl = &controllerClient[domain.WorkspaceID]{
		c:      c,
		prefix: workspacesPrefix,
		track:  gc.track,
		reset:  gc.reset,
	}
	return gc
}

func (gc *GlobalClient) Workspace(id domain.WorkspaceID) (Workspace, bool) {
	gc.mu.RLock()
	defer gc.mu.RUnlock()
	wc, ok := gc.workspaces[id]
	if !ok {
		return nil, false
	}
	return wc, true
}

func (gc *GlobalClient) Workspaces() WorkspaceController { return gc.ctl }

func (gc *GlobalClient) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	var res domain.QueryResult
	err := gc.c.Call(ctx, MethodQuery, q, &res)
	return res, err
}

// Probe refreshes the global health and its workspace handles.
func (gc *GlobalClient) Probe(ctx context.Context) (domain.Health, error) {
	h, err := gc.remoteNode.Probe(ctx)
	if err != nil {
		return h, err
	}
	_, err = gc.ctl.List(ctx)
	return h, err
}

func (gc *GlobalClient) track(id domain.WorkspaceID, present bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if !present {
		delete(gc.workspaces, id)
		return
	}
	if _, ok := gc.workspaces[id]; !ok {
		gc.workspaces[id] = NewWorkspaceClient(id, gc.c.Sub(string(id)))
	}
}

func (gc *GlobalClient) reset(ids []domain.WorkspaceID) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	next := make(map[domain.WorkspaceID]*WorkspaceClient, len(ids))
	for _, id := range ids {
		if wc, ok := gc.workspaces[id]; ok {
			next[id] = wc
			continue
		}
		next[id] = NewWorkspaceClient(id, gc.c.Sub(string(id)))
	}
	gc.workspaces = next
}

var _ Global = (*GlobalClient)(nil)
