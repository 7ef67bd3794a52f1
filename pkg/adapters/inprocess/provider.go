// Package inprocess hosts nodes inside the calling process. Each node is still
// reached through a dispatcher over an in-memory transport, so callers see the
// same handle as with any other provider.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/execution"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	memtransport "github.com/aretw0/max/pkg/transport/memory"
)

// Dependencies are shared by every node the provider creates. They are fixed
// for the lifetime of the provider.
type Dependencies struct {
	Connectors node.Catalog
	DataStores node.DataStoreFactory // defaults to node.MemoryDataStores
	SyncStore  ports.SyncStore       // defaults to a shared memory store
	Scheduler  *execution.Scheduler  // optional
	Logger     *slog.Logger
	Hooks      domain.LifecycleHooks
}

func (d Dependencies) withDefaults() Dependencies {
	if d.DataStores == nil {
		d.DataStores = node.MemoryDataStores
	}
	if d.SyncStore == nil {
		d.SyncStore = memory.NewSyncStore()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	return d
}

// hosted is one node served on an in-memory pipe.
type hosted struct {
	stop   func(context.Context) error
	client *memtransport.Client
	cancel context.CancelFunc
	done   chan struct{}
}

func serve(d *dispatch.Dispatcher, stop func(context.Context) error) (*hosted, *dispatch.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	client, conn := memtransport.Pipe()
	h := &hosted{stop: stop, client: client, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		_ = d.Serve(ctx, conn)
	}()
	return h, dispatch.NewClient(client)
}

func (h *hosted) close(ctx context.Context) error {
	err := h.stop(ctx)
	h.cancel()
	_ = h.client.Close()
	select {
	case <-h.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// nodes tracks hosted nodes by id.
type nodes[ID comparable] struct {
	mu sync.Mutex
	m  map[ID]*hosted
}

func (n *nodes[ID]) add(id ID, h *hosted) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.m == nil {
		n.m = make(map[ID]*hosted)
	}
	n.m[id] = h
}

func (n *nodes[ID]) take(id ID) (*hosted, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.m[id]
	delete(n.m, id)
	return h, ok
}

// InstallationProvider creates in-process installations.
type InstallationProvider struct {
	deps  Dependencies
	nodes nodes[domain.InstallationID]
}

// NewInstallationProvider creates a provider sharing deps across installations.
func NewInstallationProvider(deps Dependencies) *InstallationProvider {
	return &InstallationProvider{deps: deps.withDefaults()}
}

// Create builds the installation from cfg.Options and returns a handle to it.
func (p *InstallationProvider) Create(_ context.Context, id domain.InstallationID, cfg domain.DeploymentConfig) (protocol.Installation, error) {
	inst, err := p.build(id, cfg)
	if err != nil {
		return nil, domain.NewCreateError(domain.ProviderInProcess, string(id), err)
	}
	d := protocol.NewInstallationDispatcher(inst,
		dispatch.WithLogger(p.deps.Logger),
		dispatch.WithHooks(p.deps.Hooks),
	)
	h, c := serve(d, func(ctx context.Context) error {
		_, err := inst.Stop(ctx)
		return err
	})
	p.nodes.add(id, h)
	p.deps.Logger.Debug("Installation hosted in process", "installation", string(id))
	return protocol.NewInstallationClient(id, c), nil
}

func (p *InstallationProvider) build(id domain.InstallationID, cfg domain.DeploymentConfig) (*node.Installation, error) {
	spec, err := node.DecodeInstallationSpec(cfg.Options)
	if err != nil {
		return nil, err
	}
	return NewInstallation(id, spec, p.deps)
}

// NewInstallation builds an installation node from spec.
func NewInstallation(id domain.InstallationID, spec node.InstallationSpec, deps Dependencies) (*node.Installation, error) {
	deps = deps.withDefaults()
	factory, err := deps.Connectors.Lookup(spec.Connector)
	if err != nil {
		return nil, err
	}
	dom, err := spec.Domain(id)
	if err != nil {
		return nil, err
	}
	opts := []node.InstallationOption{
		node.WithSettings(spec.Settings),
		node.WithDataStore(deps.DataStores),
		node.WithSyncStore(deps.SyncStore),
		node.WithDomain(dom),
		node.WithInstallationLogger(deps.Logger),
		node.WithInstallationHooks(deps.Hooks),
	}
	if spec.Schedule != "" {
		if deps.Scheduler == nil {
			return nil, fmt.Errorf("%w: schedule %q set but no scheduler configured", domain.ErrInvalidArgs, spec.Schedule)
		}
		opts = append(opts, node.WithSchedule(deps.Scheduler, spec.Schedule))
	}
	return node.NewInstallation(id, factory, opts...), nil
}

// Destroy stops the installation and releases its transport. Unknown ids are a no-op.
func (p *InstallationProvider) Destroy(ctx context.Context, id domain.InstallationID) error {
	h, ok := p.nodes.take(id)
	if !ok {
		return nil
	}
	if err := h.close(ctx); err != nil {
		return domain.NewDestroyError(domain.ProviderInProcess, string(id), err)
	}
	return nil
}

// WorkspaceProvider creates in-process workspaces for the global node.
type WorkspaceProvider struct {
	installations func() node.InstallationProvider
	opts          []node.WorkspaceOption
	logger        *slog.Logger
	hooks         domain.LifecycleHooks
	nodes         nodes[domain.WorkspaceID]
}

// NewWorkspaceProvider creates workspaces whose installations come from the
// provider returned by installations, called once per workspace.
func NewWorkspaceProvider(deps Dependencies, installations func() node.InstallationProvider, opts ...node.WorkspaceOption) *WorkspaceProvider {
	deps = deps.withDefaults()
	return &WorkspaceProvider{
		installations: installations,
		opts:          append([]node.WorkspaceOption{node.WithWorkspaceLogger(deps.Logger), node.WithWorkspaceHooks(deps.Hooks)}, opts...),
		logger:        deps.Logger,
		hooks:         deps.Hooks,
	}
}

func (p *WorkspaceProvider) Create(_ context.Context, id domain.WorkspaceID, _ domain.DeploymentConfig) (protocol.Workspace, error) {
	ws := node.NewWorkspace(id, p.installations(), p.opts...)
	d := protocol.NewWorkspaceDispatcher(ws, dispatch.WithLogger(p.logger), dispatch.WithHooks(p.hooks))
	h, c := serve(d, ws.Close)
	p.nodes.add(id, h)
	return protocol.NewWorkspaceClient(id, c), nil
}

// Destroy stops the workspace and destroys its installations.
func (p *WorkspaceProvider) Destroy(ctx context.Context, id domain.WorkspaceID) error {
	h, ok := p.nodes.take(id)
	if !ok {
		return nil
	}
	if err := h.close(ctx); err != nil {
		return domain.NewDestroyError(domain.ProviderInProcess, string(id), err)
	}
	return nil
}

var (
	_ node.InstallationProvider = (*InstallationProvider)(nil)
	_ node.WorkspaceProvider    = (*WorkspaceProvider)(nil)
)
