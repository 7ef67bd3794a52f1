package protocol_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/lifecycle"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/supervisor"
	"github.com/aretw0/max/pkg/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	mu  sync.Mutex
	rec domain.SyncRecord
}

func (s *fakeSync) ID() string                          { return s.rec.ID }
func (s *fakeSync) Installation() domain.InstallationID { return s.rec.Installation }

func (s *fakeSync) Status(context.Context) (*domain.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone(), nil
}

func (s *fakeSync) Wait(ctx context.Context) (*domain.SyncRecord, error) { return s.Status(ctx) }

func (s *fakeSync) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rec.Status.Finished() {
		s.rec.Status = domain.SyncCancelled
	}
	return nil
}

func (s *fakeSync) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Status = domain.SyncSucceeded
}

type fakeInstallation struct {
	*lifecycle.Machine
	id domain.InstallationID

	mu    sync.Mutex
	syncs []*fakeSync
}

func newFakeInstallation(id domain.InstallationID) *fakeInstallation {
	return &fakeInstallation{Machine: lifecycle.New(domain.KindInstallation, string(id)), id: id}
}

func (f *fakeInstallation) ID() domain.InstallationID { return f.id }

func (f *fakeInstallation) Describe(context.Context) (protocol.Description, error) {
	return protocol.Description{Kind: domain.KindInstallation, ID: string(f.id), Connector: "fake", Health: f.Health()}, nil
}

func (f *fakeInstallation) Schema(context.Context) (domain.Schema, error) {
	return domain.Schema{
		Installation: f.id,
		Connector:    "fake",
		Entities:     []domain.EntityDef{{Name: "user"}},
	}, nil
}

func (f *fakeInstallation) Engine() ports.Engine { return fakeEngine{f} }

func (f *fakeInstallation) Sync(context.Context) (protocol.SyncHandle, error) {
	if err := f.Require(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSync{rec: domain.SyncRecord{
		ID:           fmt.Sprintf("sync-%d", len(f.syncs)+1),
		Installation: f.id,
		Status:       domain.SyncRunning,
	}}
	f.syncs = append(f.syncs, s)
	return s, nil
}

func (f *fakeInstallation) SyncHandle(_ context.Context, id string) (protocol.SyncHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.syncs {
		if s.rec.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
}

func (f *fakeInstallation) Syncs(ctx context.Context) ([]*domain.SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SyncRecord
	for i := len(f.syncs) - 1; i >= 0; i-- {
		rec, _ := f.syncs[i].Status(ctx)
		out = append(out, rec)
	}
	return out, nil
}

type fakeEngine struct{ f *fakeInstallation }

func (e fakeEngine) Query(_ context.Context, q domain.Query) (domain.ResultSet, error) {
	if err := e.f.Require(); err != nil {
		return domain.ResultSet{}, err
	}
	return domain.ResultSet{
		Installation: e.f.id,
		Entity:       q.Entity,
		Records:      []domain.Record{{ID: "u1", Entity: q.Entity}},
	}, nil
}

type fakeInstallationProvider struct {
	mu    sync.Mutex
	nodes map[domain.InstallationID]*fakeInstallation
}

func (p *fakeInstallationProvider) Create(_ context.Context, id domain.InstallationID, cfg domain.DeploymentConfig) (protocol.Installation, error) {
	if cfg.Kind != domain.ProviderInProcess {
		return nil, domain.NewCreateError(cfg.Kind, string(id), fmt.Errorf("unsupported provider %q", cfg.Kind))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodes == nil {
		p.nodes = make(map[domain.InstallationID]*fakeInstallation)
	}
	n := newFakeInstallation(id)
	p.nodes[id] = n
	return n, nil
}

func (p *fakeInstallationProvider) Destroy(_ context.Context, id domain.InstallationID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, id)
	return nil
}

type fakeWorkspace struct {
	*lifecycle.Machine
	id  domain.WorkspaceID
	sup *supervisor.Supervisor[protocol.Installation, domain.InstallationID, domain.DeploymentConfig]
}

func newFakeWorkspace(id domain.WorkspaceID) *fakeWorkspace {
	return &fakeWorkspace{
		Machine: lifecycle.New(domain.KindWorkspace, string(id)),
		id:      id,
		sup:     supervisor.New[protocol.Installation, domain.InstallationID, domain.DeploymentConfig](&fakeInstallationProvider{}),
	}
}

func (w *fakeWorkspace) ID() domain.WorkspaceID { return w.id }

func (w *fakeWorkspace) Describe(context.Context) (protocol.Description, error) {
	return protocol.Description{Kind: domain.KindWorkspace, ID: string(w.id), Health: w.Health(), Children: w.sup.Len()}, nil
}

func (w *fakeWorkspace) Installation(id domain.InstallationID) (protocol.Installation, bool) {
	return w.sup.Get(id)
}

func (w *fakeWorkspace) Installations() protocol.InstallationController {
	return protocol.NewController(w.sup)
}

func (w *fakeWorkspace) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	var res domain.QueryResult
	for id := range w.sup.List() {
		inst, _ := w.sup.Get(id)
		rs, err := inst.Engine().Query(ctx, q)
		if err != nil {
			continue
		}
		res.Sets = append(res.Sets, rs)
	}
	return res, nil
}

// serve connects d to a fresh dispatch.Client over an in-memory pipe.
func serve(t *testing.T, d *dispatch.Dispatcher) *dispatch.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client, conn := memory.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		<-done
	})
	return dispatch.NewClient(client)
}

func TestInstallationClient(t *testing.T) {
	ctx := context.Background()
	inst := newFakeInstallation("inst-1")
	ic := protocol.NewInstallationClient("inst-1", serve(t, protocol.NewInstallationDispatcher(inst)))
	ic.PollInterval = time.Millisecond

	t.Run("not running", func(t *testing.T) {
		_, err := ic.Engine().Query(ctx, domain.Query{Entity: "user"})
		assert.ErrorIs(t, err, domain.ErrNotRunning)
		_, err = ic.Sync(ctx)
		assert.ErrorIs(t, err, domain.ErrNotRunning)
	})

	t.Run("lifecycle", func(t *testing.T) {
		assert.Equal(t, domain.StateCreated, ic.Health().State)
		st, err := ic.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, st)
		assert.Equal(t, domain.StateRunning, ic.Health().State, "health is cached from the last transition")
		assert.Equal(t, domain.StateRunning, inst.Health().State)
	})

	t.Run("describe lists methods", func(t *testing.T) {
		desc, err := ic.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fake", desc.Connector)
		assert.Contains(t, desc.Methods, protocol.MethodSync)
		assert.Contains(t, desc.Methods, protocol.MethodEngineQuery)
	})

	t.Run("schema and query", func(t *testing.T) {
		s, err := ic.Schema(ctx)
		require.NoError(t, err)
		_, ok := s.Entity("user")
		assert.True(t, ok)

		rs, err := ic.Engine().Query(ctx, domain.Query{Entity: "user"})
		require.NoError(t, err)
		assert.Equal(t, domain.InstallationID("inst-1"), rs.Installation)
		assert.Len(t, rs.Records, 1)
	})

	t.Run("sync", func(t *testing.T) {
		h, err := ic.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, "sync-1", h.ID())
		assert.Equal(t, domain.InstallationID("inst-1"), h.Installation())

		rec, err := h.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncRunning, rec.Status)

		inst.mu.Lock()
		first := inst.syncs[0]
		inst.mu.Unlock()
		first.finish()
		wctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		rec, err = h.Wait(wctx)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncSucceeded, rec.Status)

		again, err := ic.SyncHandle(ctx, "sync-1")
		require.NoError(t, err)
		assert.Equal(t, "sync-1", again.ID())

		_, err = ic.SyncHandle(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSyncNotFound)

		list, err := ic.Syncs(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("cancel", func(t *testing.T) {
		h, err := ic.Sync(ctx)
		require.NoError(t, err)
		require.NoError(t, h.Cancel(ctx))
		rec, err := h.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncCancelled, rec.Status)
	})

	t.Run("probe after disconnect reports failed", func(t *testing.T) {
		require.NoError(t, ic.Close())
		h, err := ic.Probe(ctx)
		assert.ErrorIs(t, err, domain.ErrTransportDisconnected)
		assert.Equal(t, domain.StateFailed, h.State)
		assert.Equal(t, domain.StateFailed, ic.Health().State)
	})
}

func TestWorkspaceClient(t *testing.T) {
	ctx := context.Background()
	ws := newFakeWorkspace("ws-1")
	wc := protocol.NewWorkspaceClient("ws-1", serve(t, protocol.NewWorkspaceDispatcher(ws)))

	_, ok := wc.Installation("inst-1")
	assert.False(t, ok)

	cfg := domain.DeploymentConfig{Kind: domain.ProviderInProcess}
	require.NoError(t, wc.Installations().Register(ctx, "inst-1", cfg))

	t.Run("duplicate register", func(t *testing.T) {
		err := wc.Installations().Register(ctx, "inst-1", cfg)
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	})

	t.Run("provider failure keeps its kind", func(t *testing.T) {
		err := wc.Installations().Register(ctx, "inst-2", domain.DeploymentConfig{Kind: domain.ProviderRemote})
		assert.ErrorIs(t, err, domain.ErrNodeCreationFailed)
		_, ok := wc.Installation("inst-2")
		assert.False(t, ok)
	})

	inst, ok := wc.Installation("inst-1")
	require.True(t, ok)

	t.Run("forwarded calls reach the child", func(t *testing.T) {
		_, err := wc.Installations().Start(ctx, "inst-1")
		require.NoError(t, err)

		s, err := inst.Schema(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.InstallationID("inst-1"), s.Installation)

		h, err := inst.Sync(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, h.ID())
	})

	t.Run("unknown child", func(t *testing.T) {
		_, err := wc.Installations().Start(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrUnknownID)

		ghost := protocol.NewInstallationClient("nope", wc.Client().Sub("nope"))
		_, err = ghost.Schema(ctx)
		assert.ErrorIs(t, err, domain.ErrUnknownID)
	})

	t.Run("status and query", func(t *testing.T) {
		st, err := wc.Installations().Status(ctx)
		require.NoError(t, err)
		assert.True(t, st.Healthy)
		assert.Equal(t, 1, st.Running)

		res, err := wc.Query(ctx, domain.Query{Entity: "user"})
		require.NoError(t, err)
		assert.Len(t, res.Sets, 1)
	})

	t.Run("unregister requires stop", func(t *testing.T) {
		err := wc.Installations().Unregister(ctx, "inst-1")
		assert.ErrorIs(t, err, domain.ErrNotStopped)

		_, err = wc.Installations().Stop(ctx, "inst-1")
		require.NoError(t, err)
		require.NoError(t, wc.Installations().Unregister(ctx, "inst-1"))
		_, ok := wc.Installation("inst-1")
		assert.False(t, ok)
	})

	t.Run("probe refreshes handles", func(t *testing.T) {
		require.NoError(t, ws.sup.Register(ctx, "inst-9", cfg))
		_, ok := wc.Installation("inst-9")
		assert.False(t, ok)

		_, err := wc.Probe(ctx)
		require.NoError(t, err)
		_, ok = wc.Installation("inst-9")
		assert.True(t, ok)
	})
}

type fakeGlobal struct {
	*lifecycle.Machine
	sup *supervisor.Supervisor[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig]
}

func (g *fakeGlobal) Create(_ context.Context, id domain.WorkspaceID, _ domain.DeploymentConfig) (protocol.Workspace, error) {
	return newFakeWorkspace(id), nil
}

func (g *fakeGlobal) Destroy(context.Context, domain.WorkspaceID) error { return nil }

func (g *fakeGlobal) Describe(context.Context) (protocol.Description, error) {
	return protocol.Description{Kind: domain.KindGlobal, ID: protocol.GlobalID, Health: g.Health(), Children: g.sup.Len()}, nil
}

func (g *fakeGlobal) Workspace(id domain.WorkspaceID) (protocol.Workspace, bool) { return g.sup.Get(id) }

func (g *fakeGlobal) Workspaces() protocol.WorkspaceController { return protocol.NewController(g.sup) }

func (g *fakeGlobal) Query(context.Context, domain.Query) (domain.QueryResult, error) {
	return domain.QueryResult{}, nil
}

func TestGlobalClient_RoutesThroughWorkspace(t *testing.T) {
	ctx := context.Background()
	g := &fakeGlobal{Machine: lifecycle.New(domain.KindGlobal, protocol.GlobalID)}
	g.sup = supervisor.New[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig](g)
	gc := protocol.NewGlobalClient(serve(t, protocol.NewGlobalDispatcher(g)))

	cfg := domain.DeploymentConfig{Kind: domain.ProviderInProcess}
	require.NoError(t, gc.Workspaces().Register(ctx, "ws-1", cfg))

	ws, ok := gc.Workspace("ws-1")
	require.True(t, ok)
	require.NoError(t, ws.Installations().Register(ctx, "inst-1", cfg))

	inst, ok := ws.Installation("inst-1")
	require.True(t, ok)
	st, err := inst.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, st)

	desc, err := inst.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", desc.ID)
	assert.Equal(t, domain.KindInstallation, desc.Kind)

	gdesc, err := gc.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gdesc.Children)

	ids, err := gc.Workspaces().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkspaceID{"ws-1"}, ids)
}
