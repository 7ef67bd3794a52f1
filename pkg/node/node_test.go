package node_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/adapters/inprocess"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/node"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/ports/tests"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/provider"
	"github.com/aretw0/max/pkg/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userFixture(_ context.Context, _ map[string]any) (ports.Connector, error) {
	return memory.NewConnector(
		memory.WithPageSize(2),
		memory.WithEntity(domain.EntityDef{Name: "user", Fields: []domain.FieldDef{{Name: "name", Type: "string"}}},
			domain.Record{ID: "u1", Fields: map[string]any{"name": "ada"}},
			domain.Record{ID: "u2", Fields: map[string]any{"name": "grace"}},
			domain.Record{ID: "u3", Fields: map[string]any{"name": "linus"}},
		),
	), nil
}

func brokenFixture(context.Context, map[string]any) (ports.Connector, error) {
	return nil, errors.New("credentials rejected")
}

func deps() inprocess.Dependencies {
	return inprocess.Dependencies{
		Connectors: node.Catalog{"users": userFixture, "broken": brokenFixture},
	}
}

func installationsFor(d inprocess.Dependencies) node.InstallationProvider {
	return provider.NewSelector[protocol.Installation, domain.InstallationID]().
		Register(domain.ProviderInProcess, inprocess.NewInstallationProvider(d))
}

func inProcess(connector string) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		Kind:    domain.ProviderInProcess,
		Options: map[string]any{domain.KeyConnector: connector},
	}
}

func TestInstallation_Contract(t *testing.T) {
	tests.SupervisedContractTest(t, func(t *testing.T) ports.Supervised {
		return node.NewInstallation("inst-1", userFixture)
	})
}

func TestInstallation_RequiresRunning(t *testing.T) {
	ctx := context.Background()
	inst := node.NewInstallation("inst-1", userFixture)

	_, err := inst.Schema(ctx)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	_, err = inst.Engine().Query(ctx, domain.Query{Entity: "user"})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	_, err = inst.Sync(ctx)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestInstallation_ConnectorFailure(t *testing.T) {
	inst := node.NewInstallation("inst-1", brokenFixture)
	st, err := inst.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, domain.StateFailed, st)
	assert.Contains(t, inst.Health().Error, "credentials rejected")
}

func TestInstallation_ResumesInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	syncs := memory.NewSyncStore()
	require.NoError(t, syncs.SaveSync(ctx, &domain.SyncRecord{
		ID:           "left-running",
		Installation: "inst-1",
		Domain:       domain.Local(),
		Status:       domain.SyncRunning,
		Tasks:        []domain.TaskRecord{{Entity: "user", Loader: "user", Cursor: "2", Loaded: 2}},
		StartedAt:    time.Now().Add(-time.Hour),
	}))

	inst := node.NewInstallation("inst-1", userFixture, node.WithSyncStore(syncs))
	_, err := inst.Start(ctx)
	require.NoError(t, err)
	defer inst.Stop(ctx)

	h, err := inst.SyncHandle(ctx, "left-running")
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := h.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, rec.Status)
	assert.Equal(t, 3, rec.Tasks[0].Loaded)
}

// TestWorkspace_Scenario registers, starts and syncs inst-1 through an
// in-process provider, the way a project daemon does.
func TestWorkspace_Scenario(t *testing.T) {
	ctx := context.Background()
	ws := node.NewWorkspace("ws-1", installationsFor(deps()))
	_, err := ws.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })

	ctl := ws.Installations()
	require.NoError(t, ctl.Register(ctx, "inst-1", inProcess("users")))

	_, ok := ws.Installation("inst-1")
	require.True(t, ok)
	_, ok = ws.Installation("inst-404")
	assert.False(t, ok, "lookup never creates")

	h, err := ctl.Health(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, h.State)

	st, err := ctl.Start(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, st)

	inst, _ := ws.Installation("inst-1")
	assert.Equal(t, domain.StateRunning, inst.Health().State)

	schema, err := inst.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallationID("inst-1"), schema.Installation)
	assert.Equal(t, memory.ConnectorName, schema.Connector)

	sh, err := inst.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallationID("inst-1"), sh.Installation())
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := sh.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, rec.Status)

	res, err := ws.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"name": "ada"}})
	require.NoError(t, err)
	require.Len(t, res.Sets, 1)
	assert.Equal(t, "u1", res.Sets[0].Records[0].ID)
	assert.Empty(t, res.Errors)

	status, err := ctl.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	err = ctl.Unregister(ctx, "inst-1")
	assert.ErrorIs(t, err, domain.ErrNotStopped)
}

func TestWorkspace_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	ws := node.NewWorkspace("ws-1", installationsFor(deps()))
	_, err := ws.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })

	ctl := ws.Installations()
	require.NoError(t, ctl.Register(ctx, "good", inProcess("users")))
	require.NoError(t, ctl.Register(ctx, "bad", inProcess("broken")))

	_, err = ctl.Start(ctx, "good")
	require.NoError(t, err)
	st, err := ctl.Start(ctx, "bad")
	assert.Error(t, err)
	assert.Equal(t, domain.StateFailed, st)

	status, err := ctl.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, domain.StateRunning, status.Children["good"].State)

	res, err := ws.Query(ctx, domain.Query{Entity: "user"})
	require.NoError(t, err)
	assert.Len(t, res.Sets, 1)
	assert.Contains(t, res.Errors, "bad")

	t.Run("unknown connector fails creation", func(t *testing.T) {
		err := ctl.Register(ctx, "typo", inProcess("userz"))
		assert.ErrorIs(t, err, domain.ErrNodeCreationFailed)
		assert.ErrorIs(t, err, domain.ErrInvalidArgs)
		_, ok := ws.Installation("typo")
		assert.False(t, ok)
	})

	t.Run("failed installation can be unregistered", func(t *testing.T) {
		require.NoError(t, ctl.Unregister(ctx, "bad"))
		ids, err := ctl.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.InstallationID{"good"}, ids)
	})
}

func TestWorkspace_Escalation(t *testing.T) {
	ctx := context.Background()
	ws := node.NewWorkspace("ws-1", installationsFor(deps()),
		node.WithSupervisorOptions(supervisor.WithRestartPolicy(supervisor.RestartEscalate)),
	)
	_, err := ws.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })

	require.NoError(t, ws.Installations().Register(ctx, "bad", inProcess("broken")))
	_, _ = ws.Installations().Start(ctx, "bad")

	ws.Supervisor().Check(ctx)
	assert.Contains(t, ws.Health().Message, "installation bad failed")
	assert.Equal(t, domain.StateRunning, ws.Health().State, "escalation does not fail the workspace")
}

func TestGlobal_Query(t *testing.T) {
	ctx := context.Background()
	d := deps()
	g := node.NewGlobal(provider.NewSelector[protocol.Workspace, domain.WorkspaceID]().
		Register(domain.ProviderInProcess, inprocess.NewWorkspaceProvider(d, func() node.InstallationProvider {
			return installationsFor(d)
		})))

	_, err := g.Query(ctx, domain.Query{Entity: "user"})
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	_, err = g.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })

	for _, id := range []domain.WorkspaceID{"ws-a", "ws-b"} {
		require.NoError(t, g.Workspaces().Register(ctx, id, domain.DeploymentConfig{Kind: domain.ProviderInProcess}))
		_, err := g.Workspaces().Start(ctx, id)
		require.NoError(t, err)

		ws, ok := g.Workspace(id)
		require.True(t, ok)
		require.NoError(t, ws.Installations().Register(ctx, "inst-1", inProcess("users")))
		_, err = ws.Installations().Start(ctx, "inst-1")
		require.NoError(t, err)
	}

	wsB, _ := g.Workspace("ws-b")
	_, err = wsB.Installations().Stop(ctx, "inst-1")
	require.NoError(t, err)

	res, err := g.Query(ctx, domain.Query{Entity: "user"})
	require.NoError(t, err)
	assert.Len(t, res.Sets, 1)
	assert.Contains(t, res.Errors, "ws-b/inst-1")

	desc, err := g.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, desc.Children)
}
