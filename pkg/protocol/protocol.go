// Package protocol defines the capability surfaces of each federation level,
// the dispatchers that serve them and the clients that call them remotely.
//
// A client handle and a concrete node satisfy the same interface, so a parent
// never knows how a child is hosted.
package protocol

import (
	"context"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/supervisor"
)

// Method names shared by dispatchers and clients.
const (
	MethodHealth   = "health"
	MethodStart    = "start"
	MethodStop     = "stop"
	MethodDescribe = "describe"

	MethodSchema      = "schema"
	MethodSync        = "sync"
	MethodSyncStatus  = "sync.status"
	MethodSyncCancel  = "sync.cancel"
	MethodSyncList    = "sync.list"
	MethodEngineQuery = "engine.query"

	MethodQuery = "query"
)

// Controller method suffixes. Workspaces serve them under "installations.",
// the global node under "workspaces.".
const (
	opRegister   = "register"
	opStart      = "start"
	opStop       = "stop"
	opRestart    = "restart"
	opUnregister = "unregister"
	opList       = "list"
	opHealth     = "health"
	opStatus     = "status"
)

const (
	installationsPrefix = "installations."
	workspacesPrefix    = "workspaces."
)

// Description summarizes a node for status displays.
type Description struct {
	Kind      domain.NodeKind `json:"kind"`
	ID        string          `json:"id"`
	Connector string          `json:"connector,omitempty"`
	Health    domain.Health   `json:"health"`
	Children  int             `json:"children,omitempty"`
	Methods   []string        `json:"methods,omitempty"`
}

// SyncHandle tracks one synchronization run.
type SyncHandle interface {
	ID() string
	Installation() domain.InstallationID
	// Status returns the latest persisted snapshot of the run.
	Status(ctx context.Context) (*domain.SyncRecord, error)
	// Wait blocks until the run reaches a final status or ctx is done.
	Wait(ctx context.Context) (*domain.SyncRecord, error)
	// Cancel stops the run at the next page boundary. Data already written is kept.
	Cancel(ctx context.Context) error
}

// Installation is the leaf level: one connector, one schema, one store.
type Installation interface {
	ports.Supervised
	ID() domain.InstallationID
	Describe(ctx context.Context) (Description, error)
	Schema(ctx context.Context) (domain.Schema, error)
	// Engine queries the installation's store. Queries fail with
	// domain.ErrNotRunning until the installation is started.
	Engine() ports.Engine
	// Sync starts a new run. The returned handle reports SyncRunning until the
	// run finishes.
	Sync(ctx context.Context) (SyncHandle, error)
	// SyncHandle reattaches to a known run.
	SyncHandle(ctx context.Context, id string) (SyncHandle, error)
	// Syncs lists past and current runs, newest first.
	Syncs(ctx context.Context) ([]*domain.SyncRecord, error)
}

// Controller is the supervisor surface a parent exposes for its children.
type Controller[ID comparable] interface {
	Register(ctx context.Context, id ID, cfg domain.DeploymentConfig) error
	Start(ctx context.Context, id ID) (domain.LifecycleState, error)
	Stop(ctx context.Context, id ID) (domain.LifecycleState, error)
	Restart(ctx context.Context, id ID) (domain.LifecycleState, error)
	Unregister(ctx context.Context, id ID) error
	Health(ctx context.Context, id ID) (domain.Health, error)
	List(ctx context.Context) ([]ID, error)
	Status(ctx context.Context) (supervisor.Status[ID], error)
}

// InstallationController manages the installations of a workspace.
type InstallationController = Controller[domain.InstallationID]

// WorkspaceController manages the workspaces of the global node.
type WorkspaceController = Controller[domain.WorkspaceID]

// Workspace groups installations and answers cross-installation queries.
type Workspace interface {
	ports.Supervised
	ID() domain.WorkspaceID
	Describe(ctx context.Context) (Description, error)
	// Installation is a synchronous lookup. It never creates.
	Installation(id domain.InstallationID) (Installation, bool)
	Installations() InstallationController
	// Query fans q out to every running installation.
	Query(ctx context.Context, q domain.Query) (domain.QueryResult, error)
}

// Global is the root node; it supervises workspaces.
type Global interface {
	ports.Supervised
	Describe(ctx context.Context) (Description, error)
	Workspace(id domain.WorkspaceID) (Workspace, bool)
	Workspaces() WorkspaceController
	// Query fans q out to every running workspace.
	Query(ctx context.Context, q domain.Query) (domain.QueryResult, error)
}

// Wire shapes of controller and sync calls.
type (
	registerArgs[ID any] struct {
		ID     ID                      `json:"id"`
		Config domain.DeploymentConfig `json:"config"`
	}
	idArgs[ID any] struct {
		ID ID `json:"id"`
	}
	stateResult struct {
		State domain.LifecycleState `json:"state"`
	}
	syncArgs struct {
		ID string `json:"id"`
	}
)
