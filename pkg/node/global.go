package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/lifecycle"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/supervisor"
)

// WorkspaceProvider creates workspace handles for the global node.
type WorkspaceProvider = ports.NodeProvider[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig]

// Global is the root node. It supervises workspaces.
type Global struct {
	*lifecycle.Machine

	sup    *supervisor.Supervisor[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig]
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	monitor chan struct{}
}

// NewGlobal creates a stopped global node creating workspaces through provider.
// It accepts the same options as NewWorkspace.
func NewGlobal(provider WorkspaceProvider, opts ...WorkspaceOption) *Global {
	cfg := workspaceConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &Global{logger: cfg.logger.With("node", protocol.GlobalID)}

	supOpts := append([]supervisor.Option{
		supervisor.WithLogger(g.logger),
		supervisor.WithKind(domain.KindWorkspace),
		supervisor.WithHooks(cfg.hooks),
		supervisor.WithEscalation(g.escalate),
	}, cfg.supOpts...)
	g.sup = supervisor.New(provider, supOpts...)
	g.Machine = lifecycle.New(domain.KindGlobal, protocol.GlobalID,
		lifecycle.WithStart(g.start),
		lifecycle.WithStop(g.stop),
		lifecycle.WithHooks(cfg.hooks),
		lifecycle.WithLogger(g.logger),
	)
	return g
}

// Supervisor exposes the workspace supervisor.
func (g *Global) Supervisor() *supervisor.Supervisor[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig] {
	return g.sup
}

func (g *Global) start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.mu.Lock()
	g.cancel, g.monitor = cancel, done
	g.mu.Unlock()
	go func() {
		defer close(done)
		_ = g.sup.Run(ctx)
	}()
	return nil
}

func (g *Global) stop(ctx context.Context) error {
	g.mu.Lock()
	cancel, done := g.cancel, g.monitor
	g.cancel, g.monitor = nil, nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return stopAll(ctx, g.sup)
}

func (g *Global) escalate(_ context.Context, id string, h domain.Health) {
	g.SetMessage(fmt.Sprintf("workspace %s failed: %s", id, h.Error))
}

func (g *Global) Describe(context.Context) (protocol.Description, error) {
	return protocol.Description{
		Kind:     domain.KindGlobal,
		ID:       protocol.GlobalID,
		Health:   g.Health(),
		Children: g.sup.Len(),
	}, nil
}

func (g *Global) Workspace(id domain.WorkspaceID) (protocol.Workspace, bool) {
	return g.sup.Get(id)
}

func (g *Global) Workspaces() protocol.WorkspaceController {
	return protocol.NewController(g.sup)
}

// Query fans q out to every running workspace.
func (g *Global) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	if err := g.Require(); err != nil {
		return domain.QueryResult{}, err
	}
	return fanOut(ctx, g.sup, func(ctx context.Context, ws protocol.Workspace) (domain.QueryResult, error) {
		return ws.Query(ctx, q)
	}), nil
}

// Close stops and unregisters every workspace.
func (g *Global) Close(ctx context.Context) error {
	if _, err := g.Stop(ctx); err != nil {
		g.logger.Warn("Stop during close failed", "err", err)
	}
	return g.sup.Shutdown(ctx)
}

var _ protocol.Global = (*Global)(nil)
