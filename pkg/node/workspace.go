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

// InstallationProvider creates installation handles for a workspace.
type InstallationProvider = ports.NodeProvider[protocol.Installation, domain.InstallationID, domain.DeploymentConfig]

// Workspace supervises installations and answers cross-installation queries.
//
// While running, the supervisor monitor probes the installations and applies
// the restart policy. Stop stops every installation but keeps them registered.
type Workspace struct {
	*lifecycle.Machine

	id     domain.WorkspaceID
	sup    *supervisor.Supervisor[protocol.Installation, domain.InstallationID, domain.DeploymentConfig]
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	monitor chan struct{}
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*workspaceConfig)

type workspaceConfig struct {
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
	supOpts []supervisor.Option
}

// WithWorkspaceLogger configures a logger for the Workspace and its supervisor.
func WithWorkspaceLogger(logger *slog.Logger) WorkspaceOption {
	return func(c *workspaceConfig) { c.logger = logger }
}

// WithWorkspaceHooks registers transition and restart callbacks.
func WithWorkspaceHooks(h domain.LifecycleHooks) WorkspaceOption {
	return func(c *workspaceConfig) { c.hooks = h }
}

// WithSupervisorOptions configures the installation supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) WorkspaceOption {
	return func(c *workspaceConfig) { c.supOpts = append(c.supOpts, opts...) }
}

// NewWorkspace creates a stopped workspace creating installations through provider.
func NewWorkspace(id domain.WorkspaceID, provider InstallationProvider, opts ...WorkspaceOption) *Workspace {
	cfg := workspaceConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &Workspace{id: id, logger: cfg.logger.With("workspace", string(id))}

	supOpts := append([]supervisor.Option{
		supervisor.WithLogger(w.logger),
		supervisor.WithKind(domain.KindInstallation),
		supervisor.WithHooks(cfg.hooks),
		supervisor.WithEscalation(w.escalate),
	}, cfg.supOpts...)
	w.sup = supervisor.New(provider, supOpts...)
	w.Machine = lifecycle.New(domain.KindWorkspace, string(id),
		lifecycle.WithStart(w.start),
		lifecycle.WithStop(w.stop),
		lifecycle.WithHooks(cfg.hooks),
		lifecycle.WithLogger(w.logger),
	)
	return w
}

func (w *Workspace) ID() domain.WorkspaceID { return w.id }

// Supervisor exposes the installation supervisor.
func (w *Workspace) Supervisor() *supervisor.Supervisor[protocol.Installation, domain.InstallationID, domain.DeploymentConfig] {
	return w.sup
}

func (w *Workspace) start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel, w.monitor = cancel, done
	w.mu.Unlock()
	go func() {
		defer close(done)
		_ = w.sup.Run(ctx)
	}()
	return nil
}

func (w *Workspace) stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.monitor
	w.cancel, w.monitor = nil, nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return stopAll(ctx, w.sup)
}

// escalate surfaces a failed installation in the workspace health message.
func (w *Workspace) escalate(_ context.Context, id string, h domain.Health) {
	w.SetMessage(fmt.Sprintf("installation %s failed: %s", id, h.Error))
}

func (w *Workspace) Describe(context.Context) (protocol.Description, error) {
	return protocol.Description{
		Kind:     domain.KindWorkspace,
		ID:       string(w.id),
		Health:   w.Health(),
		Children: w.sup.Len(),
	}, nil
}

func (w *Workspace) Installation(id domain.InstallationID) (protocol.Installation, bool) {
	return w.sup.Get(id)
}

func (w *Workspace) Installations() protocol.InstallationController {
	return protocol.NewController(w.sup)
}

// Query runs q on every running installation concurrently. Installations that
// are not running or fail are reported in Errors.
func (w *Workspace) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	if err := w.Require(); err != nil {
		return domain.QueryResult{}, err
	}
	return fanOut(ctx, w.sup, func(ctx context.Context, inst protocol.Installation) (domain.QueryResult, error) {
		rs, err := inst.Engine().Query(ctx, q)
		if err != nil {
			return domain.QueryResult{}, err
		}
		return domain.QueryResult{Sets: []domain.ResultSet{rs}}, nil
	}), nil
}

// Close stops and unregisters every installation.
func (w *Workspace) Close(ctx context.Context) error {
	if _, err := w.Stop(ctx); err != nil {
		w.logger.Warn("Stop during close failed", "err", err)
	}
	return w.sup.Shutdown(ctx)
}

var _ protocol.Workspace = (*Workspace)(nil)
