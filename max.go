package max

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/aretw0/max/internal/cli"
	"github.com/aretw0/max/internal/config"
	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
)

// Engine hosts the workspace of a project inside the calling process.
// It is what the daemon runs, without the socket.
type Engine struct {
	rt   *cli.Runtime
	Name string
}

type options struct {
	logger   *slog.Logger
	nodesDir string
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the structured logger shared by every node.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNodesDir sets where subprocess-hosted installations keep their state.
// Defaults to .max/nodes under the project root.
func WithNodesDir(dir string) Option {
	return func(o *options) {
		o.nodesDir = dir
	}
}

// Open loads the project configuration in root, builds its workspace, and
// starts it. A root without a config file gets an empty workspace.
func Open(ctx context.Context, root string, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.nodesDir == "" {
		o.nodesDir = filepath.Join(absRoot, config.StateDirName, "nodes")
	}

	cfg, err := config.Load(absRoot)
	if errors.Is(err, config.ErrNoConfig) {
		cfg, err = config.Default(absRoot), nil
	}
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("workspace", cfg.Workspace)

	rt, err := cli.NewRuntime(ctx, cfg, o.nodesDir, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(ctx); err != nil {
		return nil, errors.Join(err, rt.Close(context.WithoutCancel(ctx)))
	}
	return &Engine{rt: rt, Name: cfg.Workspace}, nil
}

// Workspace returns the hosted workspace.
func (e *Engine) Workspace() protocol.Workspace { return e.rt.Workspace }

// Installations manages the installations of the workspace.
func (e *Engine) Installations() protocol.InstallationController {
	return e.rt.Workspace.Installations()
}

// Sync runs a synchronization of installation id and waits for it to finish.
func (e *Engine) Sync(ctx context.Context, id domain.InstallationID) (*domain.SyncRecord, error) {
	inst, ok := e.rt.Workspace.Installation(id)
	if !ok {
		return nil, fmt.Errorf("%w: installation %s", domain.ErrUnknownID, id)
	}
	h, err := inst.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Query fans q out to every running installation.
func (e *Engine) Query(ctx context.Context, q domain.Query) (domain.QueryResult, error) {
	return e.rt.Workspace.Query(ctx, q)
}

// Metrics serves the Prometheus metrics of the workspace.
func (e *Engine) Metrics() http.Handler { return e.rt.Metrics.Handler() }

// Close stops every node and releases the stores.
func (e *Engine) Close(ctx context.Context) error {
	return e.rt.Close(ctx)
}
