// Package subprocess hosts each node in its own operating system process,
// reached over a unix socket.
//
// Every node gets a state directory holding its socket, pid file, log and the
// node.json spec the child builds itself from. A provider that finds a live
// process for an id reattaches to it instead of spawning a second one.
package subprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/supervisor"
	"github.com/aretw0/max/pkg/transport/stream"
)

// Child flags appended to the configured command line.
const (
	FlagSocket = "--socket"
	FlagID     = "--id"
	FlagSpec   = "--spec"
)

type proc struct {
	paths  Paths
	pid    int
	exited chan struct{} // nil when reattached to a process we did not spawn
	client *stream.Client
	grace  time.Duration
}

// Provider creates nodes of one kind in child processes.
type Provider[T ports.Supervised, ID ~string] struct {
	root      string
	kind      domain.NodeKind
	newHandle func(ID, *dispatch.Client) T
	profiles  map[string]Profile
	logger    *slog.Logger

	mu    sync.Mutex
	procs map[ID]*proc
}

// Option configures a Provider.
type Option func(*config)

type config struct {
	profiles map[string]Profile
	logger   *slog.Logger
}

// WithProfiles makes named command lines available to the "profile" option.
func WithProfiles(p map[string]Profile) Option {
	return func(c *config) { c.profiles = p }
}

// WithLogger configures a logger for the Provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func newProvider[T ports.Supervised, ID ~string](root string, kind domain.NodeKind, newHandle func(ID, *dispatch.Client) T, opts []Option) *Provider[T, ID] {
	cfg := config{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider[T, ID]{
		root:      root,
		kind:      kind,
		newHandle: newHandle,
		profiles:  cfg.profiles,
		logger:    cfg.logger.With("component", "subprocess", "kind", string(kind)),
		procs:     make(map[ID]*proc),
	}
}

// NewInstallationProvider hosts installations in child processes under root.
func NewInstallationProvider(root string, opts ...Option) *Provider[protocol.Installation, domain.InstallationID] {
	return newProvider(root, domain.KindInstallation, func(id domain.InstallationID, c *dispatch.Client) protocol.Installation {
		return protocol.NewInstallationClient(id, c)
	}, opts)
}

// NewWorkspaceProvider hosts workspaces in child processes under root.
func NewWorkspaceProvider(root string, opts ...Option) *Provider[protocol.Workspace, domain.WorkspaceID] {
	return newProvider(root, domain.KindWorkspace, func(id domain.WorkspaceID, c *dispatch.Client) protocol.Workspace {
		return protocol.NewWorkspaceClient(id, c)
	}, opts)
}

// Create reattaches to a live process for id or spawns a new one, then
// returns a handle connected to its socket.
func (p *Provider[T, ID]) Create(ctx context.Context, id ID, cfg domain.DeploymentConfig) (T, error) {
	var zero T
	pr, err := p.create(ctx, id, cfg)
	if err != nil {
		return zero, domain.NewCreateError(domain.ProviderSubprocess, string(id), err)
	}
	p.mu.Lock()
	p.procs[id] = pr
	p.mu.Unlock()
	return p.newHandle(id, dispatch.NewClient(pr.client)), nil
}

func (p *Provider[T, ID]) create(ctx context.Context, id ID, cfg domain.DeploymentConfig) (*proc, error) {
	raw, err := DecodeOptions(cfg.Options)
	if err != nil {
		return nil, err
	}
	opts, err := raw.withProfile(p.profiles)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	_, dup := p.procs[id]
	p.mu.Unlock()
	if dup {
		return nil, fmt.Errorf("%w: %s already hosted", domain.ErrDuplicateID, id)
	}

	paths := PathsFor(p.root, string(id))
	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return nil, err
	}

	if pid, _ := paths.ReadPID(); Alive(pid) {
		if c, err := stream.Dial(ctx, "unix", paths.Socket); err == nil {
			p.logger.Info("Reattached to node process", "node_id", string(id), "pid", pid)
			return &proc{paths: paths, pid: pid, client: c, grace: opts.GracePeriod}, nil
		}
	}
	if err := paths.CleanStale(); err != nil {
		return nil, fmt.Errorf("clean stale files: %w", err)
	}
	return p.spawn(ctx, id, cfg, opts, paths)
}

func (p *Provider[T, ID]) spawn(ctx context.Context, id ID, cfg domain.DeploymentConfig, opts Options, paths Paths) (*proc, error) {
	if err := paths.WriteSpec(Spec{ID: string(id), Kind: p.kind, Options: cfg.Options}); err != nil {
		return nil, fmt.Errorf("write spec: %w", err)
	}
	logf, err := os.OpenFile(paths.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer logf.Close()

	args := append(slices.Clone(opts.Args),
		FlagSocket, paths.Socket,
		FlagID, string(id),
		FlagSpec, paths.Spec,
	)
	// Not CommandContext: the process outlives the creating call.
	cmd := exec.Command(opts.Command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = cmd.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = logf
	cmd.Stderr = logf
	Detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", opts.Command, err)
	}
	pr := &proc{paths: paths, pid: cmd.Process.Pid, exited: make(chan struct{}), grace: opts.GracePeriod}
	go func() {
		err := cmd.Wait()
		close(pr.exited)
		p.logger.Info("Node process exited", "node_id", string(id), "pid", pr.pid, "err", err)
	}()
	if err := paths.WritePID(pr.pid); err != nil {
		p.stop(context.Background(), pr)
		return nil, fmt.Errorf("write pid: %w", err)
	}

	c, err := dial(ctx, paths.Socket, opts, pr.exited)
	if err != nil {
		p.stop(context.Background(), pr)
		return nil, fmt.Errorf("%w (log: %s)", err, paths.Log)
	}
	pr.client = c
	p.logger.Info("Spawned node process", "node_id", string(id), "pid", pr.pid)
	return pr, nil
}

// dial connects to the child's socket, retrying while it starts listening.
func dial(ctx context.Context, socket string, opts Options, exited <-chan struct{}) (*stream.Client, error) {
	backoff := supervisor.BackoffConfig{InitialDelay: opts.DialInterval, Multiplier: 1}
	var lastErr error
	for attempt := 1; attempt <= opts.DialAttempts; attempt++ {
		c, err := stream.Dial(ctx, "unix", socket)
		if err == nil {
			return c, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-exited:
			return nil, errors.New("node process exited before accepting connections")
		case <-time.After(backoff.NextDelay(attempt)):
		}
	}
	return nil, fmt.Errorf("%w: no connection after %d attempts: %v", domain.ErrTransportDisconnected, opts.DialAttempts, lastErr)
}

// Destroy closes the connection, stops the process (SIGTERM, then SIGKILL after
// the grace period) and removes its socket, pid and spec files. The log is kept.
func (p *Provider[T, ID]) Destroy(ctx context.Context, id ID) error {
	p.mu.Lock()
	pr, ok := p.procs[id]
	delete(p.procs, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.stop(ctx, pr); err != nil {
		return domain.NewDestroyError(domain.ProviderSubprocess, string(id), err)
	}
	return nil
}

func (p *Provider[T, ID]) stop(ctx context.Context, pr *proc) error {
	if pr.client != nil {
		_ = pr.client.Close()
	}
	var errs []error
	if Alive(pr.pid) {
		if err := terminate(pr.pid); err != nil {
			errs = append(errs, err)
		}
		if !waitExit(ctx, pr, pr.grace) {
			p.logger.Warn("Node ignored SIGTERM; killing", "pid", pr.pid)
			if err := kill(pr.pid); err != nil && Alive(pr.pid) {
				errs = append(errs, err)
			}
		}
	}
	if err := pr.paths.CleanStale(); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(pr.paths.Spec); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// waitExit reports whether the process ended within grace.
func waitExit(ctx context.Context, pr *proc, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	if pr.exited != nil {
		select {
		case <-pr.exited:
			return true
		case <-timer.C:
		case <-ctx.Done():
		}
		return false
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !Alive(pr.pid) {
			return true
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

var _ ports.NodeProvider[protocol.Installation, domain.InstallationID, domain.DeploymentConfig] = (*Provider[protocol.Installation, domain.InstallationID])(nil)
