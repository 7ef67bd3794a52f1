package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/aretw0/max/internal/config"
	adminhttp "github.com/aretw0/max/pkg/adapters/http"
	"github.com/aretw0/max/pkg/adapters/subprocess"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/transport/stream"
)

// Daemon connection retries after a spawn.
const (
	ConnectAttempts = 20
	ConnectInterval = 50 * time.Millisecond
)

const shutdownTimeout = 10 * time.Second

// Project is a resolved project root with its configuration and daemon files.
type Project struct {
	Root   string
	Config *config.Config
	Paths  config.DaemonPaths
}

// LoadProject resolves the project containing dir. A project root without a
// config file gets the defaults.
func LoadProject(dir string) (*Project, error) {
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if errors.Is(err, config.ErrNoConfig) {
		cfg, err = config.Default(root), nil
	}
	if err != nil {
		return nil, err
	}
	home, err := config.Home()
	if err != nil {
		return nil, err
	}
	return &Project{Root: root, Config: cfg, Paths: config.DaemonPathsFor(home, root)}, nil
}

// RunDaemon hosts the project's workspace until ctx is done. It serves the
// workspace on the daemon socket and, when configured, the admin API.
func RunDaemon(ctx context.Context, p *Project, logger *slog.Logger) error {
	if err := p.Paths.WriteProject(p.Root); err != nil {
		return err
	}
	files := p.files()
	if pid, _ := files.ReadPID(); pid != 0 && pid != os.Getpid() && subprocess.Alive(pid) {
		return fmt.Errorf("daemon already running for %s (pid %d)", p.Root, pid)
	}
	if err := files.WritePID(os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	defer os.Remove(p.Paths.PID)

	rt, err := NewRuntime(ctx, p.Config, p.Paths.Nodes, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			logger.Error("Daemon shutdown incomplete", "err", err)
		}
	}()
	if err := rt.Start(ctx); err != nil {
		return err
	}

	d := protocol.NewWorkspaceDispatcher(rt.Workspace,
		dispatch.WithLogger(logger),
		dispatch.WithHooks(rt.Hooks),
	)

	errCh := make(chan error, 2)
	if addr := p.Config.Admin.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           adminHandler(rt, d, p.Config.Admin, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Admin API listening", "address", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		errCh <- subprocess.ServeSocket(serveCtx, p.Paths.Socket, d)
	}()
	logger.Info("Daemon ready", "root", p.Root, "socket", p.Paths.Socket, "workspace", p.Config.Workspace)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func adminHandler(rt *Runtime, d *dispatch.Dispatcher, cfg config.AdminConfig, logger *slog.Logger) http.Handler {
	opts := []adminhttp.Option{
		adminhttp.WithLogger(logger),
		adminhttp.WithStreams(rt.Streams),
	}
	if cfg.Metrics {
		opts = append(opts, adminhttp.WithMetrics(rt.Metrics.Handler()))
	}
	if cfg.RPC {
		opts = append(opts, adminhttp.WithRPC(d))
	}
	return adminhttp.NewHandler(rt.Workspace, opts...)
}

// Spawner starts a daemon for a project.
type Spawner func(p *Project) error

// SpawnDaemon starts this binary as the project's daemon, detached, logging
// to the daemon log.
func SpawnDaemon(p *Project) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if err := p.Paths.WriteProject(p.Root); err != nil {
		return err
	}
	logf, err := os.OpenFile(p.Paths.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create daemon log: %w", err)
	}
	defer logf.Close()

	if config.DevMode() {
		fmt.Fprintln(os.Stderr, "Starting daemon in dev mode")
	}
	cmd := exec.Command(exe, "daemon", "--dir", p.Root)
	cmd.Dir = p.Root
	cmd.Stdout = logf
	cmd.Stderr = logf
	subprocess.Detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	return cmd.Process.Release()
}

// Connect dials the project daemon. When the socket is unreachable and no
// daemon process is alive, stale files are removed and spawn is called before
// retrying.
func Connect(ctx context.Context, p *Project, spawn Spawner) (*stream.Client, error) {
	if c, err := stream.Dial(ctx, "unix", p.Paths.Socket); err == nil {
		return c, nil
	}
	files := p.files()
	if pid, _ := files.ReadPID(); pid == 0 || !subprocess.Alive(pid) {
		if err := files.CleanStale(); err != nil {
			return nil, err
		}
		if err := spawn(p); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for range ConnectAttempts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ConnectInterval):
		}
		c, err := stream.Dial(ctx, "unix", p.Paths.Socket)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect after %d attempts (log: %s): %w", ConnectAttempts, p.Paths.Log, lastErr)
}

// Workspace connects to the project daemon and returns a workspace handle with
// its installation handles loaded.
func Workspace(ctx context.Context, p *Project, spawn Spawner) (*protocol.WorkspaceClient, error) {
	conn, err := Connect(ctx, p, spawn)
	if err != nil {
		return nil, err
	}
	ws := protocol.NewWorkspaceClient(domain.WorkspaceID(p.Config.Workspace), dispatch.NewClient(conn))
	if _, err := ws.Probe(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return ws, nil
}

// files returns the daemon's socket and pid files in the shape subprocess
// nodes use for theirs.
func (p *Project) files() subprocess.Paths {
	return subprocess.Paths{Socket: p.Paths.Socket, PID: p.Paths.PID}
}
