// Package remote attaches to nodes that another host serves over websocket.
// The provider never owns the remote process: Destroy only drops the
// connection.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/transport/ws"
	"github.com/mitchellh/mapstructure"
)

// Options are the remote-specific keys of DeploymentConfig.Options.
type Options struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	// Token is sent as a bearer Authorization header.
	Token string `mapstructure:"token"`
	// Path addresses a node below the one served at URL, e.g. an installation
	// of a remote workspace.
	Path []string `mapstructure:"path"`
}

// DecodeOptions reads Options from raw deployment options.
func DecodeOptions(raw map[string]any) (Options, error) {
	var o Options
	if err := mapstructure.WeakDecode(raw, &o); err != nil {
		return o, fmt.Errorf("%w: remote options: %v", domain.ErrInvalidArgs, err)
	}
	if o.URL == "" {
		return o, fmt.Errorf("%w: remote needs a url", domain.ErrInvalidArgs)
	}
	return o, nil
}

func (o Options) header() http.Header {
	h := make(http.Header, len(o.Headers)+1)
	for k, v := range o.Headers {
		h.Set(k, v)
	}
	if o.Token != "" {
		h.Set("Authorization", "Bearer "+o.Token)
	}
	return h
}

// Provider connects to remote nodes of one kind.
type Provider[T ports.Supervised, ID ~string] struct {
	newHandle func(ID, *dispatch.Client) T
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[ID]*ws.Client
}

// Option configures a Provider.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger configures a logger for the Provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

func newProvider[T ports.Supervised, ID ~string](newHandle func(ID, *dispatch.Client) T, opts []Option) *Provider[T, ID] {
	cfg := config{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider[T, ID]{
		newHandle: newHandle,
		logger:    cfg.logger.With("component", "remote"),
		conns:     make(map[ID]*ws.Client),
	}
}

// NewInstallationProvider attaches to remote installations.
func NewInstallationProvider(opts ...Option) *Provider[protocol.Installation, domain.InstallationID] {
	return newProvider(func(id domain.InstallationID, c *dispatch.Client) protocol.Installation {
		return protocol.NewInstallationClient(id, c)
	}, opts)
}

// NewWorkspaceProvider attaches to remote workspaces.
func NewWorkspaceProvider(opts ...Option) *Provider[protocol.Workspace, domain.WorkspaceID] {
	return newProvider(func(id domain.WorkspaceID, c *dispatch.Client) protocol.Workspace {
		return protocol.NewWorkspaceClient(id, c)
	}, opts)
}

// Create dials the node's endpoint and returns a handle to it.
func (p *Provider[T, ID]) Create(ctx context.Context, id ID, cfg domain.DeploymentConfig) (T, error) {
	var zero T
	opts, err := DecodeOptions(cfg.Options)
	if err != nil {
		return zero, domain.NewCreateError(domain.ProviderRemote, string(id), err)
	}
	p.mu.Lock()
	_, dup := p.conns[id]
	p.mu.Unlock()
	if dup {
		return zero, domain.NewCreateError(domain.ProviderRemote, string(id),
			fmt.Errorf("%w: %s already attached", domain.ErrDuplicateID, id))
	}

	conn, err := ws.Dial(ctx, opts.URL, opts.header())
	if err != nil {
		return zero, domain.NewCreateError(domain.ProviderRemote, string(id), err)
	}
	p.mu.Lock()
	p.conns[id] = conn
	p.mu.Unlock()
	p.logger.Info("Attached to remote node", "node_id", string(id), "url", opts.URL)
	return p.newHandle(id, dispatch.NewClient(conn, opts.Path...)), nil
}

// Destroy closes the connection to id. The remote node keeps running.
func (p *Provider[T, ID]) Destroy(_ context.Context, id ID) error {
	p.mu.Lock()
	conn, ok := p.conns[id]
	delete(p.conns, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil {
		return domain.NewDestroyError(domain.ProviderRemote, string(id), err)
	}
	return nil
}

var _ ports.NodeProvider[protocol.Workspace, domain.WorkspaceID, domain.DeploymentConfig] = (*Provider[protocol.Workspace, domain.WorkspaceID])(nil)
