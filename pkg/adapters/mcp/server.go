// Package mcp exposes a workspace as a Model Context Protocol server so
// agents can inspect installations, run syncs and query records.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/max"
	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/supervisor"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StatusURI is the resource holding the workspace status.
const StatusURI = "max://status"

// StatusResponse is the output of the status tool and resource.
type StatusResponse struct {
	Workspace     protocol.Description                       `json:"workspace" jsonschema_description:"The workspace description"`
	Installations supervisor.Status[domain.InstallationID] `json:"installations" jsonschema_description:"Supervisor status of every installation"`
}

// StateResponse reports the lifecycle state reached by a transition.
type StateResponse struct {
	ID    string `json:"id"`
	State string `json:"state" jsonschema_description:"Lifecycle state after the call"`
}

// SyncResponse wraps one sync record.
type SyncResponse struct {
	Sync *domain.SyncRecord `json:"sync"`
}

type (
	idArgs struct {
		ID string `json:"id"`
	}
	registerArgs struct {
		ID       string         `json:"id"`
		Provider string         `json:"provider"`
		Options  map[string]any `json:"options"`
	}
	syncArgs struct {
		ID   string `json:"id"`
		Wait bool   `json:"wait"`
	}
	syncStatusArgs struct {
		ID   string `json:"id"`
		Sync string `json:"sync"`
	}
	queryArgs struct {
		Entity string         `json:"entity"`
		Match  map[string]any `json:"match"`
		Limit  int            `json:"limit"`
	}
)

// Server wraps a workspace and exposes it as an MCP server.
type Server struct {
	workspace protocol.Workspace
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP server for ws.
func NewServer(ws protocol.Workspace, opts ...Option) *Server {
	s := &Server{
		workspace: ws,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("max-mcp", strings.TrimSpace(max.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for embedding in other transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on Stdin/Stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on addr using SSE until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+displayAddr(addr)))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Describe the workspace and the state of every installation."),
		mcp.WithOutputSchema[StatusResponse](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("register_installation",
		mcp.WithDescription("Register a new installation. It stays stopped until start_installation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Installation ID")),
		mcp.WithString("provider", mcp.Description("Provider kind: inprocess, subprocess or remote (default inprocess)")),
		mcp.WithObject("options", mcp.Description("Provider options, e.g. connector and settings")),
		mcp.WithOutputSchema[StateResponse](),
	), mcp.NewStructuredToolHandler(s.handleRegister))

	for _, action := range []string{"start", "stop", "restart"} {
		s.mcpServer.AddTool(mcp.NewTool(action+"_installation",
			mcp.WithDescription(fmt.Sprintf("%s an installation.", strings.ToUpper(action[:1])+action[1:])),
			mcp.WithString("id", mcp.Required(), mcp.Description("Installation ID")),
			mcp.WithOutputSchema[StateResponse](),
		), mcp.NewStructuredToolHandler(s.transition(action)))
	}

	s.mcpServer.AddTool(mcp.NewTool("schema",
		mcp.WithDescription("Get the entity schema of a running installation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Installation ID")),
	), s.handleSchema)

	s.mcpServer.AddTool(mcp.NewTool("sync",
		mcp.WithDescription("Start a synchronization run of an installation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Installation ID")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run finishes")),
		mcp.WithOutputSchema[SyncResponse](),
	), mcp.NewStructuredToolHandler(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Get the latest snapshot of a sync run."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Installation ID")),
		mcp.WithString("sync", mcp.Required(), mcp.Description("Sync run ID")),
		mcp.WithOutputSchema[SyncResponse](),
	), mcp.NewStructuredToolHandler(s.handleSyncStatus))

	s.mcpServer.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Query records of an entity across every running installation."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithObject("match", mcp.Description("Field equality filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum records per installation")),
		mcp.WithOutputSchema[domain.QueryResult](),
	), mcp.NewStructuredToolHandler(s.handleQuery))
}

func (s *Server) status(ctx context.Context) (StatusResponse, error) {
	d, err := s.workspace.Describe(ctx)
	if err != nil {
		return StatusResponse{}, err
	}
	st, err := s.workspace.Installations().Status(ctx)
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{Workspace: d, Installations: st}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (StatusResponse, error) {
	return s.status(ctx)
}

func (s *Server) handleRegister(ctx context.Context, _ mcp.CallToolRequest, args registerArgs) (StateResponse, error) {
	cfg := domain.DeploymentConfig{
		Kind:    domain.ProviderKind(args.Provider),
		Options: args.Options,
	}
	if cfg.Kind == "" {
		cfg.Kind = domain.ProviderInProcess
	}
	id := domain.InstallationID(args.ID)
	if err := s.workspace.Installations().Register(ctx, id, cfg); err != nil {
		return StateResponse{}, err
	}
	s.logger.Info("Installation registered over MCP", "installation", args.ID, "provider", string(cfg.Kind))
	h, err := s.workspace.Installations().Health(ctx, id)
	if err != nil {
		return StateResponse{}, err
	}
	return StateResponse{ID: args.ID, State: h.State.String()}, nil
}

func (s *Server) transition(action string) mcp.StructuredToolHandlerFunc[idArgs, StateResponse] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args idArgs) (StateResponse, error) {
		ctl := s.workspace.Installations()
		id := domain.InstallationID(args.ID)
		var (
			st  domain.LifecycleState
			err error
		)
		switch action {
		case "start":
			st, err = ctl.Start(ctx, id)
		case "stop":
			st, err = ctl.Stop(ctx, id)
		default:
			st, err = ctl.Restart(ctx, id)
		}
		if err != nil {
			return StateResponse{}, err
		}
		return StateResponse{ID: args.ID, State: st.String()}, nil
	}
}

func (s *Server) installation(id string) (protocol.Installation, error) {
	inst, ok := s.workspace.Installation(domain.InstallationID(id))
	if !ok {
		return nil, fmt.Errorf("%w: installation %s", domain.ErrUnknownID, id)
	}
	return inst, nil
}

func (s *Server) handleSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	inst, err := s.installation(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	schema, err := inst.Schema(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schema failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(schema)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSync(ctx context.Context, _ mcp.CallToolRequest, args syncArgs) (SyncResponse, error) {
	inst, err := s.installation(args.ID)
	if err != nil {
		return SyncResponse{}, err
	}
	h, err := inst.Sync(ctx)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("sync failed: %w", err)
	}
	var rec *domain.SyncRecord
	if args.Wait {
		rec, err = h.Wait(ctx)
	} else {
		rec, err = h.Status(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return SyncResponse{}, err
	}
	return SyncResponse{Sync: rec}, nil
}

func (s *Server) handleSyncStatus(ctx context.Context, _ mcp.CallToolRequest, args syncStatusArgs) (SyncResponse, error) {
	inst, err := s.installation(args.ID)
	if err != nil {
		return SyncResponse{}, err
	}
	h, err := inst.SyncHandle(ctx, args.Sync)
	if err != nil {
		return SyncResponse{}, err
	}
	rec, err := h.Status(ctx)
	if err != nil {
		return SyncResponse{}, err
	}
	return SyncResponse{Sync: rec}, nil
}

func (s *Server) handleQuery(ctx context.Context, _ mcp.CallToolRequest, args queryArgs) (domain.QueryResult, error) {
	return s.workspace.Query(ctx, domain.Query{
		Entity: args.Entity,
		Match:  args.Match,
		Limit:  args.Limit,
	})
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StatusURI, "Workspace status",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := s.status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read status: %w", err)
		}
		jsonBytes, _ := json.Marshal(st)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatusURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
