// Package http exposes a workspace over HTTP for operators: installation
// lifecycle, syncs, queries, a server-sent event stream, and optional
// Prometheus and websocket RPC endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/max"
	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/transport/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves the admin API of one workspace.
type Server struct {
	Workspace protocol.Workspace
	Streams   *StreamManager

	logger  *slog.Logger
	metrics http.Handler
	rpc     *dispatch.Dispatcher
}

// Option configures the handler.
type Option func(*Server)

// WithLogger configures a logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRPC accepts websocket connections on /rpc and serves them with d, so
// remote providers can attach to this workspace.
func WithRPC(d *dispatch.Dispatcher) Option {
	return func(s *Server) { s.rpc = d }
}

// WithStreams shares a StreamManager, typically one whose Hooks are wired
// into the nodes.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

// NewServer creates the admin server of ws.
func NewServer(ws protocol.Workspace, opts ...Option) *Server {
	s := &Server{Workspace: ws, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager()
	}
	return s
}

// NewHandler creates the HTTP handler for ws.
func NewHandler(ws protocol.Workspace, opts ...Option) http.Handler {
	return NewServer(ws, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/query", s.Query)

	r.Route("/installations", func(r chi.Router) {
		r.Get("/", s.ListInstallations)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", s.RegisterInstallation)
			r.Delete("/", s.UnregisterInstallation)
			r.Get("/health", s.InstallationHealth)
			r.Post("/{action:start|stop|restart}", s.Transition)
			r.Get("/schema", s.Schema)
			r.Get("/syncs", s.ListSyncs)
			r.Post("/syncs", s.StartSync)
			r.Get("/syncs/{sync}", s.GetSync)
			r.Post("/syncs/{sync}/cancel", s.CancelSync)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.rpc != nil {
		r.Handle("/rpc", ws.Handler(func(ctx context.Context, conn *ws.Conn) {
			_ = s.rpc.Serve(ctx, conn)
		}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindUnknownID, domain.ErrKindSyncNotFound:
		return http.StatusNotFound
	case domain.ErrKindDuplicateID, domain.ErrKindNotStopped, domain.ErrKindInvalidTransition, domain.ErrKindNotRunning:
		return http.StatusConflict
	case domain.ErrKindInvalidArgs, domain.ErrKindUnknownMethod:
		return http.StatusBadRequest
	case domain.ErrKindDisconnected, domain.ErrKindNodeCreationFailed:
		return http.StatusBadGateway
	case domain.ErrKindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	code := statusOf(kind)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Admin request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidArgs, err)
	}
	return nil
}

func installationID(r *http.Request) domain.InstallationID {
	return domain.InstallationID(chi.URLParam(r, "id"))
}

func (s *Server) installation(r *http.Request) (protocol.Installation, error) {
	id := installationID(r)
	inst, ok := s.Workspace.Installation(id)
	if !ok {
		return nil, fmt.Errorf("%w: installation %s", domain.ErrUnknownID, id)
	}
	return inst, nil
}

// GetHealth handles GET /health. It answers 503 while the workspace is not running.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Workspace.Health()
	code := http.StatusOK
	if h.State != domain.StateRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	d, err := s.Workspace.Describe(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"app":       "max-admin",
		"version":   strings.TrimSpace(max.Version),
		"workspace": d,
	})
}

// Query handles POST /query with a domain.Query body.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var q domain.Query
	if err := decodeBody(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Workspace.Query(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListInstallations handles GET /installations with the supervisor status.
func (s *Server) ListInstallations(w http.ResponseWriter, r *http.Request) {
	st, err := s.Workspace.Installations().Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RegisterInstallation handles PUT /installations/{id} with a DeploymentConfig body.
func (s *Server) RegisterInstallation(w http.ResponseWriter, r *http.Request) {
	var cfg domain.DeploymentConfig
	if err := decodeBody(r, &cfg); err != nil {
		s.fail(w, r, err)
		return
	}
	id := installationID(r)
	if err := s.Workspace.Installations().Register(r.Context(), id, cfg); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Installation registered over HTTP", "installation", string(id), "provider", string(cfg.Kind))
	w.WriteHeader(http.StatusCreated)
}

// UnregisterInstallation handles DELETE /installations/{id}.
func (s *Server) UnregisterInstallation(w http.ResponseWriter, r *http.Request) {
	if err := s.Workspace.Installations().Unregister(r.Context(), installationID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InstallationHealth handles GET /installations/{id}/health.
func (s *Server) InstallationHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Workspace.Installations().Health(r.Context(), installationID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// Transition handles POST /installations/{id}/{start|stop|restart}.
func (s *Server) Transition(w http.ResponseWriter, r *http.Request) {
	ctl := s.Workspace.Installations()
	id := installationID(r)
	var (
		st  domain.LifecycleState
		err error
	)
	switch chi.URLParam(r, "action") {
	case "start":
		st, err = ctl.Start(r.Context(), id)
	case "stop":
		st, err = ctl.Stop(r.Context(), id)
	case "restart":
		st, err = ctl.Restart(r.Context(), id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": st.String()})
}

// Schema handles GET /installations/{id}/schema.
func (s *Server) Schema(w http.ResponseWriter, r *http.Request) {
	inst, err := s.installation(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	schema, err := inst.Schema(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// ListSyncs handles GET /installations/{id}/syncs.
func (s *Server) ListSyncs(w http.ResponseWriter, r *http.Request) {
	inst, err := s.installation(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runs, err := inst.Syncs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// StartSync handles POST /installations/{id}/syncs. It answers 202 with the
// first snapshot of the run.
func (s *Server) StartSync(w http.ResponseWriter, r *http.Request) {
	inst, err := s.installation(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := inst.Sync(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := h.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+h.ID())
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) syncHandle(r *http.Request) (protocol.SyncHandle, error) {
	inst, err := s.installation(r)
	if err != nil {
		return nil, err
	}
	return inst.SyncHandle(r.Context(), chi.URLParam(r, "sync"))
}

// GetSync handles GET /installations/{id}/syncs/{sync}.
func (s *Server) GetSync(w http.ResponseWriter, r *http.Request) {
	h, err := s.syncHandle(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := h.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelSync handles POST /installations/{id}/syncs/{sync}/cancel.
func (s *Server) CancelSync(w http.ResponseWriter, r *http.Request) {
	h, err := s.syncHandle(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := h.Cancel(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
