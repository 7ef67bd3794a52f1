// Package dispatch maps request envelopes to handlers and back, and provides the
// matching client.
//
// Handlers never throw across a transport: every failure, including panics,
// becomes an RPCError in the response.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Handler answers one method. The returned value is JSON encoded as the result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Forwarder answers a complete request envelope. Dispatchers and clients are
// both forwarders, which is how requests travel down the federation.
type Forwarder interface {
	Forward(ctx context.Context, req domain.Request) domain.Response
}

// Route resolves the first path segment of a request to the child that should
// answer it.
type Route func(id string) (Forwarder, bool)

// Dispatcher routes requests by method name, or by path to a child.
type Dispatcher struct {
	kind    domain.NodeKind
	id      string
	methods map[string]Handler
	route   Route
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithRoute enables path routing to children.
func WithRoute(r Route) Option {
	return func(d *Dispatcher) { d.route = r }
}

// WithHooks registers dispatch callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(d *Dispatcher) { d.hooks = h }
}

// WithLogger configures a logger for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a dispatcher for the node identified by kind and id.
func New(kind domain.NodeKind, id string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		kind:    kind,
		id:      id,
		methods: make(map[string]Handler),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher", "kind", string(kind), "node_id", id)
	return d
}

// Register adds a handler. Registering a method twice panics: the method table
// is fixed when the dispatcher is built.
func (d *Dispatcher) Register(method string, h Handler) {
	if _, ok := d.methods[method]; ok {
		panic(fmt.Sprintf("dispatch: method %q registered twice", method))
	}
	d.methods[method] = h
}

// Methods lists the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	return slices.Sorted(maps.Keys(d.methods))
}

// Method registers a typed handler. Args are decoded strictly: unknown fields
// and trailing data are invalid arguments. Missing args decode as the zero A.
func Method[A, R any](d *Dispatcher, name string, fn func(ctx context.Context, args A) (R, error)) {
	d.Register(name, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if err := Decode(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	})
}

// NoArgs registers a handler that takes no arguments.
func NoArgs[R any](d *Dispatcher, name string, fn func(ctx context.Context) (R, error)) {
	d.Register(name, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	})
}

// Decode strictly decodes raw into v, reporting failures as domain.ErrInvalidArgs.
func Decode(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgs, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after arguments", domain.ErrInvalidArgs)
	}
	return nil
}

// Forward implements Forwarder.
func (d *Dispatcher) Forward(ctx context.Context, req domain.Request) domain.Response {
	return d.Handle(ctx, req)
}

// Handle answers one request. It never panics and always returns a response
// carrying req.ID.
func (d *Dispatcher) Handle(ctx context.Context, req domain.Request) domain.Response {
	start := time.Now()
	resp := d.handle(ctx, req)
	resp.ID = req.ID

	var kind domain.ErrorKind
	if resp.Error != nil {
		kind = resp.Error.Kind
		d.logger.Debug("Request failed", "method", req.Method, "path", req.Path, "kind", string(kind), "err", resp.Error.Message)
	}
	if d.hooks.OnDispatch != nil && len(req.Path) == 0 {
		d.hooks.OnDispatch(ctx, &domain.DispatchEvent{
			EventBase: domain.EventBase{
				Timestamp: start,
				Type:      domain.EventDispatch,
				NodeID:    d.id,
				Kind:      d.kind,
			},
			Method:   req.Method,
			ErrKind:  kind,
			Duration: time.Since(start),
		})
	}
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, req domain.Request) (resp domain.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler panic", "method", req.Method, "panic", r)
			resp = failure(fmt.Errorf("%w: panic in %s: %v", domain.ErrInternal, req.Method, r), req)
		}
	}()

	if len(req.Path) > 0 {
		return d.forward(ctx, req)
	}

	h, ok := d.methods[req.Method]
	if !ok {
		return failure(fmt.Errorf("%w: %q", domain.ErrUnknownMethod, req.Method), req)
	}
	result, err := h(ctx, req.Args)
	if err != nil {
		return failure(err, req)
	}
	if raw, ok := result.(json.RawMessage); ok {
		return domain.Response{Result: raw}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return failure(fmt.Errorf("%w: encode result: %v", domain.ErrInternal, err), req)
	}
	return domain.Response{Result: b}
}

func (d *Dispatcher) forward(ctx context.Context, req domain.Request) domain.Response {
	if d.route == nil {
		return failure(fmt.Errorf("%w: %s %q has no children", domain.ErrUnknownID, d.kind, d.id), req)
	}
	child, ok := d.route(req.Path[0])
	if !ok {
		return failure(fmt.Errorf("%w: %q", domain.ErrUnknownID, req.Path[0]), req)
	}
	sub := req
	sub.Path = req.Path[1:]
	return child.Forward(ctx, sub)
}

func failure(err error, req domain.Request) domain.Response {
	ctx := map[string]string{"method": req.Method}
	if len(req.Path) > 0 {
		ctx["path"] = fmt.Sprint(req.Path)
	}
	return domain.Response{Error: domain.NewRPCError(err, ctx)}
}

// Serve answers requests from conn until the peer disconnects or ctx is done.
// Requests are handled concurrently; a failing request never closes the
// connection.
func (d *Dispatcher) Serve(ctx context.Context, conn ports.Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		req, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, domain.ErrTransportDisconnected) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := d.Handle(ctx, req)
			if err := conn.Reply(ctx, resp); err != nil {
				d.logger.Debug("Reply failed", "method", req.Method, "err", err)
			}
		}()
	}
}
