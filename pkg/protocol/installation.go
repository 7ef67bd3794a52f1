package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// registerLifecycle serves the Supervised contract of n.
func registerLifecycle(d *dispatch.Dispatcher, n ports.Supervised) {
	dispatch.NoArgs(d, MethodHealth, func(context.Context) (domain.Health, error) {
		return n.Health(), nil
	})
	dispatch.NoArgs(d, MethodStart, func(ctx context.Context) (stateResult, error) {
		st, err := n.Start(ctx)
		return stateResult{State: st}, err
	})
	dispatch.NoArgs(d, MethodStop, func(ctx context.Context) (stateResult, error) {
		st, err := n.Stop(ctx)
		return stateResult{State: st}, err
	})
}

// NewInstallationDispatcher serves inst.
func NewInstallationDispatcher(inst Installation, opts ...dispatch.Option) *dispatch.Dispatcher {
	d := dispatch.New(domain.KindInstallation, string(inst.ID()), opts...)
	registerLifecycle(d, inst)
	dispatch.NoArgs(d, MethodDescribe, func(ctx context.Context) (Description, error) {
		desc, err := inst.Describe(ctx)
		if err == nil {
			desc.Methods = d.Methods()
		}
		return desc, err
	})
	dispatch.NoArgs(d, MethodSchema, inst.Schema)
	dispatch.NoArgs(d, MethodSync, func(ctx context.Context) (*domain.SyncRecord, error) {
		h, err := inst.Sync(ctx)
		if err != nil {
			return nil, err
		}
		return h.Status(ctx)
	})
	dispatch.Method(d, MethodSyncStatus, func(ctx context.Context, a syncArgs) (*domain.SyncRecord, error) {
		h, err := inst.SyncHandle(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return h.Status(ctx)
	})
	dispatch.Method(d, MethodSyncCancel, func(ctx context.Context, a syncArgs) (any, error) {
		h, err := inst.SyncHandle(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		return nil, h.Cancel(ctx)
	})
	dispatch.NoArgs(d, MethodSyncList, inst.Syncs)
	dispatch.Method(d, MethodEngineQuery, func(ctx context.Context, q domain.Query) (domain.ResultSet, error) {
		return inst.Engine().Query(ctx, q)
	})
	return d
}

// asForwarder returns inst itself when it already forwards envelopes (a
// client handle), otherwise a dispatcher serving it in place.
func asForwarder(inst Installation) dispatch.Forwarder {
	if f, ok := inst.(dispatch.Forwarder); ok {
		return f
	}
	return NewInstallationDispatcher(inst)
}

// healthCache holds the last known health of a remote node.
type healthCache struct {
	mu sync.Mutex
	h  domain.Health
}

func newHealthCache() *healthCache {
	return &healthCache{h: domain.Health{State: domain.StateCreated, Since: time.Now()}}
}

func (c *healthCache) get() domain.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *healthCache) set(h domain.Health) {
	c.mu.Lock()
	c.h = h
	c.mu.Unlock()
}

func (c *healthCache) setState(st domain.LifecycleState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.h.State != st {
		c.h.Since = time.Now()
	}
	c.h.State = st
	c.h.Error = ""
	if err != nil && st == domain.StateFailed {
		c.h.Error = err.Error()
	}
}

// remoteNode implements the lifecycle half of every client handle.
type remoteNode struct {
	c      *dispatch.Client
	health *healthCache
}

func newRemoteNode(c *dispatch.Client) remoteNode {
	return remoteNode{c: c, health: newHealthCache()}
}

// Health returns the last known health. It never performs I/O; Probe refreshes it.
func (n remoteNode) Health() domain.Health {
	return n.health.get()
}

// Probe fetches the current health. A lost transport is reported as Failed.
func (n remoteNode) Probe(ctx context.Context) (domain.Health, error) {
	var h domain.Health
	if err := n.c.Call(ctx, MethodHealth, nil, &h); err != nil {
		if errors.Is(err, domain.ErrTransportDisconnected) {
			n.health.setState(domain.StateFailed, err)
		}
		return n.health.get(), err
	}
	n.health.set(h)
	return h, nil
}

func (n remoteNode) transition(ctx context.Context, method string) (domain.LifecycleState, error) {
	var res stateResult
	err := n.c.Call(ctx, method, nil, &res)
	if err != nil {
		// The remote state is unknown after a failed call; refresh it.
		_, _ = n.Probe(ctx)
		return n.health.get().State, err
	}
	n.health.setState(res.State, nil)
	return res.State, nil
}

func (n remoteNode) Start(ctx context.Context) (domain.LifecycleState, error) {
	return n.transition(ctx, MethodStart)
}

func (n remoteNode) Stop(ctx context.Context) (domain.LifecycleState, error) {
	return n.transition(ctx, MethodStop)
}

func (n remoteNode) Describe(ctx context.Context) (Description, error) {
	var d Description
	err := n.c.Call(ctx, MethodDescribe, nil, &d)
	return d, err
}

// Forward sends an envelope to the remote node, below this handle's path.
func (n remoteNode) Forward(ctx context.Context, req domain.Request) domain.Response {
	return n.c.Forward(ctx, req)
}

// Client returns the underlying RPC client.
func (n remoteNode) Client() *dispatch.Client { return n.c }

// Close closes the transport.
func (n remoteNode) Close() error { return n.c.Close() }

// InstallationClient is an Installation handle backed by a Transport.
type InstallationClient struct {
	remoteNode
	id domain.InstallationID

	// PollInterval is how often Wait polls the run status.
	PollInterval time.Duration
}

// NewInstallationClient creates a handle for installation id reachable through c.
func NewInstallationClient(id domain.InstallationID, c *dispatch.Client) *InstallationClient {
	return &InstallationClient{remoteNode: newRemoteNode(c), id: id, PollInterval: 100 * time.Millisecond}
}

func (ic *InstallationClient) ID() domain.InstallationID { return ic.id }

func (ic *InstallationClient) Schema(ctx context.Context) (domain.Schema, error) {
	var s domain.Schema
	err := ic.c.Call(ctx, MethodSchema, nil, &s)
	return s, err
}

func (ic *InstallationClient) Engine() ports.Engine { return engineClient{ic.c} }

func (ic *InstallationClient) Sync(ctx context.Context) (SyncHandle, error) {
	var rec domain.SyncRecord
	if err := ic.c.Call(ctx, MethodSync, nil, &rec); err != nil {
		return nil, err
	}
	return &syncClient{ic: ic, id: rec.ID}, nil
}

func (ic *InstallationClient) SyncHandle(ctx context.Context, id string) (SyncHandle, error) {
	h := &syncClient{ic: ic, id: id}
	if _, err := h.Status(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (ic *InstallationClient) Syncs(ctx context.Context) ([]*domain.SyncRecord, error) {
	var recs []*domain.SyncRecord
	err := ic.c.Call(ctx, MethodSyncList, nil, &recs)
	return recs, err
}

type engineClient struct{ c *dispatch.Client }

func (e engineClient) Query(ctx context.Context, q domain.Query) (domain.ResultSet, error) {
	var rs domain.ResultSet
	err := e.c.Call(ctx, MethodEngineQuery, q, &rs)
	return rs, err
}

type syncClient struct {
	ic *InstallationClient
	id string
}

func (s *syncClient) ID() string                          { return s.id }
func (s *syncClient) Installation() domain.InstallationID { return s.ic.id }

func (s *syncClient) Status(ctx context.Context) (*domain.SyncRecord, error) {
	var rec domain.SyncRecord
	if err := s.ic.c.Call(ctx, MethodSyncStatus, syncArgs{ID: s.id}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *syncClient) Wait(ctx context.Context) (*domain.SyncRecord, error) {
	ticker := time.NewTicker(s.ic.PollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Status(ctx)
		if err != nil {
			return nil, err
		}
		if rec.Status.Finished() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *syncClient) Cancel(ctx context.Context) error {
	return s.ic.c.Call(ctx, MethodSyncCancel, syncArgs{ID: s.id}, nil)
}

var (
	_ Installation       = (*InstallationClient)(nil)
	_ ports.Prober       = (*InstallationClient)(nil)
	_ dispatch.Forwarder = (*InstallationClient)(nil)
)
