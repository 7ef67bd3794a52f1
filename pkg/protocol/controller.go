package protocol

import (
	"cmp"
	"context"
	"slices"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/supervisor"
)

// supervisorController exposes a Supervisor as a Controller.
type supervisorController[T ports.Supervised, ID cmp.Ordered] struct {
	s *supervisor.Supervisor[T, ID, domain.DeploymentConfig]
}

// NewController adapts s to the Controller surface.
func NewController[T ports.Supervised, ID cmp.Ordered](s *supervisor.Supervisor[T, ID, domain.DeploymentConfig]) Controller[ID] {
	return supervisorController[T, ID]{s: s}
}

func (c supervisorController[T, ID]) Register(ctx context.Context, id ID, cfg domain.DeploymentConfig) error {
	return c.s.Register(ctx, id, cfg)
}

func (c supervisorController[T, ID]) Start(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return c.s.Start(ctx, id)
}

func (c supervisorController[T, ID]) Stop(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return c.s.Stop(ctx, id)
}

func (c supervisorController[T, ID]) Restart(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return c.s.Restart(ctx, id)
}

func (c supervisorController[T, ID]) Unregister(ctx context.Context, id ID) error {
	return c.s.Unregister(ctx, id)
}

func (c supervisorController[T, ID]) Health(_ context.Context, id ID) (domain.Health, error) {
	return c.s.Health(id)
}

func (c supervisorController[T, ID]) List(context.Context) ([]ID, error) {
	return slices.Collect(c.s.List()), nil
}

func (c supervisorController[T, ID]) Status(context.Context) (supervisor.Status[ID], error) {
	return c.s.Status(), nil
}

// registerController serves ctl under prefix ("installations." or "workspaces.").
func registerController[ID ~string](d *dispatch.Dispatcher, prefix string, ctl Controller[ID]) {
	dispatch.Method(d, prefix+opRegister, func(ctx context.Context, a registerArgs[ID]) (any, error) {
		return nil, ctl.Register(ctx, a.ID, a.Config)
	})
	dispatch.Method(d, prefix+opStart, func(ctx context.Context, a idArgs[ID]) (stateResult, error) {
		st, err := ctl.Start(ctx, a.ID)
		return stateResult{State: st}, err
	})
	dispatch.Method(d, prefix+opStop, func(ctx context.Context, a idArgs[ID]) (stateResult, error) {
		st, err := ctl.Stop(ctx, a.ID)
		return stateResult{State: st}, err
	})
	dispatch.Method(d, prefix+opRestart, func(ctx context.Context, a idArgs[ID]) (stateResult, error) {
		st, err := ctl.Restart(ctx, a.ID)
		return stateResult{State: st}, err
	})
	dispatch.Method(d, prefix+opUnregister, func(ctx context.Context, a idArgs[ID]) (any, error) {
		return nil, ctl.Unregister(ctx, a.ID)
	})
	dispatch.Method(d, prefix+opHealth, func(ctx context.Context, a idArgs[ID]) (domain.Health, error) {
		return ctl.Health(ctx, a.ID)
	})
	dispatch.NoArgs(d, prefix+opList, func(ctx context.Context) ([]ID, error) {
		return ctl.List(ctx)
	})
	dispatch.NoArgs(d, prefix+opStatus, func(ctx context.Context) (supervisor.Status[ID], error) {
		return ctl.Status(ctx)
	})
}

// controllerClient calls a remote Controller. track keeps the caller's handle
// cache in step with registrations it observes.
type controllerClient[ID ~string] struct {
	c      *dispatch.Client
	prefix string
	track  func(id ID, present bool)
	reset  func(ids []ID)
}

func (cc *controllerClient[ID]) Register(ctx context.Context, id ID, cfg domain.DeploymentConfig) error {
	if err := cc.c.Call(ctx, cc.prefix+opRegister, registerArgs[ID]{ID: id, Config: cfg}, nil); err != nil {
		return err
	}
	if cc.track != nil {
		cc.track(id, true)
	}
	return nil
}

func (cc *controllerClient[ID]) call(ctx context.Context, op string, id ID) (domain.LifecycleState, error) {
	var res stateResult
	err := cc.c.Call(ctx, cc.prefix+op, idArgs[ID]{ID: id}, &res)
	return res.State, err
}

func (cc *controllerClient[ID]) Start(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return cc.call(ctx, opStart, id)
}

func (cc *controllerClient[ID]) Stop(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return cc.call(ctx, opStop, id)
}

func (cc *controllerClient[ID]) Restart(ctx context.Context, id ID) (domain.LifecycleState, error) {
	return cc.call(ctx, opRestart, id)
}

func (cc *controllerClient[ID]) Unregister(ctx context.Context, id ID) error {
	if err := cc.c.Call(ctx, cc.prefix+opUnregister, idArgs[ID]{ID: id}, nil); err != nil {
		return err
	}
	if cc.track != nil {
		cc.track(id, false)
	}
	return nil
}

func (cc *controllerClient[ID]) Health(ctx context.Context, id ID) (domain.Health, error) {
	var h domain.Health
	err := cc.c.Call(ctx, cc.prefix+opHealth, idArgs[ID]{ID: id}, &h)
	return h, err
}

func (cc *controllerClient[ID]) List(ctx context.Context) ([]ID, error) {
	var ids []ID
	if err := cc.c.Call(ctx, cc.prefix+opList, nil, &ids); err != nil {
		return nil, err
	}
	if cc.reset != nil {
		cc.reset(ids)
	}
	return ids, nil
}

func (cc *controllerClient[ID]) Status(ctx context.Context) (supervisor.Status[ID], error) {
	var st supervisor.Status[ID]
	err := cc.c.Call(ctx, cc.prefix+opStatus, nil, &st)
	return st, err
}
