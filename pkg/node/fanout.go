package node

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/supervisor"
)

// fanOut calls fn on every running child concurrently and merges the results.
// Sets are ordered by child id. Error keys are child ids, and nested error
// keys are prefixed with the child id.
func fanOut[T ports.Supervised, ID ~string](
	ctx context.Context,
	sup *supervisor.Supervisor[T, ID, domain.DeploymentConfig],
	fn func(context.Context, T) (domain.QueryResult, error),
) domain.QueryResult {
	type answer struct {
		res domain.QueryResult
		err error
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		answers = make(map[ID]answer)
	)
	for id := range sup.List() {
		child, ok := sup.Get(id)
		if !ok {
			continue
		}
		if st := child.Health().State; st != domain.StateRunning {
			mu.Lock()
			answers[id] = answer{err: fmt.Errorf("%w: %s", domain.ErrNotRunning, st)}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fn(ctx, child)
			mu.Lock()
			answers[id] = answer{res, err}
			mu.Unlock()
		}()
	}
	wg.Wait()

	out := domain.QueryResult{Sets: []domain.ResultSet{}}
	for _, id := range slices.Sorted(maps.Keys(answers)) {
		a := answers[id]
		if a.err != nil {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[string(id)] = a.err.Error()
			continue
		}
		out.Sets = append(out.Sets, a.res.Sets...)
		for k, v := range a.res.Errors {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[string(id)+"/"+k] = v
		}
	}
	return out
}

// stopAll stops every running child, in parallel. Failures are left to the
// children's health.
func stopAll[T ports.Supervised, ID ~string](ctx context.Context, sup *supervisor.Supervisor[T, ID, domain.DeploymentConfig]) error {
	var wg sync.WaitGroup
	for id := range sup.List() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sup.Stop(ctx, id)
		}()
	}
	wg.Wait()
	return ctx.Err()
}
