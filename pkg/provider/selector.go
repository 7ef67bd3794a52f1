// Package provider routes node creation to the strategy named by a
// deployment configuration.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Selector is a NodeProvider over DeploymentConfig that delegates to one
// registered provider per ProviderKind. It remembers which kind created each id
// so Destroy reaches the same strategy.
type Selector[T ports.Supervised, ID comparable] struct {
	providers map[domain.ProviderKind]ports.NodeProvider[T, ID, domain.DeploymentConfig]

	mu    sync.Mutex
	owner map[ID]domain.ProviderKind
}

// NewSelector creates an empty selector. Register providers before use.
func NewSelector[T ports.Supervised, ID comparable]() *Selector[T, ID] {
	return &Selector[T, ID]{
		providers: make(map[domain.ProviderKind]ports.NodeProvider[T, ID, domain.DeploymentConfig]),
		owner:     make(map[ID]domain.ProviderKind),
	}
}

// Register binds kind to p. It panics on an unknown or duplicate kind: the set
// of strategies is fixed at startup.
func (s *Selector[T, ID]) Register(kind domain.ProviderKind, p ports.NodeProvider[T, ID, domain.DeploymentConfig]) *Selector[T, ID] {
	if err := kind.Validate(); err != nil {
		panic(err)
	}
	if _, ok := s.providers[kind]; ok {
		panic(fmt.Sprintf("provider: %s registered twice", kind))
	}
	s.providers[kind] = p
	return s
}

// Kinds returns the registered kinds in declaration order.
func (s *Selector[T, ID]) Kinds() []domain.ProviderKind {
	var out []domain.ProviderKind
	for _, k := range domain.ProviderKinds() {
		if _, ok := s.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Create delegates to the provider registered for cfg.Kind.
func (s *Selector[T, ID]) Create(ctx context.Context, id ID, cfg domain.DeploymentConfig) (T, error) {
	var zero T
	if err := cfg.Kind.Validate(); err != nil {
		return zero, domain.NewCreateError(cfg.Kind, fmt.Sprint(id), err)
	}
	p, ok := s.providers[cfg.Kind]
	if !ok {
		return zero, domain.NewCreateError(cfg.Kind, fmt.Sprint(id), fmt.Errorf("%w: provider %s not enabled", domain.ErrInvalidArgs, cfg.Kind))
	}
	n, err := p.Create(ctx, id, cfg)
	if err != nil {
		return zero, err
	}
	s.mu.Lock()
	s.owner[id] = cfg.Kind
	s.mu.Unlock()
	return n, nil
}

// Destroy delegates to the provider that created id. Unknown ids are a no-op.
func (s *Selector[T, ID]) Destroy(ctx context.Context, id ID) error {
	s.mu.Lock()
	kind, ok := s.owner[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.providers[kind].Destroy(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.owner, id)
	s.mu.Unlock()
	return nil
}

var _ ports.NodeProvider[ports.Supervised, string, domain.DeploymentConfig] = (*Selector[ports.Supervised, string])(nil)
