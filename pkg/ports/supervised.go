package ports

import (
	"context"

	"github.com/aretw0/max/pkg/domain"
)

// Supervised is the lifecycle contract shared by every node of the federation.
type Supervised interface {
	// Health returns a snapshot of the current state. It never blocks on in-flight
	// transitions and never changes state.
	Health() domain.Health

	// Start moves the node towards Running and returns the resulting state.
	// Starting a Running or Starting node is a no-op.
	Start(ctx context.Context) (domain.LifecycleState, error)

	// Stop moves the node towards Stopped and returns the resulting state.
	// Stopping a Created, Stopping or Stopped node is a no-op.
	Stop(ctx context.Context) (domain.LifecycleState, error)
}

// Prober is implemented by nodes whose Health is a cached view of a remote process.
// Probe refreshes that view and returns it.
type Prober interface {
	Probe(ctx context.Context) (domain.Health, error)
}

// NodeProvider creates and destroys nodes for one deployment strategy.
// Nodes returned by Create are not started.
type NodeProvider[T Supervised, ID comparable, C any] interface {
	// Create builds the node. Failures are reported as *domain.ProviderError.
	Create(ctx context.Context, id ID, cfg C) (T, error)

	// Destroy releases everything held for id. Destroying an unknown id returns nil.
	Destroy(ctx context.Context, id ID) error
}
