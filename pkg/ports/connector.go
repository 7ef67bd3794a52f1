package ports

import (
	"context"

	"github.com/aretw0/max/pkg/domain"
)

// Loader fetches one page of records starting at cursor. An empty cursor starts
// from the beginning.
type Loader interface {
	Load(ctx context.Context, cursor string) (domain.Page, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, cursor string) (domain.Page, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, cursor string) (domain.Page, error) {
	return f(ctx, cursor)
}

// Resolver completes or normalizes a record of one entity type before it is stored.
type Resolver interface {
	Resolve(ctx context.Context, rec domain.Record) (domain.Record, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, rec domain.Record) (domain.Record, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, rec domain.Record) (domain.Record, error) {
	return f(ctx, rec)
}

// Connector is the bridge between an installation and one external system.
type Connector interface {
	// Name identifies the connector, e.g. "loam".
	Name() string
	// Schema describes the entities the connector exposes.
	Schema(ctx context.Context) (domain.Schema, error)
	// Definitions returns the named entities, loaders and resolvers used to build
	// the installation's ExecutionRegistry.
	Definitions(ctx context.Context) (Definitions, error)
	// Plan lists the sync tasks of a full synchronization, in order.
	Plan(ctx context.Context) ([]domain.TaskRecord, error)
}

// Definitions are the named building blocks of sync execution.
type Definitions struct {
	Entities  map[string]domain.EntityDef
	Loaders   map[string]Loader
	Resolvers map[string]Resolver // keyed by entity type
}

// ConnectorFactory builds a connector from opaque settings.
type ConnectorFactory func(ctx context.Context, settings map[string]any) (Connector, error)
