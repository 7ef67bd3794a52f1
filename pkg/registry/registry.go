// Package registry resolves the names stored in durable sync state back to live
// entity definitions, loaders and resolvers.
package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Registry is built once and never mutated afterwards, so concurrent reads need
// no locking.
type Registry struct {
	entities  map[string]domain.EntityDef
	loaders   map[string]ports.Loader
	resolvers map[string]ports.Resolver
}

// Builder collects definitions before freezing them into a Registry.
// Duplicate names are reported by Build.
type Builder struct {
	entities  map[string]domain.EntityDef
	loaders   map[string]ports.Loader
	resolvers map[string]ports.Resolver
	dups      []string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		entities:  make(map[string]domain.EntityDef),
		loaders:   make(map[string]ports.Loader),
		resolvers: make(map[string]ports.Resolver),
	}
}

// Entity adds an entity definition under its own name.
func (b *Builder) Entity(def domain.EntityDef) *Builder {
	if _, ok := b.entities[def.Name]; ok {
		b.dups = append(b.dups, "entity "+def.Name)
	}
	b.entities[def.Name] = def
	return b
}

// Loader adds a named loader.
func (b *Builder) Loader(name string, l ports.Loader) *Builder {
	if _, ok := b.loaders[name]; ok {
		b.dups = append(b.dups, "loader "+name)
	}
	b.loaders[name] = l
	return b
}

// Resolver adds the resolver of an entity type.
func (b *Builder) Resolver(entityType string, r ports.Resolver) *Builder {
	if _, ok := b.resolvers[entityType]; ok {
		b.dups = append(b.dups, "resolver "+entityType)
	}
	b.resolvers[entityType] = r
	return b
}

// Build freezes the definitions. It fails if any name was added twice.
func (b *Builder) Build() (*Registry, error) {
	if len(b.dups) > 0 {
		return nil, fmt.Errorf("%w: duplicate registry names %v", domain.ErrInvalidArgs, b.dups)
	}
	return &Registry{
		entities:  maps.Clone(b.entities),
		loaders:   maps.Clone(b.loaders),
		resolvers: maps.Clone(b.resolvers),
	}, nil
}

// New builds a registry from connector definitions. Map keys are unique by
// construction; an entity stored under a key other than its name is rejected.
func New(defs ports.Definitions) (*Registry, error) {
	b := NewBuilder()
	for key, def := range defs.Entities {
		if def.Name == "" {
			def.Name = key
		}
		if def.Name != key {
			return nil, fmt.Errorf("%w: entity %q registered as %q", domain.ErrInvalidArgs, def.Name, key)
		}
		b.Entity(def)
	}
	for name, l := range defs.Loaders {
		b.Loader(name, l)
	}
	for typ, r := range defs.Resolvers {
		b.Resolver(typ, r)
	}
	return b.Build()
}

// Entity looks up an entity definition by name.
func (r *Registry) Entity(name string) (domain.EntityDef, bool) {
	def, ok := r.entities[name]
	return def, ok
}

// Loader looks up a loader by name.
func (r *Registry) Loader(name string) (ports.Loader, bool) {
	l, ok := r.loaders[name]
	return l, ok
}

// Resolver looks up the resolver of an entity type.
func (r *Registry) Resolver(entityType string) (ports.Resolver, bool) {
	res, ok := r.resolvers[entityType]
	return res, ok
}

// Entities returns the registered entity names, sorted.
func (r *Registry) Entities() []string {
	return slices.Sorted(maps.Keys(r.entities))
}

// Loaders returns the registered loader names, sorted.
func (r *Registry) Loaders() []string {
	return slices.Sorted(maps.Keys(r.loaders))
}
