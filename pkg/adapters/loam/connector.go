// Package loam connects an installation to a directory of Markdown, YAML or
// JSON documents managed by Loam. Each document is one record; its
// frontmatter names the entity.
package loam

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// ConnectorName is the catalog name of the loam connector.
const ConnectorName = "loam"

// Connector reads records from a Loam repository. Loaders page through the
// documents of one entity in id order; the cursor is the last id returned, so
// a resumed run skips what it already stored even if documents were added.
type Connector struct {
	Repo *loam.TypedRepository[DocumentMetadata]

	pageSize int
	entities []domain.EntityDef
}

// Option configures a Connector.
type Option func(*Connector)

// WithPageSize sets the number of records per page.
func WithPageSize(n int) Option {
	return func(c *Connector) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithEntities declares the entity types. Without it they are discovered from
// the documents, with no field descriptions.
func WithEntities(defs ...domain.EntityDef) Option {
	return func(c *Connector) { c.entities = append(c.entities, defs...) }
}

// New creates a connector over repo.
func New(repo core.Repository, opts ...Option) *Connector {
	c := &Connector{
		Repo:     loam.NewTypedRepository[DocumentMetadata](repo),
		pageSize: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string { return ConnectorName }

// Schema returns the declared entities or, failing that, those found in the
// repository.
func (c *Connector) Schema(ctx context.Context) (domain.Schema, error) {
	entities, err := c.entityDefs(ctx)
	if err != nil {
		return domain.Schema{}, err
	}
	return domain.Schema{Connector: ConnectorName, Entities: entities}, nil
}

func (c *Connector) entityDefs(ctx context.Context) ([]domain.EntityDef, error) {
	if len(c.entities) > 0 {
		return slices.Clone(c.entities), nil
	}
	recs, err := c.records(ctx)
	if err != nil {
		return nil, err
	}
	var defs []domain.EntityDef
	for _, r := range recs {
		if !slices.ContainsFunc(defs, func(d domain.EntityDef) bool { return d.Name == r.Entity }) {
			defs = append(defs, domain.EntityDef{Name: r.Entity})
		}
	}
	slices.SortFunc(defs, func(a, b domain.EntityDef) int { return cmp.Compare(a.Name, b.Name) })
	return defs, nil
}

// Definitions registers one loader per entity, named after it, and a resolver
// normalizing reference fields.
func (c *Connector) Definitions(ctx context.Context) (ports.Definitions, error) {
	entities, err := c.entityDefs(ctx)
	if err != nil {
		return ports.Definitions{}, err
	}
	defs := ports.Definitions{
		Entities:  make(map[string]domain.EntityDef, len(entities)),
		Loaders:   make(map[string]ports.Loader, len(entities)),
		Resolvers: make(map[string]ports.Resolver),
	}
	for _, e := range entities {
		defs.Entities[e.Name] = e
		defs.Loaders[e.Name] = c.loader(e.Name)
		if refs := refFields(e); len(refs) > 0 {
			defs.Resolvers[e.Name] = refResolver(refs)
		}
	}
	return defs, nil
}

// Plan loads every entity in schema order.
func (c *Connector) Plan(ctx context.Context) ([]domain.TaskRecord, error) {
	entities, err := c.entityDefs(ctx)
	if err != nil {
		return nil, err
	}
	plan := make([]domain.TaskRecord, 0, len(entities))
	for _, e := range entities {
		plan = append(plan, domain.TaskRecord{Entity: e.Name, Loader: e.Name})
	}
	return plan, nil
}

// records lists every document as a record, sorted by entity then id.
func (c *Connector) records(ctx context.Context) ([]domain.Record, error) {
	docs, err := c.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	out := make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Entity == "" {
			continue
		}
		rawID := doc.Data.ID
		if rawID == "" {
			rawID = doc.ID
		}
		id := trimExtension(rawID)

		key := doc.Data.Entity + "/" + id
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %s %q is defined in both %q and %q", domain.ErrInvalidArgs, doc.Data.Entity, id, existing, doc.ID)
		}
		seen[key] = doc.ID

		fields := make(map[string]any, len(doc.Data.Fields)+1)
		for k, v := range doc.Data.Fields {
			fields[k] = v
		}
		if content := strings.TrimSpace(doc.Content); content != "" {
			fields[ContentField] = content
		}
		out = append(out, domain.Record{ID: id, Entity: doc.Data.Entity, Fields: fields})
	}
	slices.SortFunc(out, func(a, b domain.Record) int {
		return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (c *Connector) loader(entity string) ports.Loader {
	return ports.LoaderFunc(func(ctx context.Context, cursor string) (domain.Page, error) {
		all, err := c.records(ctx)
		if err != nil {
			return domain.Page{}, err
		}
		var page domain.Page
		for _, r := range all {
			if r.Entity != entity || r.ID <= cursor {
				continue
			}
			if len(page.Records) == c.pageSize {
				page.Next = page.Records[len(page.Records)-1].ID
				return page, nil
			}
			page.Records = append(page.Records, r)
		}
		page.Done = true
		return page, nil
	})
}

func refFields(e domain.EntityDef) []string {
	var refs []string
	for _, f := range e.Fields {
		if f.Ref != "" {
			refs = append(refs, f.Name)
		}
	}
	return refs
}

// refResolver rewrites reference fields holding document paths ("team/core.md")
// into record ids ("team/core").
func refResolver(fields []string) ports.Resolver {
	return ports.ResolverFunc(func(_ context.Context, rec domain.Record) (domain.Record, error) {
		for _, name := range fields {
			if s, ok := rec.Fields[name].(string); ok {
				rec.Fields[name] = trimExtension(s)
			}
		}
		return rec, nil
	})
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

type settings struct {
	Path     string             `mapstructure:"path"`
	PageSize int                `mapstructure:"page_size"`
	Entities []domain.EntityDef `mapstructure:"entities"`
}

// ConnectorFactory opens the repository at settings.path read-only.
//
//	path: ./data
//	page_size: 50
//	entities:
//	  - name: user
//	    fields: [{name: team, type: string, ref: team}]
func ConnectorFactory(_ context.Context, raw map[string]any) (ports.Connector, error) {
	var s settings
	if err := mapstructure.WeakDecode(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: loam connector settings: %v", domain.ErrInvalidArgs, err)
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%w: loam connector needs a path", domain.ErrInvalidArgs)
	}
	absPath, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve loam path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithVersioning(false),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open loam repository %s: %w", absPath, err)
	}
	return New(repo, WithPageSize(s.PageSize), WithEntities(s.Entities...)), nil
}

var _ ports.ConnectorFactory = ConnectorFactory
