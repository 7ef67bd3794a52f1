package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// ConnectorName is the name reported by fixture connectors.
const ConnectorName = "memory"

// Connector serves a fixed set of records, one loader per entity named after
// it. Pages hold PageSize records; the cursor is the offset of the next page.
type Connector struct {
	pageSize  int
	entities  []domain.EntityDef
	records   map[string][]domain.Record
	resolvers map[string]ports.Resolver
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithEntity adds an entity and the records its loader returns.
func WithEntity(def domain.EntityDef, records ...domain.Record) ConnectorOption {
	return func(c *Connector) {
		c.entities = append(c.entities, def)
		for _, r := range records {
			if r.Entity == "" {
				r.Entity = def.Name
			}
			c.records[def.Name] = append(c.records[def.Name], r)
		}
	}
}

// WithPageSize sets the number of records per page.
func WithPageSize(n int) ConnectorOption {
	return func(c *Connector) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithResolver registers a resolver for an entity type.
func WithResolver(entity string, r ports.Resolver) ConnectorOption {
	return func(c *Connector) { c.resolvers[entity] = r }
}

// NewConnector creates a fixture connector.
func NewConnector(opts ...ConnectorOption) *Connector {
	c := &Connector{
		pageSize:  100,
		records:   make(map[string][]domain.Record),
		resolvers: make(map[string]ports.Resolver),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string { return ConnectorName }

func (c *Connector) Schema(context.Context) (domain.Schema, error) {
	return domain.Schema{Connector: ConnectorName, Entities: append([]domain.EntityDef(nil), c.entities...)}, nil
}

func (c *Connector) Definitions(context.Context) (ports.Definitions, error) {
	defs := ports.Definitions{
		Entities:  make(map[string]domain.EntityDef, len(c.entities)),
		Loaders:   make(map[string]ports.Loader, len(c.entities)),
		Resolvers: make(map[string]ports.Resolver, len(c.resolvers)),
	}
	for _, e := range c.entities {
		defs.Entities[e.Name] = e
		defs.Loaders[e.Name] = c.loader(e.Name)
	}
	for name, r := range c.resolvers {
		defs.Resolvers[name] = r
	}
	return defs, nil
}

// Plan loads every entity in declaration order.
func (c *Connector) Plan(context.Context) ([]domain.TaskRecord, error) {
	plan := make([]domain.TaskRecord, 0, len(c.entities))
	for _, e := range c.entities {
		plan = append(plan, domain.TaskRecord{Entity: e.Name, Loader: e.Name})
	}
	return plan, nil
}

func (c *Connector) loader(entity string) ports.Loader {
	return ports.LoaderFunc(func(ctx context.Context, cursor string) (domain.Page, error) {
		if err := ctx.Err(); err != nil {
			return domain.Page{}, err
		}
		offset := 0
		if cursor != "" {
			n, err := strconv.Atoi(cursor)
			if err != nil || n < 0 {
				return domain.Page{}, fmt.Errorf("%w: bad cursor %q", domain.ErrInvalidArgs, cursor)
			}
			offset = n
		}
		all := c.records[entity]
		end := min(offset+c.pageSize, len(all))
		page := domain.Page{Records: make([]domain.Record, 0, max(end-offset, 0))}
		for _, r := range all[min(offset, end):end] {
			page.Records = append(page.Records, r.Clone())
		}
		if end >= len(all) {
			page.Done = true
		} else {
			page.Next = strconv.Itoa(end)
		}
		return page, nil
	})
}

type connectorSettings struct {
	PageSize int              `mapstructure:"page_size"`
	Entities []entitySettings `mapstructure:"entities"`
}

type entitySettings struct {
	domain.EntityDef `mapstructure:",squash"`
	Records          []domain.Record `mapstructure:"records"`
}

// ConnectorFactory builds fixture connectors from settings of the form
//
//	page_size: 2
//	entities:
//	  - name: user
//	    records: [{id: u1, fields: {name: ada}}]
func ConnectorFactory(_ context.Context, settings map[string]any) (ports.Connector, error) {
	var cfg connectorSettings
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("%w: memory connector settings: %v", domain.ErrInvalidArgs, err)
	}
	opts := []ConnectorOption{WithPageSize(cfg.PageSize)}
	for _, e := range cfg.Entities {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: memory connector entity without name", domain.ErrInvalidArgs)
		}
		opts = append(opts, WithEntity(e.EntityDef, e.Records...))
	}
	return NewConnector(opts...), nil
}

var _ ports.ConnectorFactory = ConnectorFactory
