// Package node provides the concrete Installation, Workspace and Global nodes.
// Each embeds a lifecycle.Machine and satisfies the matching protocol surface,
// so it can be used in place or served through a dispatcher.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/execution"
	"github.com/aretw0/max/pkg/lifecycle"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/protocol"
	"github.com/aretw0/max/pkg/registry"
)

// DataStoreFactory opens the data store of one installation.
type DataStoreFactory func(ctx context.Context, id domain.InstallationID) (ports.DataStore, error)

// MemoryDataStores is the default DataStoreFactory.
func MemoryDataStores(_ context.Context, id domain.InstallationID) (ports.DataStore, error) {
	return memory.NewDataStore(id), nil
}

// Installation is an in-process installation node.
//
// Start builds the connector, its registry and the data store; Stop closes them.
// Runs interrupted by a crash are resumed on Start.
type Installation struct {
	*lifecycle.Machine

	id        domain.InstallationID
	factory   ports.ConnectorFactory
	settings  map[string]any
	dataStore DataStoreFactory
	syncs     ports.SyncStore
	dom       domain.Domain
	scheduler *execution.Scheduler
	schedule  string
	logger    *slog.Logger
	hooks     domain.LifecycleHooks

	mu   sync.RWMutex
	conn ports.Connector
	data ports.DataStore
	exec *execution.Executor
}

// InstallationOption configures an Installation.
type InstallationOption func(*Installation)

// WithSettings passes opaque settings to the connector factory.
func WithSettings(settings map[string]any) InstallationOption {
	return func(i *Installation) { i.settings = settings }
}

// WithDataStore sets how the data store is opened.
func WithDataStore(f DataStoreFactory) InstallationOption {
	return func(i *Installation) { i.dataStore = f }
}

// WithSyncStore sets where run state is persisted.
func WithSyncStore(s ports.SyncStore) InstallationOption {
	return func(i *Installation) { i.syncs = s }
}

// WithDomain sets the scope every run is tagged with. Local by default.
func WithDomain(d domain.Domain) InstallationOption {
	return func(i *Installation) { i.dom = d }
}

// WithSchedule registers periodic syncs on s while the installation runs.
func WithSchedule(s *execution.Scheduler, spec string) InstallationOption {
	return func(i *Installation) {
		i.scheduler = s
		i.schedule = spec
	}
}

// WithInstallationLogger configures a logger for the Installation.
func WithInstallationLogger(logger *slog.Logger) InstallationOption {
	return func(i *Installation) { i.logger = logger }
}

// WithInstallationHooks registers transition and sync callbacks.
func WithInstallationHooks(h domain.LifecycleHooks) InstallationOption {
	return func(i *Installation) { i.hooks = h }
}

// NewInstallation creates a stopped installation whose connector is built by factory.
func NewInstallation(id domain.InstallationID, factory ports.ConnectorFactory, opts ...InstallationOption) *Installation {
	i := &Installation{
		id:        id,
		factory:   factory,
		dataStore: MemoryDataStores,
		dom:       domain.Local(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.syncs == nil {
		i.syncs = memory.NewSyncStore()
	}
	i.logger = i.logger.With("installation", string(id))
	i.Machine = lifecycle.New(domain.KindInstallation, string(id),
		lifecycle.WithStart(i.start),
		lifecycle.WithStop(i.stop),
		lifecycle.WithHooks(i.hooks),
		lifecycle.WithLogger(i.logger),
	)
	return i
}

func (i *Installation) ID() domain.InstallationID { return i.id }

func (i *Installation) start(ctx context.Context) error {
	conn, err := i.factory(ctx, i.settings)
	if err != nil {
		return fmt.Errorf("connector: %w", err)
	}
	defs, err := conn.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("connector %s definitions: %w", conn.Name(), err)
	}
	reg, err := registry.New(defs)
	if err != nil {
		return err
	}
	data, err := i.dataStore(ctx, i.id)
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}
	exec := execution.NewExecutor(i.id, reg, data, i.syncs,
		execution.WithLogger(i.logger),
		execution.WithHooks(i.hooks),
	)

	i.mu.Lock()
	i.conn, i.data, i.exec = conn, data, exec
	i.mu.Unlock()

	if i.scheduler != nil && i.schedule != "" {
		if err := i.scheduler.Add(string(i.id), i.schedule, i.scheduledSync); err != nil {
			_ = data.Close()
			return err
		}
	}
	i.resumeInterrupted(ctx, exec)
	return nil
}

// resumeInterrupted restarts runs left Running by a previous process.
func (i *Installation) resumeInterrupted(ctx context.Context, exec *execution.Executor) {
	recs, err := i.syncs.ListSyncs(ctx, i.id)
	if err != nil {
		i.logger.Warn("List syncs failed", "err", err)
		return
	}
	for _, rec := range recs {
		if rec.Status != domain.SyncRunning {
			continue
		}
		if _, err := exec.Resume(ctx, rec.ID); err != nil {
			i.logger.Warn("Resume failed", "sync_id", rec.ID, "err", err)
		}
	}
}

func (i *Installation) scheduledSync(ctx context.Context) error {
	h, err := i.Sync(ctx)
	if err != nil {
		return err
	}
	rec, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if rec.Status == domain.SyncFailed {
		return errors.New(rec.Error)
	}
	return nil
}

func (i *Installation) stop(ctx context.Context) error {
	if i.scheduler != nil {
		i.scheduler.Remove(string(i.id))
	}
	i.mu.RLock()
	exec, data := i.exec, i.data
	i.mu.RUnlock()

	var errs []error
	if exec != nil {
		errs = append(errs, exec.Close(ctx))
	}
	if data != nil {
		errs = append(errs, data.Close())
	}
	i.mu.Lock()
	i.conn, i.data = nil, nil
	i.mu.Unlock()
	return errors.Join(errs...)
}

func (i *Installation) connector() (ports.Connector, error) {
	if err := i.Require(); err != nil {
		return nil, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.conn == nil {
		return nil, domain.ErrNotRunning
	}
	return i.conn, nil
}

func (i *Installation) executor() (*execution.Executor, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.exec == nil {
		return nil, fmt.Errorf("%w: installation %s never started", domain.ErrNotRunning, i.id)
	}
	return i.exec, nil
}

func (i *Installation) Describe(context.Context) (protocol.Description, error) {
	desc := protocol.Description{Kind: domain.KindInstallation, ID: string(i.id), Health: i.Health()}
	i.mu.RLock()
	if i.conn != nil {
		desc.Connector = i.conn.Name()
	}
	i.mu.RUnlock()
	return desc, nil
}

func (i *Installation) Schema(ctx context.Context) (domain.Schema, error) {
	conn, err := i.connector()
	if err != nil {
		return domain.Schema{}, err
	}
	s, err := conn.Schema(ctx)
	if err != nil {
		return domain.Schema{}, err
	}
	s.Installation = i.id
	if s.Connector == "" {
		s.Connector = conn.Name()
	}
	return s, nil
}

// Engine queries the data store. It is valid only while running.
func (i *Installation) Engine() ports.Engine { return installationEngine{i} }

type installationEngine struct{ i *Installation }

func (e installationEngine) Query(ctx context.Context, q domain.Query) (domain.ResultSet, error) {
	if err := e.i.Require(); err != nil {
		return domain.ResultSet{}, err
	}
	e.i.mu.RLock()
	data := e.i.data
	e.i.mu.RUnlock()
	if data == nil {
		return domain.ResultSet{}, domain.ErrNotRunning
	}
	rs, err := data.Query(ctx, q)
	if err != nil {
		return rs, err
	}
	rs.Installation = e.i.id
	return rs, nil
}

func (i *Installation) Sync(ctx context.Context) (protocol.SyncHandle, error) {
	conn, err := i.connector()
	if err != nil {
		return nil, err
	}
	plan, err := conn.Plan(ctx)
	if err != nil {
		return nil, fmt.Errorf("connector %s plan: %w", conn.Name(), err)
	}
	exec, err := i.executor()
	if err != nil {
		return nil, err
	}
	h, err := exec.Start(ctx, i.dom, plan)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// SyncHandle reattaches to a run. Finished runs stay reachable after Stop.
func (i *Installation) SyncHandle(ctx context.Context, id string) (protocol.SyncHandle, error) {
	exec, err := i.executor()
	if err != nil {
		return nil, err
	}
	h, err := exec.Handle(ctx, id)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (i *Installation) Syncs(ctx context.Context) ([]*domain.SyncRecord, error) {
	return i.syncs.ListSyncs(ctx, i.id)
}

var _ protocol.Installation = (*Installation)(nil)
