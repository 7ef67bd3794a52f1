// Package execution runs synchronization plans for one installation.
//
// A run walks its tasks in order. Each task names a loader and an entity; the
// names are resolved through the installation's registry, so a persisted run can
// be resumed by a later process that built the same registry.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/registry"
	"github.com/aretw0/max/pkg/schema"
	"github.com/google/uuid"
)

// errCancelled is the cause attached to a run context by Handle.Cancel.
var errCancelled = errors.New("sync cancelled")

// errClosed is the cause attached to live runs when the executor closes.
var errClosed = errors.New("executor closed")

// Executor starts, resumes and tracks sync runs of one installation.
type Executor struct {
	installation domain.InstallationID
	reg          *registry.Registry
	data         ports.DataStore
	store        ports.SyncStore

	logger *slog.Logger
	hooks  domain.LifecycleHooks
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	runs   map[string]*Handle
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger configures a logger for the Executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithHooks registers the OnSync callback.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithIDGenerator overrides the run id generator (random UUIDs by default).
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) { e.newID = fn }
}

// NewExecutor creates an Executor writing records to data and run state to store.
func NewExecutor(installation domain.InstallationID, reg *registry.Registry, data ports.DataStore, store ports.SyncStore, opts ...Option) *Executor {
	e := &Executor{
		installation: installation,
		reg:          reg,
		data:         data,
		store:        store,
		logger:       logging.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
		runs:         make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor", "installation", string(installation))
	return e
}

// Start persists a new run of plan and executes it in the background. The run
// outlives ctx; use the returned handle to cancel it.
func (e *Executor) Start(ctx context.Context, dom domain.Domain, plan []domain.TaskRecord) (*Handle, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty sync plan", domain.ErrInvalidArgs)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotRunning, errClosed)
	}
	now := e.now()
	rec := &domain.SyncRecord{
		ID:           e.newID(),
		Installation: e.installation,
		Domain:       dom,
		Status:       domain.SyncRunning,
		Tasks:        make([]domain.TaskRecord, len(plan)),
		StartedAt:    now,
		UpdatedAt:    now,
	}
	for i, t := range plan {
		rec.Tasks[i] = domain.TaskRecord{Entity: t.Entity, Loader: t.Loader}
	}
	if err := e.store.SaveSync(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist sync %s: %w", rec.ID, err)
	}
	return e.launch(ctx, rec)
}

// Resume continues a persisted run from its saved cursors. A live run is
// returned as is; a succeeded run is returned finished.
func (e *Executor) Resume(ctx context.Context, id string) (*Handle, error) {
	if h, ok := e.live(id); ok {
		return h, nil
	}
	rec, err := e.store.LoadSync(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Installation != e.installation {
		return nil, fmt.Errorf("%w: %s belongs to %s", domain.ErrSyncNotFound, id, rec.Installation)
	}
	if rec.Status == domain.SyncSucceeded {
		return finished(e, rec), nil
	}

	rec.Status = domain.SyncRunning
	rec.Error = ""
	rec.FinishedAt = nil
	rec.UpdatedAt = e.now()
	if err := e.store.SaveSync(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist sync %s: %w", rec.ID, err)
	}
	e.logger.Info("Resuming sync", "sync_id", id)
	return e.launch(ctx, rec)
}

// Handle returns the live handle of a run, or a finished handle over its
// persisted record. It returns domain.ErrSyncNotFound for unknown ids.
func (e *Executor) Handle(ctx context.Context, id string) (*Handle, error) {
	if h, ok := e.live(id); ok {
		return h, nil
	}
	rec, err := e.store.LoadSync(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Installation != e.installation {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
	}
	return finished(e, rec), nil
}

// List returns the installation's runs, newest first.
func (e *Executor) List(ctx context.Context) ([]*domain.SyncRecord, error) {
	return e.store.ListSyncs(ctx, e.installation)
}

// Running returns the number of live runs.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Close cancels every live run and waits for them to persist their final state.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	live := make([]*Handle, 0, len(e.runs))
	for _, h := range e.runs {
		live = append(live, h)
	}
	e.mu.Unlock()

	for _, h := range live {
		h.cancel(errClosed)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) live(id string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[id]
	return h, ok
}

func (e *Executor) launch(ctx context.Context, rec *domain.SyncRecord) (*Handle, error) {
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	h := &Handle{
		e:      e,
		id:     rec.ID,
		rec:    rec.Clone(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel(errClosed)
		return nil, fmt.Errorf("%w: %v", domain.ErrNotRunning, errClosed)
	}
	e.runs[rec.ID] = h
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("Sync started", "sync_id", rec.ID, "tasks", len(rec.Tasks))
	go func() {
		defer e.wg.Done()
		defer cancel(nil)
		e.run(runCtx, h, rec)
	}()
	return h, nil
}

// run executes the remaining tasks of rec. It owns rec; h sees clones.
func (e *Executor) run(ctx context.Context, h *Handle, rec *domain.SyncRecord) {
	err := e.runTasks(ctx, h, rec)

	status := domain.SyncSucceeded
	switch cause := context.Cause(ctx); {
	case err == nil:
	case errors.Is(cause, errCancelled):
		status, err = domain.SyncCancelled, nil
	case errors.Is(cause, errClosed):
		status = domain.SyncCancelled
	default:
		status = domain.SyncFailed
	}
	e.finish(h, rec, status, err)
}

func (e *Executor) runTasks(ctx context.Context, h *Handle, rec *domain.SyncRecord) error {
	// Writes use a context that survives cancellation so a loaded page is kept.
	wctx := context.WithoutCancel(ctx)
	for i := range rec.Tasks {
		task := &rec.Tasks[i]
		if task.Done {
			continue
		}
		loader, ok := e.reg.Loader(task.Loader)
		if !ok {
			return fmt.Errorf("%w: loader %q", domain.ErrUnresolvedName, task.Loader)
		}
		def, ok := e.reg.Entity(task.Entity)
		if !ok {
			return fmt.Errorf("%w: entity %q", domain.ErrUnresolvedName, task.Entity)
		}
		fields, err := schema.ForEntity(def)
		if err != nil {
			return err
		}
		resolver, hasResolver := e.reg.Resolver(task.Entity)

		for !task.Done {
			if err := context.Cause(ctx); ctx.Err() != nil {
				return err
			}
			page, err := loader.Load(ctx, task.Cursor)
			if err != nil {
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return fmt.Errorf("load %s at %q: %w", task.Loader, task.Cursor, err)
			}
			records := page.Records
			for j := range records {
				if records[j].Entity == "" {
					records[j].Entity = task.Entity
				}
				if hasResolver {
					if records[j], err = resolver.Resolve(ctx, records[j]); err != nil {
						return fmt.Errorf("resolve %s/%s: %w", task.Entity, records[j].ID, err)
					}
				}
				if err := fields.Check(records[j].Fields); err != nil {
					return fmt.Errorf("record %s/%s: %w", task.Entity, records[j].ID, err)
				}
			}
			if len(records) > 0 {
				if err := e.data.Put(wctx, records); err != nil {
					return fmt.Errorf("store %s page: %w", task.Entity, err)
				}
			}

			task.Loaded += len(records)
			task.Cursor = page.Next
			task.Done = page.Done || page.Next == ""
			rec.UpdatedAt = e.now()
			if err := e.store.SaveSync(wctx, rec); err != nil {
				return fmt.Errorf("persist sync %s: %w", rec.ID, err)
			}
			h.update(rec)
		}
		e.logger.Debug("Task done", "sync_id", rec.ID, "entity", task.Entity, "loaded", task.Loaded)
	}
	return nil
}

func (e *Executor) finish(h *Handle, rec *domain.SyncRecord, status domain.SyncStatus, err error) {
	now := e.now()
	rec.Status = status
	rec.UpdatedAt = now
	rec.FinishedAt = &now
	if err != nil {
		rec.Error = err.Error()
	}
	if serr := e.store.SaveSync(context.Background(), rec); serr != nil {
		e.logger.Error("Persist final sync state failed", "sync_id", rec.ID, "err", serr)
	}
	h.update(rec)

	loaded := 0
	for _, t := range rec.Tasks {
		loaded += t.Loaded
	}
	e.logger.Info("Sync finished", "sync_id", rec.ID, "status", string(status), "loaded", loaded, "err", err)
	if e.hooks.OnSync != nil {
		e.hooks.OnSync(context.Background(), &domain.SyncEvent{
			EventBase: domain.EventBase{
				Timestamp: now,
				Type:      domain.EventSync,
				NodeID:    string(e.installation),
				Kind:      domain.KindInstallation,
			},
			SyncID: rec.ID,
			Status: status,
			Loaded: loaded,
		})
	}

	e.mu.Lock()
	delete(e.runs, rec.ID)
	e.mu.Unlock()
	close(h.done)
}
