// Package supervisor manages a set of Supervised children, each created by a
// NodeProvider and addressed by an id.
package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"golang.org/x/time/rate"
)

// child is one supervised entry.
type child[T ports.Supervised, C any] struct {
	node T
	cfg  C

	mu        sync.Mutex // guards the restart bookkeeping below
	limiter   *rate.Limiter
	attempts  int
	nextTry   time.Time
	escalated bool
}

// Status aggregates the health of every child.
type Status[ID comparable] struct {
	// Healthy is true iff every child is Running. An empty supervisor is healthy.
	Healthy  bool                 `json:"healthy"`
	Total    int                  `json:"total"`
	Running  int                  `json:"running"`
	Failed   int                  `json:"failed"`
	Children map[ID]domain.Health `json:"children"`
}

// Supervisor owns a keyed set of children.
//
// Lookups never block on lifecycle calls. Lifecycle calls are serialized per id
// and independent across ids.
type Supervisor[T ports.Supervised, ID cmp.Ordered, C any] struct {
	provider ports.NodeProvider[T, ID, C]
	cfg      config

	mu       sync.RWMutex
	children map[ID]*child[T, C]
	pending  map[ID]struct{}

	locks  *keyedLocks[ID]
	logger *slog.Logger
}

// New creates a Supervisor that creates children through provider.
func New[T ports.Supervised, ID cmp.Ordered, C any](provider ports.NodeProvider[T, ID, C], opts ...Option) *Supervisor[T, ID, C] {
	s := &Supervisor[T, ID, C]{
		provider: provider,
		cfg:      defaultConfig(),
		children: make(map[ID]*child[T, C]),
		pending:  make(map[ID]struct{}),
		locks:    newKeyedLocks[ID](),
	}
	for _, opt := range opts {
		opt(&s.cfg)
	}
	s.logger = s.cfg.logger.With("component", "supervisor")
	if s.cfg.kind != "" {
		s.logger = s.logger.With("kind", string(s.cfg.kind))
	}
	return s
}

// Register creates a child through the provider and adds it, not started.
// Provider failures are returned unchanged and leave nothing behind.
func (s *Supervisor[T, ID, C]) Register(ctx context.Context, id ID, cfg C) error {
	var zero ID
	if id == zero {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidArgs)
	}

	s.mu.Lock()
	if _, ok := s.children[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrDuplicateID, id)
	}
	if _, ok := s.pending[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v is being registered", domain.ErrDuplicateID, id)
	}
	s.pending[id] = struct{}{}
	s.mu.Unlock()

	node, err := s.provider.Create(ctx, id, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if err != nil {
		s.logger.Warn("Create failed", "node_id", fmt.Sprint(id), "err", err)
		return err
	}
	s.children[id] = &child[T, C]{
		node:    node,
		cfg:     cfg,
		limiter: rate.NewLimiter(s.cfg.restartRate, s.cfg.restartBurst),
	}
	s.logger.Info("Registered", "node_id", fmt.Sprint(id))
	return nil
}

// Get returns the child handle. It never blocks on lifecycle calls and never creates.
func (s *Supervisor[T, ID, C]) Get(id ID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.node, true
}

// Config returns the deployment configuration the child was registered with.
func (s *Supervisor[T, ID, C]) Config(id ID) (C, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[id]
	if !ok {
		var zero C
		return zero, false
	}
	return c.cfg, true
}

func (s *Supervisor[T, ID, C]) lookup(id ID) (*child[T, C], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.children[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnknownID, id)
	}
	return c, nil
}

// Start starts the child.
func (s *Supervisor[T, ID, C]) Start(ctx context.Context, id ID) (domain.LifecycleState, error) {
	c, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	var st domain.LifecycleState
	err = s.withLock(ctx, id, func(ctx context.Context) error {
		var err error
		st, err = c.node.Start(ctx)
		return err
	})
	return st, err
}

// Stop stops the child.
func (s *Supervisor[T, ID, C]) Stop(ctx context.Context, id ID) (domain.LifecycleState, error) {
	c, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	var st domain.LifecycleState
	err = s.withLock(ctx, id, func(ctx context.Context) error {
		var err error
		st, err = c.node.Stop(ctx)
		return err
	})
	return st, err
}

// Restart stops and then starts the child. It is the manual way out of Failed.
func (s *Supervisor[T, ID, C]) Restart(ctx context.Context, id ID) (domain.LifecycleState, error) {
	c, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	var st domain.LifecycleState
	err = s.withLock(ctx, id, func(ctx context.Context) error {
		var err error
		st, err = s.restartLocked(ctx, c)
		return err
	})
	return st, err
}

func (s *Supervisor[T, ID, C]) restartLocked(ctx context.Context, c *child[T, C]) (domain.LifecycleState, error) {
	if st, err := c.node.Stop(ctx); err != nil {
		return st, err
	}
	return c.node.Start(ctx)
}

// Health returns the child's health snapshot.
func (s *Supervisor[T, ID, C]) Health(id ID) (domain.Health, error) {
	c, err := s.lookup(id)
	if err != nil {
		return domain.Health{}, err
	}
	return c.node.Health(), nil
}

// List yields the ids present when each iteration begins, in ascending order.
// The sequence can be ranged over any number of times.
func (s *Supervisor[T, ID, C]) List() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for _, id := range s.snapshot() {
			if !yield(id) {
				return
			}
		}
	}
}

func (s *Supervisor[T, ID, C]) snapshot() []ID {
	s.mu.RLock()
	ids := slices.Collect(maps.Keys(s.children))
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of children.
func (s *Supervisor[T, ID, C]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children)
}

// Status aggregates child health. It never fails because a child failed.
func (s *Supervisor[T, ID, C]) Status() Status[ID] {
	s.mu.RLock()
	nodes := make(map[ID]T, len(s.children))
	for id, c := range s.children {
		nodes[id] = c.node
	}
	s.mu.RUnlock()

	st := Status[ID]{Healthy: true, Total: len(nodes), Children: make(map[ID]domain.Health, len(nodes))}
	for id, n := range nodes {
		h := n.Health()
		st.Children[id] = h
		switch h.State {
		case domain.StateRunning:
			st.Running++
		case domain.StateFailed:
			st.Failed++
			st.Healthy = false
		default:
			st.Healthy = false
		}
	}
	return st
}

// Unregister destroys a stopped, failed or never started child and removes it.
// A destroy failure keeps the entry so the call can be retried.
func (s *Supervisor[T, ID, C]) Unregister(ctx context.Context, id ID) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.withLock(ctx, id, func(ctx context.Context) error {
		switch st := c.node.Health().State; st {
		case domain.StateStopped, domain.StateFailed, domain.StateCreated:
		default:
			return fmt.Errorf("%w: %v is %s", domain.ErrNotStopped, id, st)
		}
		if err := s.provider.Destroy(ctx, id); err != nil {
			s.logger.Warn("Destroy failed", "node_id", fmt.Sprint(id), "err", err)
			return err
		}
		s.mu.Lock()
		delete(s.children, id)
		s.mu.Unlock()
		s.logger.Info("Unregistered", "node_id", fmt.Sprint(id))
		return nil
	})
}

// Shutdown stops and destroys every child concurrently and removes them.
// Errors are joined; children that could not be destroyed stay registered.
func (s *Supervisor[T, ID, C]) Shutdown(ctx context.Context) error {
	ids := s.snapshot()
	s.logger.Info("Shutting down", "children", len(ids))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			if _, err := s.Stop(ctx, id); err != nil && !errors.Is(err, domain.ErrUnknownID) {
				s.logger.Warn("Stop during shutdown failed", "node_id", fmt.Sprint(id), "err", err)
			}
			if err := s.Unregister(ctx, id); err != nil && !errors.Is(err, domain.ErrUnknownID) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%v: %w", id, err))
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}
