package supervisor

import (
	"context"
	"fmt"
	"sync"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedLocks serializes lifecycle calls per node id.
// It uses reference counting to garbage collect unused locks.
type keyedLocks[ID comparable] struct {
	mu    sync.Mutex
	locks map[ID]*lockEntry
}

func newKeyedLocks[ID comparable]() *keyedLocks[ID] {
	return &keyedLocks[ID]{locks: make(map[ID]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (k *keyedLocks[ID]) acquire(id ID) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, exists := k.locks[id]
	if !exists {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (k *keyedLocks[ID]) release(id ID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, exists := k.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(k.locks, id)
	}
}

// withLock executes fn while holding the lock for id, and the distributed lock
// when the supervisor has one.
func (s *Supervisor[T, ID, C]) withLock(ctx context.Context, id ID, fn func(context.Context) error) error {
	entry := s.locks.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		s.locks.release(id)
	}()

	if s.cfg.locker != nil {
		key := s.cfg.lockPrefix + fmt.Sprint(id)
		unlock, err := s.cfg.locker.Lock(ctx, key, s.cfg.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				s.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"node_id", fmt.Sprint(id),
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
