package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/max/pkg/domain"
)

// SyncStore implements ports.SyncStore in memory.
// Safe for concurrent use.
type SyncStore struct {
	data map[string]*domain.SyncRecord
	mu   sync.RWMutex
}

// NewSyncStore creates a new in-memory sync store.
func NewSyncStore() *SyncStore {
	return &SyncStore{
		data: make(map[string]*domain.SyncRecord),
	}
}

// SaveSync stores a copy of rec so later mutations by the caller are not visible.
func (s *SyncStore) SaveSync(_ context.Context, rec *domain.SyncRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: sync record without id", domain.ErrInvalidArgs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = rec.Clone()
	return nil
}

// LoadSync returns a copy of the stored record.
func (s *SyncStore) LoadSync(_ context.Context, id string) (*domain.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
	}
	return rec.Clone(), nil
}

// ListSyncs returns the records of installation, newest first.
func (s *SyncStore) ListSyncs(_ context.Context, installation domain.InstallationID) ([]*domain.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.SyncRecord
	for _, rec := range s.data {
		if rec.Installation == installation {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.SyncRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// DeleteSync removes the record.
func (s *SyncStore) DeleteSync(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}
