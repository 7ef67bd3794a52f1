package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/max/pkg/domain"
)

// DataStore implements ports.DataStore in memory. It understands Match but no
// filter expression.
type DataStore struct {
	installation domain.InstallationID

	mu      sync.RWMutex
	records map[string]map[string]domain.Record // entity -> id -> record
}

// NewDataStore creates an empty store answering queries on behalf of installation.
func NewDataStore(installation domain.InstallationID) *DataStore {
	return &DataStore{
		installation: installation,
		records:      make(map[string]map[string]domain.Record),
	}
}

// Put upserts records by (Entity, ID).
func (s *DataStore) Put(_ context.Context, records []domain.Record) error {
	for _, r := range records {
		if r.Entity == "" || r.ID == "" {
			return fmt.Errorf("%w: record needs entity and id", domain.ErrInvalidArgs)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		byID, ok := s.records[r.Entity]
		if !ok {
			byID = make(map[string]domain.Record)
			s.records[r.Entity] = byID
		}
		byID[r.ID] = r.Clone()
	}
	return nil
}

// Query returns the records of q.Entity matching q.Match, ordered by id.
func (s *DataStore) Query(_ context.Context, q domain.Query) (domain.ResultSet, error) {
	if q.Filter != "" {
		return domain.ResultSet{}, fmt.Errorf("%w: memory engine does not support filters", domain.ErrInvalidArgs)
	}
	rs := domain.ResultSet{Installation: s.installation, Entity: q.Entity, Records: []domain.Record{}}

	s.mu.RLock()
	for _, r := range s.records[q.Entity] {
		if r.Matches(q.Match) {
			rs.Records = append(rs.Records, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(rs.Records, func(a, b domain.Record) int { return cmp.Compare(a.ID, b.ID) })
	if q.Limit > 0 && len(rs.Records) > q.Limit {
		rs.Records = rs.Records[:q.Limit]
		rs.Truncated = true
	}
	return rs, nil
}

// Len returns the number of stored records of entity.
func (s *DataStore) Len(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entity])
}

// Close releases nothing; the data stays readable.
func (s *DataStore) Close() error { return nil }
