package ports

import (
	"context"

	"github.com/aretw0/max/pkg/domain"
)

// Engine answers queries over one installation's data. The filter grammar
// belongs to the engine.
type Engine interface {
	Query(ctx context.Context, q domain.Query) (domain.ResultSet, error)
}

// DataStore persists synced records and queries them.
type DataStore interface {
	Engine
	// Put upserts records by (Entity, ID).
	Put(ctx context.Context, records []domain.Record) error
	Close() error
}

// SyncStore persists sync run state.
type SyncStore interface {
	// SaveSync creates or replaces the record.
	SaveSync(ctx context.Context, rec *domain.SyncRecord) error

	// LoadSync returns domain.ErrSyncNotFound if the record does not exist.
	LoadSync(ctx context.Context, id string) (*domain.SyncRecord, error)

	// ListSyncs returns the records of one installation, newest first.
	ListSyncs(ctx context.Context, installation domain.InstallationID) ([]*domain.SyncRecord, error)

	DeleteSync(ctx context.Context, id string) error
}
