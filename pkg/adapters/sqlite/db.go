// Package sqlite persists sync records and synced data in a single SQLite
// file shared by every installation of a host.
package sqlite

import (
	"context"
	"fmt"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS syncs_v1 (
	id TEXT PRIMARY KEY,
	installation TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS syncs_v1_installation ON syncs_v1 (installation, started_at);
CREATE TABLE IF NOT EXISTS records_v1 (
	installation TEXT NOT NULL,
	entity TEXT NOT NULL,
	id TEXT NOT NULL,
	fields TEXT NOT NULL,
	PRIMARY KEY (installation, entity, id)
);`

// DB is an open database with the max schema applied.
type DB struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path and creates the tables if
// needed. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DB{db: db}, nil
}

// SyncStore returns the sync record store of the database.
func (d *DB) SyncStore() *SyncStore { return &SyncStore{db: d.db} }

// DataStore returns the data store of one installation. Its signature matches
// node.DataStoreFactory.
func (d *DB) DataStore(_ context.Context, id domain.InstallationID) (ports.DataStore, error) {
	return &DataStore{db: d.db, installation: id}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }
