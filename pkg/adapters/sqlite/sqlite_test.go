package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/adapters/sqlite"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, path string) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSyncStore_Contract(t *testing.T) {
	tests.SyncStoreContractTest(t, open(t, ":memory:").SyncStore())
}

func TestDataStore_Contract(t *testing.T) {
	store, err := open(t, ":memory:").DataStore(context.Background(), "inst-1")
	require.NoError(t, err)
	tests.DataStoreContractTest(t, store)
}

func TestDataStore_InstallationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := open(t, ":memory:")
	a, _ := db.DataStore(ctx, "inst-a")
	b, _ := db.DataStore(ctx, "inst-b")

	require.NoError(t, a.Put(ctx, []domain.Record{{ID: "u1", Entity: "user"}}))
	rs, err := b.Query(ctx, domain.Query{Entity: "user"})
	require.NoError(t, err)
	assert.Empty(t, rs.Records)
	assert.Equal(t, domain.InstallationID("inst-b"), rs.Installation)

	_, err = a.Query(ctx, domain.Query{Entity: "user", Filter: "1=1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
	assert.ErrorIs(t, a.Put(ctx, []domain.Record{{ID: "x"}}), domain.ErrInvalidArgs)
}

func TestDB_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "max.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.SyncStore().SaveSync(ctx, &domain.SyncRecord{
		ID: "run-1", Installation: "inst-1", Status: domain.SyncRunning, StartedAt: time.Now(),
		Tasks: []domain.TaskRecord{{Entity: "user", Loader: "user", Cursor: "2", Loaded: 2}},
	}))
	ds, _ := db.DataStore(ctx, "inst-1")
	require.NoError(t, ds.Put(ctx, []domain.Record{{ID: "u1", Entity: "user", Fields: map[string]any{"n": 1}}}))
	require.NoError(t, db.Close())

	db = open(t, path)
	rec, err := db.SyncStore().LoadSync(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "2", rec.Tasks[0].Cursor)

	ds, _ = db.DataStore(ctx, "inst-1")
	rs, err := ds.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"n": 1}})
	require.NoError(t, err)
	assert.Len(t, rs.Records, 1, "numbers survive the JSON round trip for matching")
}
