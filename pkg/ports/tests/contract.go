package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SyncStoreContractTest is a reusable test suite that verifies if an adapter complies with ports.SyncStore.
func SyncStoreContractTest(t *testing.T, store ports.SyncStore) {
	t.Helper()
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	newRecord := func(id string, inst domain.InstallationID, started time.Time) *domain.SyncRecord {
		return &domain.SyncRecord{
			ID:           id,
			Installation: inst,
			Domain:       domain.Local(),
			Status:       domain.SyncRunning,
			Tasks: []domain.TaskRecord{
				{Entity: "user", Loader: "users", Cursor: "page-2", Loaded: 10},
				{Entity: "team", Loader: "teams"},
			},
			StartedAt: started.UTC().Truncate(time.Millisecond),
			UpdatedAt: started.UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		rec := newRecord(prefix+"-a", "inst-a", time.Now())
		require.NoError(t, store.SaveSync(ctx, rec))

		loaded, err := store.LoadSync(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, loaded.ID)
		assert.Equal(t, rec.Installation, loaded.Installation)
		assert.True(t, loaded.Domain.IsLocal())
		assert.Equal(t, domain.SyncRunning, loaded.Status)
		require.Len(t, loaded.Tasks, 2)
		assert.Equal(t, "page-2", loaded.Tasks[0].Cursor)
		assert.Equal(t, 10, loaded.Tasks[0].Loaded)
		assert.True(t, rec.StartedAt.Equal(loaded.StartedAt))
	})

	t.Run("Save replaces", func(t *testing.T) {
		rec := newRecord(prefix+"-b", "inst-a", time.Now())
		require.NoError(t, store.SaveSync(ctx, rec))

		rec.Status = domain.SyncSucceeded
		rec.Tasks[1].Done = true
		finished := time.Now().UTC().Truncate(time.Millisecond)
		rec.FinishedAt = &finished
		require.NoError(t, store.SaveSync(ctx, rec))

		loaded, err := store.LoadSync(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SyncSucceeded, loaded.Status)
		assert.True(t, loaded.Tasks[1].Done)
		require.NotNil(t, loaded.FinishedAt)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadSync(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrSyncNotFound)
	})

	t.Run("List by installation newest first", func(t *testing.T) {
		inst := domain.InstallationID(prefix + "-list")
		base := time.Now().Add(-time.Hour)
		for i := range 3 {
			rec := newRecord(fmt.Sprintf("%s-list-%d", prefix, i), inst, base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, store.SaveSync(ctx, rec))
		}
		require.NoError(t, store.SaveSync(ctx, newRecord(prefix+"-other", "someone-else", time.Now())))

		list, err := store.ListSyncs(ctx, inst)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, prefix+"-list-2", list[0].ID)
		assert.Equal(t, prefix+"-list-0", list[2].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := newRecord(prefix+"-c", "inst-a", time.Now())
		require.NoError(t, store.SaveSync(ctx, rec))
		require.NoError(t, store.DeleteSync(ctx, rec.ID))

		_, err := store.LoadSync(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrSyncNotFound, "Load after Delete should return ErrSyncNotFound")
	})
}

// DataStoreContractTest verifies Put/Query semantics shared by every ports.DataStore.
func DataStoreContractTest(t *testing.T, store ports.DataStore) {
	t.Helper()
	ctx := context.Background()

	records := []domain.Record{
		{ID: "u1", Entity: "user", Fields: map[string]any{"name": "ada", "team": "core"}},
		{ID: "u2", Entity: "user", Fields: map[string]any{"name": "grace", "team": "core"}},
		{ID: "u3", Entity: "user", Fields: map[string]any{"name": "linus", "team": "kernel"}},
		{ID: "t1", Entity: "team", Fields: map[string]any{"name": "core"}},
	}
	require.NoError(t, store.Put(ctx, records))

	t.Run("Query by entity", func(t *testing.T) {
		rs, err := store.Query(ctx, domain.Query{Entity: "user"})
		require.NoError(t, err)
		assert.Equal(t, "user", rs.Entity)
		assert.Len(t, rs.Records, 3)
	})

	t.Run("Query with match", func(t *testing.T) {
		rs, err := store.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"team": "core"}})
		require.NoError(t, err)
		assert.Len(t, rs.Records, 2)
	})

	t.Run("Limit truncates", func(t *testing.T) {
		rs, err := store.Query(ctx, domain.Query{Entity: "user", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, rs.Records, 1)
		assert.True(t, rs.Truncated)
	})

	t.Run("Put upserts", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, []domain.Record{
			{ID: "u1", Entity: "user", Fields: map[string]any{"name": "ada lovelace", "team": "core"}},
		}))
		rs, err := store.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"name": "ada lovelace"}})
		require.NoError(t, err)
		require.Len(t, rs.Records, 1)
		assert.Equal(t, "u1", rs.Records[0].ID)

		all, err := store.Query(ctx, domain.Query{Entity: "user"})
		require.NoError(t, err)
		assert.Len(t, all.Records, 3)
	})

	t.Run("Unknown entity is empty", func(t *testing.T) {
		rs, err := store.Query(ctx, domain.Query{Entity: "nope"})
		require.NoError(t, err)
		assert.Empty(t, rs.Records)
	})
}

// SupervisedContractTest verifies the lifecycle contract against a freshly created node.
// newNode must return a node in the Created state.
func SupervisedContractTest(t *testing.T, newNode func(t *testing.T) ports.Supervised) {
	t.Helper()
	ctx := context.Background()

	t.Run("Created", func(t *testing.T) {
		n := newNode(t)
		assert.Equal(t, domain.StateCreated, n.Health().State)
	})

	t.Run("Start then Stop", func(t *testing.T) {
		n := newNode(t)
		st, err := n.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, st)
		assert.True(t, n.Health().Running())

		st, err = n.Start(ctx)
		require.NoError(t, err, "Start on a running node is a no-op")
		assert.Equal(t, domain.StateRunning, st)

		st, err = n.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateStopped, st)
	})

	t.Run("Stop before Start is a no-op", func(t *testing.T) {
		n := newNode(t)
		st, err := n.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCreated, st)
	})

	t.Run("Restart after Stop", func(t *testing.T) {
		n := newNode(t)
		_, err := n.Start(ctx)
		require.NoError(t, err)
		_, err = n.Stop(ctx)
		require.NoError(t, err)
		st, err := n.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, st)
		_, _ = n.Stop(ctx)
	})
}
