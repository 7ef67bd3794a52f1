package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/max/pkg/adapters/memory"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStore_Contract(t *testing.T) {
	tests.SyncStoreContractTest(t, memory.NewSyncStore())
}

func TestSyncStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSyncStore()
	rec := &domain.SyncRecord{ID: "s1", Installation: "inst-1", Tasks: []domain.TaskRecord{{Entity: "user"}}}
	require.NoError(t, store.SaveSync(ctx, rec))

	rec.Tasks[0].Cursor = "mutated"
	loaded, err := store.LoadSync(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Tasks[0].Cursor)

	loaded.Tasks[0].Cursor = "mutated again"
	again, _ := store.LoadSync(ctx, "s1")
	assert.Empty(t, again.Tasks[0].Cursor)
}

func TestDataStore_Contract(t *testing.T) {
	tests.DataStoreContractTest(t, memory.NewDataStore("inst-1"))
}

func TestDataStore_RejectsFilter(t *testing.T) {
	_, err := memory.NewDataStore("inst-1").Query(context.Background(), domain.Query{Entity: "user", Filter: "name = 'ada'"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}

func TestConnector_Pages(t *testing.T) {
	ctx := context.Background()
	c := memory.NewConnector(
		memory.WithPageSize(2),
		memory.WithEntity(domain.EntityDef{Name: "user"},
			domain.Record{ID: "u1"}, domain.Record{ID: "u2"}, domain.Record{ID: "u3"},
		),
	)

	plan, err := c.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskRecord{{Entity: "user", Loader: "user"}}, plan)

	defs, err := c.Definitions(ctx)
	require.NoError(t, err)
	loader := defs.Loaders["user"]

	first, err := loader.Load(ctx, "")
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	assert.Equal(t, "user", first.Records[0].Entity)
	assert.False(t, first.Done)
	assert.Equal(t, "2", first.Next)

	second, err := loader.Load(ctx, first.Next)
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.True(t, second.Done)

	_, err = loader.Load(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}

func TestConnectorFactory(t *testing.T) {
	c, err := memory.ConnectorFactory(context.Background(), map[string]any{
		"page_size": 1,
		"entities": []any{
			map[string]any{
				"name":    "user",
				"fields":  []any{map[string]any{"name": "name", "type": "string"}},
				"records": []any{map[string]any{"id": "u1", "fields": map[string]any{"name": "ada"}}},
			},
		},
	})
	require.NoError(t, err)
	s, err := c.Schema(context.Background())
	require.NoError(t, err)
	def, ok := s.Entity("user")
	require.True(t, ok)
	assert.Equal(t, "string", def.Fields[0].Type)

	_, err = memory.ConnectorFactory(context.Background(), map[string]any{"entities": []any{map[string]any{}}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}
