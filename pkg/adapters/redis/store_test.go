package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/max/pkg/adapters/redis"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports/tests"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.SyncStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newStore(t)
	tests.SyncStoreContractTest(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	store, mr := newStore(t, redis.WithTTL(time.Second))
	ctx := context.Background()
	now := time.Now()

	running := &domain.SyncRecord{ID: "run-1", Installation: "inst-1", Status: domain.SyncRunning, StartedAt: now}
	finished := &domain.SyncRecord{ID: "run-2", Installation: "inst-1", Status: domain.SyncSucceeded, StartedAt: now.Add(time.Second)}
	require.NoError(t, store.SaveSync(ctx, running))
	require.NoError(t, store.SaveSync(ctx, finished))

	list, err := store.ListSyncs(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	mr.FastForward(2 * time.Second)

	_, err = store.LoadSync(ctx, "run-2")
	assert.ErrorIs(t, err, domain.ErrSyncNotFound, "finished records expire")
	_, err = store.LoadSync(ctx, "run-1")
	assert.NoError(t, err, "running records never expire")

	list, err = store.ListSyncs(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "run-1", list[0].ID)

	members, err := mr.ZMembers("max:sync:idx:inst-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, members, "the index is pruned lazily")
}

func TestRedisStore_Prefix(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.SaveSync(ctx, &domain.SyncRecord{ID: "run-1", Installation: "inst-1", StartedAt: time.Now()}))
	assert.True(t, mr.Exists("custom:app:rec:run-1"))
	assert.True(t, mr.Exists("custom:app:idx:inst-1"))

	require.NoError(t, store.DeleteSync(ctx, "run-1"))
	assert.False(t, mr.Exists("custom:app:rec:run-1"))
	require.NoError(t, store.DeleteSync(ctx, "run-1"), "deleting twice is a no-op")
}

func TestRedisStore_InvalidRecord(t *testing.T) {
	store, _ := newStore(t)
	err := store.SaveSync(context.Background(), &domain.SyncRecord{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}

func TestNewFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := redis.NewFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	tests.SyncStoreContractTest(t, store)

	_, err = redis.NewFromURL("http://nope")
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}
