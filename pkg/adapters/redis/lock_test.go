package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/max/pkg/adapters/redis"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockers(t *testing.T) (*redis.Locker, *redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewLocker(client, "test:"), redis.NewLocker(client, "test:"), mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	locker, _, mr := newLockers(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "inst-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:inst-1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:inst-1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	l1, l2, _ := newLockers(t)
	ctx := context.Background()

	unlock1, err := l1.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = l2.Lock(tctx, "shared", 5*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))
	unlock2, err := l2.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_UnlockKeepsForeignLock(t *testing.T) {
	l1, l2, mr := newLockers(t)
	ctx := context.Background()

	unlock1, err := l1.Lock(ctx, "inst-1", time.Second)
	require.NoError(t, err)

	// The first lease expires and another holder takes the key.
	mr.FastForward(2 * time.Second)
	unlock2, err := l2.Lock(ctx, "inst-1", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("test:lock:inst-1"), "a stale unlock must not release the new holder")
	require.NoError(t, unlock2(ctx))
}
