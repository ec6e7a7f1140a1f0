package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/easel/pkg/adapters/redis"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewFromClient(client, redis.WithPrefix("test:lock:"))
}

func TestRedisLocker_TryLock(t *testing.T) {
	mr, locker := setup(t)
	ctx := context.Background()

	ok, holder, err := locker.TryLock(ctx, "c1", "session-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "session-a", holder)
	assert.True(t, mr.Exists("test:lock:c1"), "Lock key should be set in Redis")

	ok, holder, err = locker.TryLock(ctx, "c1", "session-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "session-a", holder)

	// Re-acquiring refreshes the TTL.
	mr.FastForward(4 * time.Second)
	ok, _, err = locker.TryLock(ctx, "c1", "session-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	mr.FastForward(4 * time.Second)
	assert.True(t, mr.Exists("test:lock:c1"))

	// Only the owner may unlock.
	require.NoError(t, locker.Unlock(ctx, "c1", "session-b"))
	assert.True(t, mr.Exists("test:lock:c1"))
	require.NoError(t, locker.Unlock(ctx, "c1", "session-a"))
	assert.False(t, mr.Exists("test:lock:c1"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Expiry(t *testing.T) {
	mr, locker := setup(t)
	ctx := context.Background()

	ok, _, err := locker.TryLock(ctx, "c1", "crashed", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, holder, err := locker.TryLock(ctx, "c1", "session-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "session-b", holder)
}

func TestRedisLocker_SharedBetweenManagers(t *testing.T) {
	_, locker := setup(t)
	ctx := context.Background()

	replicaA := lock.NewManager(lock.WithLocker(locker, time.Minute))
	replicaB := lock.NewManager(lock.WithLocker(locker, time.Minute))

	require.NoError(t, replicaA.Acquire(ctx, "c1", "session-a"))
	err := replicaB.Acquire(ctx, "c1", "session-b")
	assert.ErrorIs(t, err, domain.ErrCanvasLocked)

	released, err := replicaA.Release(ctx, "c1", "session-a")
	require.NoError(t, err)
	assert.True(t, released)
	require.NoError(t, replicaB.Acquire(ctx, "c1", "session-b"))
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, locker := setup(t)
	mr.Close()

	_, _, err := locker.TryLock(context.Background(), "c1", "session-a", time.Second)
	assert.Error(t, err)
}
