package navsync

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rdb := setupRedis(t)
	ctx := context.Background()

	t.Run("second holder is refused until release", func(t *testing.T) {
		require.NoError(t, rdb.FlushAll(ctx).Err())
		a := NewRedisLock(rdb, "navsync:cycle", time.Minute)
		b := NewRedisLock(rdb, "navsync:cycle", time.Minute)

		release, ok, err := a.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = b.TryLock(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		release()
		releaseB, ok, err := b.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		releaseB()
	})

	t.Run("held lease is renewed past its ttl", func(t *testing.T) {
		require.NoError(t, rdb.FlushAll(ctx).Err())
		lock := NewRedisLock(rdb, "navsync:cycle", 300*time.Millisecond)

		release, ok, err := lock.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(time.Second)
		_, ok, err = lock.TryLock(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		release()
		releaseAgain, ok, err := lock.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		releaseAgain()
	})

	t.Run("release is idempotent", func(t *testing.T) {
		require.NoError(t, rdb.FlushAll(ctx).Err())
		lock := NewRedisLock(rdb, "navsync:cycle", time.Minute)

		release, ok, err := lock.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		release()
		release()

		exists, err := rdb.Exists(ctx, "navsync:cycle").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("lease expires once the holder is gone", func(t *testing.T) {
		require.NoError(t, rdb.FlushAll(ctx).Err())
		lock := NewRedisLock(rdb, "navsync:cycle", 100*time.Millisecond)

		holderCtx, holderGone := context.WithCancel(ctx)
		_, ok, err := lock.TryLock(holderCtx)
		require.NoError(t, err)
		require.True(t, ok)
		holderGone()

		assert.Eventually(t, func() bool {
			_, ok, err := lock.TryLock(ctx)
			return err == nil && ok
		}, 2*time.Second, 50*time.Millisecond)
	})

	t.Run("stale release does not drop a newer lease", func(t *testing.T) {
		require.NoError(t, rdb.FlushAll(ctx).Err())
		lock := NewRedisLock(rdb, "navsync:cycle", 100*time.Millisecond)

		holderCtx, holderGone := context.WithCancel(ctx)
		staleRelease, ok, err := lock.TryLock(holderCtx)
		require.NoError(t, err)
		require.True(t, ok)
		holderGone()
		time.Sleep(200 * time.Millisecond)

		_, ok, err = NewRedisLock(rdb, "navsync:cycle", time.Minute).TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		staleRelease()
		exists, err := rdb.Exists(ctx, "navsync:cycle").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})
}
