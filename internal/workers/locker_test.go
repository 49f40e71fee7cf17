package workers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	first, err := locker.TryLock(ctx, "k")
	require.NoError(t, err)
	second, err := locker.TryLock(ctx, "k")
	require.NoError(t, err)
	other, err := locker.TryLock(ctx, "other")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, other)

	require.NoError(t, locker.Unlock(ctx, "k"))
	again, err := locker.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "pickup-test:" + uuid.NewString()

	a := NewRedisLocker(client, 5*time.Second)
	b := NewRedisLocker(client, 5*time.Second)

	ok, err := a.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "a second instance cannot take a held lease")

	require.NoError(t, b.Unlock(ctx, key), "unlocking a lease you do not hold is a no-op")
	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx, key))
	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock(ctx, key))
}
