package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLockAcquireRelease(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	lock := NewLock(client)

	acquired, err := lock.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquisition of a held lock fails
	again, err := lock.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, lock.Release(ctx, "scheduler"))

	reacquired, err := lock.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestLockOnlyOwnerReleases(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	lockA := NewLock(client)
	lockB := NewLock(client)

	acquired, err := lockA.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// B's release is a no-op against A's lock
	require.NoError(t, lockB.Release(ctx, "scheduler"))

	stillHeld, err := lockB.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, stillHeld)
}

func TestLockExpires(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	lock := NewLock(client)

	acquired, err := lock.Acquire(ctx, "scheduler", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)

	reacquired, err := lock.Acquire(ctx, "scheduler", time.Second)
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestDebouncerCollapsesWindow(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	d := NewDebouncer(client)

	first, err := d.Allow(ctx, "notify:chan-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, first)

	for i := 0; i < 3; i++ {
		again, err := d.Allow(ctx, "notify:chan-1", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, again)
	}

	// Another key is independent
	other, err := d.Allow(ctx, "notify:chan-2", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, other)

	mr.FastForward(6 * time.Second)

	after, err := d.Allow(ctx, "notify:chan-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, after)
}
