package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFastLockTryAcquireIsExclusive(t *testing.T) {
	client := newMiniredisClient(t)
	lock := NewFastLock(client, 0)
	ctx := context.Background()

	assert.True(t, lock.TryAcquire(ctx, "jobs", "node-a"), "first acquire must succeed")
	assert.False(t, lock.TryAcquire(ctx, "jobs", "node-b"), "second acquire must fail while held")
}

func TestFastLockReleaseOnlyClearsOwnLock(t *testing.T) {
	client := newMiniredisClient(t)
	lock := NewFastLock(client, 10*time.Second)
	ctx := context.Background()

	require.True(t, lock.TryAcquire(ctx, "jobs", "node-a"))

	// node-b never held the lock, so its release must be a no-op.
	lock.Release(ctx, "jobs", "node-b")
	assert.False(t, lock.TryAcquire(ctx, "jobs", "node-c"), "node-a's lock must still be held")

	lock.Release(ctx, "jobs", "node-a")
	assert.True(t, lock.TryAcquire(ctx, "jobs", "node-c"), "lock must be free after its owner releases it")
}

func TestFastLockNilReceiverIsAlwaysAvailable(t *testing.T) {
	var lock *FastLock
	ctx := context.Background()

	assert.True(t, lock.TryAcquire(ctx, "jobs", "node-a"), "a nil FastLock must fall through to the blob lease protocol")
	lock.Release(ctx, "jobs", "node-a") // must not panic
}
