package coord

import (
	"context"
	"testing"
	"time"

	"github.com/s3db/s3db/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstTickAcquiresLeadership(t *testing.T) {
	backend := blob.NewMemoryBackend()
	s := New("jobs", "node-1", backend)

	require.NoError(t, s.Tick(context.Background()))
	assert.True(t, s.IsLeader())
}

func TestOnlyOneNodeBecomesLeader(t *testing.T) {
	backend := blob.NewMemoryBackend()
	a := New("jobs", "node-a", backend)
	b := New("jobs", "node-b", backend)
	ctx := context.Background()

	require.NoError(t, a.Tick(ctx))
	require.NoError(t, b.Tick(ctx))

	assert.True(t, a.IsLeader(), "the first node to write the lease must win")
	assert.False(t, b.IsLeader())
}

func TestLeaderRenewsOwnLease(t *testing.T) {
	backend := blob.NewMemoryBackend()
	s := New("jobs", "node-1", backend, WithParams(Params{
		HeartbeatInterval: time.Second,
		LeaseTimeout:      10 * time.Second,
	}))
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx))
	require.True(t, s.IsLeader())

	require.NoError(t, s.Tick(ctx))
	assert.True(t, s.IsLeader(), "renewal must keep the same node leader")
}

func TestNewLeaderTakesOverAfterExpiry(t *testing.T) {
	backend := blob.NewMemoryBackend()
	shortLease := Params{HeartbeatInterval: time.Millisecond, LeaseTimeout: time.Millisecond}

	a := New("jobs", "node-a", backend, WithParams(shortLease))
	b := New("jobs", "node-b", backend, WithParams(shortLease))
	ctx := context.Background()

	require.NoError(t, a.Tick(ctx))
	require.True(t, a.IsLeader())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.Tick(ctx))
	assert.True(t, b.IsLeader(), "an expired lease must be acquirable by another node")
}

func TestSubscribeNotifiedOnLeaderChange(t *testing.T) {
	backend := blob.NewMemoryBackend()
	s := New("jobs", "node-1", backend)
	ctx := context.Background()

	var changes []LeaderChange
	s.Subscribe(func(_ context.Context, c LeaderChange) {
		changes = append(changes, c)
	})

	require.NoError(t, s.Tick(ctx))
	require.Len(t, changes, 1)
	assert.Equal(t, "node-1", changes[0].NewLeader)
	assert.Empty(t, changes[0].PreviousLeader)

	// A second tick with no change in leadership must not notify again.
	require.NoError(t, s.Tick(ctx))
	assert.Len(t, changes, 1)
}
