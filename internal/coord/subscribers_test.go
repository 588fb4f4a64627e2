package coord

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/s3db/s3db/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putHeartbeat(t *testing.T, backend blob.Backend, namespace, workerID string, lastSeen time.Time) {
	t.Helper()
	hb := Heartbeat{WorkerID: workerID, LastSeen: lastSeen}
	body, err := json.Marshal(hb)
	require.NoError(t, err)
	key := New(namespace, workerID, backend).workerKey(workerID)
	require.NoError(t, backend.PutObject(context.Background(), key, body, nil, "application/json"))
}

func TestCheckReportsStaleWorkers(t *testing.T) {
	backend := blob.NewMemoryBackend()
	ctx := context.Background()

	putHeartbeat(t, backend, "jobs", "worker-stale", time.Now().UTC().Add(-time.Hour))
	putHeartbeat(t, backend, "jobs", "worker-fresh", time.Now().UTC())

	s := New("jobs", "node-1", backend)
	mon := NewWorkerMonitor(s, backend).WithStaleAfter(time.Minute)

	stale, err := mon.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "worker-stale", stale[0].WorkerID)
}

func TestCheckSweepsStaleHeartbeatsWhenLeader(t *testing.T) {
	backend := blob.NewMemoryBackend()
	ctx := context.Background()

	s := New("jobs", "node-1", backend)
	require.NoError(t, s.Tick(ctx))
	require.True(t, s.IsLeader())

	putHeartbeat(t, backend, "jobs", "worker-stale", time.Now().UTC().Add(-time.Hour))

	mon := NewWorkerMonitor(s, backend).WithStaleAfter(time.Minute)
	stale, err := mon.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	key := s.workerKey("worker-stale")
	_, err = backend.GetObject(ctx, key)
	assert.True(t, blob.IsNotFound(err), "the leader must delete the stale heartbeat object")
}

func TestCheckDoesNotSweepWhenNotLeader(t *testing.T) {
	backend := blob.NewMemoryBackend()
	ctx := context.Background()

	leader := New("jobs", "node-a", backend)
	require.NoError(t, leader.Tick(ctx))
	require.True(t, leader.IsLeader())

	follower := New("jobs", "node-b", backend)
	require.NoError(t, follower.Tick(ctx))
	require.False(t, follower.IsLeader())

	putHeartbeat(t, backend, "jobs", "worker-stale", time.Now().UTC().Add(-time.Hour))

	mon := NewWorkerMonitor(follower, backend).WithStaleAfter(time.Minute)
	stale, err := mon.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1, "a non-leader still reports staleness")

	key := follower.workerKey("worker-stale")
	_, err = backend.GetObject(ctx, key)
	assert.NoError(t, err, "a non-leader must not delete the heartbeat; that is the leader's job")
}
