package replication

import (
	"context"
	"errors"
	"testing"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/resource"
	"github.com/s3db/s3db/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogResource(t *testing.T, backend blob.Backend) *resource.Resource {
	t.Helper()
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "op", Type: schema.TypeString, Required: true},
		{Name: "resource", Type: schema.TypeString, Required: true},
		{Name: "recordId", Type: schema.TypeString, Required: true},
		{Name: "status", Type: schema.TypeString, Required: true},
		{Name: "attempts", Type: schema.TypeNumber, Default: 0},
	})
	return resource.New("replication_target-a", backend, sv,
		resource.WithBehavior(resource.BehaviorBodyOverflow),
		resource.WithPartitions(LogPartitions()...),
	)
}

func newTargetResource(backend blob.Backend) *resource.Resource {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "name", Type: schema.TypeString},
	})
	return resource.New("mirror", backend, sv)
}

func TestSyncReplicatorAppliesImmediately(t *testing.T) {
	backend := blob.NewMemoryBackend()
	log := newLogResource(t, backend)
	target := newTargetResource(backend)
	driver := &S3DBDriver{Target: target}

	r := New("target-a", driver, log, WithOptions(Options{Sync: true, MaxAttempts: 3}))
	ctx := context.Background()

	err := r.OnMutation(ctx, Mutation{Op: "insert", Resource: "widgets", ID: "w1", Record: map[string]interface{}{"name": "Widget"}})
	require.NoError(t, err)

	got, err := target.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Data["name"])
}

func TestAsyncReplicatorDefersUntilDrain(t *testing.T) {
	backend := blob.NewMemoryBackend()
	log := newLogResource(t, backend)
	target := newTargetResource(backend)
	driver := &S3DBDriver{Target: target}

	r := New("target-a", driver, log, WithOptions(Options{Sync: false, MaxAttempts: 3}))
	ctx := context.Background()

	require.NoError(t, r.OnMutation(ctx, Mutation{Op: "insert", Resource: "widgets", ID: "w1", Record: map[string]interface{}{"name": "Widget"}}))

	_, err := target.Get(ctx, "w1")
	assert.True(t, resource.IsNotFound(err), "async replication must not apply before Drain")

	n, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := target.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Data["name"])
}

func TestReplicatorRespectsResourceFilter(t *testing.T) {
	backend := blob.NewMemoryBackend()
	log := newLogResource(t, backend)
	target := newTargetResource(backend)
	driver := &S3DBDriver{Target: target}

	r := New("target-a", driver, log, WithOptions(Options{Sync: true, ResourcesFilter: []string{"widgets"}}))
	ctx := context.Background()

	require.NoError(t, r.OnMutation(ctx, Mutation{Op: "insert", Resource: "gadgets", ID: "g1", Record: map[string]interface{}{"name": "Gadget"}}))

	_, err := target.Get(ctx, "g1")
	assert.True(t, resource.IsNotFound(err), "mutations for non-matching resources must never be replicated")
}

func TestDrainRetriesFailingEntryThenDeadLetters(t *testing.T) {
	backend := blob.NewMemoryBackend()
	log := newLogResource(t, backend)

	calls := 0
	driver := CustomFunc(func(_ context.Context, _ Entry) error {
		calls++
		return errors.New("sink unavailable")
	})

	r := New("target-a", driver, log, WithOptions(Options{Sync: false, MaxAttempts: 2, BackoffBase: 0}))
	ctx := context.Background()

	require.NoError(t, r.OnMutation(ctx, Mutation{Op: "insert", Resource: "widgets", ID: "w1", Record: map[string]interface{}{"name": "Widget"}}))

	n, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a failing apply must not count as applied")
	assert.Equal(t, 1, calls)

	_, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "second attempt should exhaust MaxAttempts and dead-letter")
}

func TestSyncAllDataEnqueuesSnapshotOfSource(t *testing.T) {
	backend := blob.NewMemoryBackend()
	log := newLogResource(t, backend)
	target := newTargetResource(backend)
	driver := &S3DBDriver{Target: target}
	r := New("target-a", driver, log, WithOptions(Options{Sync: false}))

	sourceSV := schema.NewSchemaVersion([]schema.Attribute{{Name: "name", Type: schema.TypeString}})
	source := resource.New("widgets", backend, sourceSV)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := source.Insert(ctx, "", map[string]interface{}{"name": "W"})
		require.NoError(t, err)
	}

	n, err := r.SyncAllData(ctx, "widgets", source)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	applied, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
}
