package s3db

import (
	"context"
	"testing"

	"github.com/s3db/s3db/internal/replication"
	"github.com/s3db/s3db/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueCreatesBackingResourceAndWorks(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://queue-db")
	require.NoError(t, err)
	defer db.Close(ctx)

	q, err := db.NewQueue(ctx, "jobs")
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, map[string]interface{}{"task": "resize"})
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["pending"])

	_, ok := db.Resource("jobs")
	assert.True(t, ok, "NewQueue must register the backing resource on the Database")
}

func TestNewCounterRequiresBaseResource(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://counter-plugin-db")
	require.NoError(t, err)
	defer db.Close(ctx)

	_, err = db.NewCounter(ctx, "accounts", "balance")
	assert.Error(t, err)
}

func TestNewCounterWiresTransactionAndAnalyticsResources(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://counter-plugin-db-2")
	require.NoError(t, err)
	defer db.Close(ctx)

	_, err = db.CreateResource(ctx, "accounts", ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "balance", Type: schema.TypeNumber, Default: 0},
		},
	})
	require.NoError(t, err)

	engine, err := db.NewCounter(ctx, "accounts", "balance")
	require.NoError(t, err)

	base, ok := db.Resource("accounts")
	require.True(t, ok)
	_, err = base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, engine.Add(ctx, "acct1", 42))

	_, ok = db.Resource("accounts_transactions_balance")
	assert.True(t, ok)
	_, ok = db.Resource("accounts_analytics_balance")
	assert.True(t, ok)
}

func TestNewReplicatorCreatesLogResource(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://replication-plugin-db")
	require.NoError(t, err)
	defer db.Close(ctx)

	target, err := db.CreateResource(ctx, "mirror", ResourceConfig{
		Attributes: []schema.Attribute{{Name: "name", Type: schema.TypeString}},
	})
	require.NoError(t, err)

	r, err := db.NewReplicator(ctx, "target-a", &replication.S3DBDriver{Target: target}, replication.WithOptions(replication.Options{Sync: true}))
	require.NoError(t, err)

	require.NoError(t, r.OnMutation(ctx, replication.Mutation{Op: "insert", Resource: "accounts", ID: "a1", Record: map[string]interface{}{"name": "Ada"}}))

	got, err := target.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Data["name"])

	_, ok := db.Resource("replication_target-a")
	assert.True(t, ok)
}

func TestNewReplicatorFiresAutomaticallyOnResourceMutation(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://replication-plugin-auto-db")
	require.NoError(t, err)
	defer db.Close(ctx)

	source, err := db.CreateResource(ctx, "accounts", ResourceConfig{
		Attributes: []schema.Attribute{{Name: "name", Type: schema.TypeString, Required: true}},
	})
	require.NoError(t, err)

	target, err := db.CreateResource(ctx, "mirror", ResourceConfig{
		Attributes: []schema.Attribute{{Name: "name", Type: schema.TypeString}},
	})
	require.NoError(t, err)

	_, err = db.NewReplicator(ctx, "target-b", &replication.S3DBDriver{Target: target}, replication.WithOptions(replication.Options{Sync: true}))
	require.NoError(t, err)

	_, err = source.Insert(ctx, "a1", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)

	got, err := target.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Data["name"], "inserting into the source resource must replicate without a manual OnMutation call")
}

func TestNewReplicatorDoesNotReplicateItsOwnLogResource(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, "memory://replication-plugin-selfloop-db")
	require.NoError(t, err)
	defer db.Close(ctx)

	target, err := db.CreateResource(ctx, "mirror", ResourceConfig{
		Attributes: []schema.Attribute{{Name: "name", Type: schema.TypeString}},
	})
	require.NoError(t, err)

	rep, err := db.NewReplicator(ctx, "target-c", &replication.S3DBDriver{Target: target}, replication.WithOptions(replication.Options{Sync: true}))
	require.NoError(t, err)

	require.NoError(t, rep.OnMutation(ctx, replication.Mutation{Op: "insert", Resource: "widgets", ID: "w1", Record: map[string]interface{}{"name": "Widget"}}))

	log, ok := db.Resource("replication_target-c")
	require.True(t, ok)
	count, err := log.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the log resource's own writes must not re-enqueue themselves")
}
