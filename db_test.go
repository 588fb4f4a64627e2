package s3db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/s3db/s3db/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectMemoryBackend(t *testing.T) {
	db, err := Connect(context.Background(), "memory://test-db")
	require.NoError(t, err)
	defer db.Close(context.Background())

	assert.Equal(t, "test-db/", db.DefaultNamespace())
	assert.Empty(t, db.ResourceNames())
	assert.Empty(t, db.HealingSteps())
}

func TestConnectRejectsBadConcurrency(t *testing.T) {
	_, err := Connect(context.Background(), "memory://test-db", WithConcurrency(0))
	assert.Error(t, err)
}

func TestConnectRejectsUnsupportedScheme(t *testing.T) {
	_, err := Connect(context.Background(), "ftp://nope")
	assert.Error(t, err)
}

func TestCreateResourceWithSecretFieldRequiresPassphrase(t *testing.T) {
	db, err := Connect(context.Background(), "memory://secrets-db")
	require.NoError(t, err)
	defer db.Close(context.Background())

	_, err = db.CreateResource(context.Background(), "creds", ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "token", Type: schema.TypeSecret, Required: true},
		},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDependencyMissing))
}

func TestCreateResourceWithSecretFieldSucceedsWithPassphrase(t *testing.T) {
	db, err := Connect(context.Background(), "memory://secrets-db-2", WithPassphrase("correct-horse"))
	require.NoError(t, err)
	defer db.Close(context.Background())

	res, err := db.CreateResource(context.Background(), "creds", ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "token", Type: schema.TypeSecret, Required: true},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, res)

	again, err := db.CreateResource(context.Background(), "creds", ResourceConfig{
		Attributes: []schema.Attribute{{Name: "token", Type: schema.TypeSecret, Required: true}},
	})
	require.NoError(t, err)
	assert.Same(t, res, again, "CreateResource must be idempotent")
}

func TestCoordinationReturnsSameServicePerNamespace(t *testing.T) {
	db, err := Connect(context.Background(), "memory://coord-db")
	require.NoError(t, err)
	defer db.Close(context.Background())

	a := db.Coordination("jobs", "node-1")
	b := db.Coordination("jobs", "node-1")
	assert.Same(t, a, b)

	c := db.Coordination("other", "node-1")
	assert.NotSame(t, a, c)
}

func TestWorkerMonitorSharesServiceAndIsCachedPerNamespace(t *testing.T) {
	db, err := Connect(context.Background(), "memory://worker-monitor-db")
	require.NoError(t, err)
	defer db.Close(context.Background())

	svc := db.Coordination("jobs", "node-1")
	mon := db.WorkerMonitor("jobs", "node-1")
	again := db.WorkerMonitor("jobs", "node-1")
	assert.Same(t, mon, again, "WorkerMonitor must be cached per namespace like Coordination")

	require.NoError(t, svc.Tick(context.Background()))
	require.True(t, svc.IsLeader())

	stale, err := mon.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestConnectWiresFastLockFromRedisConfig(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	db, err := Connect(context.Background(), "memory://coord-redis-db", WithRedis(mr.Addr(), "", 0))
	require.NoError(t, err)
	defer db.Close(context.Background())

	require.NotNil(t, db.fastLock, "Connect must build a FastLock when RedisAddr is configured")

	svc := db.Coordination("jobs", "node-1")
	require.NoError(t, svc.Tick(context.Background()))
	assert.True(t, svc.IsLeader(), "the only process ticking should win leadership")
}

func TestS3CredentialsUsesEmbeddedKeysWhenPresent(t *testing.T) {
	conn, err := ParseConnectionString("s3://AKID:SECRET@minio.local:9000/bucket")
	require.NoError(t, err)

	creds, err := s3Credentials(context.Background(), conn)
	require.NoError(t, err)

	v, err := creds.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", v.AccessKeyID)
	assert.Equal(t, "SECRET", v.SecretAccessKey)
}

func TestS3CredentialsFallsBackToDefaultChainWhenOmitted(t *testing.T) {
	conn, err := ParseConnectionString("s3://minio.local:9000/bucket")
	require.NoError(t, err)
	assert.Empty(t, conn.AccessKey)

	// LoadDefaultConfig only inspects env vars/shared config files, no
	// network I/O, so this resolves (possibly to anonymous/empty
	// credentials in a bare test environment) without hanging.
	_, err = s3Credentials(context.Background(), conn)
	require.NoError(t, err)
}
