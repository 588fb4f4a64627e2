package s3db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionStringS3(t *testing.T) {
	info, err := ParseConnectionString("s3://AKID:SECRET@minio.local:9000/my-bucket/prefix/path")
	require.NoError(t, err)
	assert.Equal(t, SchemeS3, info.Scheme)
	assert.Equal(t, "AKID", info.AccessKey)
	assert.Equal(t, "SECRET", info.SecretKey)
	assert.Equal(t, "minio.local:9000", info.Endpoint)
	assert.Equal(t, "my-bucket", info.Bucket)
	assert.Equal(t, "prefix/path", info.Prefix)
	assert.False(t, info.Insecure)
}

func TestParseConnectionStringInsecure(t *testing.T) {
	info, err := ParseConnectionString("s3://AKID:SECRET@localhost:9000/bucket?insecure=true")
	require.NoError(t, err)
	assert.True(t, info.Insecure)
}

func TestParseConnectionStringMemory(t *testing.T) {
	info, err := ParseConnectionString("memory://test-fixture")
	require.NoError(t, err)
	assert.Equal(t, SchemeMemory, info.Scheme)
	assert.Equal(t, "test-fixture", info.Bucket)
}

func TestParseConnectionStringGS(t *testing.T) {
	info, err := ParseConnectionString("gs://some-bucket/a/b")
	require.NoError(t, err)
	assert.Equal(t, SchemeGS, info.Scheme)
	assert.Equal(t, "some-bucket", info.Bucket)
	assert.Equal(t, "a/b", info.Prefix)
}

func TestParseConnectionStringMissingBucket(t *testing.T) {
	_, err := ParseConnectionString("s3://user:pass@host")
	assert.Error(t, err)
}

func TestParseConnectionStringUnsupportedScheme(t *testing.T) {
	_, err := ParseConnectionString("ftp://host/bucket")
	assert.Error(t, err)
}
