package blob

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

// TestS3BackendAgainstMinIO runs the Backend interface against a real
// S3-compatible server (MinIO, auto-started via testcontainers) rather than
// the in-memory stand-in, so the S3Backend's actual request shapes (path-
// style addressing, user-metadata round trip, CopyObject's metadata
// replace) get exercised at least once. Grounded on the teacher's
// s3_integration_test.go testcontainers mode.
func TestS3BackendAgainstMinIO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MinIO integration test in short mode")
	}

	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker not available, skipping: %v", r)
		}
	}()

	container, err := minio.Run(ctx, "minio/minio:latest", testcontainers.WithEnv(map[string]string{
		"MINIO_ROOT_USER":     "minioadmin",
		"MINIO_ROOT_PASSWORD": "minioadmin",
	}))
	if err != nil {
		t.Skipf("failed to start MinIO container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate MinIO container: %v", err)
		}
	}()

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("getting MinIO endpoint: %v", err)
	}

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String("http://" + endpoint),
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("minioadmin", "minioadmin", ""),
		UsePathStyle: true,
	})

	const bucket = "s3db-integration"
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("creating bucket: %v", err)
	}

	backend := NewS3Backend(client, bucket, "itest")

	t.Run("PutGetHeadDelete", func(t *testing.T) {
		key := "objects/basic"
		meta := map[string]string{"_v": "abc123"}

		if err := backend.PutObject(ctx, key, []byte(`{"hello":"world"}`), meta, "application/json"); err != nil {
			t.Fatalf("PutObject: %v", err)
		}

		obj, err := backend.GetObject(ctx, key)
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if string(obj.Body) != `{"hello":"world"}` {
			t.Errorf("body mismatch: got %q", obj.Body)
		}
		if obj.Metadata["_v"] != "abc123" {
			t.Errorf("metadata mismatch: got %v", obj.Metadata)
		}

		headMeta, err := backend.HeadObject(ctx, key)
		if err != nil {
			t.Fatalf("HeadObject: %v", err)
		}
		if headMeta["_v"] != "abc123" {
			t.Errorf("head metadata mismatch: got %v", headMeta)
		}

		if err := backend.DeleteObject(ctx, key); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}
		if _, err := backend.GetObject(ctx, key); !IsNotFound(err) {
			t.Errorf("expected NotFound after delete, got %v", err)
		}
	})

	t.Run("CopyObjectReplacesMetadataWithoutBodyFetch", func(t *testing.T) {
		key := "objects/patch-target"
		if err := backend.PutObject(ctx, key, []byte(`{"x":1}`), map[string]string{"a": "1"}, ""); err != nil {
			t.Fatalf("PutObject: %v", err)
		}

		if err := backend.CopyObject(ctx, key, key, map[string]string{"a": "1", "b": "2"}); err != nil {
			t.Fatalf("CopyObject: %v", err)
		}

		obj, err := backend.GetObject(ctx, key)
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if string(obj.Body) != `{"x":1}` {
			t.Errorf("CopyObject must preserve the body, got %q", obj.Body)
		}
		if obj.Metadata["a"] != "1" || obj.Metadata["b"] != "2" {
			t.Errorf("CopyObject must merge new metadata, got %v", obj.Metadata)
		}
	})

	t.Run("ListObjects", func(t *testing.T) {
		prefix := "objects/list/"
		for i := 0; i < 3; i++ {
			key := prefix + string(rune('a'+i))
			if err := backend.PutObject(ctx, key, nil, nil, ""); err != nil {
				t.Fatalf("PutObject: %v", err)
			}
		}

		result, err := backend.ListObjects(ctx, prefix, ListOptions{})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if len(result.Keys) != 3 {
			t.Errorf("expected 3 keys, got %d: %v", len(result.Keys), result.Keys)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := backend.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
