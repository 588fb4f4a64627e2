package blob

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend implements Backend over Google Cloud Storage, selected by the
// gs:// connection scheme. Grounded on the teacher's gcs_backend.go,
// extended to carry the same object metadata and normalized-error contract
// the S3 driver provides, so the Storage Engine runs unmodified against it.
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
	gate   *Gate
	costs  *CostMeter
}

// GCSConfig configures a GCSBackend.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string // empty uses Application Default Credentials
}

// NewGCSBackend dials Google Cloud Storage.
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, newError(KindUnknown, "NewClient", err.Error(), "check GCS credentials", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		gate:   NewGate(10),
		costs:  NewCostMeter(),
	}, nil
}

func (b *GCSBackend) Costs() Costs { return b.costs.Total() }

func (b *GCSBackend) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

func (b *GCSBackend) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, contentType string) error {
	return b.gate.Do(ctx, func() error {
		b.costs.record(classPut)
		obj := b.client.Bucket(b.bucket).Object(b.fullKey(key))
		w := obj.NewWriter(ctx)
		w.Metadata = metadata
		if contentType != "" {
			w.ContentType = contentType
		}
		if _, err := w.Write(body); err != nil {
			_ = w.Close()
			return normalizeGCSError(err, "PutObject")
		}
		return normalizeGCSError(w.Close(), "PutObject")
	})
}

func (b *GCSBackend) GetObject(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := b.gate.Do(ctx, func() error {
		b.costs.record(classGet)
		o := b.client.Bucket(b.bucket).Object(b.fullKey(key))
		attrs, err := o.Attrs(ctx)
		if err != nil {
			return normalizeGCSError(err, "GetObject")
		}
		r, err := o.NewReader(ctx)
		if err != nil {
			return normalizeGCSError(err, "GetObject")
		}
		defer func() { _ = r.Close() }()

		data, err := io.ReadAll(r)
		if err != nil {
			return normalizeGCSError(err, "GetObject")
		}
		obj = &Object{
			Body:          data,
			Metadata:      attrs.Metadata,
			ContentLength: attrs.Size,
			ContentType:   attrs.ContentType,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *GCSBackend) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(b.fullKey(key)).Attrs(ctx)
	if err != nil {
		return nil, normalizeGCSError(err, "HeadObject")
	}
	return attrs.Metadata, nil
}

func (b *GCSBackend) DeleteObject(ctx context.Context, key string) error {
	return b.gate.Do(ctx, func() error {
		b.costs.record(classDelete)
		err := b.client.Bucket(b.bucket).Object(b.fullKey(key)).Delete(ctx)
		return normalizeGCSError(err, "DeleteObject")
	})
}

func (b *GCSBackend) ListObjects(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	b.costs.record(classList)
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.fullKey(prefix), Delimiter: opts.Delimiter})

	var keys []string
	cut := len(b.prefix)
	if cut > 0 {
		cut++
	}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, normalizeGCSError(err, "ListObjects")
		}
		k := attrs.Name
		if cut > 0 && len(k) >= cut {
			k = k[cut:]
		}
		keys = append(keys, k)
		if opts.MaxKeys > 0 && len(keys) >= opts.MaxKeys {
			break
		}
	}
	return &ListResult{Keys: keys}, nil
}

func (b *GCSBackend) CopyObject(ctx context.Context, src, dst string, metadata map[string]string) error {
	srcObj := b.client.Bucket(b.bucket).Object(b.fullKey(src))
	dstObj := b.client.Bucket(b.bucket).Object(b.fullKey(dst))
	copier := dstObj.CopierFrom(srcObj)
	if metadata != nil {
		copier.Metadata = metadata
	}
	_, err := copier.Run(ctx)
	return normalizeGCSError(err, "CopyObject")
}

func (b *GCSBackend) Ping(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return normalizeGCSError(err, "BucketAttrs")
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func normalizeGCSError(err error, command string) error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		kind = KindNoSuchKey
	case errors.Is(err, storage.ErrBucketNotExist):
		kind = KindNoSuchBucket
	case strings.Contains(err.Error(), "conditionNotMet"), strings.Contains(err.Error(), "precondition"):
		kind = KindContentMismatch
	case strings.Contains(err.Error(), "rateLimitExceeded"), strings.Contains(err.Error(), "429"):
		kind = KindThrottled
	case strings.Contains(err.Error(), "403"):
		kind = KindPermission
	}
	return newError(kind, command, err.Error(), "", err)
}
