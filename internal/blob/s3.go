package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Backend implements Backend over AWS S3 or any S3-compatible endpoint,
// grounded on the teacher's s3_backend.go.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	retry  RetryConfig
	gate   *Gate
	costs  *CostMeter
}

// NewS3Backend wraps an AWS SDK v2 client. prefix is prepended to every key
// (the database's key-prefix, spec.md §3).
func NewS3Backend(client *s3.Client, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
		retry:  DefaultRetryConfig(),
		gate:   NewGate(10),
		costs:  NewCostMeter(),
	}
}

// WithConcurrency overrides the default parallelism bound P.
func (b *S3Backend) WithConcurrency(p int) *S3Backend {
	b.gate = NewGate(p)
	return b
}

// WithRetryConfig overrides the default retry policy.
func (b *S3Backend) WithRetryConfig(cfg RetryConfig) *S3Backend {
	b.retry = cfg
	return b
}

// Costs returns the accumulated request-cost projection.
func (b *S3Backend) Costs() Costs { return b.costs.Total() }

func (b *S3Backend) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

func (b *S3Backend) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, contentType string) error {
	return b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			b.costs.record(classPut)
			input := &s3.PutObjectInput{
				Bucket:   aws.String(b.bucket),
				Key:      aws.String(b.fullKey(key)),
				Body:     bytes.NewReader(body),
				Metadata: metadata,
			}
			if contentType != "" {
				input.ContentType = aws.String(contentType)
			}
			_, err := b.client.PutObject(ctx, input)
			return normalizeError(err, "PutObject")
		})
	})
}

func (b *S3Backend) GetObject(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			b.costs.record(classGet)
			out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
			})
			if err != nil {
				return normalizeError(err, "GetObject")
			}
			defer func() { _ = out.Body.Close() }()

			data, err := io.ReadAll(out.Body)
			if err != nil {
				return normalizeError(err, "GetObject")
			}
			contentType := ""
			if out.ContentType != nil {
				contentType = *out.ContentType
			}
			obj = &Object{
				Body:          data,
				Metadata:      out.Metadata,
				ContentLength: aws.ToInt64(out.ContentLength),
				ContentType:   contentType,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *S3Backend) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	var meta map[string]string
	err := b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
			})
			if err != nil {
				return normalizeError(err, "HeadObject")
			}
			meta = out.Metadata
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (b *S3Backend) DeleteObject(ctx context.Context, key string) error {
	return b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			b.costs.record(classDelete)
			_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.fullKey(key)),
			})
			return normalizeError(err, "DeleteObject")
		})
	})
}

func (b *S3Backend) ListObjects(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	var result *ListResult
	err := b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			b.costs.record(classList)
			input := &s3.ListObjectsV2Input{
				Bucket: aws.String(b.bucket),
				Prefix: aws.String(b.fullKey(prefix)),
			}
			if opts.MaxKeys > 0 {
				input.MaxKeys = aws.Int32(int32(opts.MaxKeys))
			}
			if opts.ContinuationToken != "" {
				input.ContinuationToken = aws.String(opts.ContinuationToken)
			}
			if opts.Delimiter != "" {
				input.Delimiter = aws.String(opts.Delimiter)
			}

			out, err := b.client.ListObjectsV2(ctx, input)
			if err != nil {
				return normalizeError(err, "ListObjectsV2")
			}

			keys := make([]string, 0, len(out.Contents))
			cut := len(b.prefix)
			if cut > 0 {
				cut++ // trailing slash
			}
			for _, obj := range out.Contents {
				k := aws.ToString(obj.Key)
				if cut > 0 && len(k) >= cut {
					k = k[cut:]
				}
				keys = append(keys, k)
			}
			next := ""
			if out.NextContinuationToken != nil {
				next = *out.NextContinuationToken
			}
			result = &ListResult{Keys: keys, NextToken: next}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *S3Backend) CopyObject(ctx context.Context, src, dst string, metadata map[string]string) error {
	return b.gate.Do(ctx, func() error {
		return withRetry(ctx, b.retry, func() error {
			input := &s3.CopyObjectInput{
				Bucket:     aws.String(b.bucket),
				Key:        aws.String(b.fullKey(dst)),
				CopySource: aws.String(b.bucket + "/" + b.fullKey(src)),
			}
			if metadata != nil {
				input.Metadata = metadata
				input.MetadataDirective = types.MetadataDirectiveReplace
			}
			_, err := b.client.CopyObject(ctx, input)
			return normalizeError(err, "CopyObject")
		})
	})
}

func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return normalizeError(err, "HeadBucket")
}

func (b *S3Backend) Close() error { return nil }

// normalizeError maps an AWS SDK error into the stable {kind, httpStatus,
// awsCode, requestId} shape from spec.md §4.1.
func normalizeError(err error, command string) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	var httpErr interface {
		HTTPStatusCode() int
	}

	kind := KindUnknown
	code := ""
	requestID := ""
	status := 0

	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound":
			kind = KindNoSuchKey
		case "NoSuchBucket":
			kind = KindNoSuchBucket
		case "AccessDenied", "Forbidden":
			kind = KindPermission
		case "SlowDown", "TooManyRequests", "RequestThrottled", "ThrottlingException":
			kind = KindThrottled
		case "RequestTimeout", "RequestTimeTooSkewed":
			kind = KindTransientNetwork
		case "BadDigest", "InvalidDigest":
			kind = KindContentMismatch
		}
	}
	if errors.As(err, &httpErr) {
		status = httpErr.HTTPStatusCode()
		if status == 404 && kind == KindUnknown {
			kind = KindNoSuchKey
		}
		if status == 403 && kind == KindUnknown {
			kind = KindPermission
		}
		if status == 429 {
			kind = KindThrottled
		}
		if status >= 500 && status < 600 && kind == KindUnknown {
			kind = KindTransientNetwork
		}
	}

	var reqIDErr interface{ ServiceRequestID() string }
	if errors.As(err, &reqIDErr) {
		requestID = reqIDErr.ServiceRequestID()
	}

	if kind == KindUnknown && isNetworkError(err) {
		kind = KindTransientNetwork
	}

	suggestion := ""
	switch kind {
	case KindNoSuchBucket:
		suggestion = "verify the bucket name and region in the connection string"
	case KindPermission:
		suggestion = "check IAM credentials and bucket policy"
	case KindThrottled:
		suggestion = "reduce request rate or increase backoff"
	}

	be := newError(kind, command, err.Error(), suggestion, err)
	be.HTTPStatus = status
	be.AWSCode = code
	be.RequestID = requestID
	return be
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF")
}
