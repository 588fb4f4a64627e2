// Package blob implements the Blob Client (spec.md §4.1): a typed wrapper
// over any S3-compatible endpoint (plus in-memory and GCS drivers) with
// normalized errors, retry with backoff, a concurrency gate, and a request
// cost meter.
package blob

import "context"

// Object is the result of a Get: its body plus user-metadata.
type Object struct {
	Body          []byte
	Metadata      map[string]string
	ContentLength int64
	ContentType   string
}

// ListOptions controls a List call's pagination and grouping.
type ListOptions struct {
	MaxKeys           int
	ContinuationToken string
	Delimiter         string
}

// ListResult is a page of keys plus a continuation token for the next page.
type ListResult struct {
	Keys      []string
	NextToken string
}

// Backend is the interface every storage driver (S3, GCS, in-memory)
// implements. All methods return a normalized *Error on failure.
type Backend interface {
	PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, contentType string) error
	GetObject(ctx context.Context, key string) (*Object, error)
	HeadObject(ctx context.Context, key string) (map[string]string, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error)
	CopyObject(ctx context.Context, src, dst string, metadata map[string]string) error
	Ping(ctx context.Context) error
	Close() error
}
