package resource

import (
	"context"
	"time"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/metrics"
)

// ListOptions bounds a List call.
type ListOptions struct {
	Limit  int
	Offset int
}

// List enumerates the resource's data prefix, decoding each record
// (spec.md §4.3 "list({limit, offset}) enumerates the data prefix").
func (r *Resource) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	ids, err := r.ListIDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListIDs enumerates record IDs under the resource's data prefix.
func (r *Resource) ListIDs(ctx context.Context, opts ListOptions) ([]string, error) {
	prefix := "data/" + r.name + "/"
	result, err := r.backend.ListObjects(ctx, prefix, blob.ListOptions{})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Keys))
	for _, k := range result.Keys {
		ids = append(ids, k[len(prefix):])
	}

	start := opts.Offset
	if start > len(ids) {
		start = len(ids)
	}
	ids = ids[start:]

	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	return ids, nil
}

// PageOptions configures Page.
type PageOptions struct {
	Offset    int
	Size      int
	SkipCount bool
}

// Page is a pagination-shaped wrapper over List, per spec.md §4.3.
type Page struct {
	Records []*Record
	Offset  int
	Size    int
	Total   int // -1 when SkipCount is set
}

// Page returns one page of records, optionally skipping the total-count
// computation (an extra full-prefix LIST) when the caller only needs the
// page contents.
func (r *Resource) Page(ctx context.Context, opts PageOptions) (*Page, error) {
	records, err := r.List(ctx, ListOptions{Limit: opts.Size, Offset: opts.Offset})
	if err != nil {
		return nil, err
	}

	total := -1
	if !opts.SkipCount {
		total, err = r.Count(ctx)
		if err != nil {
			return nil, err
		}
	}

	return &Page{Records: records, Offset: opts.Offset, Size: opts.Size, Total: total}, nil
}

// Count returns the number of records in the resource.
func (r *Resource) Count(ctx context.Context) (int, error) {
	ids, err := r.ListIDs(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Filter predicates a decoded Record. Returning false excludes it.
type Filter func(*Record) bool

// QueryOptions bounds a Query call.
type QueryOptions struct {
	Limit           int
	Offset          int
	Partition       string
	PartitionValues map[string]interface{}
}

// Query runs filter as a linear in-process scan over the resource's
// records, optionally scoped to a partition via opts.Partition (spec.md
// §4.3: "query(filter, opts) is a linear in-process filter over a
// (possibly partition-scoped) stream"). Decryption failures surface as
// Record.DecryptionFailed rather than aborting the scan.
func (r *Resource) Query(ctx context.Context, filter Filter, opts QueryOptions) ([]*Record, error) {
	start := time.Now()

	var ids []string
	var err error
	if opts.Partition != "" {
		ids, err = r.ListPartition(ctx, opts.Partition, opts.PartitionValues, 0)
	} else {
		ids, err = r.ListIDs(ctx, ListOptions{})
	}
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0)
	skipped := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		rec, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if filter != nil && !filter(rec) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}

	dur := time.Since(start)
	r.metrics.Timing(metrics.MetricResourceQuery, dur, "resource", r.name)
	r.profiler.Record(r.name, dur, len(out))
	return out, nil
}
