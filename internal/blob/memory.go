package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is the in-process blob mock selected by the memory://
// connection scheme (spec.md §6). It implements the full Backend contract
// against a guarded map, matching the semantics (including metadata-only
// storage and prefix listing) that S3Backend provides against a real
// bucket, closest in shape to the teacher's filesystem backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	costs   *CostMeter
}

type memObject struct {
	body        []byte
	metadata    map[string]string
	contentType string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*memObject),
		costs:   NewCostMeter(),
	}
}

// Costs returns the accumulated request-cost projection.
func (b *MemoryBackend) Costs() Costs { return b.costs.Total() }

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (b *MemoryBackend) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, contentType string) error {
	b.costs.record(classPut)
	b.mu.Lock()
	defer b.mu.Unlock()
	data := make([]byte, len(body))
	copy(data, body)
	b.objects[key] = &memObject{body: data, metadata: cloneMeta(metadata), contentType: contentType}
	return nil
}

func (b *MemoryBackend) GetObject(ctx context.Context, key string) (*Object, error) {
	b.costs.record(classGet)
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, newError(KindNoSuchKey, "GetObject", "key not found: "+key, "", nil)
	}
	data := make([]byte, len(obj.body))
	copy(data, obj.body)
	return &Object{
		Body:          data,
		Metadata:      cloneMeta(obj.metadata),
		ContentLength: int64(len(data)),
		ContentType:   obj.contentType,
	}, nil
}

func (b *MemoryBackend) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, newError(KindNoSuchKey, "HeadObject", "key not found: "+key, "", nil)
	}
	return cloneMeta(obj.metadata), nil
}

func (b *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	b.costs.record(classDelete)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) ListObjects(ctx context.Context, prefix string, opts ListOptions) (*ListResult, error) {
	b.costs.record(classList)
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		for i, k := range keys {
			if k > opts.ContinuationToken {
				start = i
				break
			}
			start = i + 1
		}
	}
	keys = keys[start:]

	next := ""
	if opts.MaxKeys > 0 && len(keys) > opts.MaxKeys {
		next = keys[opts.MaxKeys-1]
		keys = keys[:opts.MaxKeys]
	}

	return &ListResult{Keys: keys, NextToken: next}, nil
}

func (b *MemoryBackend) CopyObject(ctx context.Context, src, dst string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[src]
	if !ok {
		return newError(KindNoSuchKey, "CopyObject", "source key not found: "+src, "", nil)
	}
	meta := obj.metadata
	if metadata != nil {
		meta = cloneMeta(metadata)
	}
	data := make([]byte, len(obj.body))
	copy(data, obj.body)
	b.objects[dst] = &memObject{body: data, metadata: cloneMeta(meta), contentType: obj.contentType}
	return nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }
func (b *MemoryBackend) Close() error                   { return nil }
