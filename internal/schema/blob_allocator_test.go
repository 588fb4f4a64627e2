package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/s3db/s3db/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobAllocatorNextIncrementsSequentially(t *testing.T) {
	backend := blob.NewMemoryBackend()
	alloc := NewBlobAllocator(backend, "idcounters/orders")
	ctx := context.Background()

	first, err := alloc.Next(ctx)
	require.NoError(t, err)
	second, err := alloc.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestBlobAllocatorReserveReturnsContiguousRange(t *testing.T) {
	backend := blob.NewMemoryBackend()
	alloc := NewBlobAllocator(backend, "idcounters/orders")
	ctx := context.Background()

	first, err := alloc.Reserve(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := alloc.Reserve(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(51), second)
}

func TestBlobAllocatorConcurrentReserveProducesNoDuplicates(t *testing.T) {
	backend := blob.NewMemoryBackend()
	alloc := NewBlobAllocator(backend, "idcounters/orders")
	ctx := context.Background()

	const workers = 8
	const batchesPerWorker = 5
	const batchSize = 3

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var duplicate bool
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batchesPerWorker; b++ {
				first, err := alloc.Reserve(ctx, batchSize)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				for v := first; v < first+batchSize; v++ {
					if seen[v] {
						duplicate = true
					}
					seen[v] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.False(t, duplicate, "concurrent Reserve calls must never hand out the same id twice")
	assert.Len(t, seen, workers*batchesPerWorker*batchSize)
}
