package schema

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDMode selects a Record ID generation strategy (spec.md §4.3 "ID
// generation").
type IDMode string

const (
	IDModeRandom      IDMode = "random"       // fixed-length random string
	IDModeUUIDv4      IDMode = "uuidv4"
	IDModeUUIDv1      IDMode = "uuidv1"
	IDModeIncremental IDMode = "incremental"  // numeric/prefixed counter
)

// IncrementalSubMode distinguishes the two incremental allocation
// strategies spec.md §4.3 calls for.
type IncrementalSubMode string

const (
	IncrementalSync IncrementalSubMode = "sync" // one coordinated allocation per ID
	IncrementalFast IncrementalSubMode = "fast" // reserve a batch of K, draw locally
)

const defaultRandomLength = 22

// alphabet used for fixed-length random IDs: alphanumeric, URL-safe.
const randomAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Allocator hands out the next integer for incremental ID generation. A
// single Allocator backs one Resource; sync mode calls Next once per ID,
// fast mode calls Reserve(K) once per batch.
type Allocator interface {
	// Next returns exactly one new integer value (sync mode).
	Next(ctx context.Context) (int64, error)
	// Reserve returns the first value of a contiguous batch of n values
	// this allocator now owns exclusively (fast mode).
	Reserve(ctx context.Context, n int64) (first int64, err error)
}

// Generator produces Record IDs per the configured mode.
type Generator struct {
	mode      IDMode
	subMode   IncrementalSubMode
	length    int
	prefix    string
	allocator Allocator

	mu        sync.Mutex
	batchNext int64
	batchEnd  int64
	batchSize int64
}

// NewGenerator builds a Generator for a fixed-length random, UUID, or
// incremental ID strategy. allocator is required only for incremental mode.
func NewGenerator(mode IDMode, opts ...GeneratorOption) *Generator {
	g := &Generator{
		mode:      mode,
		subMode:   IncrementalSync,
		length:    defaultRandomLength,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

func WithLength(n int) GeneratorOption            { return func(g *Generator) { g.length = n } }
func WithPrefix(p string) GeneratorOption         { return func(g *Generator) { g.prefix = p } }
func WithAllocator(a Allocator) GeneratorOption    { return func(g *Generator) { g.allocator = a } }
func WithIncrementalSubMode(m IncrementalSubMode) GeneratorOption {
	return func(g *Generator) { g.subMode = m }
}
func WithBatchSize(n int64) GeneratorOption { return func(g *Generator) { g.batchSize = n } }

// Generate returns the next ID per the configured mode.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	switch g.mode {
	case IDModeUUIDv4:
		return uuid.New().String(), nil
	case IDModeUUIDv1:
		id, err := uuid.NewUUID()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	case IDModeIncremental:
		return g.generateIncremental(ctx)
	default:
		return g.generateRandom()
	}
}

func (g *Generator) generateRandom() (string, error) {
	b := make([]byte, g.length)
	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, c := range buf {
		b[i] = randomAlphabet[int(c)%len(randomAlphabet)]
	}
	if g.prefix != "" {
		return fmt.Sprintf("%s-%s", g.prefix, string(b)), nil
	}
	return string(b), nil
}

func (g *Generator) generateIncremental(ctx context.Context) (string, error) {
	if g.allocator == nil {
		return "", fmt.Errorf("incremental ID mode requires an Allocator (schema.WithAllocator)")
	}
	var n int64
	if g.subMode == IncrementalSync {
		v, err := g.allocator.Next(ctx)
		if err != nil {
			return "", err
		}
		n = v
	} else {
		v, err := g.nextFromBatch(ctx)
		if err != nil {
			return "", err
		}
		n = v
	}
	if g.prefix != "" {
		return fmt.Sprintf("%s-%04d", g.prefix, n), nil
	}
	return fmt.Sprintf("%d", n), nil
}

// nextFromBatch draws the next value from the locally reserved range,
// requesting a fresh batch from the allocator when exhausted. This is the
// "fast" incremental sub-mode: one coordinated Reserve(K) call backs K
// locally-issued IDs with no further round trips, while "sync" mode goes
// through Next() on every call.
func (g *Generator) nextFromBatch(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.batchNext >= g.batchEnd {
		first, err := g.allocator.Reserve(ctx, g.batchSize)
		if err != nil {
			return 0, err
		}
		g.batchNext = first
		g.batchEnd = first + g.batchSize
	}

	v := g.batchNext
	g.batchNext++
	return v, nil
}
