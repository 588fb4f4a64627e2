package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaVersionHashIsOrderIndependent(t *testing.T) {
	a := []Attribute{
		{Name: "email", Type: TypeEmail, Required: true},
		{Name: "age", Type: TypeNumber},
	}
	b := []Attribute{
		{Name: "age", Type: TypeNumber},
		{Name: "email", Type: TypeEmail, Required: true},
	}

	svA := NewSchemaVersion(a)
	svB := NewSchemaVersion(b)
	assert.Equal(t, svA.Hash, svB.Hash)
}

func TestSchemaVersionTokensAreStableAcrossDeclarationOrder(t *testing.T) {
	sv1 := NewSchemaVersion([]Attribute{
		{Name: "email"}, {Name: "age"}, {Name: "name"},
	})
	sv2 := NewSchemaVersion([]Attribute{
		{Name: "name"}, {Name: "age"}, {Name: "email"},
	})

	for _, path := range []string{"email", "age", "name"} {
		t1, ok1 := sv1.Token(path)
		t2, ok2 := sv2.Token(path)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, t1, t2)
	}
}

func TestSchemaVersionTokenRoundTrip(t *testing.T) {
	sv := NewSchemaVersion([]Attribute{{Name: "billing.address.city"}})
	tok, ok := sv.Token("billing.address.city")
	require.True(t, ok)

	path, ok := sv.Path(tok)
	require.True(t, ok)
	assert.Equal(t, "billing.address.city", path)
}

func TestAttributeLookup(t *testing.T) {
	sv := NewSchemaVersion([]Attribute{
		{Name: "tier", Type: TypeString, Priority: 5},
	})
	attr, ok := sv.Attribute("tier")
	require.True(t, ok)
	assert.Equal(t, 5, attr.Priority)

	_, ok = sv.Attribute("missing")
	assert.False(t, ok)
}

type fakeAllocator struct {
	next    int64
	reserve int64
}

func (f *fakeAllocator) Next(ctx context.Context) (int64, error) {
	f.next++
	return f.next, nil
}

func (f *fakeAllocator) Reserve(ctx context.Context, n int64) (int64, error) {
	first := f.reserve + 1
	f.reserve += n
	return first, nil
}

func TestGeneratorRandomLength(t *testing.T) {
	g := NewGenerator(IDModeRandom, WithLength(16))
	id, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 16)
}

func TestGeneratorRandomWithPrefix(t *testing.T) {
	g := NewGenerator(IDModeRandom, WithLength(8), WithPrefix("INV"))
	id, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, id, "INV-")
}

func TestGeneratorUUIDv4(t *testing.T) {
	g := NewGenerator(IDModeUUIDv4)
	id, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestGeneratorIncrementalSync(t *testing.T) {
	alloc := &fakeAllocator{}
	g := NewGenerator(IDModeIncremental, WithAllocator(alloc), WithIncrementalSubMode(IncrementalSync), WithPrefix("INV"))

	id1, err := g.Generate(context.Background())
	require.NoError(t, err)
	id2, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "INV-0001", id1)
	assert.Equal(t, "INV-0002", id2)
}

func TestGeneratorIncrementalFastDrawsLocallyBetweenReservations(t *testing.T) {
	alloc := &fakeAllocator{}
	g := NewGenerator(IDModeIncremental, WithAllocator(alloc), WithIncrementalSubMode(IncrementalFast), WithBatchSize(3))

	ids := make([]string, 5)
	for i := range ids {
		id, err := g.Generate(context.Background())
		require.NoError(t, err)
		ids[i] = id
	}

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	// Reserve should have been called twice: once for [1,3], once for [4,6].
	assert.Equal(t, int64(6), alloc.reserve)
}

func TestMigrationRegistryRunsChain(t *testing.T) {
	reg := NewRegistry()
	Migrate(reg, "users").From("v1").To("v2").RenameField("full_name", "name")
	Migrate(reg, "users").From("v2").To("v3").AddField("active", true)

	out, err := reg.Run("users", "v1", "v3", map[string]interface{}{"full_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", out["name"])
	assert.Equal(t, true, out["active"])
	assert.NotContains(t, out, "full_name")
}

func TestMigrationRegistryNoPath(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Run("users", "v1", "v9", map[string]interface{}{})
	assert.Error(t, err)
}

func TestMigrationRegistryHasMigrations(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.HasMigrations("users"))
	Migrate(reg, "users").From("v1").To("v2").DropField("legacy")
	assert.True(t, reg.HasMigrations("users"))
}
