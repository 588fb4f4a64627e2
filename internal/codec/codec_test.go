package codec

import (
	"fmt"
	"strings"
	"testing"

	"github.com/s3db/s3db/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	doc := map[string]interface{}{
		"name": "Ada",
		"address": map[string]interface{}{
			"city": "London",
			"zip":  "E1",
		},
		"tags": []interface{}{"a", "b", "c"},
	}

	flat := Flatten(doc)
	assert.Equal(t, "Ada", flat["name"])
	assert.Equal(t, "London", flat["address.city"])
	assert.Equal(t, "b", flat["tags.1"])

	back := Unflatten(flat)
	assert.Equal(t, doc, back)
}

func TestFlattenEmptyContainers(t *testing.T) {
	doc := map[string]interface{}{
		"empty_obj": map[string]interface{}{},
		"empty_arr": []interface{}{},
	}
	flat := Flatten(doc)
	assert.Equal(t, map[string]interface{}{}, flat["empty_obj"])
	assert.Equal(t, []interface{}{}, flat["empty_arr"])
}

func TestValidateRequiredMissing(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "email", Type: schema.TypeEmail, Required: true},
	})
	errs := Validate(sv, map[string]interface{}{})
	require.True(t, errs.HasErrors())
	assert.Equal(t, "email", errs[0].Path)
}

func TestValidateTypeMismatch(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "age", Type: schema.TypeNumber},
	})
	errs := Validate(sv, map[string]interface{}{"age": "not a number"})
	assert.True(t, errs.HasErrors())
}

func TestValidateConstraints(t *testing.T) {
	minLen := 3
	min := 0.0
	max := 120.0
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "name", Type: schema.TypeString, Validate: &schema.Validator{MinLength: &minLen}},
		{Name: "age", Type: schema.TypeNumber, Validate: &schema.Validator{Min: &min, Max: &max}},
	})

	errs := Validate(sv, map[string]interface{}{"name": "ab", "age": 200.0})
	assert.Len(t, errs, 2)
}

func TestValidatePasses(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "email", Type: schema.TypeEmail, Required: true},
		{Name: "age", Type: schema.TypeNumber},
	})
	errs := Validate(sv, map[string]interface{}{"email": "ada@example.com", "age": 30.0})
	assert.False(t, errs.HasErrors())
}

func TestSecretCipherRoundTrip(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "apiKey", Type: schema.TypeSecret},
		{Name: "name", Type: schema.TypeString},
	})
	key := make([]byte, 32)
	cipher, err := NewSecretCipher(key)
	require.NoError(t, err)

	enc, err := cipher.EncryptSecrets(sv, map[string]interface{}{"apiKey": "sk-123", "name": "Ada"})
	require.NoError(t, err)
	assert.NotEqual(t, "sk-123", enc["apiKey"])
	assert.Equal(t, "Ada", enc["name"])

	dec, failed, err := cipher.DecryptSecrets(sv, enc)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, "sk-123", dec["apiKey"])
}

func TestSecretCipherDecryptIsPerFieldFaultTolerant(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "apiKey", Type: schema.TypeSecret},
		{Name: "token", Type: schema.TypeSecret},
		{Name: "name", Type: schema.TypeString},
	})
	key := make([]byte, 32)
	cipher, err := NewSecretCipher(key)
	require.NoError(t, err)

	enc, err := cipher.EncryptSecrets(sv, map[string]interface{}{
		"apiKey": "sk-123",
		"token":  "tok-456",
		"name":   "Ada",
	})
	require.NoError(t, err)

	// Corrupt one secret's ciphertext; the other fields must still decrypt.
	enc["token"] = "not-valid-base64!!"

	dec, failed, err := cipher.DecryptSecrets(sv, enc)
	require.NoError(t, err)
	require.Equal(t, []string{"token"}, failed)
	assert.Equal(t, "sk-123", dec["apiKey"])
	assert.Equal(t, "Ada", dec["name"])
	assert.Equal(t, "not-valid-base64!!", dec["token"])
}

func TestSecretCipherRejectsShortKey(t *testing.T) {
	_, err := NewSecretCipher([]byte("too-short"))
	assert.Error(t, err)
}

func TestCompressSkipsSmallBodies(t *testing.T) {
	body := []byte("short")
	out, compressed, err := Compress(body)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, body, out)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	body := []byte(strings.Repeat("hello world ", 100))
	out, compressed, err := Compress(body)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(body))

	back, err := Decompress(out, compressed)
	require.NoError(t, err)
	assert.Equal(t, body, back)
}

func stringify(v interface{}) string { return fmt.Sprintf("%v", v) }

func TestResolveUnderBudgetPassesThrough(t *testing.T) {
	sv := schema.NewSchemaVersion([]schema.Attribute{{Name: "name"}})
	tokens := map[string]interface{}{"a0": "Ada"}
	meta, overflow, err := Resolve(OverflowTruncateData, sv, tokens, stringify)
	require.NoError(t, err)
	assert.Nil(t, overflow)
	assert.Equal(t, "Ada", meta["a0"])
}

func TestResolveEnforceLimitsErrors(t *testing.T) {
	attrs := make([]schema.Attribute, 50)
	tokens := make(map[string]interface{}, 50)
	for i := range attrs {
		name := fmt.Sprintf("field%d", i)
		attrs[i] = schema.Attribute{Name: name, Priority: i}
	}
	sv := schema.NewSchemaVersion(attrs)
	for _, a := range attrs {
		tok, _ := sv.Token(a.Name)
		tokens[tok] = strings.Repeat("x", 100)
	}

	_, _, err := Resolve(OverflowEnforceLimits, sv, tokens, stringify)
	require.Error(t, err)
	var overflowErr *OverflowError
	require.ErrorAs(t, err, &overflowErr)
}

func TestResolveTruncateDataDropsLowestPriorityFirst(t *testing.T) {
	attrs := make([]schema.Attribute, 50)
	for i := range attrs {
		attrs[i] = schema.Attribute{Name: fmt.Sprintf("field%d", i), Priority: i}
	}
	sv := schema.NewSchemaVersion(attrs)
	tokens := make(map[string]interface{}, 50)
	for _, a := range attrs {
		tok, _ := sv.Token(a.Name)
		tokens[tok] = strings.Repeat("x", 100)
	}

	meta, overflow, err := Resolve(OverflowTruncateData, sv, tokens, stringify)
	require.NoError(t, err)
	assert.Nil(t, overflow)

	tok0, _ := sv.Token("field0")
	_, stillPresent := meta[tok0]
	assert.False(t, stillPresent, "lowest-priority field should have been dropped first")
	assert.Equal(t, "1", meta["_truncated"], "truncate-data must mark the record as truncated")
}

func TestResolveBodyOverflowMovesExcessToBody(t *testing.T) {
	attrs := make([]schema.Attribute, 50)
	for i := range attrs {
		attrs[i] = schema.Attribute{Name: fmt.Sprintf("field%d", i), Priority: i}
	}
	sv := schema.NewSchemaVersion(attrs)
	tokens := make(map[string]interface{}, 50)
	for _, a := range attrs {
		tok, _ := sv.Token(a.Name)
		tokens[tok] = strings.Repeat("x", 100)
	}

	meta, overflow, err := Resolve(OverflowBodyOverflow, sv, tokens, stringify)
	require.NoError(t, err)
	require.NotEmpty(t, overflow)
	assert.Less(t, len(meta), len(tokens))
}
