// Package schema implements the Schema Engine (spec.md §4, "Schema
// Version"): attribute validation, deterministic path→token compaction,
// content-hash identity, and version-to-version migration.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// AttrType is one of the attribute types spec.md §4.2 step 2 validates.
type AttrType string

const (
	TypeString  AttrType = "string"
	TypeNumber  AttrType = "number"
	TypeBoolean AttrType = "boolean"
	TypeDate    AttrType = "date"
	TypeSecret  AttrType = "secret"
	TypeURL     AttrType = "url"
	TypeEmail   AttrType = "email"
	TypeObject  AttrType = "object"
	TypeArray   AttrType = "array"
)

// Validator holds the optional per-field constraints spec.md §4.2 names:
// min/max/pattern/enum/minlength.
type Validator struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
}

// Attribute is one field in a Resource's schema.
type Attribute struct {
	Name string   `json:"name"`
	Type AttrType `json:"type"`
	// Required marks the field as never eligible for truncate-data drop or
	// body-overflow relocation ahead of required fields.
	Required bool `json:"required"`
	Default  interface{}  `json:"default,omitempty"`
	Validate *Validator   `json:"validate,omitempty"`
	// Priority governs truncate-data drop order among non-required fields:
	// lower priority values are dropped first. Ties fall back to
	// declaration order (see SPEC_FULL.md Open Question (a)).
	Priority int `json:"priority"`
}

// SchemaVersion is an immutable, content-hash-identified attribute set plus
// its deterministic path→token compaction map (spec.md §3).
type SchemaVersion struct {
	Hash       string            `json:"hash"`
	Attributes []Attribute       `json:"attributes"`
	tokens     map[string]string // attribute path -> compact token
	reverse    map[string]string // compact token -> attribute path
}

// NewSchemaVersion builds a SchemaVersion from an attribute list, deriving
// its hash and its stable token map. Attribute order is preserved for
// truncate-data priority resolution; the token map is assigned over the
// attributes sorted by name so it does not depend on declaration order.
func NewSchemaVersion(attrs []Attribute) *SchemaVersion {
	sv := &SchemaVersion{
		Attributes: attrs,
		tokens:     make(map[string]string),
		reverse:    make(map[string]string),
	}

	sorted := make([]Attribute, len(attrs))
	copy(sorted, attrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i, a := range sorted {
		tok := compactToken(i)
		sv.tokens[a.Name] = tok
		sv.reverse[tok] = a.Name
	}

	sv.Hash = computeHash(attrs)
	return sv
}

// compactToken maps an ordinal to a short base-36 token ("a0", "a1", ...,
// "az", "b0", ...) to keep per-record S3 metadata small (spec.md §3/§4.2).
func compactToken(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	letter := alphabet[i/36%26]
	suffix := i % 36
	return fmt.Sprintf("%c%c", letter, alphabet[suffix])
}

// Token returns the compact metadata key for an attribute path.
func (sv *SchemaVersion) Token(path string) (string, bool) {
	t, ok := sv.tokens[path]
	return t, ok
}

// Path reverses Token: compact key -> attribute path.
func (sv *SchemaVersion) Path(token string) (string, bool) {
	p, ok := sv.reverse[token]
	return p, ok
}

// Attribute looks up an attribute definition by path.
func (sv *SchemaVersion) Attribute(path string) (Attribute, bool) {
	for _, a := range sv.Attributes {
		if a.Name == path {
			return a, true
		}
	}
	return Attribute{}, false
}

// computeHash is a pure function of the attribute definitions (spec.md §3
// invariant 4): two schema versions with equal hash describe the same wire
// format, regardless of declaration order.
func computeHash(attrs []Attribute) string {
	sorted := make([]Attribute, len(attrs))
	copy(sorted, attrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	data, _ := json.Marshal(sorted)
	sum := sha256.Sum256(data)
	return "v" + hex.EncodeToString(sum[:])[:16]
}
