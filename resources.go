package s3db

import (
	"context"
	"fmt"

	"github.com/s3db/s3db/internal/catalog"
	"github.com/s3db/s3db/internal/resource"
	"github.com/s3db/s3db/internal/schema"
)

// ResourceConfig describes a Resource at creation time (spec.md §3: "a
// named collection with: an ordered schema ..., a behavior ..., a set of
// partition definitions ...").
type ResourceConfig struct {
	Attributes []schema.Attribute
	Behavior   resource.Behavior
	Partitions []resource.PartitionDef

	IDMode          schema.IDMode
	IDOptions       []schema.GeneratorOption
	AsyncPartitions bool

	// PersistHooks, when true, serializes this resource's named AddHook
	// attachments into the manifest so a reconnecting process re-attaches
	// them from the process-level hook registry (spec.md §4.3
	// "persistHooks=true").
	PersistHooks bool
}

// CreateResource upserts a named resource idempotently (spec.md §3
// lifecycle: "created idempotently (createResource upserts)"). A second
// call with the same name returns the existing Resource unchanged; use
// AddSchemaVersion to evolve an existing resource's schema.
func (db *Database) CreateResource(ctx context.Context, name string, cfg ResourceConfig) (*resource.Resource, error) {
	db.mu.Lock()
	if existing, ok := db.resources[name]; ok {
		db.mu.Unlock()
		return existing, nil
	}
	db.mu.Unlock()

	if err := db.checkSecretSupport(cfg.Attributes); err != nil {
		return nil, err
	}

	sv := schema.NewSchemaVersion(cfg.Attributes)
	idMode := orDefaultIDMode(cfg.IDMode)
	idGen := schema.NewGenerator(idMode, db.idGeneratorOptions(name, idMode, cfg.IDOptions)...)

	res := resource.New(name, db.backend, sv,
		resource.WithBehavior(orDefaultBehavior(cfg.Behavior)),
		resource.WithIDGenerator(idGen),
		resource.WithSecretCipher(db.cipher),
		resource.WithPartitions(cfg.Partitions...),
		resource.WithEvents(db.events),
		resource.WithLogger(db.logger),
		resource.WithMetrics(db.metrics),
		resource.WithAsyncPartitions(cfg.AsyncPartitions),
		resource.WithPersistHooks(cfg.PersistHooks),
		resource.WithHookPersister(db.hookPersisterFor(name)),
	)

	if err := db.catalog.Mutate(ctx, db.logger, func(m *catalog.Manifest) error {
		m.Resources[name] = catalog.ResourceEntry{
			CurrentVersion: sv.Hash,
			Versions: map[string]catalog.VersionEntry{
				sv.Hash: {
					Hash:       sv.Hash,
					Attributes: encodeAttributes(cfg.Attributes),
					Partitions: encodePartitions(cfg.Partitions),
				},
			},
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("writing manifest entry for %s: %w", name, err)
	}

	db.mu.Lock()
	db.resources[name] = res
	db.mu.Unlock()

	db.events.Emit(resource.EventResourceCreated, map[string]interface{}{"resource": name})
	return res, nil
}

// hookPersisterFor returns the callback a Resource invokes from AddHook
// when persistHooks is enabled, recording its named hook attachments
// against name's current schema version in the manifest (spec.md §4.3
// "persistHooks=true ... serialized into the manifest").
func (db *Database) hookPersisterFor(name string) func(map[resource.HookPoint][]string) error {
	return func(hooks map[resource.HookPoint][]string) error {
		return db.catalog.Mutate(context.Background(), db.logger, func(m *catalog.Manifest) error {
			entry, ok := m.Resources[name]
			if !ok {
				return fmt.Errorf("manifest has no entry for resource %q", name)
			}
			current, ok := entry.Versions[entry.CurrentVersion]
			if !ok {
				return fmt.Errorf("manifest has no current version for resource %q", name)
			}
			encoded := make(map[string][]string, len(hooks))
			for point, names := range hooks {
				encoded[string(point)] = names
			}
			current.Hooks = encoded
			entry.Versions[entry.CurrentVersion] = current
			m.Resources[name] = entry
			return nil
		})
	}
}

// idGeneratorOptions prepends a default Allocator for IDModeIncremental
// resources so fast/sync incremental ID generation works without the
// caller wiring one up explicitly (resources.go review: previously no
// caller ever supplied an Allocator, making incremental mode unusable). A
// caller-supplied schema.WithAllocator in extra still wins since it's
// applied after the default.
func (db *Database) idGeneratorOptions(resourceName string, mode schema.IDMode, extra []schema.GeneratorOption) []schema.GeneratorOption {
	if mode != schema.IDModeIncremental {
		return extra
	}
	opts := make([]schema.GeneratorOption, 0, len(extra)+1)
	opts = append(opts, schema.WithAllocator(db.defaultIncrementalAllocator(resourceName)))
	opts = append(opts, extra...)
	return opts
}

func orDefaultIDMode(m schema.IDMode) schema.IDMode {
	if m == "" {
		return schema.IDModeRandom
	}
	return m
}

func orDefaultBehavior(b resource.Behavior) resource.Behavior {
	if b == "" {
		return resource.BehaviorEnforceLimits
	}
	return b
}

// AddSchemaVersion appends a new, immutable schema version to an existing
// resource and records it in the manifest, never mutating prior versions
// (spec.md §3 lifecycle: "schema edits append a new version, never mutate
// history").
func (db *Database) AddSchemaVersion(ctx context.Context, name string, attrs []schema.Attribute) (*schema.SchemaVersion, error) {
	res, ok := db.Resource(name)
	if !ok {
		return nil, fmt.Errorf("resource %q does not exist", name)
	}
	if err := db.checkSecretSupport(attrs); err != nil {
		return nil, err
	}

	sv := schema.NewSchemaVersion(attrs)
	res.RegisterVersion(sv)

	if err := db.catalog.Mutate(ctx, db.logger, func(m *catalog.Manifest) error {
		entry, ok := m.Resources[name]
		if !ok {
			return fmt.Errorf("manifest has no entry for resource %q", name)
		}
		entry.CurrentVersion = sv.Hash
		if entry.Versions == nil {
			entry.Versions = make(map[string]catalog.VersionEntry)
		}
		entry.Versions[sv.Hash] = catalog.VersionEntry{
			Hash:       sv.Hash,
			Attributes: encodeAttributes(attrs),
		}
		m.Resources[name] = entry
		return nil
	}); err != nil {
		return nil, fmt.Errorf("writing new schema version for %s: %w", name, err)
	}
	return sv, nil
}

// encodeAttributes converts a typed attribute list into the
// map[string]interface{} shape catalog.VersionEntry stores, keyed by
// attribute name so the manifest stays a plain tagged record rather than a
// graph of shared objects (SPEC_FULL.md design note).
func encodeAttributes(attrs []schema.Attribute) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		entry := map[string]interface{}{
			"type":     string(a.Type),
			"required": a.Required,
			"priority": a.Priority,
		}
		if a.Default != nil {
			entry["default"] = a.Default
		}
		if a.Validate != nil {
			v := map[string]interface{}{}
			if a.Validate.Min != nil {
				v["min"] = *a.Validate.Min
			}
			if a.Validate.Max != nil {
				v["max"] = *a.Validate.Max
			}
			if a.Validate.Pattern != "" {
				v["pattern"] = a.Validate.Pattern
			}
			if len(a.Validate.Enum) > 0 {
				v["enum"] = a.Validate.Enum
			}
			if a.Validate.MinLength != nil {
				v["minLength"] = *a.Validate.MinLength
			}
			entry["validate"] = v
		}
		out[a.Name] = entry
	}
	return out
}

// decodeAttributes is encodeAttributes' inverse, used when rehydrating
// Resources from a freshly loaded (and possibly healed) manifest.
func decodeAttributes(raw map[string]interface{}) ([]schema.Attribute, error) {
	attrs := make([]schema.Attribute, 0, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		a := schema.Attribute{
			Name: name,
			Type: schema.AttrType(fmt.Sprintf("%v", m["type"])),
		}
		if req, ok := m["required"].(bool); ok {
			a.Required = req
		}
		switch pr := m["priority"].(type) {
		case float64:
			a.Priority = int(pr)
		case int:
			a.Priority = pr
		}
		if def, ok := m["default"]; ok {
			a.Default = def
		}
		if rawV, ok := m["validate"].(map[string]interface{}); ok {
			a.Validate = decodeValidator(rawV)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func decodeValidator(raw map[string]interface{}) *schema.Validator {
	v := &schema.Validator{}
	if min, ok := raw["min"].(float64); ok {
		v.Min = &min
	}
	if max, ok := raw["max"].(float64); ok {
		v.Max = &max
	}
	if pattern, ok := raw["pattern"].(string); ok {
		v.Pattern = pattern
	}
	switch minLen := raw["minLength"].(type) {
	case float64:
		n := int(minLen)
		v.MinLength = &n
	case int:
		n := minLen
		v.MinLength = &n
	}
	switch enum := raw["enum"].(type) {
	case []interface{}:
		for _, e := range enum {
			v.Enum = append(v.Enum, fmt.Sprintf("%v", e))
		}
	case []string:
		v.Enum = append(v.Enum, enum...)
	}
	return v
}

// encodePartitions converts a partition definition list into the
// map[string]interface{} shape the manifest stores (spec.md §3:
// "partitions: {fields: {<field>: <type>}}"), here simplified to the field
// name list since field types are already carried on the attribute
// definitions.
func encodePartitions(parts []resource.PartitionDef) map[string]interface{} {
	if len(parts) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(parts))
	for _, p := range parts {
		fields := make([]interface{}, len(p.Fields))
		for i, f := range p.Fields {
			fields[i] = f
		}
		out[p.Name] = fields
	}
	return out
}

func decodePartitions(raw map[string]interface{}) []resource.PartitionDef {
	out := make([]resource.PartitionDef, 0, len(raw))
	for name, v := range raw {
		fieldsRaw, ok := v.([]interface{})
		if !ok {
			continue
		}
		fields := make([]string, 0, len(fieldsRaw))
		for _, f := range fieldsRaw {
			fields = append(fields, fmt.Sprintf("%v", f))
		}
		out = append(out, resource.PartitionDef{Name: name, Fields: fields})
	}
	return out
}
