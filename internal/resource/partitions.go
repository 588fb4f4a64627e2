package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/s3db/s3db/internal/blob"
)

// PartitionDef names a partition index: a set of attribute paths whose
// values compose the zero-byte object keys under
// part/<resource>/<partName>/<k=v>/.../id=<id> (spec.md §6).
type PartitionDef struct {
	Name   string
	Fields []string
}

// partitionPrefix returns the data-free index prefix for one partition.
func (r *Resource) partitionPrefix(part PartitionDef) string {
	return fmt.Sprintf("part/%s/%s/", r.name, part.Name)
}

// partitionKey builds the full index object key for one record under one
// partition, given its flattened field values.
func (r *Resource) partitionKey(part PartitionDef, flat map[string]interface{}, id string) (string, bool) {
	var segs []string
	for _, f := range part.Fields {
		v, ok := flat[f]
		if !ok || v == nil {
			return "", false
		}
		segs = append(segs, fmt.Sprintf("%s=%v", f, v))
	}
	return r.partitionPrefix(part) + strings.Join(segs, "/") + "/id=" + id, true
}

// writePartitionEntries creates one zero-byte index object per partition
// definition for which the record has values for every partitioning field.
// Partition index writes are idempotent PUTs (spec.md §5): concurrent
// writers creating the same entry is acceptable.
func (r *Resource) writePartitionEntries(ctx context.Context, flat map[string]interface{}, id string) error {
	for _, part := range r.partitions {
		key, ok := r.partitionKey(part, flat, id)
		if !ok {
			continue
		}
		if err := r.backend.PutObject(ctx, key, nil, nil, ""); err != nil {
			return fmt.Errorf("writing partition entry %s: %w", key, err)
		}
	}
	return nil
}

// removePartitionEntries deletes every partition index object that
// referenced the given record's old field values, used on update (before
// writing the new entries) and on delete.
func (r *Resource) removePartitionEntries(ctx context.Context, flat map[string]interface{}, id string) error {
	for _, part := range r.partitions {
		key, ok := r.partitionKey(part, flat, id)
		if !ok {
			continue
		}
		if err := r.backend.DeleteObject(ctx, key); err != nil && !blob.IsNotFound(err) {
			return fmt.Errorf("removing partition entry %s: %w", key, err)
		}
	}
	return nil
}

// reindexPartitions replaces a record's partition entries on update:
// remove entries derived from the old flattened data, write entries
// derived from the new one.
func (r *Resource) reindexPartitions(ctx context.Context, oldFlat, newFlat map[string]interface{}, id string) error {
	if err := r.removePartitionEntries(ctx, oldFlat, id); err != nil {
		return err
	}
	return r.writePartitionEntries(ctx, newFlat, id)
}

// ListPartition enumerates record IDs matching partitionValues for a named
// partition directly via its index prefix (spec.md §4.3: "O(matching rows)
// LIST calls"), rather than scanning the full data prefix.
func (r *Resource) ListPartition(ctx context.Context, partitionName string, partitionValues map[string]interface{}, limit int) ([]string, error) {
	part, ok := r.partitionByName(partitionName)
	if !ok {
		return nil, fmt.Errorf("resource %q has no partition %q", r.name, partitionName)
	}

	var segs []string
	for _, f := range part.Fields {
		if v, ok := partitionValues[f]; ok {
			segs = append(segs, fmt.Sprintf("%s=%v", f, v))
		}
	}
	prefix := r.partitionPrefix(part) + strings.Join(segs, "/")
	if len(segs) > 0 {
		prefix += "/"
	}

	result, err := r.backend.ListObjects(ctx, prefix, blob.ListOptions{MaxKeys: limit})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Keys))
	for _, k := range result.Keys {
		if idx := strings.LastIndex(k, "id="); idx >= 0 {
			ids = append(ids, k[idx+len("id="):])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Resource) partitionByName(name string) (PartitionDef, bool) {
	for _, p := range r.partitions {
		if p.Name == name {
			return p, true
		}
	}
	return PartitionDef{}, false
}

// OrphanReport describes one partition whose field set no longer matches
// the resource's current schema (spec.md §4.4 scenario 4).
type OrphanReport struct {
	MissingFields []string
}

// FindOrphanedPartitions reports partitions that reference attribute paths
// no longer present in the current schema version.
func (r *Resource) FindOrphanedPartitions() map[string]OrphanReport {
	out := make(map[string]OrphanReport)
	sv := r.currentSchema()
	for _, part := range r.partitions {
		var missing []string
		for _, f := range part.Fields {
			if _, ok := sv.Attribute(f); !ok {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			out[part.Name] = OrphanReport{MissingFields: missing}
		}
	}
	return out
}

// RemoveOrphanedPartitionsOptions configures RemoveOrphanedPartitions.
type RemoveOrphanedPartitionsOptions struct {
	DryRun bool
}

// RemoveOrphanedPartitions drops partition definitions referencing missing
// fields. With DryRun it reports what would be removed without mutating
// state. On an actual removal it emits orphanedPartitionsRemoved.
func (r *Resource) RemoveOrphanedPartitions(ctx context.Context, opts RemoveOrphanedPartitionsOptions) (map[string]OrphanReport, error) {
	orphans := r.FindOrphanedPartitions()
	if opts.DryRun || len(orphans) == 0 {
		return orphans, nil
	}

	kept := r.partitions[:0:0]
	for _, p := range r.partitions {
		if _, isOrphan := orphans[p.Name]; !isOrphan {
			kept = append(kept, p)
		}
	}
	r.partitions = kept

	if r.events != nil {
		r.events.Emit(EventOrphanedPartitionsRemoved, map[string]interface{}{
			"resource": r.name,
			"orphans":  orphans,
		})
	}
	return orphans, nil
}
