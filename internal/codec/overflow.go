package codec

import (
	"fmt"
	"sort"

	"github.com/s3db/s3db/internal/schema"
)

// metadataLimitBytes mirrors the 2KB ceiling S3 and GCS both impose on the
// user-metadata section of an object (spec.md §4.2 step 5): keys and
// values combined must fit under this budget or the PutObject call fails.
const metadataLimitBytes = 2048

// OverflowMode selects how the codec resolves a token map that would not
// fit in the blob's metadata budget.
type OverflowMode string

const (
	// OverflowUserManaged leaves the decision to the caller: Resolve
	// returns an error naming the byte count over budget instead of
	// silently reshaping the document.
	OverflowUserManaged OverflowMode = "user-managed"
	// OverflowBodyOverflow moves the excess attributes (lowest priority
	// first) out of metadata and into the object body alongside the rest
	// of the document.
	OverflowBodyOverflow OverflowMode = "body-overflow"
	// OverflowTruncateData drops the excess attributes entirely,
	// lowest Attribute.Priority first (SPEC_FULL.md Open Question (a)).
	OverflowTruncateData OverflowMode = "truncate-data"
	// OverflowEnforceLimits rejects the write outright.
	OverflowEnforceLimits OverflowMode = "enforce-limits"
)

// OverflowError is returned by Resolve when the mode cannot silently
// satisfy the metadata budget.
type OverflowError struct {
	Mode       OverflowMode
	OverBy     int
	AttrsCount int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("metadata overflow (%s): %d bytes over the %d-byte limit across %d attributes",
		e.Mode, e.OverBy, metadataLimitBytes, e.AttrsCount)
}

// Resolve applies mode to a token-keyed metadata map that may exceed the
// blob metadata budget, returning the metadata that should actually be
// written and the subset of tokens (if any) that must instead be folded
// into the object body.
func Resolve(mode OverflowMode, sv *schema.SchemaVersion, tokens map[string]interface{}, stringify func(interface{}) string) (metadata map[string]string, bodyOverflow map[string]interface{}, err error) {
	rendered := make(map[string]string, len(tokens))
	size := 0
	for tok, v := range tokens {
		s := stringify(v)
		rendered[tok] = s
		size += len(tok) + len(s)
	}

	if size <= metadataLimitBytes {
		return rendered, nil, nil
	}

	overBy := size - metadataLimitBytes

	switch mode {
	case OverflowEnforceLimits:
		return nil, nil, &OverflowError{Mode: mode, OverBy: overBy, AttrsCount: len(tokens)}
	case OverflowUserManaged:
		return nil, nil, &OverflowError{Mode: mode, OverBy: overBy, AttrsCount: len(tokens)}
	case OverflowBodyOverflow:
		kept, moved := dropLowestPriority(sv, rendered, overBy)
		bodyOverflow = make(map[string]interface{}, len(moved))
		for tok := range moved {
			if path, ok := sv.Path(tok); ok {
				bodyOverflow[path] = tokens[tok]
			}
		}
		return kept, bodyOverflow, nil
	case OverflowTruncateData:
		kept, dropped := dropLowestPriority(sv, rendered, overBy)
		if len(dropped) > 0 {
			kept["_truncated"] = "1"
		}
		return kept, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown overflow mode %q", mode)
	}
}

// dropLowestPriority removes token/value pairs from rendered, ordered by
// ascending Attribute.Priority (ties broken by reverse declaration order, so
// the first-declared attribute goes last), until the remaining metadata
// fits the budget. It returns the surviving metadata and the dropped token
// set.
func dropLowestPriority(sv *schema.SchemaVersion, rendered map[string]string, overBy int) (kept map[string]string, dropped map[string]string) {
	type entry struct {
		tok      string
		priority int
		required bool
		size     int
		decl     int
	}

	declIdx := make(map[string]int, len(sv.Attributes))
	for i, a := range sv.Attributes {
		declIdx[a.Name] = i
	}
	entries := make([]entry, 0, len(rendered))
	for tok, s := range rendered {
		e := entry{tok: tok, size: len(tok) + len(s)}
		if path, ok := sv.Path(tok); ok {
			e.decl = declIdx[path]
			if attr, ok := sv.Attribute(path); ok {
				e.priority = attr.Priority
				e.required = attr.Required
			}
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].required != entries[j].required {
			return !entries[i].required // non-required drop before required
		}
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		if entries[i].decl != entries[j].decl {
			return entries[i].decl > entries[j].decl
		}
		return entries[i].tok < entries[j].tok
	})

	kept = make(map[string]string, len(rendered))
	dropped = make(map[string]string)
	for k, v := range rendered {
		kept[k] = v
	}

	freed := 0
	for _, e := range entries {
		if freed >= overBy {
			break
		}
		if e.required {
			continue
		}
		dropped[e.tok] = kept[e.tok]
		freed += e.size
		delete(kept, e.tok)
	}

	return kept, dropped
}
