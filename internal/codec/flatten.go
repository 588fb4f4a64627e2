package codec

import (
	"sort"
	"strconv"
	"strings"
)

// Flatten reduces a nested document into a dotted-path map (spec.md §4.2
// step 1), so every leaf value can be addressed by the attribute path the
// Schema Engine assigns a compact token to. Arrays are flattened with
// numeric path segments ("tags.0", "tags.1"), matching JSON Pointer-style
// addressing.
func Flatten(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			out[prefix] = val
			return
		}
		for k, child := range val {
			flattenInto(out, joinPath(prefix, k), child)
		}
	case []interface{}:
		if len(val) == 0 {
			out[prefix] = val
			return
		}
		for i, child := range val {
			flattenInto(out, joinPath(prefix, strconv.Itoa(i)), child)
		}
	default:
		out[prefix] = val
	}
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

// Unflatten reverses Flatten, rebuilding the nested document from a dotted
// path map. Numeric path segments rebuild arrays; everything else rebuilds
// nested objects.
func Unflatten(flat map[string]interface{}) map[string]interface{} {
	root := make(map[string]interface{})

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		setPath(root, strings.Split(p, "."), flat[p])
	}
	for k, child := range root {
		root[k] = reifyArrays(child)
	}
	return root
}

// reifyArrays walks a rebuilt nested map and converts any map whose keys are
// exactly "0".."n-1" back into a slice, undoing the numeric-segment
// encoding Flatten applies to arrays.
func reifyArrays(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = reifyArrays(child)
	}
	if arr, ok := asSequentialArray(m); ok {
		return arr
	}
	return m
}

func asSequentialArray(m map[string]interface{}) ([]interface{}, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make([]interface{}, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func setPath(root map[string]interface{}, segs []string, value interface{}) {
	if len(segs) == 1 {
		root[segs[0]] = value
		return
	}
	next, ok := root[segs[0]].(map[string]interface{})
	if !ok {
		next = make(map[string]interface{})
		root[segs[0]] = next
	}
	setPath(next, segs[1:], value)
}
