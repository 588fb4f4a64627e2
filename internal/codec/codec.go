// Package codec implements the Codec Stack (spec.md §4.2): flatten,
// validate, encrypt, compress, and the overflow-resolution step that turns
// an application document into the bytes + metadata tokens written to a
// blob, and reverses the process on read.
package codec

import "fmt"

// ValidationError reports one attribute that failed schema validation.
// Grounded on the teacher's validation error shape in store.go, retargeted
// to carry an attribute path instead of a Go struct field name.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attribute %q: %s", e.Path, e.Reason)
}

// ValidationErrors aggregates every failed attribute from one document so a
// caller can report all problems at once rather than failing on the first.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d attributes failed validation (first: %s)", len(e), e[0].Error())
}

func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }
