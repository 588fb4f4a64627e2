package resource

import (
	"errors"
	"fmt"
)

// Kind is the stable, never-string-matched error taxonomy spec.md §7
// defines for Resource-level failures.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidationError   Kind = "ValidationError"
	KindFieldOverflow     Kind = "FieldOverflow"
	KindDecryptionFailed  Kind = "DecryptionFailed"
	KindConflictEpoch     Kind = "ConflictEpoch"
)

// Error is the Resource package's tagged error type.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newNotFound(resource, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s/%s not found", resource, id)}
}

func newValidationError(cause error) error {
	return &Error{Kind: KindValidationError, Message: "validation failed", cause: cause}
}

func newFieldOverflow(cause error) error {
	return &Error{Kind: KindFieldOverflow, Message: "metadata overflow", cause: cause}
}

// IsNotFound reports whether err (or anything it wraps) is a Resource
// NotFound error.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNotFound
	}
	return false
}

// IsValidationError reports whether err is a Resource ValidationError.
func IsValidationError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindValidationError
	}
	return false
}
