package blob

import (
	"errors"
	"fmt"
)

// Kind is the stable, never-string-matched error classification for every
// Blob Client failure (spec.md §4.1, §7).
type Kind string

const (
	KindNoSuchKey        Kind = "NoSuchKey"
	KindNoSuchBucket     Kind = "NoSuchBucket"
	KindPermission       Kind = "Permission"
	KindThrottled        Kind = "Throttled"
	KindTransientNetwork Kind = "TransientNetwork"
	KindContentMismatch  Kind = "ContentMismatch"
	KindUnknown          Kind = "Unknown"
)

// Error is the stable shape every Blob Client failure is surfaced as:
// {kind, httpStatus, awsCode, requestId, originalMessage, commandName,
// suggestion}.
type Error struct {
	Kind            Kind
	HTTPStatus      int
	AWSCode         string
	RequestID       string
	OriginalMessage string
	CommandName     string
	Suggestion      string
	cause           error
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s) [%s]", e.CommandName, e.OriginalMessage, e.Kind, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s (%s)", e.CommandName, e.OriginalMessage, e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, k Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == k
	}
	return false
}

// IsNotFound reports whether err denotes a missing key.
func IsNotFound(err error) bool { return IsKind(err, KindNoSuchKey) }

// IsRetryable reports whether the Blob Client's retry policy applies.
func IsRetryable(err error) bool {
	return IsKind(err, KindThrottled) || IsKind(err, KindTransientNetwork)
}

// newError builds a normalized Error, optionally wrapping cause for Unwrap.
func newError(kind Kind, command, message, suggestion string, cause error) *Error {
	return &Error{
		Kind:            kind,
		OriginalMessage: message,
		CommandName:     command,
		Suggestion:      suggestion,
		cause:           cause,
	}
}
