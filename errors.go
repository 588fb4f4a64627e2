// Package s3db is the public entry point for the document-oriented
// database described in spec.md: it wires the Blob Client, Codec Stack,
// Schema Engine, Metadata Catalog, Resource, Coordination Service, Queue
// Runtime, Counter Engine, and Replication Fan-out into one Database
// handle.
package s3db

import (
	"errors"
	"fmt"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/resource"
)

// Kind is the stable error taxonomy spec.md §7 defines, never to be
// string-matched on Message. Grounded on the teacher's errors.go sentinel
// + ErrorWithContext/WithContext pattern, generalized to the full table.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindValidationError    Kind = "ValidationError"
	KindFieldOverflow      Kind = "FieldOverflow"
	KindDecryptionFailed   Kind = "DecryptionFailed"
	KindThrottled          Kind = "Throttled"
	KindTransientNetwork   Kind = "TransientNetwork"
	KindPermission         Kind = "Permission"
	KindNoSuchBucket       Kind = "NoSuchBucket"
	KindManifestCorrupted  Kind = "ManifestCorrupted"
	KindConflictEpoch      Kind = "ConflictEpoch"
	KindDependencyMissing  Kind = "DependencyMissing"
	KindUnknown            Kind = "Unknown"
)

// Error is the stable, kind-tagged shape every s3db failure is normalized
// to at the package boundary: a human message, the stable Kind, and when
// applicable a Suggestion (spec.md §7: "include the stable kind, a human
// message, and when applicable a suggestion").
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	cause      error
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (try: %s)", e.Kind, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, message, suggestion string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Suggestion: suggestion, cause: cause}
}

// IsKind reports whether err (including anything it wraps, from
// internal/blob or internal/resource) is an s3db Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return classifyWrapped(err) == k
}

// IsNotFound reports whether err denotes a missing record or key — the
// surface getOrNull maps to nil rather than propagating.
func IsNotFound(err error) bool {
	return resource.IsNotFound(err) || blob.IsNotFound(err) || IsKind(err, KindNotFound)
}

// IsRetryable reports whether the failure is one the Blob Client's backoff
// policy already retried transparently before surfacing it.
func IsRetryable(err error) bool {
	return blob.IsRetryable(err) || IsKind(err, KindThrottled) || IsKind(err, KindTransientNetwork)
}

// classifyWrapped maps an internal/blob or internal/resource error onto
// the package-level Kind table, so callers only ever need to reason about
// one taxonomy (spec.md §7).
func classifyWrapped(err error) Kind {
	var be *blob.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case blob.KindNoSuchKey:
			return KindNotFound
		case blob.KindNoSuchBucket:
			return KindNoSuchBucket
		case blob.KindPermission:
			return KindPermission
		case blob.KindThrottled:
			return KindThrottled
		case blob.KindTransientNetwork:
			return KindTransientNetwork
		}
	}

	var re *resource.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case resource.KindNotFound:
			return KindNotFound
		case resource.KindValidationError:
			return KindValidationError
		case resource.KindFieldOverflow:
			return KindFieldOverflow
		case resource.KindDecryptionFailed:
			return KindDecryptionFailed
		case resource.KindConflictEpoch:
			return KindConflictEpoch
		}
	}

	return KindUnknown
}

// Wrap normalizes any internal error into the package-level Error shape,
// for callers that want a stable Kind without importing internal packages.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(classifyWrapped(err), err.Error(), "", err)
}
