// Package resource implements the Resource component (spec.md §4.3): a
// named, schema-versioned collection of records, with CRUD, query,
// partition-index maintenance, and a hook/middleware pipeline.
package resource

import "time"

// Record is one tuple in a Resource, keyed by its string ID.
type Record struct {
	ID                     string
	Data                   map[string]interface{}
	SchemaVersion          string
	LastWrite              time.Time
	DecryptionFailed       bool
	DecryptionFailedFields []string
}

// Behavior selects how the codec resolves metadata overflow for records in
// this resource (spec.md §3 and §4.2 step 5).
type Behavior string

const (
	BehaviorUserManaged  Behavior = "user-managed"
	BehaviorBodyOverflow Behavior = "body-overflow"
	BehaviorTruncateData Behavior = "truncate-data"
	BehaviorEnforceLimits Behavior = "enforce-limits"
)

// Event names emitted on the Database's event bus by Resource operations
// (spec.md §6).
const (
	EventResourceCreated          = "resourceCreated"
	EventInserted                 = "inserted"
	EventUpdated                  = "updated"
	EventDeleted                  = "deleted"
	EventOrphanedPartitionsRemoved = "orphanedPartitionsRemoved"
)
