// Package replication implements the Replication Fan-out (spec.md §4.9):
// an asynchronous, retrying, per-target log that mirrors mutations to
// external sinks. Grounded on the teacher's circuit_breaker.go retry/
// backoff shape, retargeted from "protect a call" to "drain a durable
// queue with bounded retries".
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/s3db/s3db/internal/logging"
	"github.com/s3db/s3db/internal/metrics"
	"github.com/s3db/s3db/internal/resource"
)

// Event names emitted on the Database's event bus by the replicator
// (spec.md §6).
const (
	EventQueued  = "replicator.queued"
	EventSuccess = "replicator.success"
	EventFailed  = "replicator.failed"
)

// Status is a replication queue entry's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Mutation is what a Resource publishes on every successful write, and
// what the Replicator turns into a queue Entry per matching target
// (spec.md §4.9: "{op, resource, id, record, previous}").
type Mutation struct {
	Op       string
	Resource string
	ID       string
	Record   map[string]interface{}
	Previous map[string]interface{}
}

// Entry is one Replication Queue Entry (spec.md §3), logged per-target.
type Entry struct {
	ID            string
	Op            string
	Resource      string
	RecordID      string
	Payload       map[string]interface{}
	Attempts      int
	NextAttemptAt time.Time
	Status        Status
	LastError     string
}

// Driver applies one replicated mutation to an external sink. custom
// drivers implement this directly; s3db/queue/warehouse/relational are
// built-in adapters in drivers.go.
type Driver interface {
	Apply(ctx context.Context, entry Entry) error
}

// Emitter is the subset of the event bus a Replicator needs.
type Emitter interface {
	Emit(event string, payload map[string]interface{})
}

// Options configures a Replicator.
type Options struct {
	ResourcesFilter []string // empty means "all resources"
	Sync            bool     // spec.md §4.9: "Sync vs async is per-replicator config"
	MaxAttempts     int
	BackoffBase     time.Duration
}

func defaultOptions() Options {
	return Options{MaxAttempts: 5, BackoffBase: 500 * time.Millisecond}
}

// Replicator fans mutations for one target out to driver, via a durable
// per-target log resource (spec.md §4.9).
type Replicator struct {
	targetID string
	driver   Driver
	log      *resource.Resource
	opts     Options

	events  Emitter
	logger  logging.Logger
	metrics metrics.Metrics
}

// Option configures a Replicator at construction time.
type Option func(*Replicator)

func WithOptions(o Options) Option          { return func(r *Replicator) { r.opts = o } }
func WithEvents(e Emitter) Option           { return func(r *Replicator) { r.events = e } }
func WithLogger(l logging.Logger) Option    { return func(r *Replicator) { r.logger = l } }
func WithMetrics(m metrics.Metrics) Option  { return func(r *Replicator) { r.metrics = m } }

// LogPartitions is the partition set every per-target log resource must
// carry so Drain can list pending entries without a full scan.
func LogPartitions() []resource.PartitionDef {
	return []resource.PartitionDef{{Name: "byStatus", Fields: []string{"status"}}}
}

// New builds a Replicator for targetID, draining into log (which must
// carry LogPartitions()).
func New(targetID string, driver Driver, log *resource.Resource, opts ...Option) *Replicator {
	r := &Replicator{
		targetID: targetID,
		driver:   driver,
		log:      log,
		opts:     defaultOptions(),
		logger:   &logging.NoOpLogger{},
		metrics:  &metrics.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Matches reports whether mutation's resource passes this replicator's
// filter (spec.md §4.9 step 1: "Filters by resourcesFilter per target").
func (r *Replicator) Matches(resourceName string) bool {
	if len(r.opts.ResourcesFilter) == 0 {
		return true
	}
	for _, name := range r.opts.ResourcesFilter {
		if name == resourceName {
			return true
		}
	}
	return false
}

// OnMutation enqueues a log entry for m if it matches this target's
// filter, then — in sync mode — drains it immediately so the caller's
// latency includes the replicated write (spec.md §4.9: "In async mode,
// caller latency is the resource write only").
func (r *Replicator) OnMutation(ctx context.Context, m Mutation) error {
	if !r.Matches(m.Resource) {
		return nil
	}

	entryID, err := r.enqueue(ctx, m)
	if err != nil {
		return err
	}

	if r.opts.Sync {
		return r.applyOne(ctx, entryID)
	}
	return nil
}

func (r *Replicator) enqueue(ctx context.Context, m Mutation) (string, error) {
	data := map[string]interface{}{
		"op":         m.Op,
		"resource":   m.Resource,
		"recordId":   m.ID,
		"payload":    m.Record,
		"attempts":   0,
		"status":     string(StatusPending),
		"enqueuedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	rec, err := r.log.Insert(ctx, "", data)
	if err != nil {
		return "", fmt.Errorf("enqueuing replication entry: %w", err)
	}

	if r.events != nil {
		r.events.Emit(EventQueued, map[string]interface{}{
			"target": r.targetID, "resource": m.Resource, "id": m.ID,
		})
	}
	return rec.ID, nil
}

// Drain lists pending entries whose nextAttemptAt has elapsed and applies
// each via the driver, with retries (spec.md §4.9 step 3). It is meant to
// run on exactly one leader-scoped worker per target so per-key order is
// preserved (spec.md §5: "Replication preserves per-key order iff
// replicator writes are drained by a single leader worker per target").
func (r *Replicator) Drain(ctx context.Context) (int, error) {
	ids, err := r.log.ListPartition(ctx, "byStatus", map[string]interface{}{"status": string(StatusPending)}, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending entries for %s: %w", r.targetID, err)
	}

	applied := 0
	now := time.Now().UTC()
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		rec, err := r.log.GetOrNull(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		if next, err := time.Parse(time.RFC3339Nano, fmt.Sprintf("%v", rec.Data["nextAttemptAt"])); err == nil && now.Before(next) {
			continue
		}

		if err := r.applyOne(ctx, id); err == nil {
			applied++
		}
	}
	return applied, nil
}

func (r *Replicator) applyOne(ctx context.Context, entryID string) error {
	rec, err := r.log.Get(ctx, entryID)
	if err != nil {
		return err
	}

	entry := decodeEntry(rec)
	err = r.driver.Apply(ctx, entry)
	if err == nil {
		r.metrics.Increment(metrics.MetricReplicationOK, "target", r.targetID)
		if r.events != nil {
			r.events.Emit(EventSuccess, map[string]interface{}{"target": r.targetID, "entry": entryID})
		}
		_, uerr := r.log.Update(ctx, entryID, map[string]interface{}{"status": string(StatusApplied)})
		return uerr
	}

	attempts := entry.Attempts + 1
	backoff := r.opts.BackoffBase * time.Duration(1<<uint(attempts-1))
	status := string(StatusPending)
	if attempts >= r.opts.MaxAttempts {
		status = string(StatusFailed)
	}

	r.metrics.Increment(metrics.MetricReplicationFail, "target", r.targetID)
	if r.events != nil {
		r.events.Emit(EventFailed, map[string]interface{}{"target": r.targetID, "entry": entryID, "error": err.Error()})
	}

	_, uerr := r.log.Update(ctx, entryID, map[string]interface{}{
		"attempts":      attempts,
		"status":        status,
		"lastError":     err.Error(),
		"nextAttemptAt": time.Now().UTC().Add(backoff).Format(time.RFC3339Nano),
	})
	if uerr != nil {
		return uerr
	}
	return err
}

func decodeEntry(rec *resource.Record) Entry {
	payload, _ := rec.Data["payload"].(map[string]interface{})
	return Entry{
		ID:       rec.ID,
		Op:       fmt.Sprintf("%v", rec.Data["op"]),
		Resource: fmt.Sprintf("%v", rec.Data["resource"]),
		RecordID: fmt.Sprintf("%v", rec.Data["recordId"]),
		Payload:  payload,
		Attempts: toInt(rec.Data["attempts"]),
		Status:   Status(fmt.Sprintf("%v", rec.Data["status"])),
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// SyncAllData enumerates source in ID order and enqueues a synthetic
// insert entry per record for a bulk catch-up (spec.md §4.9:
// "syncAllData(targetId) enumerates a source resource in partition order
// and enqueues a synthetic insert per record").
func (r *Replicator) SyncAllData(ctx context.Context, resourceName string, source *resource.Resource) (int, error) {
	ids, err := source.ListIDs(ctx, resource.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("listing source records: %w", err)
	}

	count := 0
	for _, id := range ids {
		rec, err := source.GetOrNull(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		if _, err := r.enqueue(ctx, Mutation{Op: "insert", Resource: resourceName, ID: id, Record: rec.Data}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
