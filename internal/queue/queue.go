// Package queue implements the Queue Runtime (spec.md §4.7): a
// visibility-timeout work queue layered directly on a Resource, at-least-
// once delivery with a max-attempts dead-letter path.
package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/s3db/s3db/internal/logging"
	"github.com/s3db/s3db/internal/metrics"
	"github.com/s3db/s3db/internal/resource"
)

// State is one of a queue message's lifecycle states.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// PartitionByState is the partition name every queue resource carries so
// claims and stats can list by state in O(matching rows) (spec.md §4.7
// step 1: "List up to batchSize IDs in partition byState=pending").
const PartitionByState = "byState"

// Options configures a Queue.
type Options struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
	BatchSize         int
	BackoffBase       time.Duration
}

func defaultOptions() Options {
	return Options{
		VisibilityTimeout: 30 * time.Second,
		MaxAttempts:       3,
		BatchSize:         10,
		BackoffBase:       time.Second,
	}
}

// Queue is a Resource specialization implementing spec.md §4.7. Grounded
// on internal/resource (CRUD) plus the same claim-contention re-read
// pattern internal/coord uses for lease acquisition, reused here
// intentionally for consistency (DESIGN.md).
type Queue struct {
	res     *resource.Resource
	opts    Options
	logger  logging.Logger
	metrics metrics.Metrics
}

// Option configures a Queue at construction time.
type Option func(*Queue)

func WithOptions(o Options) Option          { return func(q *Queue) { q.opts = o } }
func WithLogger(l logging.Logger) Option    { return func(q *Queue) { q.logger = l } }
func WithMetrics(m metrics.Metrics) Option  { return func(q *Queue) { q.metrics = m } }

// New wraps res, which must carry the byState partition (PartitionDefs
// below), as a Queue.
func New(res *resource.Resource, opts ...Option) *Queue {
	q := &Queue{
		res:     res,
		opts:    defaultOptions(),
		logger:  &logging.NoOpLogger{},
		metrics: &metrics.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PartitionDefs returns the partition set a queue resource must be created
// with, for callers building the Resource.
func PartitionDefs() []resource.PartitionDef {
	return []resource.PartitionDef{{Name: PartitionByState, Fields: []string{"state"}}}
}

// Enqueue inserts a new message in state pending (spec.md §4.7:
// "enqueue(payload) inserts a record with state pending").
func (q *Queue) Enqueue(ctx context.Context, payload map[string]interface{}) (*resource.Record, error) {
	data := cloneMap(payload)
	data["state"] = string(StatePending)
	data["attempts"] = 0
	data["enqueuedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return q.res.Insert(ctx, "", data)
}

// OnMessage processes one message's payload. A non-nil error counts as a
// failed attempt.
type OnMessage func(ctx context.Context, payload map[string]interface{}) error

// Drain lists up to BatchSize pending messages ordered by enqueue time,
// attempts to claim each, and invokes onMessage for every message this
// worker successfully claims (spec.md §4.7 steps 1-3). It returns the
// number of messages it claimed and handed to onMessage, whether they
// completed, went back to pending for a retry, or were dead-lettered.
func (q *Queue) Drain(ctx context.Context, workerID string, onMessage OnMessage) (int, error) {
	candidates, err := q.pendingCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending messages: %w", err)
	}

	processed := 0
	for i, c := range candidates {
		if i >= q.opts.BatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		claimed, err := q.claim(ctx, c.id, workerID)
		if err != nil {
			q.logger.Warn("queue claim failed", "id", c.id, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		q.metrics.Increment(metrics.MetricQueueClaims, "worker", workerID)
		if err := q.process(ctx, c.id, onMessage); err != nil {
			q.logger.Warn("queue message processing error", "id", c.id, "error", err)
		}
		processed++
	}
	return processed, nil
}

// queueCandidate is one pending message considered for claiming, carrying
// the enqueuedAt value Drain sorts by.
type queueCandidate struct {
	id         string
	enqueuedAt time.Time
}

// pendingListOverfetchFactor times BatchSize bounds how many pending IDs
// pendingCandidates pulls before sorting by enqueuedAt and truncating to BatchSize: the partition
// index's key order is lexicographic by record ID (spec.md §6), not by
// enqueue time, so listing exactly BatchSize IDs straight off the index
// would hand back an arbitrary slice rather than the oldest one.
const pendingListOverfetchFactor = 5

// pendingCandidates lists pending messages and sorts them by enqueuedAt
// ascending (spec.md §4.7 step 1: "ordered by enqueue time").
func (q *Queue) pendingCandidates(ctx context.Context) ([]queueCandidate, error) {
	overfetch := q.opts.BatchSize * pendingListOverfetchFactor
	ids, err := q.res.ListPartition(ctx, PartitionByState, map[string]interface{}{"state": string(StatePending)}, overfetch)
	if err != nil {
		return nil, err
	}

	candidates := make([]queueCandidate, 0, len(ids))
	for _, id := range ids {
		rec, err := q.res.GetOrNull(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		candidates = append(candidates, queueCandidate{id: id, enqueuedAt: parseEnqueuedAt(rec.Data["enqueuedAt"])})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].enqueuedAt.Before(candidates[j].enqueuedAt) })
	return candidates, nil
}

// parseEnqueuedAt best-effort parses the RFC3339Nano timestamp Enqueue
// stamped on the record. A record with a missing or malformed value sorts
// as if enqueued just now, rather than jumping the queue.
func parseEnqueuedAt(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// claim attempts mutual exclusion on message id: write a processing state
// owned by workerID, then re-read to detect a concurrent claimant (spec.md
// §4.7 step 2: "Claim is contended: immediately re-read; if leasedBy !=
// self, skip"). This mirrors internal/coord's lease-acquire re-read
// discipline since S3 offers no conditional PUT.
func (q *Queue) claim(ctx context.Context, id, workerID string) (bool, error) {
	rec, err := q.res.GetOrNull(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Data["state"] != string(StatePending) {
		return false, nil
	}

	leaseExpires := time.Now().UTC().Add(q.opts.VisibilityTimeout)
	if _, err := q.res.Update(ctx, id, map[string]interface{}{
		"state":          string(StateProcessing),
		"leasedBy":       workerID,
		"leaseExpiresAt": leaseExpires.Format(time.RFC3339Nano),
	}); err != nil {
		return false, err
	}

	confirmed, err := q.res.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return confirmed.Data["leasedBy"] == workerID, nil
}

// process invokes onMessage and applies the success/retry/dead-letter
// transition (spec.md §4.7 step 3).
func (q *Queue) process(ctx context.Context, id string, onMessage OnMessage) error {
	rec, err := q.res.Get(ctx, id)
	if err != nil {
		return err
	}

	err = onMessage(ctx, rec.Data)
	if err == nil {
		_, uerr := q.res.Update(ctx, id, map[string]interface{}{"state": string(StateCompleted)})
		q.metrics.Increment(metrics.MetricQueueCompleted)
		return uerr
	}

	attempts := toInt(rec.Data["attempts"]) + 1
	if attempts < q.opts.MaxAttempts {
		backoff := q.opts.BackoffBase * time.Duration(1<<uint(attempts-1))
		_, uerr := q.res.Update(ctx, id, map[string]interface{}{
			"state":           string(StatePending),
			"attempts":        attempts,
			"lastError":       err.Error(),
			"nextAttemptAt":   time.Now().UTC().Add(backoff).Format(time.RFC3339Nano),
		})
		return uerr
	}

	_, uerr := q.res.Update(ctx, id, map[string]interface{}{
		"state":     string(StateFailed),
		"attempts":  attempts,
		"lastError": err.Error(),
	})
	q.metrics.Increment(metrics.MetricQueueFailed)
	return uerr
}

// Reap transitions processing messages whose visibility timeout has
// elapsed back to pending (spec.md §4.7 step 4: "idempotent retry").
func (q *Queue) Reap(ctx context.Context) (int, error) {
	ids, err := q.res.ListPartition(ctx, PartitionByState, map[string]interface{}{"state": string(StateProcessing)}, 0)
	if err != nil {
		return 0, err
	}

	reaped := 0
	now := time.Now().UTC()
	for _, id := range ids {
		rec, err := q.res.GetOrNull(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		expiry, err := time.Parse(time.RFC3339Nano, fmt.Sprintf("%v", rec.Data["leaseExpiresAt"]))
		if err != nil || now.Before(expiry) {
			continue
		}
		if _, err := q.res.Update(ctx, id, map[string]interface{}{"state": string(StatePending)}); err == nil {
			reaped++
		}
	}
	return reaped, nil
}

// Stats returns a count by state, computed via partition lists (spec.md
// §4.7: "queueStats() returns counts by state computed via partition
// lists").
func (q *Queue) Stats(ctx context.Context) (map[State]int, error) {
	out := make(map[State]int)
	for _, s := range []State{StatePending, StateProcessing, StateCompleted, StateFailed} {
		ids, err := q.res.ListPartition(ctx, PartitionByState, map[string]interface{}{"state": string(s)}, 0)
		if err != nil {
			return nil, err
		}
		out[s] = len(ids)
	}
	return out, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
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
