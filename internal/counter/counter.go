// Package counter implements the Eventually-Consistent Counter Engine
// (spec.md §4.8): an append-only per-field transaction log consolidated
// into a materialized counter, with optional daily analytics rollups.
package counter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/s3db/s3db/internal/logging"
	"github.com/s3db/s3db/internal/metrics"
	"github.com/s3db/s3db/internal/resource"
)

// Op names the arithmetic a transaction record applies.
type Op string

const (
	OpSet Op = "SET"
	OpAdd Op = "ADD"
	OpSub Op = "SUB"
)

// Mode selects when transactions are consolidated.
type Mode string

const (
	ModeSync  Mode = "sync"  // consolidate immediately on Add/Sub
	ModeAsync Mode = "async" // consolidate only when Consolidate is called; no scheduler runs it
)

// TransactionPartitions is the partition set every transaction-log
// resource must carry (spec.md §4.8: "auto-created with partitions
// {byOriginal:{originalId}, byDay:{day}}").
func TransactionPartitions() []resource.PartitionDef {
	return []resource.PartitionDef{
		{Name: "byOriginal", Fields: []string{"originalId"}},
		{Name: "byDay", Fields: []string{"day"}},
	}
}

// TransactionsResourceName returns the sibling resource name for field f
// of base resource name (spec.md §3: "<name>_transactions_<field>").
func TransactionsResourceName(base, field string) string {
	return fmt.Sprintf("%s_transactions_%s", base, field)
}

// AnalyticsResourceName returns the sibling analytics resource name for
// field f of base resource name (spec.md §6:
// "<resource>_analytics_<field>/data/<day>/<id>").
func AnalyticsResourceName(base, field string) string {
	return fmt.Sprintf("%s_analytics_%s", base, field)
}

// Engine layers an eventually-consistent counter over one field of a base
// resource, backed by a transaction-log resource and an optional analytics
// resource (spec.md §4.8).
type Engine struct {
	field        string
	mode         Mode
	base         *resource.Resource
	transactions *resource.Resource
	analytics    *Rollups

	logger  logging.Logger
	metrics metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithMode(m Mode) Option              { return func(e *Engine) { e.mode = m } }
func WithAnalytics(r *Rollups) Option      { return func(e *Engine) { e.analytics = r } }
func WithLogger(l logging.Logger) Option   { return func(e *Engine) { e.logger = l } }
func WithMetrics(m metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds a consolidation Engine for field on base, logging
// transactions into txResource (which must carry TransactionPartitions()).
func New(field string, base, txResource *resource.Resource, opts ...Option) *Engine {
	e := &Engine{
		field:        field,
		mode:         ModeSync,
		base:         base,
		transactions: txResource,
		logger:       &logging.NoOpLogger{},
		metrics:      &metrics.NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add appends an ADD transaction for (id, field) and, in sync mode,
// consolidates it immediately (spec.md §4.8:
// "R.add(id, f, delta) inserts a transaction ... applied:false").
func (e *Engine) Add(ctx context.Context, id string, delta float64) error {
	return e.append(ctx, id, OpAdd, delta)
}

// Sub appends a SUB transaction.
func (e *Engine) Sub(ctx context.Context, id string, delta float64) error {
	return e.append(ctx, id, OpSub, delta)
}

// Set appends a SET transaction, overriding the field outright on
// consolidation rather than accumulating.
func (e *Engine) Set(ctx context.Context, id string, value float64) error {
	return e.append(ctx, id, OpSet, value)
}

func (e *Engine) append(ctx context.Context, originalID string, op Op, value float64) error {
	now := time.Now().UTC()
	data := map[string]interface{}{
		"originalId": originalID,
		"field":      e.field,
		"op":         string(op),
		"value":      value,
		"timestamp":  now.Format(time.RFC3339Nano),
		"day":        now.Format("2006-01-02"),
		"applied":    false,
	}
	if _, err := e.transactions.Insert(ctx, "", data); err != nil {
		return fmt.Errorf("logging transaction: %w", err)
	}

	if e.mode == ModeSync {
		return e.Consolidate(ctx, originalID)
	}
	return nil
}

// txn is the decoded shape of one transaction record, sortable by
// (timestamp, id) per spec.md §3 invariant 6's deterministic tie-break.
type txn struct {
	id        string
	op        Op
	value     float64
	timestamp time.Time
	day       string
}

// Consolidate reduces every unapplied transaction for originalID, in
// timestamp order with id tie-break, into the base record's field, then
// marks each transaction applied — always *after* the record write
// succeeds (spec.md §4.8: "the invariant 'counter >= sum of applied
// transactions' must hold"). Already-applied transactions are skipped,
// making replay of this call idempotent.
func (e *Engine) Consolidate(ctx context.Context, originalID string) error {
	records, err := e.transactions.Query(ctx, nil, resource.QueryOptions{
		Partition:       "byOriginal",
		PartitionValues: map[string]interface{}{"originalId": originalID},
	})
	if err != nil {
		return fmt.Errorf("listing transactions for %s: %w", originalID, err)
	}

	pending := make([]txn, 0, len(records))
	for _, rec := range records {
		if applied, _ := rec.Data["applied"].(bool); applied {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, fmt.Sprintf("%v", rec.Data["timestamp"]))
		pending = append(pending, txn{
			id:        rec.ID,
			op:        Op(fmt.Sprintf("%v", rec.Data["op"])),
			value:     toFloat(rec.Data["value"]),
			timestamp: ts,
			day:       fmt.Sprintf("%v", rec.Data["day"]),
		})
	}
	if len(pending) == 0 {
		return nil
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].timestamp.Equal(pending[j].timestamp) {
			return pending[i].timestamp.Before(pending[j].timestamp)
		}
		return pending[i].id < pending[j].id
	})

	base, err := e.base.GetOrNull(ctx, originalID)
	if err != nil {
		return err
	}
	if base == nil {
		return fmt.Errorf("consolidating %s: base record not found", originalID)
	}

	current := toFloat(base.Data[e.field])
	cohorts := make(map[string]struct {
		sum   float64
		count int
	})

	for _, t := range pending {
		switch t.op {
		case OpAdd:
			current += t.value
		case OpSub:
			current -= t.value
		case OpSet:
			current = t.value
		}
		c := cohorts[t.day]
		c.sum += t.value
		c.count++
		cohorts[t.day] = c
	}

	if _, err := e.base.Update(ctx, originalID, map[string]interface{}{e.field: current}); err != nil {
		return fmt.Errorf("writing consolidated field: %w", err)
	}

	for _, t := range pending {
		if _, err := e.transactions.Update(ctx, t.id, map[string]interface{}{"applied": true}); err != nil {
			e.logger.Warn("marking transaction applied failed", "id", t.id, "error", err)
		}
	}

	e.metrics.Increment(metrics.MetricCounterApplied, "field", e.field)

	if e.analytics != nil {
		for day, c := range cohorts {
			if err := e.analytics.Bump(ctx, originalID, day, c.sum, c.count); err != nil {
				e.logger.Warn("analytics bump failed", "id", originalID, "day", day, "error", err)
			}
		}
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
