package replication

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/s3db/s3db/internal/queue"
	"github.com/s3db/s3db/internal/resource"
)

// DriverKind names one of the built-in replicator drivers spec.md §4.9
// enumerates: `driver ∈ {s3db, queue, warehouse, relational, custom}`.
type DriverKind string

const (
	DriverS3DB      DriverKind = "s3db"
	DriverQueue     DriverKind = "queue"
	DriverWarehouse DriverKind = "warehouse"
	DriverRelational DriverKind = "relational"
	DriverCustom    DriverKind = "custom"
)

// S3DBDriver replicates into another s3db Resource (another database or
// another resource in the same one), applying entries via the ordinary
// Resource write path so the target's own codec/partition/hook stack runs.
type S3DBDriver struct {
	Target *resource.Resource
}

func (d *S3DBDriver) Apply(ctx context.Context, entry Entry) error {
	switch entry.Op {
	case "delete":
		return d.Target.Delete(ctx, entry.RecordID)
	default:
		_, err := d.Target.Upsert(ctx, entry.RecordID, entry.Payload)
		return err
	}
}

// QueueDriver replicates by enqueuing each mutation as a work item on a
// Queue Runtime target, letting a downstream worker pool consume it
// asynchronously.
type QueueDriver struct {
	Target *queue.Queue
}

func (d *QueueDriver) Apply(ctx context.Context, entry Entry) error {
	_, err := d.Target.Enqueue(ctx, map[string]interface{}{
		"op":       entry.Op,
		"resource": entry.Resource,
		"recordId": entry.RecordID,
		"payload":  entry.Payload,
	})
	return err
}

// WarehouseSink is the minimal write surface a warehouse driver needs —
// satisfied by a batch-append client for systems like BigQuery/Redshift
// that the pack does not carry a dedicated SDK for; callers supply their
// own implementation.
type WarehouseSink interface {
	AppendRow(ctx context.Context, table string, row map[string]interface{}) error
}

// WarehouseDriver replicates by appending a denormalized row per mutation
// to an analytics warehouse sink.
type WarehouseDriver struct {
	Sink  WarehouseSink
	Table string
}

func (d *WarehouseDriver) Apply(ctx context.Context, entry Entry) error {
	row := map[string]interface{}{
		"op":        entry.Op,
		"resource":  entry.Resource,
		"record_id": entry.RecordID,
	}
	for k, v := range entry.Payload {
		row[k] = v
	}
	return d.Sink.AppendRow(ctx, d.Table, row)
}

// RelationalDriver replicates into a Postgres table via pgx, upserting one
// row per mutation as a JSONB document keyed by the original record ID.
// Grounded on wiring github.com/jackc/pgx/v5 (present in the teacher's
// go.mod) into a concern SPEC_FULL.md's domain stack calls for, distinct
// from the teacher's own (dropped) Postgres-wire-protocol *server* use of
// pgproto3.
type RelationalDriver struct {
	Pool  *pgxpool.Pool
	Table string
}

// NewRelationalDriver opens a pooled connection to dsn and ensures Table
// exists with the (id text primary key, resource text, payload jsonb)
// shape every replicated entry is upserted into.
func NewRelationalDriver(ctx context.Context, dsn, table string) (*RelationalDriver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to relational sink: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		resource TEXT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring relational sink table: %w", err)
	}

	return &RelationalDriver{Pool: pool, Table: table}, nil
}

func (d *RelationalDriver) Apply(ctx context.Context, entry Entry) error {
	if entry.Op == "delete" {
		_, err := d.Pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", d.Table), entry.RecordID)
		return err
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, resource, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET resource = EXCLUDED.resource, payload = EXCLUDED.payload, updated_at = now()`, d.Table)
	_, err = d.Pool.Exec(ctx, query, entry.RecordID, entry.Resource, payload)
	return err
}

func (d *RelationalDriver) Close() { d.Pool.Close() }

// CustomFunc adapts a plain function to the Driver interface, for
// `driver:"custom"` targets whose apply logic doesn't warrant its own
// named type.
type CustomFunc func(ctx context.Context, entry Entry) error

func (f CustomFunc) Apply(ctx context.Context, entry Entry) error { return f(ctx, entry) }
