package s3db

import (
	"context"

	"github.com/s3db/s3db/internal/counter"
	"github.com/s3db/s3db/internal/events"
	"github.com/s3db/s3db/internal/queue"
	"github.com/s3db/s3db/internal/replication"
	"github.com/s3db/s3db/internal/resource"
	"github.com/s3db/s3db/internal/schema"
)

// Plugin is an install/start/stop capability interface for workers such as
// a queue, scheduler, TTL reaper or replicator. No type in this module
// implements it and Database never calls it: NewQueue, NewCounter and
// NewReplicator below build and wire their workers directly.
type Plugin interface {
	Install(ctx context.Context, db *Database) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NewQueue creates (idempotently) the backing resource for a named queue
// and wraps it as a queue.Queue (spec.md §4.7).
func (db *Database) NewQueue(ctx context.Context, name string, opts ...queue.Option) (*queue.Queue, error) {
	res, err := db.CreateResource(ctx, name, ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "state", Type: schema.TypeString, Required: true},
			{Name: "attempts", Type: schema.TypeNumber, Required: true, Default: 0},
		},
		Behavior:   resource.BehaviorBodyOverflow,
		Partitions: queue.PartitionDefs(),
	})
	if err != nil {
		return nil, err
	}
	return queue.New(res, append([]queue.Option{
		queue.WithLogger(db.logger),
		queue.WithMetrics(db.metrics),
	}, opts...)...), nil
}

// NewCounter creates (idempotently) the transaction-log and analytics
// sibling resources for field on baseName, returning a consolidation
// Engine wired to them (spec.md §4.8).
func (db *Database) NewCounter(ctx context.Context, baseName, field string, opts ...counter.Option) (*counter.Engine, error) {
	base, ok := db.Resource(baseName)
	if !ok {
		return nil, errBaseResourceMissing(baseName)
	}

	txName := counter.TransactionsResourceName(baseName, field)
	tx, err := db.CreateResource(ctx, txName, ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "originalId", Type: schema.TypeString, Required: true},
			{Name: "field", Type: schema.TypeString, Required: true},
			{Name: "op", Type: schema.TypeString, Required: true},
			{Name: "value", Type: schema.TypeNumber, Required: true},
			{Name: "day", Type: schema.TypeString, Required: true},
			{Name: "applied", Type: schema.TypeBoolean, Required: true, Default: false},
		},
		Partitions: counter.TransactionPartitions(),
	})
	if err != nil {
		return nil, err
	}

	analyticsName := counter.AnalyticsResourceName(baseName, field)
	analyticsRes, err := db.CreateResource(ctx, analyticsName, ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "day", Type: schema.TypeString, Required: true},
			{Name: "originalId", Type: schema.TypeString, Required: true},
			{Name: "sum", Type: schema.TypeNumber, Required: true, Default: 0},
			{Name: "count", Type: schema.TypeNumber, Required: true, Default: 0},
		},
		Partitions: counter.AnalyticsPartitions(),
	})
	if err != nil {
		return nil, err
	}

	rollups := counter.NewRollups(analyticsRes)
	return counter.New(field, base, tx, append([]counter.Option{
		counter.WithAnalytics(rollups),
		counter.WithLogger(db.logger),
		counter.WithMetrics(db.metrics),
	}, opts...)...), nil
}

// NewReplicator creates (idempotently) a per-target replication log
// resource and wraps it as a Replicator (spec.md §4.9).
func (db *Database) NewReplicator(ctx context.Context, targetID string, driver replication.Driver, opts ...replication.Option) (*replication.Replicator, error) {
	logName := "replication_" + targetID
	log, err := db.CreateResource(ctx, logName, ResourceConfig{
		Attributes: []schema.Attribute{
			{Name: "op", Type: schema.TypeString, Required: true},
			{Name: "resource", Type: schema.TypeString, Required: true},
			{Name: "recordId", Type: schema.TypeString, Required: true},
			{Name: "status", Type: schema.TypeString, Required: true},
			{Name: "attempts", Type: schema.TypeNumber, Required: true, Default: 0},
		},
		Behavior:   resource.BehaviorBodyOverflow,
		Partitions: replication.LogPartitions(),
	})
	if err != nil {
		return nil, err
	}

	rep := replication.New(targetID, driver, log, append([]replication.Option{
		replication.WithEvents(db.events),
		replication.WithLogger(db.logger),
		replication.WithMetrics(db.metrics),
	}, opts...)...)

	subscribeReplicator(db.events, rep, logName)

	return rep, nil
}

// subscribeReplicator wires rep.OnMutation to fire automatically on every
// resource mutation the event bus publishes (spec.md §4.9: "On every
// successful mutation, the Resource emits {op, resource, id, record,
// previous}; the Replication plugin [appends a queue entry]"). logName is
// this replicator's own per-target log resource; its writes are excluded
// so the replicator never replicates its own queue entries back to itself.
func subscribeReplicator(bus *events.Bus, rep *replication.Replicator, logName string) {
	forward := func(op string) events.Listener {
		return func(ev events.Event) {
			resName, _ := ev.Payload["resource"].(string)
			if resName == "" || resName == logName {
				return
			}
			id, _ := ev.Payload["id"].(string)
			record, _ := ev.Payload["record"].(map[string]interface{})
			previous, _ := ev.Payload["previous"].(map[string]interface{})
			_ = rep.OnMutation(context.Background(), replication.Mutation{
				Op:       op,
				Resource: resName,
				ID:       id,
				Record:   record,
				Previous: previous,
			})
		}
	}

	bus.On(resource.EventInserted, forward("insert"))
	bus.On(resource.EventUpdated, forward("update"))
	bus.On(resource.EventDeleted, forward("delete"))
}

type baseResourceMissingError struct{ name string }

func (e *baseResourceMissingError) Error() string {
	return "base resource " + e.name + " does not exist; create it before attaching a counter"
}

func errBaseResourceMissing(name string) error { return &baseResourceMissingError{name: name} }
