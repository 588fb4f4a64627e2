package s3db

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/hkdf"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/catalog"
	"github.com/s3db/s3db/internal/codec"
	"github.com/s3db/s3db/internal/coord"
	"github.com/s3db/s3db/internal/events"
	"github.com/s3db/s3db/internal/logging"
	"github.com/s3db/s3db/internal/metrics"
	"github.com/s3db/s3db/internal/resource"
	"github.com/s3db/s3db/internal/schema"
)

// Event names emitted on a Database's event bus that are not already
// constants in a subordinate package (spec.md §6: "connected,
// disconnected" plus the catalog's own "metadataHealed").
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Database is a logical root bound to one S3-compatible bucket + key
// prefix (spec.md §3): it owns the Metadata Catalog, every Resource, the
// event bus, and the Coordination Service registry (one per namespace,
// default namespace = the database's own connection identity).
type Database struct {
	backend blob.Backend
	conn    *ConnInfo
	cfg     *Config

	catalog *catalog.Store
	events  *events.Bus
	logger  logging.Logger
	metrics metrics.Metrics

	cipher *codec.SecretCipher

	mu             sync.RWMutex
	resources      map[string]*resource.Resource
	coordSvcs      map[string]*coord.Service
	workerMonitors map[string]*coord.WorkerMonitor

	fastLock    *coord.FastLock
	redisClient *redis.Client

	lastHeal *catalog.HealingLog
}

// Connect opens a Database against the given connection string (spec.md
// §6), running the Metadata Catalog's self-healing load (spec.md §4.4) and
// returning a ready-to-use handle.
func Connect(ctx context.Context, connStr string, opts ...Option) (*Database, error) {
	cfg := defaultConfig(connStr)
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	conn, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}

	db := &Database{
		backend:   backend,
		conn:      conn,
		cfg:       cfg,
		catalog:   catalog.NewStore(backend),
		events:    events.New(),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		resources:      make(map[string]*resource.Resource),
		coordSvcs:      make(map[string]*coord.Service),
		workerMonitors: make(map[string]*coord.WorkerMonitor),
	}

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		db.redisClient = rc
		db.fastLock = coord.NewFastLock(rc, cfg.FastLockTTL)
	}

	if cfg.Passphrase != "" {
		key, err := deriveKey(cfg.Passphrase, conn.Bucket+"/"+conn.Prefix)
		if err != nil {
			return nil, fmt.Errorf("deriving secret cipher key: %w", err)
		}
		cipher, err := codec.NewSecretCipher(key)
		if err != nil {
			return nil, err
		}
		db.cipher = cipher
	}

	manifest, healLog, err := db.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	db.lastHeal = healLog
	if healLog != nil && len(healLog.Steps) > 0 {
		db.events.Emit(catalog.EventMetadataHealed, map[string]interface{}{"steps": healLog.Steps})
	}

	if err := db.rehydrateResources(manifest); err != nil {
		return nil, fmt.Errorf("rehydrating resources from manifest: %w", err)
	}

	db.events.Emit(EventConnected, map[string]interface{}{"bucket": conn.Bucket, "prefix": conn.Prefix})
	return db, nil
}

// deriveKey derives a 32-byte AES-256 key from the connection passphrase
// via HKDF over a per-database salt (spec.md §4.2 step 3: "derived via
// HKDF over a per-database salt"). The salt is the bucket+prefix identity
// so two databases sharing a passphrase never share a key.
func deriveKey(passphrase, salt string) ([]byte, error) {
	h := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("s3db-secret-cipher"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

func buildBackend(ctx context.Context, conn *ConnInfo, cfg *Config) (blob.Backend, error) {
	switch conn.Scheme {
	case SchemeMemory:
		return blob.NewMemoryBackend(), nil

	case SchemeGS:
		gcs, err := blob.NewGCSBackend(ctx, blob.GCSConfig{
			Bucket:          conn.Bucket,
			Prefix:          conn.Prefix,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		return gcs, nil

	case SchemeS3:
		creds, err := s3Credentials(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("resolving S3 credentials: %w", err)
		}
		client := s3.New(s3.Options{
			Region:       "us-east-1",
			BaseEndpoint: endpointOrNil(conn.Endpoint, conn.Insecure),
			Credentials:  creds,
			UsePathStyle: conn.Endpoint != "",
		})
		backend := blob.NewS3Backend(client, conn.Bucket, conn.Prefix).WithConcurrency(cfg.Concurrency)
		if cfg.RetryConfig != nil {
			backend = backend.WithRetryConfig(cfg.RetryConfig.toBlob())
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported scheme %q", conn.Scheme)
	}
}

// s3Credentials resolves the connection string's embedded ACCESS:SECRET
// when present (spec.md §6's literal "s3://ACCESS:SECRET@ENDPOINT/..."
// form). When the connection string carries no credentials — e.g. an
// endpoint-only URL meant to run under an IAM role or environment-based
// credentials in a deployed environment — it falls back to the AWS SDK's
// own default credential chain (env vars, shared config file, EC2/ECS
// instance role) via aws-sdk-go-v2/config, exactly as an AWS CLI/SDK
// caller would expect.
func s3Credentials(ctx context.Context, conn *ConnInfo) (aws.CredentialsProvider, error) {
	if conn.AccessKey != "" || conn.SecretKey != "" {
		return credentials.NewStaticCredentialsProvider(conn.AccessKey, conn.SecretKey, ""), nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Credentials, nil
}

func endpointOrNil(endpoint string, insecure bool) *string {
	if endpoint == "" {
		return nil
	}
	scheme := "https://"
	if insecure {
		scheme = "http://"
	}
	return aws.String(scheme + endpoint)
}

// rehydrateResources rebuilds a Resource for every entry already present
// in a freshly-loaded manifest, so a reconnecting process sees the same
// collections a prior process created (spec.md §3 invariant 3: "currentVersion
// names an existing version").
func (db *Database) rehydrateResources(m *catalog.Manifest) error {
	for name, entry := range m.Resources {
		current, ok := entry.Versions[entry.CurrentVersion]
		if !ok {
			continue // catalog healing already guarantees this cannot happen after Load
		}
		attrs, err := decodeAttributes(current.Attributes)
		if err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		sv := schema.NewSchemaVersion(attrs)

		if err := db.checkSecretSupport(attrs); err != nil {
			return err
		}

		res := resource.New(name, db.backend, sv,
			resource.WithEvents(db.events),
			resource.WithLogger(db.logger),
			resource.WithMetrics(db.metrics),
			resource.WithSecretCipher(db.cipher),
			resource.WithPartitions(decodePartitions(current.Partitions)...),
			resource.WithPersistHooks(len(current.Hooks) > 0),
			resource.WithHookPersister(db.hookPersisterFor(name)),
		)
		db.restoreHooks(res, current.Hooks)

		db.mu.Lock()
		db.resources[name] = res
		db.mu.Unlock()
	}
	return nil
}

// resourceHookPoints lists every HookPoint a manifest can carry persisted
// hook names under (keep in sync with internal/resource/hooks.go).
var resourceHookPoints = []resource.HookPoint{
	resource.BeforeInsert, resource.AfterInsert,
	resource.BeforeUpdate, resource.AfterUpdate,
	resource.BeforeDelete, resource.AfterDelete,
	resource.BeforeQuery, resource.AfterQuery,
}

// restoreHooks re-attaches every hook name the manifest recorded for res,
// resolving each against the process-level hook registry (spec.md §4.3:
// "re-materialized on reconnect by looking up a process-level registry"). A
// name not yet registered in this process is logged, not fatal: the
// registering code may simply not have run RegisterHook yet.
func (db *Database) restoreHooks(res *resource.Resource, hooks map[string][]string) {
	for _, point := range resourceHookPoints {
		for _, name := range hooks[string(point)] {
			if !res.RestoreHook(point, name) {
				db.logger.Warn("hook not in process-level registry, skipping restore", "resource", res.Name(), "point", point, "hook", name)
			}
		}
	}
}

// checkSecretSupport enforces spec.md §4.10's fatal condition: "missing
// encryption passphrase when a secret-typed attribute exists."
func (db *Database) checkSecretSupport(attrs []schema.Attribute) error {
	if db.cipher != nil {
		return nil
	}
	for _, a := range attrs {
		if a.Type == schema.TypeSecret {
			return newError(KindDependencyMissing, "schema declares a secret-typed attribute but no passphrase was configured", "pass WithPassphrase(...) to Connect", nil)
		}
	}
	return nil
}

// Resource returns a previously created Resource by name.
func (db *Database) Resource(name string) (*resource.Resource, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.resources[name]
	return r, ok
}

// ResourceNames lists every resource currently registered on this Database,
// in no particular order.
func (db *Database) ResourceNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.resources))
	for name := range db.resources {
		names = append(names, name)
	}
	return names
}

// HealingSteps reports what the most recent Connect's manifest load had to
// repair, if anything (spec.md §4.4). An empty slice means the manifest was
// already well-formed.
func (db *Database) HealingSteps() []string {
	if db.lastHeal == nil {
		return nil
	}
	return db.lastHeal.Steps
}

// Events returns the Database's in-process event bus.
func (db *Database) Events() *events.Bus { return db.events }

// Backend exposes the underlying Blob Client, for plugins that need direct
// object access beyond the Resource surface (e.g. the Coordination
// Service, Queue Runtime).
func (db *Database) Backend() blob.Backend { return db.backend }

// Logger returns the Database's configured logger.
func (db *Database) Logger() logging.Logger { return db.logger }

// Metrics returns the Database's configured metrics collector.
func (db *Database) Metrics() metrics.Metrics { return db.metrics }

// Coordination returns the shared coordination Service for namespace,
// creating it on first use. Every worker plugin (Queue Runtime, Counter
// Engine scheduler, TTL reaper) that attaches to the same namespace shares
// one election loop (spec.md §4.6: "global coordinator" mode).
func (db *Database) Coordination(namespace, selfID string) *coord.Service {
	db.mu.Lock()
	defer db.mu.Unlock()

	if svc, ok := db.coordSvcs[namespace]; ok {
		return svc
	}
	opts := []coord.Option{
		coord.WithParams(db.cfg.CoordParams),
		coord.WithLogger(db.logger),
		coord.WithMetrics(db.metrics),
	}
	if db.fastLock != nil {
		opts = append(opts, coord.WithFastLock(db.fastLock))
	}
	svc := coord.New(namespace, selfID, db.backend, opts...)
	db.coordSvcs[namespace] = svc
	return svc
}

// defaultIncrementalAllocator builds the Allocator a resource created with
// IDModeIncremental uses when its ResourceConfig supplies no explicit
// schema.WithAllocator option: a RedisAllocator keyed per-resource when
// RedisAddr is configured (true atomicity via INCR/INCRBY), otherwise a
// BlobAllocator over the same backend every other write already goes
// through, so incremental IDs work out of the box with no extra
// infrastructure.
func (db *Database) defaultIncrementalAllocator(resourceName string) schema.Allocator {
	if db.redisClient != nil {
		key := fmt.Sprintf("s3db:ids:%s:%s", db.DefaultNamespace(), resourceName)
		return schema.NewRedisAllocator(db.redisClient, key,
			schema.WithAllocatorLogger(db.logger),
			schema.WithAllocatorMetrics(db.metrics))
	}
	return schema.NewBlobAllocator(db.backend, "idcounters/"+resourceName).WithLogger(db.logger)
}

// WorkerMonitor returns the shared stale-worker heartbeat monitor for
// namespace, creating it (and the underlying coord.Service, if not already
// built) on first use. Mirrors Coordination's per-namespace caching; as
// with coord.Service.Run, callers own starting/stopping it as their own
// goroutine (spec.md §5: "the coordination tick is its own periodic task;
// it never runs inside a Resource op") — Close stops any monitor a caller
// started.
func (db *Database) WorkerMonitor(namespace, selfID string) *coord.WorkerMonitor {
	svc := db.Coordination(namespace, selfID)

	db.mu.Lock()
	defer db.mu.Unlock()
	if mon, ok := db.workerMonitors[namespace]; ok {
		return mon
	}
	mon := coord.NewWorkerMonitor(svc, db.backend).WithLogger(db.logger)
	db.workerMonitors[namespace] = mon
	return mon
}

// DefaultNamespace is the coordination namespace a Database's own plugins
// attach to unless they ask for a different one (spec.md §3: "default
// namespace = the database").
func (db *Database) DefaultNamespace() string {
	return db.conn.Bucket + "/" + db.conn.Prefix
}

// Close stops every coordination service this Database started and emits
// disconnected. It does not delete any data.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	svcs := make([]*coord.Service, 0, len(db.coordSvcs))
	for _, svc := range db.coordSvcs {
		svcs = append(svcs, svc)
	}
	db.mu.Unlock()

	for _, svc := range svcs {
		svc.Stop()
	}

	db.mu.Lock()
	monitors := make([]*coord.WorkerMonitor, 0, len(db.workerMonitors))
	for _, mon := range db.workerMonitors {
		monitors = append(monitors, mon)
	}
	db.mu.Unlock()
	for _, mon := range monitors {
		mon.Stop()
	}

	if db.fastLock != nil {
		_ = db.fastLock.Close()
	}

	db.events.Emit(EventDisconnected, map[string]interface{}{"bucket": db.conn.Bucket})
	db.events.Close()
	return db.backend.Close()
}
