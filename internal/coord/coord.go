// Package coord implements the Coordination Service (spec.md §4.6): a
// shared, blob-backed leader-election and heartbeat subsystem multiple
// worker plugins attach to, so one election loop serves N workers across
// N processes.
package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/logging"
	"github.com/s3db/s3db/internal/metrics"
)

// Lease is the blob-backed leader record at coord/<ns>/lease.
type Lease struct {
	LeaderID   string    `json:"leaderId"`
	Epoch      int64     `json:"epoch"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Heartbeat is a worker's liveness record at coord/<ns>/workers/<workerId>.
type Heartbeat struct {
	WorkerID string    `json:"workerId"`
	LastSeen time.Time `json:"lastSeen"`
}

// Subscriber receives leader:changed notifications in epoch order.
type Subscriber func(ctx context.Context, change LeaderChange)

// LeaderChange is delivered on every observed leader transition.
type LeaderChange struct {
	Namespace       string
	PreviousLeader  string
	NewLeader       string
	Epoch           int64
}

// Params configures a Service's tick algorithm (spec.md §4.6).
type Params struct {
	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration
	LeaseTimeout      time.Duration
	WorkerTimeout     time.Duration
}

func defaultParams() Params {
	return Params{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatJitter:   1 * time.Second,
		LeaseTimeout:      15 * time.Second,
		WorkerTimeout:     20 * time.Second,
	}
}

// Service runs the leader-election/heartbeat tick for one namespace,
// shared across every plugin (queue, scheduler, TTL reaper) that attaches
// to it via Subscribe — spec.md §4.6's "global coordinator" mode.
type Service struct {
	namespace string
	selfID    string
	backend   blob.Backend
	params    Params
	fast      *FastLock

	logger  logging.Logger
	metrics metrics.Metrics

	mu            sync.Mutex
	currentLeader string
	subscribers   []Subscriber

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Service.
type Option func(*Service)

func WithParams(p Params) Option               { return func(s *Service) { s.params = p } }
func WithFastLock(fl *FastLock) Option          { return func(s *Service) { s.fast = fl } }
func WithLogger(l logging.Logger) Option        { return func(s *Service) { s.logger = l } }
func WithMetrics(m metrics.Metrics) Option      { return func(s *Service) { s.metrics = m } }

// New builds a coordination Service. selfID identifies this process
// uniquely within the namespace.
func New(namespace, selfID string, backend blob.Backend, opts ...Option) *Service {
	s := &Service{
		namespace: namespace,
		selfID:    selfID,
		backend:   backend,
		params:    defaultParams(),
		logger:    &logging.NoOpLogger{},
		metrics:   &metrics.NoOpMetrics{},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) leaseKey() string {
	return fmt.Sprintf("coord/%s/lease", s.namespace)
}

func (s *Service) workerKey(workerID string) string {
	return fmt.Sprintf("coord/%s/workers/%s", s.namespace, workerID)
}

// Subscribe registers fn to receive leader:changed notifications.
func (s *Service) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// IsLeader reports whether this process currently believes itself leader.
func (s *Service) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLeader == s.selfID
}

// Run starts the periodic tick loop; it blocks until ctx is cancelled or
// Stop is called. Intended to run as its own goroutine per spec.md §5:
// "the coordination tick is its own periodic task; it never runs inside a
// Resource op."
func (s *Service) Run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		jitter := time.Duration(rand.Int63n(int64(s.params.HeartbeatJitter) + 1))
		wait := s.params.HeartbeatInterval + jitter

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Warn("coordination tick failed", "namespace", s.namespace, "error", err)
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (s *Service) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Tick runs one round of the algorithm described in spec.md §4.6.
func (s *Service) Tick(ctx context.Context) error {
	lease, err := s.readLease(ctx)
	if err != nil {
		return fmt.Errorf("reading lease: %w", err)
	}

	now := time.Now().UTC()
	var newLeader string

	switch {
	case lease == nil || now.After(lease.ExpiresAt):
		newLeader, err = s.tryAcquire(ctx, lease, now)
		if err != nil {
			return err
		}
	case lease.LeaderID == s.selfID:
		newLeader, err = s.renew(ctx, lease, now)
		if err != nil {
			return err
		}
	default:
		newLeader = lease.LeaderID
	}

	s.metrics.Increment(metrics.MetricCoordTicks, "namespace", s.namespace)

	if err := s.writeHeartbeat(ctx, now); err != nil {
		s.logger.Warn("heartbeat write failed", "namespace", s.namespace, "error", err)
	}

	s.noteLeaderChange(ctx, newLeader, lease)
	return nil
}

func (s *Service) readLease(ctx context.Context) (*Lease, error) {
	obj, err := s.backend.GetObject(ctx, s.leaseKey())
	if blob.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := json.Unmarshal(obj.Body, &lease); err != nil {
		return nil, fmt.Errorf("decoding lease: %w", err)
	}
	return &lease, nil
}

// tryAcquire attempts to become leader, then re-reads the lease to detect
// a concurrent acquirer: S3 and GCS offer no conditional PUT, so mutual
// exclusion is approximated by writing, then reading back what actually
// landed (the same re-read-after-write discipline the blob client's own
// PutIfMatch-less design requires elsewhere).
func (s *Service) tryAcquire(ctx context.Context, prior *Lease, now time.Time) (string, error) {
	if s.fast != nil {
		if ok := s.fast.TryAcquire(ctx, s.namespace, s.selfID); !ok {
			return s.currentLeaderOrEmpty(prior), nil
		}
	}

	epoch := int64(1)
	if prior != nil {
		epoch = prior.Epoch + 1
	}

	candidate := Lease{
		LeaderID:   s.selfID,
		Epoch:      epoch,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.params.LeaseTimeout),
	}
	if err := s.writeLease(ctx, candidate); err != nil {
		return "", err
	}

	confirmed, err := s.readLease(ctx)
	if err != nil {
		return "", err
	}
	if confirmed == nil || confirmed.LeaderID != s.selfID || confirmed.Epoch != epoch {
		s.logger.Debug("conceded leadership race", "namespace", s.namespace, "self", s.selfID)
		if confirmed != nil {
			return confirmed.LeaderID, nil
		}
		return "", nil
	}

	s.metrics.Increment(metrics.MetricCoordLeaderGain, "namespace", s.namespace)
	return s.selfID, nil
}

func (s *Service) renew(ctx context.Context, prior *Lease, now time.Time) (string, error) {
	renewed := Lease{
		LeaderID:   s.selfID,
		Epoch:      prior.Epoch,
		AcquiredAt: prior.AcquiredAt,
		ExpiresAt:  now.Add(s.params.LeaseTimeout),
	}
	if err := s.writeLease(ctx, renewed); err != nil {
		return "", err
	}
	return s.selfID, nil
}

func (s *Service) writeLease(ctx context.Context, lease Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	return s.backend.PutObject(ctx, s.leaseKey(), data, nil, "application/json")
}

func (s *Service) writeHeartbeat(ctx context.Context, now time.Time) error {
	hb := Heartbeat{WorkerID: s.selfID, LastSeen: now}
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return s.backend.PutObject(ctx, s.workerKey(s.selfID), data, nil, "application/json")
}

func (s *Service) currentLeaderOrEmpty(lease *Lease) string {
	if lease == nil {
		return ""
	}
	return lease.LeaderID
}

func (s *Service) noteLeaderChange(ctx context.Context, newLeader string, prior *Lease) {
	s.mu.Lock()
	previous := s.currentLeader
	epoch := int64(0)
	if prior != nil {
		epoch = prior.Epoch
	}
	changed := previous != newLeader
	if changed {
		s.currentLeader = newLeader
	}
	subs := append([]Subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	if !changed {
		return
	}

	if previous == s.selfID {
		s.metrics.Increment(metrics.MetricCoordLeaderLost, "namespace", s.namespace)
	}

	change := LeaderChange{Namespace: s.namespace, PreviousLeader: previous, NewLeader: newLeader, Epoch: epoch}
	for _, sub := range subs {
		sub(ctx, change)
	}
}
