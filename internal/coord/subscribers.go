package coord

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/logging"
)

// WorkerMonitor periodically lists coord/<ns>/workers/ and reports workers
// whose heartbeat has gone stale, so a leader or operator can decide
// whether a worker crashed mid-task. Grounded on the teacher's
// IndexHealthMonitor (index_health.go): a ticker/stopChan loop sampling
// state on an interval, with options layered on via With* builders.
type WorkerMonitor struct {
	service *Service
	backend blob.Backend
	logger  logging.Logger

	checkInterval time.Duration
	staleAfter    time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// StaleWorker is a worker whose last heartbeat exceeds the configured
// staleness window.
type StaleWorker struct {
	WorkerID string
	LastSeen time.Time
	Age      time.Duration
}

// NewWorkerMonitor builds a monitor for s.namespace's worker heartbeats.
func NewWorkerMonitor(s *Service, backend blob.Backend) *WorkerMonitor {
	return &WorkerMonitor{
		service:       s,
		backend:       backend,
		logger:        &logging.NoOpLogger{},
		checkInterval: time.Minute,
		staleAfter:    s.params.WorkerTimeout,
		stopChan:      make(chan struct{}),
	}
}

func (m *WorkerMonitor) WithCheckInterval(d time.Duration) *WorkerMonitor {
	m.checkInterval = d
	return m
}

func (m *WorkerMonitor) WithStaleAfter(d time.Duration) *WorkerMonitor {
	m.staleAfter = d
	return m
}

func (m *WorkerMonitor) WithLogger(l logging.Logger) *WorkerMonitor {
	m.logger = l
	return m
}

// Start runs the check loop until Stop is called or ctx is cancelled.
// Safe to call at most once per monitor.
func (m *WorkerMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			stale, err := m.Check(ctx)
			if err != nil {
				m.logger.Warn("worker health check failed", "namespace", m.service.namespace, "error", err)
				continue
			}
			for _, w := range stale {
				m.logger.Warn("stale worker heartbeat", "namespace", m.service.namespace, "workerId", w.WorkerID, "age", w.Age)
			}
		}
	}
}

// Stop ends the Start loop.
func (m *WorkerMonitor) Stop() {
	close(m.stopChan)
}

// Check lists current worker heartbeats, reports which exceed the
// staleness window, and — when this process currently holds the
// namespace's lease — sweeps (deletes) their heartbeat objects (spec.md
// §4.6: "their heartbeat objects are swept by the leader"). A non-leader
// still reports staleness for visibility; it just leaves deletion to
// whichever process is leader.
func (m *WorkerMonitor) Check(ctx context.Context) ([]StaleWorker, error) {
	prefix := "coord/" + m.service.namespace + "/workers/"
	result, err := m.backend.ListObjects(ctx, prefix, blob.ListOptions{})
	if err != nil {
		return nil, err
	}

	isLeader := m.service.IsLeader()
	now := time.Now().UTC()
	var stale []StaleWorker
	for _, key := range result.Keys {
		obj, err := m.backend.GetObject(ctx, key)
		if err != nil {
			continue
		}
		var hb Heartbeat
		if err := json.Unmarshal(obj.Body, &hb); err != nil {
			continue
		}
		age := now.Sub(hb.LastSeen)
		if age <= m.staleAfter {
			continue
		}

		stale = append(stale, StaleWorker{
			WorkerID: strings.TrimPrefix(key, prefix),
			LastSeen: hb.LastSeen,
			Age:      age,
		})

		if !isLeader {
			continue
		}
		if err := m.backend.DeleteObject(ctx, key); err != nil && !blob.IsNotFound(err) {
			m.logger.Warn("failed to sweep stale worker heartbeat", "namespace", m.service.namespace, "key", key, "error", err)
		}
	}
	return stale, nil
}
