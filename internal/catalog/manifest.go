// Package catalog implements the Metadata Catalog (spec.md §4.4): the
// s3db.json manifest and its self-healing read path.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/s3db/s3db/internal/blob"
)

const ManifestKey = "s3db.json"

// CurrentVersion is the manifest's own schema version, written into every
// manifest's top-level "version" field (spec.md §6: "Versioned by
// version:'1' top-level string").
const CurrentVersion = "1"

// VersionEntry is one schema version recorded against a resource.
type VersionEntry struct {
	Hash       string                 `json:"hash"`
	Attributes map[string]interface{} `json:"attributes"`
	Partitions map[string]interface{} `json:"partitions,omitempty"`
	Hooks      map[string][]string    `json:"hooks,omitempty"`
}

// ResourceEntry is one resource's manifest record.
type ResourceEntry struct {
	CurrentVersion string                  `json:"currentVersion"`
	Versions       map[string]VersionEntry `json:"versions"`
}

// Manifest is the root catalog object, s3db.json.
type Manifest struct {
	Version     string                   `json:"version"`
	S3DBVersion string                   `json:"s3dbVersion"`
	LastUpdated time.Time                `json:"lastUpdated"`
	Resources   map[string]ResourceEntry `json:"resources"`
}

func blankManifest() *Manifest {
	return &Manifest{
		Version:     CurrentVersion,
		S3DBVersion: CurrentVersion,
		LastUpdated: time.Time{},
		Resources:   make(map[string]ResourceEntry),
	}
}

// Store wraps a Manifest with the blob-backed single-writer access pattern
// spec.md §5 describes: "the manifest is effectively single-writer: writes
// are gated by a process-local mutex". Grounded on the teacher's store.go
// GetJSON/PutJSON pattern, retargeted from a generic JSON accessor to one
// purpose-built object.
type Store struct {
	backend blob.Backend
	mu      sync.Mutex
	current *Manifest
}

func NewStore(backend blob.Backend) *Store {
	return &Store{backend: backend}
}

// Load reads the manifest at connect time, running the healing pipeline
// (heal.go) on whatever bytes are present. A missing manifest is not an
// error: a blank one is created and returned per spec.md §4.4 "At connect:
// read <prefix>/s3db.json; if absent, create a blank one."
func (s *Store) Load(ctx context.Context) (*Manifest, *HealingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.backend.GetObject(ctx, ManifestKey)
	if blob.IsNotFound(err) {
		m := blankManifest()
		s.current = m
		return m, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, log, err := Heal(ctx, s.backend, obj.Body)
	if err != nil {
		return nil, nil, err
	}
	s.current = m
	return m, log, nil
}

// Save persists the current in-memory manifest, updating LastUpdated and
// guarding against a concurrent writer moving it backwards (spec.md §5:
// "cross-process races are resolved by last-write-wins with a compare-and-
// log warning when the lastUpdated field moves backwards").
func (s *Store) Save(ctx context.Context, logger warner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.current = blankManifest()
	}

	prevTS := s.current.LastUpdated
	s.current.LastUpdated = time.Now().UTC()

	if logger != nil {
		if existing, _, err := s.peekRemote(ctx); err == nil && existing != nil {
			if existing.LastUpdated.After(s.current.LastUpdated) && !prevTS.IsZero() {
				logger.Warn("manifest lastUpdated moved backwards", "remote", existing.LastUpdated, "local", s.current.LastUpdated)
			}
		}
	}

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return s.backend.PutObject(ctx, ManifestKey, data, nil, "application/json")
}

func (s *Store) peekRemote(ctx context.Context) (*Manifest, *HealingLog, error) {
	obj, err := s.backend.GetObject(ctx, ManifestKey)
	if err != nil {
		return nil, nil, err
	}
	return Heal(ctx, s.backend, obj.Body)
}

// Current returns the in-memory manifest without touching the blob store.
func (s *Store) Current() *Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Mutate runs fn against the in-memory manifest under the write mutex, then
// saves. Callers use this for every manifest write (resource registration,
// version bump, partition/hook changes) to keep the single-writer
// invariant in one place.
func (s *Store) Mutate(ctx context.Context, logger warner, fn func(*Manifest) error) error {
	s.mu.Lock()
	if s.current == nil {
		s.current = blankManifest()
	}
	err := fn(s.current)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Save(ctx, logger)
}

// warner is the minimal logging capability Save needs; internal/logging.Logger
// satisfies it without this package importing logging directly.
type warner interface {
	Warn(msg string, fields ...interface{})
}
