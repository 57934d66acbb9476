// Package memory provides an in-process snapshot store used by tests, the
// CLI dry-run mode and single-instance deployments without a database.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Store keeps deep copies of aggregates keyed by user id.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*progress.UserProgress
}

// Ensure Store implements progress.SnapshotStore.
var _ progress.SnapshotStore = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{snapshots: make(map[string]*progress.UserProgress)}
}

// Load returns a copy of the stored aggregate.
func (s *Store) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.snapshots[userID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// Save stores a copy of p when the stored version equals expectedVersion.
func (s *Store) Save(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if current, ok := s.snapshots[p.UserID]; ok {
		stored = current.Version
	}
	if stored != expectedVersion {
		return progress.VersionConflict(p.UserID, stored, expectedVersion)
	}

	p.Version = expectedVersion + 1
	s.snapshots[p.UserID] = p.Clone()
	return nil
}

// Len returns the number of stored aggregates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
