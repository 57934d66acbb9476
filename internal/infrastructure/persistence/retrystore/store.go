// Package retrystore wraps a snapshot store with bounded retries for
// transient failures. Version conflicts and corrupt snapshots are returned
// immediately.
package retrystore

import (
	"bytes"
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/retry"
)

// Config contains configuration for Store.
type Config struct {
	// Attempts is the total number of tries per call, including the first.
	Attempts int

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration

	Logger *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Attempts:     3,
		InitialDelay: 50 * time.Millisecond,
	}
}

// Store decorates a progress.SnapshotStore with retries.
type Store struct {
	next    progress.SnapshotStore
	retrier *retry.Retrier
	logger  *logger.Logger
}

// Ensure Store implements progress.SnapshotStore.
var _ progress.SnapshotStore = (*Store)(nil)

// New wraps next.
func New(next progress.SnapshotStore, config Config) *Store {
	defaults := DefaultConfig()
	if config.Attempts <= 0 {
		config.Attempts = defaults.Attempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	log := config.Logger.With(logger.Component("retrystore"))
	r := retry.StoreRetrier(config.Attempts, config.InitialDelay, retryable,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store call",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	return &Store{next: next, retrier: r, logger: log}
}

// retryable reports whether a failed call may be repeated unchanged.
func retryable(err error) bool {
	if shared.IsConcurrentModification(err) || shared.IsNotFound(err) {
		return false
	}
	return shared.IsRetryable(err)
}

// Load implements progress.SnapshotStore.
func (s *Store) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	var p *progress.UserProgress
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.next.Load(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save implements progress.SnapshotStore. The aggregate version is reset
// before every attempt, so a retried save still checks expectedVersion.
//
// A transient failure does not prove the write was lost: the store may have
// committed and only the reply failed. When a later attempt conflicts, or
// the attempts run out, the stored snapshot is compared with p and an
// identical one at expectedVersion+1 counts as this save.
func (s *Store) Save(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	transient := false
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		p.Version = expectedVersion
		err := s.next.Save(ctx, p, expectedVersion)
		if err != nil && retryable(err) {
			transient = true
		}
		return err
	})
	if err == nil || !transient {
		return err
	}
	if !shared.IsConcurrentModification(err) && !retryable(err) {
		return err
	}

	if s.committed(ctx, p, expectedVersion) {
		s.logger.Warn("save committed before a transient failure",
			logger.UserID(p.UserID),
			logger.Version(expectedVersion+1),
		)
		p.Version = expectedVersion + 1
		return nil
	}
	return err
}

// committed reports whether the stored snapshot is p saved at
// expectedVersion+1.
func (s *Store) committed(ctx context.Context, p *progress.UserProgress, expectedVersion int64) bool {
	stored, err := s.next.Load(ctx, p.UserID)
	if err != nil || stored.Version != expectedVersion+1 {
		return false
	}
	if !stored.LastUpdated.Equal(p.LastUpdated) {
		return false
	}

	want := p.Clone()
	want.Version = expectedVersion + 1

	a, err := canonical(stored)
	if err != nil {
		return false
	}
	b, err := canonical(want)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// canonical encodes p the way it reads back from any store.
func canonical(p *progress.UserProgress) ([]byte, error) {
	data, err := progress.MarshalSnapshot(p)
	if err != nil {
		return nil, err
	}
	decoded, err := progress.UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return progress.MarshalSnapshot(decoded)
}
