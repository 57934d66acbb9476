package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// SnapshotStore implements progress.SnapshotStore on Redis string keys.
type SnapshotStore struct {
	client *Client
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(client *Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

// Ensure SnapshotStore implements progress.SnapshotStore.
var _ progress.SnapshotStore = (*SnapshotStore)(nil)

// Load returns the stored aggregate for userID.
func (s *SnapshotStore) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	data, err := s.client.client.Get(ctx, s.client.SnapshotKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, classify("Load", err)
	}
	return progress.UnmarshalSnapshot(data)
}

// Save writes the aggregate inside a WATCH/MULTI transaction that aborts
// when the stored version differs from expectedVersion.
func (s *SnapshotStore) Save(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	key := s.client.SnapshotKey(p.UserID)

	p.Version = expectedVersion + 1
	data, err := progress.MarshalSnapshot(p)
	if err != nil {
		p.Version = expectedVersion
		return err
	}

	var conflict error
	txf := func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != expectedVersion {
			conflict = progress.VersionConflict(p.UserID, stored, expectedVersion)
			return conflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err = s.client.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case conflict != nil:
		p.Version = expectedVersion
		return conflict
	case errors.Is(err, redis.TxFailedErr):
		p.Version = expectedVersion
		return progress.VersionConflict(p.UserID, -1, expectedVersion)
	default:
		p.Version = expectedVersion
		return classify("Save", err)
	}
}

// storedVersion reads only the version of the stored snapshot; 0 when absent.
func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, shared.WrapError("store", "Save", shared.ErrCorruptSnapshot, "decode stored version", err)
	}
	return head.Version, nil
}

// classify maps client errors onto domain error kinds.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("redis", op, shared.ErrTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return shared.WrapError("redis", op, shared.ErrStorage, "request canceled", err)
	}
	return shared.WrapError("redis", op, shared.ErrServiceUnavailable, "redis request failed", err)
}
