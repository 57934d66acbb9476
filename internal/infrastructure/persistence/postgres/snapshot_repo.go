package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// SnapshotRepository implements progress.SnapshotStore using PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// Ensure SnapshotRepository implements progress.SnapshotStore.
var _ progress.SnapshotStore = (*SnapshotRepository)(nil)

// Load returns the stored aggregate for userID.
func (r *SnapshotRepository) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	var data []byte
	err := r.conn.QueryRow(ctx,
		`SELECT snapshot FROM progress_snapshots WHERE user_id = $1`,
		userID,
	).Scan(&data)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, classify("Load", err)
	}

	return progress.UnmarshalSnapshot(data)
}

// Save inserts the first snapshot of a user or updates it when the stored
// version still equals expectedVersion.
func (r *SnapshotRepository) Save(ctx context.Context, p *progress.UserProgress, expectedVersion int64) error {
	p.Version = expectedVersion + 1
	data, err := progress.MarshalSnapshot(p)
	if err != nil {
		p.Version = expectedVersion
		return err
	}

	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = r.conn.Exec(ctx, `
			INSERT INTO progress_snapshots (user_id, version, snapshot)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, p.UserID, p.Version, data)
	} else {
		tag, err = r.conn.Exec(ctx, `
			UPDATE progress_snapshots
			SET version = $2, snapshot = $3, updated_at = NOW()
			WHERE user_id = $1 AND version = $4
		`, p.UserID, p.Version, data, expectedVersion)
	}
	if err != nil {
		p.Version = expectedVersion
		return classify("Save", err)
	}

	if tag.RowsAffected() == 0 {
		p.Version = expectedVersion
		return progress.VersionConflict(p.UserID, r.storedVersion(ctx, p.UserID), expectedVersion)
	}

	return nil
}

// storedVersion reports the current version for conflict messages, -1 if unknown.
func (r *SnapshotRepository) storedVersion(ctx context.Context, userID string) int64 {
	var v int64
	if err := r.conn.QueryRow(ctx, `SELECT version FROM progress_snapshots WHERE user_id = $1`, userID).Scan(&v); err != nil {
		return -1
	}
	return v
}

// classify maps driver errors onto domain error kinds.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return shared.WrapError("postgres", op, shared.ErrTimeout, "query timed out", err)
	case errors.Is(err, ErrConnectionClosed):
		return shared.WrapError("postgres", op, shared.ErrStorage, "connection closed", err)
	case pgconn.SafeToRetry(err):
		return shared.WrapError("postgres", op, shared.ErrServiceUnavailable, "database unavailable", err)
	default:
		return shared.WrapError("postgres", op, shared.ErrStorage, "query failed", err)
	}
}
