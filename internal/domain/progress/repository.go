package progress

import "context"

// SnapshotStore persists whole aggregates keyed by user id.
// This interface is implemented by the infrastructure layer.
type SnapshotStore interface {
	// Load returns the stored aggregate, or shared.ErrProgressNotFound when
	// the user has none. Any other error is a storage failure and must not
	// be treated as absence.
	Load(ctx context.Context, userID string) (*UserProgress, error)

	// Save writes the aggregate if the stored version still equals
	// expectedVersion (0 means "not stored yet") and sets p.Version to the
	// new stored version. A lost race returns an error matching
	// shared.ErrConcurrentModification.
	Save(ctx context.Context, p *UserProgress, expectedVersion int64) error
}
