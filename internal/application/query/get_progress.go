// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Returns the learner's aggregate. A learner never seen before gets the
// default aggregate, which is not persisted.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery contains the parameters of a progress lookup.
type GetProgressQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetProgressQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// GetProgressResult contains the aggregate and derived totals.
type GetProgressResult struct {
	Progress *progress.UserProgress `json:"progress"`

	// Stored is false for the default aggregate of an unknown learner.
	Stored bool `json:"stored"`

	OverallPercent int `json:"overall_percent"`
}

// GetProgressHandler handles progress lookups.
type GetProgressHandler struct {
	store    progress.SnapshotStore
	topology *curriculum.Topology
	clock    func() time.Time
}

// NewGetProgressHandler creates a new handler. A nil clock uses time.Now.
func NewGetProgressHandler(store progress.SnapshotStore, topology *curriculum.Topology, clock func() time.Time) *GetProgressHandler {
	if clock == nil {
		clock = time.Now
	}
	return &GetProgressHandler{store: store, topology: topology, clock: clock}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*GetProgressResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(q.UserID)

	p, stored, err := loadOrDefault(ctx, h.store, h.topology, userID, h.clock())
	if err != nil {
		return nil, shared.WrapError("query", "GetProgress", shared.ErrStorage, "load progress", err)
	}

	return &GetProgressResult{
		Progress:       p,
		Stored:         stored,
		OverallPercent: p.OverallPercent(h.topology).Int(),
	}, nil
}

// loadOrDefault reads the aggregate, falling back to the default one only
// when nothing is stored.
func loadOrDefault(
	ctx context.Context,
	store progress.SnapshotStore,
	topo *curriculum.Topology,
	userID shared.UserID,
	now time.Time,
) (*progress.UserProgress, bool, error) {
	p, err := store.Load(ctx, userID.String())
	if err != nil {
		if shared.IsNotFound(err) {
			return progress.NewUserProgress(userID, topo, now), false, nil
		}
		return nil, false, err
	}
	p.Normalize()
	return p, true, nil
}
