package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Runs against a real database when TEST_DATABASE_URL is set.
func newTestRepo(t *testing.T) *SnapshotRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.URL = url
	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)

	return NewSnapshotRepository(conn)
}

func newAggregate(t *testing.T) *progress.UserProgress {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)
	id, err := shared.NewUserID("pg-" + uuid.NewString())
	require.NoError(t, err)
	return progress.NewUserProgress(id, topo, time.Now())
}

func TestSnapshotRepository_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := newAggregate(t)

	_, err := repo.Load(ctx, p.UserID)
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	require.NoError(t, repo.Save(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	got, err := repo.Load(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, int64(1), got.Version)
}

func TestSnapshotRepository_VersionConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := newAggregate(t)
	require.NoError(t, repo.Save(ctx, p, 0))

	stale := p.Clone()
	require.NoError(t, repo.Save(ctx, p, 1))

	err := repo.Save(ctx, stale, 1)
	require.Error(t, err)
	assert.True(t, shared.IsConcurrentModification(err))
	assert.Equal(t, int64(1), stale.Version)

	// A second first-save loses too.
	err = repo.Save(ctx, newAggregateFor(t, p.UserID), 0)
	assert.True(t, shared.IsConcurrentModification(err))
}

func newAggregateFor(t *testing.T, userID string) *progress.UserProgress {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)
	return progress.NewUserProgress(shared.UserID(userID), topo, time.Now())
}

func TestMigrator_IsIdempotent(t *testing.T) {
	repo := newTestRepo(t)

	applied, err := NewMigrator(repo.conn).Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)

	status, err := NewMigrator(repo.conn).Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, status, len(GetMigrations()))
}

func TestMigrator_RollbackAndReapply(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	m := NewMigrator(repo.conn)

	require.NoError(t, m.Rollback(ctx))
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].IsApplied)

	applied, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}
