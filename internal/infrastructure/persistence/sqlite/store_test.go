package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleProgress(t *testing.T) *progress.UserProgress {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)

	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	p := progress.NewUserProgress("learner-7", topo, now)
	for i := 0; i < 5; i++ {
		_, err := p.RecordLessonActivity(topo, "foundation", string(rune('a'+i)), true, 90*time.Second, now)
		require.NoError(t, err)
	}
	_, err = p.RecordCertificationAttempt(topo, "foundation", 72.25, true, now)
	require.NoError(t, err)
	p.RecordPlaygroundAction(progress.PlaygroundAction{Kind: progress.ActionMethodologyStepCompleted, Step: "design"})
	p.GrantAchievement(progress.AchievementGrant{ID: "module_foundation_completed"}, now)
	p.TouchStreak(now, time.UTC)
	return p
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestLoad_NotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	p := sampleProgress(t)

	require.NoError(t, store.Save(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	got, err := store.Load(ctx, "learner-7")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSave_VersionConflict(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first := sampleProgress(t)
	require.NoError(t, store.Save(ctx, first, 0))

	// A second writer that also started from "absent".
	second := sampleProgress(t)
	err := store.Save(ctx, second, 0)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	assert.Equal(t, int64(0), second.Version)

	// Stale update after the first writer advanced again.
	stale, err := store.Load(ctx, "learner-7")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, first, 1))

	err = store.Save(ctx, stale, stale.Version)
	assert.True(t, shared.IsConcurrentModification(err))

	got, err := store.Load(ctx, "learner-7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleProgress(t), 0))
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx, "learner-7")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Modules["foundation"].Progress)
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	_, err := store.sqlDB.ExecContext(ctx,
		`INSERT INTO progress_snapshots (user_id, version, snapshot, updated_at) VALUES (?, 1, ?, 0)`,
		"broken", []byte("{not json"),
	)
	require.NoError(t, err)

	_, err = store.Load(ctx, "broken")
	assert.ErrorIs(t, err, shared.ErrCorruptSnapshot)
	assert.False(t, shared.IsNotFound(err))
}
