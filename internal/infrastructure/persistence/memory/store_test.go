package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

func newProgress(t *testing.T, userID string) *progress.UserProgress {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)
	return progress.NewUserProgress(shared.UserID(userID), topo, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore()

	_, err := s.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_SaveAndLoadAreIsolated(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	p := newProgress(t, "u1")

	require.NoError(t, s.Save(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)

	// Mutating the caller's copy must not leak into the store.
	p.Playground.CodeExecutions = 42

	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Playground.CodeExecutions)
	assert.Equal(t, int64(1), got.Version)

	got.Playground.ProjectsCreated = 3
	again, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Playground.ProjectsCreated)
}

func TestStore_VersionConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newProgress(t, "u1"), 0))

	stale := newProgress(t, "u1")
	err := s.Save(ctx, stale, 0)
	assert.True(t, shared.IsConcurrentModification(err))
	assert.Equal(t, int64(0), stale.Version)

	current, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, current, 1))
	assert.Equal(t, int64(2), current.Version)
}

func TestStore_ConcurrentWritersExactlyOneWins(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newProgress(t, "u1"), 0))

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	candidates := make([]*progress.UserProgress, writers)
	for i := range candidates {
		candidates[i] = newProgress(t, "u1")
	}
	for _, p := range candidates {
		wg.Add(1)
		go func(p *progress.UserProgress) {
			defer wg.Done()
			err := s.Save(ctx, p, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if shared.IsConcurrentModification(err) {
				conflict++
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflict)
	assert.Equal(t, 1, s.Len())
}

func TestStore_CanceledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, newProgress(t, "u1"), 0), context.Canceled)
}
