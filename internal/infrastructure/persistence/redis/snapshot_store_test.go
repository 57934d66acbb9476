package redis

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

// Runs against a real server when TEST_REDIS_ADDR is set.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = "test:" + uuid.NewString() + ":"

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newAggregate(t *testing.T, userID string) *progress.UserProgress {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)
	return progress.NewUserProgress(shared.UserID(userID), topo, time.Now())
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	client := newTestClient(t)
	store := NewSnapshotStore(client)
	ctx := context.Background()

	_, err := store.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	p := newAggregate(t, "u1")
	require.NoError(t, store.Save(ctx, p, 0))
	require.NoError(t, store.Save(ctx, p, 1))

	got, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestSnapshotStore_VersionConflict(t *testing.T) {
	client := newTestClient(t)
	store := NewSnapshotStore(client)
	ctx := context.Background()

	p := newAggregate(t, "u1")
	require.NoError(t, store.Save(ctx, p, 0))

	err := store.Save(ctx, newAggregate(t, "u1"), 0)
	require.Error(t, err)
	assert.True(t, shared.IsConcurrentModification(err))
}

func TestClient_PublishReachesSubscriber(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, client.EventChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, client.EventChannel(), []byte(`{"type":"x"}`)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"x"}`, msg.Payload)
}

func TestClient_PublishRequiresChannel(t *testing.T) {
	c := &Client{}
	assert.ErrorIs(t, c.Publish(context.Background(), "", nil), ErrKeyEmpty)
}
