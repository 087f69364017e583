package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollForTerminal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()

	store, err := blackboard.NewRedisStore(&redis.Options{Addr: mr.Addr()}, "test-instance", nil)
	require.NoError(t, err)
	defer store.Close()

	t.Run("returns item when already terminal", func(t *testing.T) {
		id, err := store.Post(ctx, "question_request", nil)
		require.NoError(t, err)
		require.NoError(t, store.SetState(ctx, id, blackboard.StateCompleted))

		start := time.Now()
		item, err := PollForTerminal(ctx, store, id, time.Second)
		require.NoError(t, err)
		assert.Equal(t, blackboard.StateCompleted, item.State)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("returns item after delayed transition", func(t *testing.T) {
		id, err := store.Post(ctx, "question_request", nil)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = store.SetState(ctx, id, blackboard.StateNeedsRevision)
			time.Sleep(50 * time.Millisecond)
			_ = store.SetState(ctx, id, blackboard.StateRejected)
		}()

		item, err := pollForTerminal(ctx, store, id, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, blackboard.StateRejected, item.State)
	})

	t.Run("times out while item is pending", func(t *testing.T) {
		id, err := store.Post(ctx, "question_request", nil)
		require.NoError(t, err)

		item, err := pollForTerminal(ctx, store, id, 100*time.Millisecond, 10*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting for item")
		assert.Contains(t, err.Error(), "state: pending")
		require.NotNil(t, item)
		assert.Equal(t, blackboard.StatePending, item.State)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := PollForTerminal(ctx, store, "missing", time.Second)
		require.Error(t, err)
		assert.True(t, blackboard.IsNotFound(err))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		id, err := store.Post(ctx, "question_request", nil)
		require.NoError(t, err)

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		_, err = pollForTerminal(cancelCtx, store, id, 5*time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPollForTerminal_MemoryStore(t *testing.T) {
	ctx := context.Background()
	store := blackboard.NewMemoryStore(nil)

	id, err := store.Post(ctx, "question_request", nil)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.SetState(ctx, id, blackboard.StateCompleted)
	}()

	item, err := pollForTerminal(ctx, store, id, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, blackboard.StateCompleted, item.State)
}
