package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueFIFO(t *testing.T) {
	_, client := newTestClient(t)
	queue := NewTaskQueue(client, "notifications")
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, []byte("first")))
	require.NoError(t, queue.Enqueue(ctx, []byte("second")))

	payload, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(payload))

	payload, err = queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(payload))
}

func TestTaskQueueDelayedPromotion(t *testing.T) {
	_, client := newTestClient(t)
	queue := NewTaskQueue(client, "notifications")
	ctx := context.Background()

	// Already due: the next dequeue promotes and returns it.
	require.NoError(t, queue.EnqueueAt(ctx, []byte("due"), time.Now().Add(-time.Second)))

	payload, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "due", string(payload))
}

func TestTaskQueueNotYetDueStaysParked(t *testing.T) {
	_, client := newTestClient(t)
	queue := NewTaskQueue(client, "notifications")
	ctx := context.Background()

	require.NoError(t, queue.EnqueueAt(ctx, []byte("later"), time.Now().Add(time.Hour)))

	payload, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, payload, "a parked task must not surface before its due time")

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestTaskQueuePendingCountsBothLists(t *testing.T) {
	_, client := newTestClient(t)
	queue := NewTaskQueue(client, "notifications")
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, []byte("ready")))
	require.NoError(t, queue.EnqueueAt(ctx, []byte("parked"), time.Now().Add(time.Hour)))

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}
