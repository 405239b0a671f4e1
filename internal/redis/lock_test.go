package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSlotLockMutualExclusion(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 10*time.Second)
	ctx := context.Background()

	providerID := uuid.New()
	day, slot := "2026-09-10", "10:00"

	inner := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithSlotLock(ctx, providerID, day, slot, func(ctx context.Context) error {
			close(inner)
			<-release
			return nil
		})
	}()

	<-inner

	// Second acquisition on the same triple fails while the first holds it.
	err := locker.WithSlotLock(ctx, providerID, day, slot, func(ctx context.Context) error {
		t.Fatal("callback must not run under a held lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// A different slot is independent.
	err = locker.WithSlotLock(ctx, providerID, day, "10:15", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	// Released: the same triple can be taken again.
	err = locker.WithSlotLock(ctx, providerID, day, slot, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestSlotLockReleasedOnCallbackError(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 10*time.Second)
	ctx := context.Background()

	providerID := uuid.New()
	boom := errors.New("boom")

	err := locker.WithSlotLock(ctx, providerID, "2026-09-10", "10:00", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = locker.WithSlotLock(ctx, providerID, "2026-09-10", "10:00", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "lock must be free after the callback errors")
}

func TestSlotLockDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 10*time.Second)
	ctx := context.Background()

	providerID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s:%s:%s", providerID, "2026-09-10", "10:00")

	err := locker.WithSlotLock(ctx, providerID, "2026-09-10", "10:00", func(ctx context.Context) error {
		// Simulate expiry plus takeover by another process mid-callback.
		mr.Del(key)
		require.NoError(t, mr.Set(key, "other-holder"))
		return nil
	})
	require.NoError(t, err)

	// The compare-and-delete unlock must leave the new holder's lock alone.
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-holder", val)
}
