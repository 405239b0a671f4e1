package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AvailabilityCache holds a short-lived view of booked slots per provider and
// day. The TTL is deliberately short: correctness never depends on this cache,
// it only keeps availability reads off the database.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{
		client: client,
		ttl:    ttl,
	}
}

func bookedSlotsKey(providerID uuid.UUID, day string) string {
	return fmt.Sprintf("booked:%s:%s", providerID.String(), day)
}

// Get returns the cached booked slots. The second return value reports
// whether the entry was present at all, so an empty day caches too.
func (c *AvailabilityCache) Get(ctx context.Context, providerID uuid.UUID, day string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, bookedSlotsKey(providerID, day)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get booked slots: %w", err)
	}

	var slots []string
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		// Treat a corrupt entry as a miss so the store repopulates it.
		_ = c.client.Del(ctx, bookedSlotsKey(providerID, day)).Err()
		return nil, false, nil
	}

	return slots, true, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, providerID uuid.UUID, day string, slots []string) error {
	if slots == nil {
		slots = []string{}
	}

	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal booked slots: %w", err)
	}

	if err := c.client.Set(ctx, bookedSlotsKey(providerID, day), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set booked slots: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry after a booking or cancellation commits.
func (c *AvailabilityCache) Invalidate(ctx context.Context, providerID uuid.UUID, day string) error {
	if err := c.client.Del(ctx, bookedSlotsKey(providerID, day)).Err(); err != nil {
		return fmt.Errorf("invalidate booked slots: %w", err)
	}
	return nil
}
