package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MarkerStore persists "already dispatched" flags for notification tasks so a
// redelivered job is skipped instead of sent twice. Marker TTL must outlive
// the longest plausible retry window.
type MarkerStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMarkerStore(client *redis.Client, ttl time.Duration) *MarkerStore {
	return &MarkerStore{
		client: client,
		ttl:    ttl,
	}
}

func markerKey(kind string, appointmentID uuid.UUID) string {
	return fmt.Sprintf("marker:%s:%s", kind, appointmentID.String())
}

func (m *MarkerStore) AlreadyDone(ctx context.Context, kind string, appointmentID uuid.UUID) (bool, error) {
	n, err := m.client.Exists(ctx, markerKey(kind, appointmentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check idempotency marker: %w", err)
	}
	return n > 0, nil
}

func (m *MarkerStore) MarkDone(ctx context.Context, kind string, appointmentID uuid.UUID) error {
	if err := m.client.SetNX(ctx, markerKey(kind, appointmentID), "1", m.ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency marker: %w", err)
	}
	return nil
}
