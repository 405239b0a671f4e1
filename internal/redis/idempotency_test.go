package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerStoreRoundTrip(t *testing.T) {
	_, client := newTestClient(t)
	markers := NewMarkerStore(client, 24*time.Hour)
	ctx := context.Background()

	apptID := uuid.New()

	done, err := markers.AlreadyDone(ctx, "email_confirmation", apptID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, markers.MarkDone(ctx, "email_confirmation", apptID))

	done, err = markers.AlreadyDone(ctx, "email_confirmation", apptID)
	require.NoError(t, err)
	assert.True(t, done)

	// Markers are scoped per kind.
	done, err = markers.AlreadyDone(ctx, "calendar_sync", apptID)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMarkerStoreExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	markers := NewMarkerStore(client, time.Hour)
	ctx := context.Background()

	apptID := uuid.New()
	require.NoError(t, markers.MarkDone(ctx, "email_confirmation", apptID))

	mr.FastForward(2 * time.Hour)

	done, err := markers.AlreadyDone(ctx, "email_confirmation", apptID)
	require.NoError(t, err)
	assert.False(t, done, "markers age out after the retry window")
}
