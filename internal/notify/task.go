package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task kinds. One idempotency marker exists per (kind, appointment).
const (
	TaskEmailConfirmation = "email_confirmation"
	TaskCalendarSync      = "calendar_sync"
	TaskEmailCancellation = "email_cancellation"
)

// Failure classification sentinels. Collaborators wrap their errors with one
// of these; anything unwrapped is treated as transient.
var (
	ErrTransient = errors.New("transient dependency error")
	ErrPermanent = errors.New("permanent dependency error")
)

// Transient marks err as retryable (timeouts, 5xx, connection resets).
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Permanent marks err as not worth retrying (auth failures, 4xx).
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

type Task struct {
	Kind          string    `json:"kind"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func (t Task) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

func UnmarshalTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}
