package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ActiveStatuses are the statuses that block a slot.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// SlotTime is a bookable start time, in minutes since midnight.
type SlotTime int

func (s SlotTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(s)/60, int(s)%60)
}

func (s SlotTime) Minutes() int {
	return int(s)
}

func (s SlotTime) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SlotTime) UnmarshalText(text []byte) error {
	v, err := ParseSlotTime(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSlotTime parses "HH:MM" into a SlotTime.
func ParseSlotTime(v string) (SlotTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid slot time %q", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid slot time %q", v)
	}
	return SlotTime(h*60 + m), nil
}

// Day normalizes a timestamp to its calendar date at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayString renders a date the way cache and lock keys expect it.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StartAt combines a date and slot into the appointment start instant.
func StartAt(date time.Time, slot SlotTime) time.Time {
	return Day(date).Add(time.Duration(slot) * time.Minute)
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	PatientID        uuid.UUID
	Date             time.Time // calendar date, midnight UTC
	Slot             SlotTime
	Status           Status
	CalendarEventID  *string
	EmailSentAt      *time.Time
	CalendarSyncedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StartAt is the appointment's start instant.
func (a *Appointment) StartAt() time.Time {
	return StartAt(a.Date, a.Slot)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Provider *Provider
	Patient  *Patient
}
