package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken covers both the buffer-window re-check and the unique
	// constraint backstop.
	ErrSlotTaken = errors.New("slot already booked for this provider")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	// ActiveSlots lists booked slots (pending or confirmed) for a provider
	// and date. Used to populate the availability cache.
	ActiveSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]SlotTime, error)

	// BookSlot inserts a pending appointment inside a transaction. Rows for
	// the same provider/date whose slot falls inside [slot-buffer, slot+buffer]
	// and whose status is active are read FOR UPDATE first; if any exists the
	// transaction aborts with ErrSlotTaken. A unique-constraint violation on
	// commit also maps to ErrSlotTaken.
	BookSlot(ctx context.Context, providerID, patientID uuid.UUID, date time.Time, slot SlotTime, buffer time.Duration) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// UpdateAppointmentStatus is a conditional update: it succeeds only when
	// the current status is one of `from`, otherwise ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error)

	// Notification bookkeeping
	SetEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error
	SetCalendarSynced(ctx context.Context, id uuid.UUID, eventID string, at time.Time) error

	// Completion worker
	FindPastConfirmed(ctx context.Context, before time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
