package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/oroshine/booking-engine/internal/booking"
)

type CreateAppointmentRequest struct {
	ProviderID string `json:"provider_id"`
	PatientID  string `json:"patient_id"`
	Date       string `json:"date"` // YYYY-MM-DD
	Slot       string `json:"slot"` // HH:MM
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	ProviderID       uuid.UUID  `json:"provider_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	Date             string     `json:"date"`
	Slot             string     `json:"slot"`
	Status           string     `json:"status"`
	CalendarEventID  *string    `json:"calendar_event_id,omitempty"`
	EmailSentAt      *time.Time `json:"email_sent_at,omitempty"`
	CalendarSyncedAt *time.Time `json:"calendar_synced_at,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		ProviderID:       a.ProviderID,
		PatientID:        a.PatientID,
		Date:             booking.DayString(a.Date),
		Slot:             a.Slot.String(),
		Status:           string(a.Status),
		CalendarEventID:  a.CalendarEventID,
		EmailSentAt:      a.EmailSentAt,
		CalendarSyncedAt: a.CalendarSyncedAt,
	}
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Slots      []string  `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
