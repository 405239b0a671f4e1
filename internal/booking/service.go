package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/oroshine/booking-engine/internal/config"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrInvalidSlot             = errors.New("slot is not a bookable time for that date")
	ErrBookingInProgress       = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Enqueuer is how the coordinator hands side effects to the task dispatcher
// after a successful commit. Implemented by notify.Dispatcher.
type Enqueuer interface {
	AppointmentBooked(ctx context.Context, appointmentID uuid.UUID) error
	AppointmentCancelled(ctx context.Context, appointmentID uuid.UUID) error
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cache  *redisclient.AvailabilityCache
	tasks  Enqueuer
	cfg    config.Config
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cache *redisclient.AvailabilityCache, tasks Enqueuer, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cache:  cache,
		tasks:  tasks,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Book reserves a slot for a patient. The distributed lock serializes the
// booking decision per (provider, date, slot); the transactional buffer-window
// re-check and the unique index keep the store correct even if the lock is
// bypassed or expires mid-flight.
func (s *Service) Book(ctx context.Context, providerID, patientID uuid.UUID, date time.Time, slot SlotTime) (*Appointment, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if !ValidSlot(date, slot, s.now()) {
		return nil, ErrInvalidSlot
	}

	var created *Appointment

	err := s.locker.WithSlotLock(ctx, providerID, DayString(date), slot.String(), func(lockCtx context.Context) error {
		appt, err := s.repo.BookSlot(lockCtx, providerID, patientID, date, slot, s.cfg.BookingBuffer)
		if err != nil {
			return err
		}

		created = appt

		payload := map[string]any{
			"provider_id": providerID.String(),
			"patient_id":  patientID.String(),
			"date":        DayString(date),
			"slot":        slot.String(),
		}
		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, payload)

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingInProgress
		}
		return nil, err
	}

	s.invalidateAvailability(ctx, providerID, date)

	// Notification failures never unwind the booking; the dispatcher owns
	// retries and escalation from here.
	if err := s.tasks.AppointmentBooked(ctx, created.ID); err != nil {
		log.Printf("enqueue booking notifications failed appointment=%s err=%v", created.ID, err)
	}

	return created, nil
}

// Cancel frees the slot. Only active appointments can be cancelled; terminal
// ones report an invalid transition.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status.Terminal() {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusCancelled, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.invalidateAvailability(ctx, updated.ProviderID, updated.Date)
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{})

	if err := s.tasks.AppointmentCancelled(ctx, updated.ID); err != nil {
		log.Printf("enqueue cancellation notification failed appointment=%s err=%v", updated.ID, err)
	}

	return updated, nil
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusConfirmed, StatusPending)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})

	return updated, nil
}

// CompletePastAppointments flips confirmed appointments whose time has passed
// to completed. Called periodically by the completion worker.
func (s *Service) CompletePastAppointments(ctx context.Context) error {
	candidates, err := s.repo.FindPastConfirmed(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find past confirmed appointments: %w", err)
	}

	for _, appt := range candidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusCompleted, StatusConfirmed)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			log.Printf("failed to complete appointment %s: %v", appt.ID, err)
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	return nil
}

// BookedSlots returns the active slots for a provider and date, cache-aside.
// The cache is advisory; the booking path never consults it.
func (s *Service) BookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]SlotTime, error) {
	day := DayString(date)

	cached, ok, err := s.cache.Get(ctx, providerID, day)
	if err != nil {
		log.Printf("availability cache read failed provider=%s day=%s err=%v", providerID, day, err)
	} else if ok {
		slots := make([]SlotTime, 0, len(cached))
		for _, v := range cached {
			st, err := ParseSlotTime(v)
			if err != nil {
				continue
			}
			slots = append(slots, st)
		}
		return slots, nil
	}

	slots, err := s.repo.ActiveSlots(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}

	strs := make([]string, 0, len(slots))
	for _, st := range slots {
		strs = append(strs, st.String())
	}
	if err := s.cache.Set(ctx, providerID, day, strs); err != nil {
		log.Printf("availability cache write failed provider=%s day=%s err=%v", providerID, day, err)
	}

	return slots, nil
}

// AvailableSlots enumerates the open slots for a provider and date.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]SlotTime, error) {
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return nil, err
	}

	booked, err := s.BookedSlots(ctx, providerID, date)
	if err != nil {
		return nil, err
	}

	taken := make(map[SlotTime]bool, len(booked))
	for _, b := range booked {
		taken[b] = true
	}

	var free []SlotTime
	for _, slot := range Slots(date, s.now()) {
		if !taken[slot] {
			free = append(free, slot)
		}
	}
	return free, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (s *Service) invalidateAvailability(ctx context.Context, providerID uuid.UUID, date time.Time) {
	if err := s.cache.Invalidate(ctx, providerID, DayString(date)); err != nil {
		log.Printf("availability cache invalidation failed provider=%s day=%s err=%v", providerID, DayString(date), err)
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
