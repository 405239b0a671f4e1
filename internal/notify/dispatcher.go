package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/oroshine/booking-engine/internal/booking"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

// Process outcomes, also what gets logged per task.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultRetried = "retried"
	ResultFailed  = "failed"
)

const (
	EventNotificationFailed = "NOTIFICATION_FAILED"

	appointmentDuration = 30 * time.Minute
	dequeueWait         = 5 * time.Second
)

// Dispatcher owns the delivery of booking side effects: at-least-once queue
// consumption made effectively-once by idempotency markers, bounded retries
// with exponential backoff and jitter, and escalation instead of silent drops.
type Dispatcher struct {
	queue    *redisclient.TaskQueue
	markers  *redisclient.MarkerStore
	repo     booking.Repository
	email    EmailSender
	calendar CalendarClient

	clinicEmail string
	maxRetries  int
	baseDelay   time.Duration
	now         func() time.Time
}

type DispatcherConfig struct {
	ClinicEmail string
	MaxRetries  int
	BaseDelay   time.Duration
}

func NewDispatcher(queue *redisclient.TaskQueue, markers *redisclient.MarkerStore, repo booking.Repository, email EmailSender, calendar CalendarClient, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	return &Dispatcher{
		queue:       queue,
		markers:     markers,
		repo:        repo,
		email:       email,
		calendar:    calendar,
		clinicEmail: cfg.ClinicEmail,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.BaseDelay,
		now:         time.Now,
	}
}

// WithClock overrides the dispatcher clock. Tests only.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// AppointmentBooked enqueues the post-commit side effects of a new booking.
func (d *Dispatcher) AppointmentBooked(ctx context.Context, appointmentID uuid.UUID) error {
	if err := d.enqueue(ctx, TaskEmailConfirmation, appointmentID); err != nil {
		return err
	}
	return d.enqueue(ctx, TaskCalendarSync, appointmentID)
}

// AppointmentCancelled enqueues the cancellation notice.
func (d *Dispatcher) AppointmentCancelled(ctx context.Context, appointmentID uuid.UUID) error {
	return d.enqueue(ctx, TaskEmailCancellation, appointmentID)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, appointmentID uuid.UUID) error {
	task := Task{
		Kind:          kind,
		AppointmentID: appointmentID,
		EnqueuedAt:    d.now(),
	}
	payload, err := task.Marshal()
	if err != nil {
		return err
	}
	if err := d.queue.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Println("notification dispatcher running")
	for {
		payload, err := d.queue.Dequeue(ctx, dequeueWait)
		if ctx.Err() != nil {
			log.Println("notification dispatcher stopping")
			return
		}
		if err != nil {
			log.Printf("dequeue error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}

		task, err := UnmarshalTask(payload)
		if err != nil {
			log.Printf("dropping malformed task payload: %v", err)
			continue
		}

		result := d.Process(ctx, task)
		log.Printf("task kind=%s appointment=%s attempt=%d result=%s",
			task.Kind, task.AppointmentID, task.Attempt, result)
	}
}

// Process runs one task execution: idempotency check, state re-validation,
// collaborator call, marker + timestamp on success, retry or escalation on
// failure. Returns the outcome label.
func (d *Dispatcher) Process(ctx context.Context, task Task) string {
	done, err := d.markers.AlreadyDone(ctx, task.Kind, task.AppointmentID)
	if err != nil {
		// Cannot prove the task wasn't sent; retrying is the safe direction
		// because the marker is re-checked on redelivery.
		return d.retryOrFail(ctx, task, Transient(err))
	}
	if done {
		return ResultSkipped
	}

	detail, err := d.repo.GetAppointmentDetail(ctx, task.AppointmentID)
	if err != nil {
		if errors.Is(err, booking.ErrAppointmentNotFound) {
			log.Printf("task %s: appointment %s not found, skipping", task.Kind, task.AppointmentID)
			return ResultSkipped
		}
		return d.retryOrFail(ctx, task, Transient(err))
	}

	if !d.stateAllows(task.Kind, detail.Status) {
		return ResultSkipped
	}

	if err := d.execute(ctx, task, detail); err != nil {
		if errors.Is(err, ErrPermanent) {
			d.escalate(ctx, task, err)
			return ResultFailed
		}
		return d.retryOrFail(ctx, task, err)
	}

	if err := d.markers.MarkDone(ctx, task.Kind, task.AppointmentID); err != nil {
		// The send happened; a lost marker only risks one redundant attempt,
		// which the appointment timestamps then suppress.
		log.Printf("mark done failed kind=%s appointment=%s err=%v", task.Kind, task.AppointmentID, err)
	}

	return ResultSent
}

// stateAllows re-validates that the notification still makes sense for the
// appointment's current status.
func (d *Dispatcher) stateAllows(kind string, status booking.Status) bool {
	switch kind {
	case TaskEmailCancellation:
		return status == booking.StatusCancelled
	default:
		return status == booking.StatusPending || status == booking.StatusConfirmed
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task, detail *booking.AppointmentDetail) error {
	switch task.Kind {
	case TaskEmailConfirmation:
		return d.sendConfirmation(ctx, detail)
	case TaskCalendarSync:
		return d.syncCalendar(ctx, detail)
	case TaskEmailCancellation:
		return d.sendCancellation(ctx, detail)
	default:
		return Permanent(fmt.Errorf("unknown task kind %q", task.Kind))
	}
}

func (d *Dispatcher) sendConfirmation(ctx context.Context, detail *booking.AppointmentDetail) error {
	to, patientName := d.recipient(detail)
	if to == "" {
		return Permanent(fmt.Errorf("appointment %s has no patient email", detail.ID))
	}

	subject, body := ConfirmationEmail(patientName, d.providerName(detail), booking.DayString(detail.Date), detail.Slot.String())
	if err := d.email.Send(ctx, to, subject, body); err != nil {
		return err
	}

	if err := d.repo.SetEmailSent(ctx, detail.ID, d.now()); err != nil {
		log.Printf("stamp email_sent_at failed appointment=%s err=%v", detail.ID, err)
	}
	return nil
}

func (d *Dispatcher) sendCancellation(ctx context.Context, detail *booking.AppointmentDetail) error {
	to, patientName := d.recipient(detail)
	if to == "" {
		return Permanent(fmt.Errorf("appointment %s has no patient email", detail.ID))
	}

	subject, body := CancellationEmail(patientName, d.providerName(detail), booking.DayString(detail.Date), detail.Slot.String())
	return d.email.Send(ctx, to, subject, body)
}

func (d *Dispatcher) syncCalendar(ctx context.Context, detail *booking.AppointmentDetail) error {
	start := detail.StartAt()

	attendees := []string{}
	if email, _ := d.recipient(detail); email != "" {
		attendees = append(attendees, email)
	}
	if detail.Provider != nil && detail.Provider.Email != "" {
		attendees = append(attendees, detail.Provider.Email)
	}
	if d.clinicEmail != "" {
		attendees = append(attendees, d.clinicEmail)
	}

	_, patientName := d.recipient(detail)
	ev := EventPayload{
		Summary:     fmt.Sprintf("Dental Appointment – %s", patientName),
		Description: d.eventDescription(detail),
		Start:       start,
		End:         start.Add(appointmentDuration),
		Attendees:   attendees,
	}

	eventID, err := d.calendar.CreateEvent(ctx, ev)
	if err != nil {
		return err
	}

	if err := d.repo.SetCalendarSynced(ctx, detail.ID, eventID, d.now()); err != nil {
		log.Printf("stamp calendar_synced_at failed appointment=%s err=%v", detail.ID, err)
	}
	return nil
}

func (d *Dispatcher) eventDescription(detail *booking.AppointmentDetail) string {
	desc := map[string]string{
		"appointment": detail.ID.String(),
		"date":        booking.DayString(detail.Date),
		"slot":        detail.Slot.String(),
		"provider":    d.providerName(detail),
	}
	data, _ := json.Marshal(desc)
	return string(data)
}

func (d *Dispatcher) recipient(detail *booking.AppointmentDetail) (email, name string) {
	name = "patient"
	if detail.Patient != nil {
		if detail.Patient.Name != "" {
			name = detail.Patient.Name
		}
		if detail.Patient.Email != nil {
			email = *detail.Patient.Email
		}
	}
	return email, name
}

func (d *Dispatcher) providerName(detail *booking.AppointmentDetail) string {
	if detail.Provider != nil && detail.Provider.Name != "" {
		return detail.Provider.Name
	}
	return "your provider"
}

// retryOrFail re-enqueues a transient failure with exponential backoff and
// jitter, or escalates once attempts are exhausted.
func (d *Dispatcher) retryOrFail(ctx context.Context, task Task, cause error) string {
	if task.Attempt >= d.maxRetries {
		d.escalate(ctx, task, fmt.Errorf("retries exhausted: %w", cause))
		return ResultFailed
	}

	retry := task
	retry.Attempt++

	payload, err := retry.Marshal()
	if err != nil {
		d.escalate(ctx, task, err)
		return ResultFailed
	}

	delay := d.backoff(retry.Attempt)
	if err := d.queue.EnqueueAt(ctx, payload, d.now().Add(delay)); err != nil {
		d.escalate(ctx, task, fmt.Errorf("re-enqueue: %w", err))
		return ResultFailed
	}

	log.Printf("task kind=%s appointment=%s attempt=%d retrying in %s: %v",
		task.Kind, task.AppointmentID, task.Attempt, delay, cause)
	return ResultRetried
}

// backoff doubles the base delay per attempt and adds up to 50% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

// escalate records a permanently failed task where operators will see it.
// Never a silent drop.
func (d *Dispatcher) escalate(ctx context.Context, task Task, cause error) {
	log.Printf("ALERT notification permanently failed kind=%s appointment=%s attempt=%d err=%v",
		task.Kind, task.AppointmentID, task.Attempt, cause)

	apptID := task.AppointmentID
	payload, _ := json.Marshal(map[string]string{
		"kind":  task.Kind,
		"error": cause.Error(),
	})
	ev := booking.EventLog{
		EventType:     EventNotificationFailed,
		AppointmentID: &apptID,
		Payload:       payload,
		CreatedAt:     d.now(),
	}
	if err := d.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to record notification failure for %s: %v", task.AppointmentID, err)
	}
}
