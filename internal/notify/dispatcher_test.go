package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oroshine/booking-engine/internal/booking"
	redisclient "github.com/oroshine/booking-engine/internal/redis"
)

// notifyRepo implements just enough of booking.Repository for the dispatcher.
type notifyRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*booking.Appointment
	provider     booking.Provider
	patientEmail *string
	events       []booking.EventLog
}

func newNotifyRepo() *notifyRepo {
	email := "pat@example.com"
	return &notifyRepo{
		appointments: make(map[uuid.UUID]*booking.Appointment),
		provider:     booking.Provider{ID: uuid.New(), Name: "Dr. Smile", Email: "smile@clinic.example"},
		patientEmail: &email,
	}
}

func (r *notifyRepo) addAppointment(status booking.Status) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, _ := booking.ParseSlotTime("10:00")
	a := &booking.Appointment{
		ID:         uuid.New(),
		ProviderID: r.provider.ID,
		PatientID:  uuid.New(),
		Date:       time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		Slot:       slot,
		Status:     status,
	}
	r.appointments[a.ID] = a
	return a.ID
}

func (r *notifyRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	prov := r.provider
	return &booking.AppointmentDetail{
		Appointment: *a,
		Provider:    &prov,
		Patient:     &booking.Patient{ID: a.PatientID, Name: "Pat", Email: r.patientEmail},
	}, nil
}

func (r *notifyRepo) SetEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appointments[id]; ok && a.EmailSentAt == nil {
		a.EmailSentAt = &at
	}
	return nil
}

func (r *notifyRepo) SetCalendarSynced(ctx context.Context, id uuid.UUID, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appointments[id]; ok && a.CalendarSyncedAt == nil {
		a.CalendarEventID = &eventID
		a.CalendarSyncedAt = &at
	}
	return nil
}

func (r *notifyRepo) InsertEvent(ctx context.Context, ev booking.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *notifyRepo) failureEvents() []booking.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []booking.EventLog
	for _, ev := range r.events {
		if ev.EventType == EventNotificationFailed {
			out = append(out, ev)
		}
	}
	return out
}

// Unused by the dispatcher.
func (r *notifyRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*booking.Patient, error) {
	return nil, booking.ErrPatientNotFound
}
func (r *notifyRepo) GetProviderByID(ctx context.Context, id uuid.UUID) (*booking.Provider, error) {
	return nil, booking.ErrProviderNotFound
}
func (r *notifyRepo) ActiveSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]booking.SlotTime, error) {
	return nil, nil
}
func (r *notifyRepo) BookSlot(ctx context.Context, providerID, patientID uuid.UUID, date time.Time, slot booking.SlotTime, buffer time.Duration) (*booking.Appointment, error) {
	return nil, booking.ErrSlotTaken
}
func (r *notifyRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	return nil, booking.ErrAppointmentNotFound
}
func (r *notifyRepo) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.AppointmentDetail, error) {
	return nil, nil
}
func (r *notifyRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to booking.Status, from ...booking.Status) (*booking.Appointment, error) {
	return nil, booking.ErrAppointmentNotFound
}
func (r *notifyRepo) FindPastConfirmed(ctx context.Context, before time.Time) ([]booking.Appointment, error) {
	return nil, nil
}

// scriptedEmail fails the first `failures` sends, then succeeds.
type scriptedEmail struct {
	mu       sync.Mutex
	failures int
	err      error
	sent     []string
}

func (e *scriptedEmail) Send(ctx context.Context, to, subject, body string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures > 0 {
		e.failures--
		return e.err
	}
	e.sent = append(e.sent, to)
	return nil
}

func (e *scriptedEmail) sentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

type scriptedCalendar struct {
	mu      sync.Mutex
	err     error
	created []EventPayload
}

func (c *scriptedCalendar) CreateEvent(ctx context.Context, ev EventPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.created = append(c.created, ev)
	return fmt.Sprintf("evt-%d", len(c.created)), nil
}

type dispatcherFixture struct {
	d        *Dispatcher
	repo     *notifyRepo
	email    *scriptedEmail
	calendar *scriptedCalendar
	queue    *redisclient.TaskQueue
	redis    *miniredis.Miniredis
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newNotifyRepo()
	email := &scriptedEmail{}
	calendar := &scriptedCalendar{}
	queue := redisclient.NewTaskQueue(client, "notifications")
	markers := redisclient.NewMarkerStore(client, 24*time.Hour)

	d := NewDispatcher(queue, markers, repo, email, calendar, DispatcherConfig{
		ClinicEmail: "frontdesk@clinic.example",
		MaxRetries:  3,
		BaseDelay:   10 * time.Second,
	})

	return &dispatcherFixture{d: d, repo: repo, email: email, calendar: calendar, queue: queue, redis: mr}
}

// drain processes ready tasks until the queue stops yielding, shifting the
// dispatcher clock so re-enqueued retries score as already due.
func (fx *dispatcherFixture) drain(t *testing.T, ctx context.Context) []string {
	t.Helper()

	// Scoring retries in the past makes promoteDue surface them immediately.
	fx.d.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })

	var results []string
	for i := 0; i < 20; i++ {
		payload, err := fx.queue.Dequeue(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		if payload == nil {
			return results
		}
		task, err := UnmarshalTask(payload)
		require.NoError(t, err)
		results = append(results, fx.d.Process(ctx, task))
	}
	t.Fatal("queue did not drain")
	return nil
}

func TestDispatcherSendsConfirmationAndCalendarOnce(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusPending)

	require.NoError(t, fx.d.AppointmentBooked(ctx, apptID))

	results := fx.drain(t, ctx)
	assert.Equal(t, []string{ResultSent, ResultSent}, results)

	assert.Equal(t, 1, fx.email.sentCount())
	assert.Len(t, fx.calendar.created, 1)

	appt := fx.repo.appointments[apptID]
	require.NotNil(t, appt.EmailSentAt)
	require.NotNil(t, appt.CalendarSyncedAt)
	require.NotNil(t, appt.CalendarEventID)

	ev := fx.calendar.created[0]
	assert.Contains(t, ev.Attendees, "pat@example.com")
	assert.Contains(t, ev.Attendees, "smile@clinic.example")
	assert.Contains(t, ev.Attendees, "frontdesk@clinic.example")
	assert.Equal(t, 30*time.Minute, ev.End.Sub(ev.Start))
}

func TestDispatcherRedeliveryIsSkippedByMarker(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusPending)

	task := Task{Kind: TaskEmailConfirmation, AppointmentID: apptID}

	assert.Equal(t, ResultSent, fx.d.Process(ctx, task))
	assert.Equal(t, ResultSkipped, fx.d.Process(ctx, task), "redelivered task must not send twice")
	assert.Equal(t, 1, fx.email.sentCount())
}

func TestDispatcherTransientFailureRetriesThenSucceeds(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusPending)

	fx.email.failures = 2
	fx.email.err = Transient(errors.New("connection refused"))

	require.NoError(t, fx.d.enqueue(ctx, TaskEmailConfirmation, apptID))

	results := fx.drain(t, ctx)
	assert.Equal(t, []string{ResultRetried, ResultRetried, ResultSent}, results)
	assert.Equal(t, 1, fx.email.sentCount(), "exactly one send despite retries")
	assert.Empty(t, fx.repo.failureEvents())
}

func TestDispatcherExhaustedRetriesEscalate(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusPending)

	fx.email.failures = 100
	fx.email.err = Transient(errors.New("smtp down"))

	require.NoError(t, fx.d.enqueue(ctx, TaskEmailConfirmation, apptID))

	results := fx.drain(t, ctx)
	assert.Equal(t, []string{ResultRetried, ResultRetried, ResultRetried, ResultFailed}, results)
	assert.Equal(t, 0, fx.email.sentCount())

	failures := fx.repo.failureEvents()
	require.Len(t, failures, 1, "exhausted task leaves an operator-visible record")
	require.NotNil(t, failures[0].AppointmentID)
	assert.Equal(t, apptID, *failures[0].AppointmentID)
}

func TestDispatcherPermanentFailureDoesNotRetry(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusPending)

	fx.email.failures = 100
	fx.email.err = Permanent(errors.New("535 authentication failed"))

	task := Task{Kind: TaskEmailConfirmation, AppointmentID: apptID}
	assert.Equal(t, ResultFailed, fx.d.Process(ctx, task))

	pending, err := fx.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "permanent failures are never re-enqueued")
	assert.Len(t, fx.repo.failureEvents(), 1)
}

func TestDispatcherSkipsConfirmationForCancelledAppointment(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	apptID := fx.repo.addAppointment(booking.StatusCancelled)

	task := Task{Kind: TaskEmailConfirmation, AppointmentID: apptID}
	assert.Equal(t, ResultSkipped, fx.d.Process(ctx, task))
	assert.Equal(t, 0, fx.email.sentCount())
}

func TestDispatcherCancellationRequiresCancelledStatus(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	cancelled := fx.repo.addAppointment(booking.StatusCancelled)
	active := fx.repo.addAppointment(booking.StatusConfirmed)

	assert.Equal(t, ResultSent, fx.d.Process(ctx, Task{Kind: TaskEmailCancellation, AppointmentID: cancelled}))
	assert.Equal(t, ResultSkipped, fx.d.Process(ctx, Task{Kind: TaskEmailCancellation, AppointmentID: active}))
	assert.Equal(t, 1, fx.email.sentCount())
}

func TestDispatcherSkipsMissingAppointment(t *testing.T) {
	fx := newDispatcherFixture(t)

	task := Task{Kind: TaskEmailConfirmation, AppointmentID: uuid.New()}
	assert.Equal(t, ResultSkipped, fx.d.Process(context.Background(), task))
}

func TestDispatcherMissingPatientEmailIsPermanent(t *testing.T) {
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	fx.repo.patientEmail = nil
	apptID := fx.repo.addAppointment(booking.StatusPending)

	task := Task{Kind: TaskEmailConfirmation, AppointmentID: apptID}
	assert.Equal(t, ResultFailed, fx.d.Process(ctx, task))

	pending, err := fx.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDispatcherUnknownTaskKindFails(t *testing.T) {
	fx := newDispatcherFixture(t)
	apptID := fx.repo.addAppointment(booking.StatusPending)

	task := Task{Kind: "carrier_pigeon", AppointmentID: apptID}
	assert.Equal(t, ResultFailed, fx.d.Process(context.Background(), task))
	assert.Len(t, fx.repo.failureEvents(), 1)
}

func TestBackoffGrowsPerAttempt(t *testing.T) {
	fx := newDispatcherFixture(t)

	for attempt := 1; attempt <= 3; attempt++ {
		base := 10 * time.Second << (attempt - 1)
		d := fx.d.backoff(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/2, "attempt %d", attempt)
	}
}
