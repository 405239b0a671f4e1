package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code backing the partial unique
// index on (provider_id, date, slot_minutes) over active statuses.
const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&specialty,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotMinutes int
	var calendarEventID *string
	var emailSentAt, calendarSyncedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.PatientID,
		&a.Date,
		&slotMinutes,
		&a.Status,
		&calendarEventID,
		&emailSentAt,
		&calendarSyncedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Slot = SlotTime(slotMinutes)
	a.CalendarEventID = calendarEventID
	a.EmailSentAt = emailSentAt
	a.CalendarSyncedAt = calendarSyncedAt
	return &a, nil
}

const appointmentColumns = `id, provider_id, patient_id, date, slot_minutes, status, calendar_event_id, email_sent_at, calendar_synced_at, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ActiveSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]SlotTime, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_minutes
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status IN ('pending', 'confirmed')
		ORDER BY slot_minutes
	`, providerID, Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotTime
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		result = append(result, SlotTime(m))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) BookSlot(ctx context.Context, providerID, patientID uuid.UUID, date time.Time, slot SlotTime, buffer time.Duration) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	bufMinutes := int(buffer / time.Minute)
	low := slot.Minutes() - bufMinutes
	high := slot.Minutes() + bufMinutes

	// Row-level exclusive read over the buffer window. Blocks concurrent
	// transactions touching the same provider/date rows; the unique index is
	// the backstop for an insert race with no existing row to lock.
	rows, err := tx.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND slot_minutes BETWEEN $3 AND $4
		  AND status IN ('pending', 'confirmed')
		FOR UPDATE
	`, providerID, Day(date), low, high)
	if err != nil {
		return nil, fmt.Errorf("check buffer window: %w", err)
	}

	conflict := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("check buffer window: %w", err)
	}
	if conflict {
		return nil, ErrSlotTaken
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, date, slot_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now(), now())
		RETURNING `+appointmentColumns+`
	`, id, providerID, patientID, Day(date), slot.Minutes())

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return appt, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := AppointmentDetail{Appointment: *appt}

	provider, err := r.GetProviderByID(ctx, appt.ProviderID)
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return nil, err
	}
	detail.Provider = provider

	patient, err := r.GetPatientByID(ctx, appt.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	detail.Patient = patient

	return &detail, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, slot_minutes DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, AppointmentDetail{Appointment: *a})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error) {
	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		fromStrs = append(fromStrs, string(f))
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, fromStrs)

	return scanAppointment(row)
}

func (r *PgRepository) SetEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	// Already stamped or unknown id both leave zero rows touched, which is fine.
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET email_sent_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND email_sent_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("set email_sent_at: %w", err)
	}
	return nil
}

func (r *PgRepository) SetCalendarSynced(ctx context.Context, id uuid.UUID, eventID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET calendar_event_id = $2,
		    calendar_synced_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND calendar_synced_at IS NULL
	`, id, eventID, at)
	if err != nil {
		return fmt.Errorf("set calendar_synced_at: %w", err)
	}
	return nil
}

func (r *PgRepository) FindPastConfirmed(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND (date + make_interval(mins => slot_minutes)) < $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
