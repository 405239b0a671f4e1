package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The partial unique index over active statuses is the final backstop for the
// one-active-booking-per-slot invariant: cancelled and completed rows do not
// block rebooking.
const schema = `
CREATE TABLE IF NOT EXISTS providers (
	id          uuid PRIMARY KEY,
	name        text NOT NULL,
	email       text NOT NULL,
	specialty   text,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS patients (
	id          uuid PRIMARY KEY,
	name        text NOT NULL,
	email       text,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS appointments (
	id                  uuid PRIMARY KEY,
	provider_id         uuid NOT NULL REFERENCES providers(id),
	patient_id          uuid NOT NULL REFERENCES patients(id),
	date                date NOT NULL,
	slot_minutes        integer NOT NULL,
	status              text NOT NULL DEFAULT 'pending',
	calendar_event_id   text,
	email_sent_at       timestamptz,
	calendar_synced_at  timestamptz,
	created_at          timestamptz NOT NULL DEFAULT now(),
	updated_at          timestamptz NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_slot_uq
	ON appointments (provider_id, date, slot_minutes)
	WHERE status IN ('pending', 'confirmed');

CREATE INDEX IF NOT EXISTS appointments_provider_date_idx
	ON appointments (provider_id, date);

CREATE TABLE IF NOT EXISTS event_logs (
	id              bigserial PRIMARY KEY,
	event_type      text NOT NULL,
	appointment_id  uuid,
	payload         jsonb,
	created_at      timestamptz NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
