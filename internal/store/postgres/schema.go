package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS persons (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		phone           TEXT NOT NULL DEFAULT '',
		address         TEXT NOT NULL DEFAULT '',
		voter_id        TEXT NOT NULL UNIQUE,
		iris_template   BYTEA,
		face_template   BYTEA,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		enrollment_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_access     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_persons_active ON persons (is_active)`,
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGSERIAL PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL,
		totp_secret     BYTEA,
		role            TEXT NOT NULL CHECK (role IN ('admin', 'operator', 'voter')),
		person_id       BIGINT UNIQUE REFERENCES persons (id),
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		lock_until      TIMESTAMPTZ,
		last_login      TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS access_logs (
		id          BIGSERIAL PRIMARY KEY,
		person_id   BIGINT NOT NULL REFERENCES persons (id),
		access_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		method      TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		result      TEXT NOT NULL CHECK (result IN ('granted', 'denied'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_logs_person ON access_logs (person_id, access_time DESC)`,
	`CREATE TABLE IF NOT EXISTS votes (
		id                  BIGSERIAL PRIMARY KEY,
		person_id           BIGINT NOT NULL REFERENCES persons (id),
		election_id         TEXT NOT NULL,
		confidence_score    DOUBLE PRECISION NOT NULL,
		verification_method TEXT NOT NULL,
		vote_hash           CHAR(64) NOT NULL,
		vote_time           TIMESTAMPTZ NOT NULL,
		UNIQUE (person_id, election_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          BIGSERIAL PRIMARY KEY,
		event_time  TIMESTAMPTZ NOT NULL,
		actor       TEXT NOT NULL,
		action      TEXT NOT NULL,
		resource    TEXT NOT NULL,
		details     TEXT NOT NULL,
		prev_hash   CHAR(64) NOT NULL,
		record_hash CHAR(64) NOT NULL UNIQUE
	)`,
}

// Migrate creates the schema when absent. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
