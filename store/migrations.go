package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuru-sha/fuji-calendar-sub001/log"
)

// migration is one versioned schema step. Steps run in order inside a
// transaction each; applied versions are recorded in schema_migrations.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "locations", `
CREATE TABLE IF NOT EXISTS locations (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL,
    prefecture     TEXT NOT NULL DEFAULT '',
    latitude       DOUBLE PRECISION NOT NULL,
    longitude      DOUBLE PRECISION NOT NULL,
    elevation      DOUBLE PRECISION NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    fuji_azimuth   DOUBLE PRECISION NOT NULL DEFAULT 0,
    fuji_elevation DOUBLE PRECISION NOT NULL DEFAULT 0,
    fuji_distance  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`},

	{2, "orbit_samples", `
CREATE TABLE IF NOT EXISTS orbit_samples (
    sample_date       DATE NOT NULL,
    hour              SMALLINT NOT NULL,
    minute            SMALLINT NOT NULL,
    body              TEXT NOT NULL,
    azimuth           DOUBLE PRECISION NOT NULL,
    altitude          DOUBLE PRECISION NOT NULL,
    visible           BOOLEAN NOT NULL,
    moon_phase_deg    DOUBLE PRECISION,
    moon_illumination DOUBLE PRECISION,
    season            TEXT NOT NULL DEFAULT '',
    time_of_day       TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (sample_date, hour, minute, body)
);
CREATE INDEX IF NOT EXISTS idx_orbit_samples_lookup
    ON orbit_samples (body, azimuth, altitude);
CREATE INDEX IF NOT EXISTS idx_orbit_samples_year
    ON orbit_samples (EXTRACT(YEAR FROM sample_date), body)`},

	{3, "alignment_events", `
CREATE TABLE IF NOT EXISTS alignment_events (
    id                BIGSERIAL PRIMARY KEY,
    location_id       BIGINT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
    event_date        DATE NOT NULL,
    event_time        TIMESTAMPTZ NOT NULL,
    kind              TEXT NOT NULL,
    azimuth           DOUBLE PRECISION NOT NULL,
    altitude          DOUBLE PRECISION NOT NULL,
    quality_score     DOUBLE PRECISION NOT NULL,
    accuracy          TEXT NOT NULL,
    moon_phase_deg    DOUBLE PRECISION,
    moon_illumination DOUBLE PRECISION,
    calculation_year  INTEGER NOT NULL,
    UNIQUE (location_id, event_time, kind)
);
CREATE INDEX IF NOT EXISTS idx_alignment_events_date
    ON alignment_events (event_date);
CREATE INDEX IF NOT EXISTS idx_alignment_events_year
    ON alignment_events (calculation_year, location_id)`},

	{4, "jobs", `
CREATE TABLE IF NOT EXISTS jobs (
    id               BIGSERIAL PRIMARY KEY,
    kind             TEXT NOT NULL,
    params           JSONB NOT NULL DEFAULT '{}',
    priority         SMALLINT NOT NULL DEFAULT 1,
    state            TEXT NOT NULL DEFAULT 'waiting',
    attempts         INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 3,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at       TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    run_after        TIMESTAMPTZ,
    progress_at      TIMESTAMPTZ,
    failed_reason    TEXT NOT NULL DEFAULT '',
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_jobs_dequeue
    ON jobs (priority DESC, id ASC) WHERE state = 'waiting'`},

	{5, "schedules", `
CREATE TABLE IF NOT EXISTS schedules (
    id        TEXT PRIMARY KEY,
    cron_expr TEXT NOT NULL,
    kind      TEXT NOT NULL,
    enabled   BOOLEAN NOT NULL DEFAULT TRUE,
    last_run  TIMESTAMPTZ
)`},
}

// Migrate brings the schema up to the current version. Safe to run on every
// startup; concurrent runners serialize on an advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}

		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.version, m.name); err != nil {
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
			log.Logger().Info("applied migration", "version", m.version, "name", m.name)
		}
		return nil
	})
}

// Advisory lock key spaces. Migration uses a fixed key; per-location matcher
// locks use locationLockClass in the high 32 bits with the location id low.
const (
	migrationLockKey  int64 = 0x66756a69 // "fuji"
	locationLockClass int32 = 1
)
