package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects, verifies the connection, and applies pending
// migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Logger().Info("database connected", "pool_max", cfg.MaxConns)
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// pgDate renders a JST calendar date as the naive UTC midnight pgx expects
// for a DATE column. The instant is never interpreted as a point in time.
func pgDate(d jst.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func dateFromPg(t time.Time) jst.Date {
	y, m, d := t.UTC().Date()
	return jst.Date{Year: y, Month: m, Day: d}
}

// --- locations ---

const locationColumns = `id, name, prefecture, latitude, longitude, elevation,
	description, fuji_azimuth, fuji_elevation, fuji_distance, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var loc Location
	err := row.Scan(&loc.ID, &loc.Name, &loc.Prefecture,
		&loc.Latitude, &loc.Longitude, &loc.Elevation, &loc.Description,
		&loc.FujiAzimuth, &loc.FujiElevation, &loc.FujiDistance,
		&loc.CreatedAt, &loc.UpdatedAt)
	return loc, err
}

func (p *Postgres) ListLocations(ctx context.Context) ([]Location, error) {
	var out []Location
	err := withRetry(ctx, "list locations", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx,
			`SELECT `+locationColumns+` FROM locations ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			loc, err := scanLocation(rows)
			if err != nil {
				return err
			}
			out = append(out, loc)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) GetLocation(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := withRetry(ctx, "get location", func(ctx context.Context) error {
		var err error
		loc, err = scanLocation(p.pool.QueryRow(ctx,
			`SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("location %d: %w", id, ErrNotFound)
		}
		return err
	})
	return loc, err
}

func (p *Postgres) CreateLocation(ctx context.Context, loc *Location) error {
	return withRetry(ctx, "create location", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `
INSERT INTO locations (name, prefecture, latitude, longitude, elevation,
	description, fuji_azimuth, fuji_elevation, fuji_distance)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at, updated_at`,
			loc.Name, loc.Prefecture, loc.Latitude, loc.Longitude, loc.Elevation,
			loc.Description, loc.FujiAzimuth, loc.FujiElevation, loc.FujiDistance).
			Scan(&loc.ID, &loc.CreatedAt, &loc.UpdatedAt)
	})
}

func (p *Postgres) UpdateLocationGeometry(ctx context.Context, id int64, azimuth, elevation, distance float64) error {
	return withRetry(ctx, "update location geometry", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE locations
SET fuji_azimuth = $2, fuji_elevation = $3, fuji_distance = $4, updated_at = now()
WHERE id = $1`, id, azimuth, elevation, distance)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("location %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// --- orbit samples ---

func (p *Postgres) BulkUpsertOrbitSamples(ctx context.Context, samples []OrbitSample) error {
	if len(samples) == 0 {
		return nil
	}
	return withRetry(ctx, "bulk upsert orbit samples", func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, s := range samples {
			batch.Queue(`
INSERT INTO orbit_samples (sample_date, hour, minute, body, azimuth, altitude,
	visible, moon_phase_deg, moon_illumination, season, time_of_day)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (sample_date, hour, minute, body) DO UPDATE SET
	azimuth = EXCLUDED.azimuth,
	altitude = EXCLUDED.altitude,
	visible = EXCLUDED.visible,
	moon_phase_deg = EXCLUDED.moon_phase_deg,
	moon_illumination = EXCLUDED.moon_illumination,
	season = EXCLUDED.season,
	time_of_day = EXCLUDED.time_of_day`,
				pgDate(s.Date), s.Hour, s.Minute, string(s.Body),
				s.Azimuth, s.Altitude, s.Visible,
				s.MoonPhaseDeg, s.MoonIllumination, s.Season, s.TimeOfDay)
		}
		return p.pool.SendBatch(ctx, batch).Close()
	})
}

func (p *Postgres) CandidateOrbitSamples(ctx context.Context, f OrbitFilter) ([]OrbitSample, error) {
	lo := f.AzimuthCenter - f.AzimuthHalfWidth
	hi := f.AzimuthCenter + f.AzimuthHalfWidth

	// A band crossing north splits into two plain ranges.
	azCond := `azimuth BETWEEN $4 AND $5`
	if lo < 0 {
		azCond = `(azimuth >= $4 + 360 OR azimuth <= $5)`
	} else if hi >= 360 {
		azCond = `(azimuth >= $4 OR azimuth <= $5 - 360)`
	}

	q := `
SELECT sample_date, hour, minute, body, azimuth, altitude, visible,
	moon_phase_deg, moon_illumination, season, time_of_day
FROM orbit_samples
WHERE sample_date >= make_date($1, 1, 1) AND sample_date < make_date($2, 1, 1)
  AND body = $3
  AND ` + azCond + `
  AND altitude BETWEEN $6 AND $7`
	args := []any{f.Year, f.Year + 1, string(f.Body), lo, hi, f.AltitudeMin, f.AltitudeMax}
	if f.VisibleOnly {
		q += ` AND visible`
	}
	if len(f.Hours) > 0 {
		q += ` AND hour = ANY($8)`
		args = append(args, f.Hours)
	}
	q += ` ORDER BY sample_date, hour, minute`

	var out []OrbitSample
	err := withRetry(ctx, "candidate orbit samples", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var s OrbitSample
			var date time.Time
			var body string
			if err := rows.Scan(&date, &s.Hour, &s.Minute, &body,
				&s.Azimuth, &s.Altitude, &s.Visible,
				&s.MoonPhaseDeg, &s.MoonIllumination, &s.Season, &s.TimeOfDay); err != nil {
				return err
			}
			s.Date = dateFromPg(date)
			s.Body = alignment.Body(body)
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) CountOrbitSamples(ctx context.Context, date jst.Date, body alignment.Body) (int, error) {
	var n int
	err := withRetry(ctx, "count orbit samples", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM orbit_samples WHERE sample_date = $1 AND body = $2`,
			pgDate(date), string(body)).Scan(&n)
	})
	return n, err
}

func (p *Postgres) OrbitYearPresent(ctx context.Context, year int) (bool, error) {
	var present bool
	err := withRetry(ctx, "orbit year present", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM orbit_samples
	WHERE sample_date >= make_date($1, 1, 1) AND sample_date < make_date($2, 1, 1)
)`, year, year+1).Scan(&present)
	})
	return present, err
}

// --- events ---

func (p *Postgres) ReplaceEvents(ctx context.Context, locationID int64, calculationYear int, events []Event) error {
	return withRetry(ctx, "replace events", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`DELETE FROM alignment_events WHERE location_id = $1 AND calculation_year = $2`,
				locationID, calculationYear); err != nil {
				return err
			}
			if len(events) == 0 {
				return nil
			}
			batch := &pgx.Batch{}
			for _, ev := range events {
				batch.Queue(`
INSERT INTO alignment_events (location_id, event_date, event_time, kind,
	azimuth, altitude, quality_score, accuracy,
	moon_phase_deg, moon_illumination, calculation_year)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					locationID, pgDate(ev.EventDate), ev.EventTime, string(ev.Kind),
					ev.Azimuth, ev.Altitude, ev.QualityScore, string(ev.Accuracy),
					ev.MoonPhaseDeg, ev.MoonIllumination, calculationYear)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
}

const eventColumns = `e.id, e.location_id, e.event_date, e.event_time, e.kind,
	e.azimuth, e.altitude, e.quality_score, e.accuracy,
	e.moon_phase_deg, e.moon_illumination, e.calculation_year`

func scanEventWithLocation(rows pgx.Rows) (EventWithLocation, error) {
	var ev EventWithLocation
	var date time.Time
	var kind, accuracy string
	err := rows.Scan(&ev.ID, &ev.LocationID, &date, &ev.EventTime, &kind,
		&ev.Azimuth, &ev.Altitude, &ev.QualityScore, &accuracy,
		&ev.MoonPhaseDeg, &ev.MoonIllumination, &ev.CalculationYear,
		&ev.Location.ID, &ev.Location.Name, &ev.Location.Prefecture,
		&ev.Location.Latitude, &ev.Location.Longitude, &ev.Location.Elevation,
		&ev.Location.Description, &ev.Location.FujiAzimuth,
		&ev.Location.FujiElevation, &ev.Location.FujiDistance,
		&ev.Location.CreatedAt, &ev.Location.UpdatedAt)
	if err != nil {
		return ev, err
	}
	ev.EventDate = dateFromPg(date)
	ev.EventTime = ev.EventTime.UTC()
	ev.Kind = alignment.Kind(kind)
	ev.Accuracy = alignment.Accuracy(accuracy)
	return ev, nil
}

func (p *Postgres) queryEventsJoined(ctx context.Context, name, where string, args ...any) ([]EventWithLocation, error) {
	q := `
SELECT ` + eventColumns + `,
	l.id, l.name, l.prefecture, l.latitude, l.longitude, l.elevation,
	l.description, l.fuji_azimuth, l.fuji_elevation, l.fuji_distance,
	l.created_at, l.updated_at
FROM alignment_events e
JOIN locations l ON l.id = e.location_id
` + where
	var out []EventWithLocation
	err := withRetry(ctx, name, func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			ev, err := scanEventWithLocation(rows)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) ListLocationEvents(ctx context.Context, locationID int64, calculationYear int) ([]Event, error) {
	var out []Event
	err := withRetry(ctx, "list location events", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
SELECT `+eventColumns+`
FROM alignment_events e
WHERE e.location_id = $1 AND e.calculation_year = $2
ORDER BY e.event_time`, locationID, calculationYear)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var ev Event
			var date time.Time
			var kind, accuracy string
			if err := rows.Scan(&ev.ID, &ev.LocationID, &date, &ev.EventTime, &kind,
				&ev.Azimuth, &ev.Altitude, &ev.QualityScore, &accuracy,
				&ev.MoonPhaseDeg, &ev.MoonIllumination, &ev.CalculationYear); err != nil {
				return err
			}
			ev.EventDate = dateFromPg(date)
			ev.EventTime = ev.EventTime.UTC()
			ev.Kind = alignment.Kind(kind)
			ev.Accuracy = alignment.Accuracy(accuracy)
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) QueryCalendar(ctx context.Context, year, month int) ([]CalendarDay, error) {
	var out []CalendarDay
	err := withRetry(ctx, "query calendar", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
SELECT event_date,
	COUNT(*) FILTER (WHERE kind IN ('diamond_sunrise', 'diamond_sunset')),
	COUNT(*) FILTER (WHERE kind IN ('pearl_rising', 'pearl_setting'))
FROM alignment_events
WHERE event_date >= make_date($1, $2, 1)
  AND event_date < make_date($1, $2, 1) + INTERVAL '1 month'
GROUP BY event_date
ORDER BY event_date`, year, month)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var d CalendarDay
			var date time.Time
			if err := rows.Scan(&date, &d.Diamond, &d.Pearl); err != nil {
				return err
			}
			d.Date = dateFromPg(date)
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) QueryDay(ctx context.Context, date jst.Date) ([]EventWithLocation, error) {
	return p.queryEventsJoined(ctx, "query day",
		`WHERE e.event_date = $1 ORDER BY e.event_time`, pgDate(date))
}

func (p *Postgres) QueryUpcoming(ctx context.Context, now time.Time, limit int) ([]EventWithLocation, error) {
	return p.queryEventsJoined(ctx, "query upcoming",
		`WHERE e.event_time >= $1 ORDER BY e.event_time LIMIT $2`, now, limit)
}

func (p *Postgres) QueryStats(ctx context.Context, year int) (YearStats, error) {
	var stats YearStats
	for i := range stats.PerMonth {
		stats.PerMonth[i].Month = i + 1
	}
	err := withRetry(ctx, "query stats", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `
SELECT EXTRACT(MONTH FROM event_date)::int,
	COUNT(*),
	COUNT(*) FILTER (WHERE kind IN ('diamond_sunrise', 'diamond_sunset')),
	COUNT(*) FILTER (WHERE kind IN ('pearl_rising', 'pearl_setting'))
FROM alignment_events
WHERE calculation_year = $1
GROUP BY 1`, year)
		if err != nil {
			return err
		}
		defer rows.Close()
		stats.Total, stats.Diamond, stats.Pearl = 0, 0, 0
		for rows.Next() {
			var month, total, diamond, pearl int
			if err := rows.Scan(&month, &total, &diamond, &pearl); err != nil {
				return err
			}
			mo := &stats.PerMonth[month-1]
			mo.Total, mo.Diamond, mo.Pearl = total, diamond, pearl
			stats.Total += total
			stats.Diamond += diamond
			stats.Pearl += pearl
		}
		return rows.Err()
	})
	return stats, err
}

// --- jobs ---

const jobColumns = `id, kind, params, priority, state, attempts, max_attempts,
	created_at, started_at, finished_at, run_after, progress_at,
	failed_reason, cancel_requested`

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	var kind, state string
	var priority int
	err := row.Scan(&job.ID, &kind, &job.Params, &priority, &state,
		&job.Attempts, &job.MaxAttempts,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		&job.RunAfter, &job.ProgressAt,
		&job.FailedReason, &job.CancelRequested)
	if err != nil {
		return job, err
	}
	job.Kind = JobKind(kind)
	job.State = JobState(state)
	job.Priority = Priority(priority)
	return job, nil
}

func (p *Postgres) EnqueueJob(ctx context.Context, kind JobKind, params JobParams, priority Priority) (int64, error) {
	var id int64
	err := withRetry(ctx, "enqueue job", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `
INSERT INTO jobs (kind, params, priority) VALUES ($1, $2, $3) RETURNING id`,
			string(kind), params, int(priority)).Scan(&id)
	})
	return id, err
}

func (p *Postgres) DequeueJob(ctx context.Context) (Job, error) {
	var job Job
	err := withRetry(ctx, "dequeue job", func(ctx context.Context) error {
		var err error
		job, err = scanJob(p.pool.QueryRow(ctx, `
WITH next AS (
	SELECT id FROM jobs
	WHERE state = 'waiting' AND (run_after IS NULL OR run_after <= now())
	ORDER BY priority DESC, id ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE jobs j
SET state = 'active', attempts = attempts + 1,
	started_at = now(), progress_at = now()
FROM next
WHERE j.id = next.id
RETURNING `+jobColumns))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoJob
		}
		return err
	})
	return job, err
}

func (p *Postgres) GetJob(ctx context.Context, id int64) (Job, error) {
	var job Job
	err := withRetry(ctx, "get job", func(ctx context.Context) error {
		var err error
		job, err = scanJob(p.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return err
	})
	return job, err
}

func (p *Postgres) CompleteJob(ctx context.Context, id int64) error {
	return withRetry(ctx, "complete job", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
UPDATE jobs SET state = 'completed', finished_at = now() WHERE id = $1`, id)
		return err
	})
}

func (p *Postgres) FailJob(ctx context.Context, id int64, reason string, retryDelay time.Duration) error {
	return withRetry(ctx, "fail job", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
UPDATE jobs SET
	state = CASE WHEN attempts < max_attempts THEN 'waiting' ELSE 'failed' END,
	run_after = CASE WHEN attempts < max_attempts THEN now() + $2 ELSE run_after END,
	finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
	failed_reason = $3
WHERE id = $1`, id, retryDelay, reason)
		return err
	})
}

func (p *Postgres) CancelJob(ctx context.Context, id int64) error {
	return withRetry(ctx, "cancel job", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
UPDATE jobs SET
	state = CASE WHEN state = 'waiting' THEN 'cancelled' ELSE state END,
	finished_at = CASE WHEN state = 'waiting' THEN now() ELSE finished_at END,
	cancel_requested = CASE WHEN state = 'active' THEN TRUE ELSE cancel_requested END
WHERE id = $1 AND state IN ('waiting', 'active')`, id)
		return err
	})
}

func (p *Postgres) IsCancelRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool
	err := withRetry(ctx, "check cancel", func(ctx context.Context) error {
		err := p.pool.QueryRow(ctx,
			`SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&requested)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, ErrNotFound)
		}
		return err
	})
	return requested, err
}

func (p *Postgres) FinishJobCancelled(ctx context.Context, id int64) error {
	return withRetry(ctx, "finish job cancelled", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
UPDATE jobs SET state = 'cancelled', finished_at = now() WHERE id = $1`, id)
		return err
	})
}

func (p *Postgres) TouchJobProgress(ctx context.Context, id int64) error {
	return withRetry(ctx, "touch job progress", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx,
			`UPDATE jobs SET progress_at = now() WHERE id = $1 AND state = 'active'`, id)
		return err
	})
}

func (p *Postgres) ReclaimStalledJobs(ctx context.Context, timeout time.Duration) (int, error) {
	var n int
	err := withRetry(ctx, "reclaim stalled jobs", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
UPDATE jobs SET
	state = CASE WHEN attempts < max_attempts THEN 'waiting' ELSE 'failed' END,
	finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
	failed_reason = 'stalled: reclaimed by queue'
WHERE state = 'active' AND progress_at < now() - $1`, timeout)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

func (p *Postgres) CountWaitingJobs(ctx context.Context) (int, error) {
	var n int
	err := withRetry(ctx, "count waiting jobs", func(ctx context.Context) error {
		return p.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM jobs WHERE state = 'waiting'`).Scan(&n)
	})
	return n, err
}

func (p *Postgres) GetQueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	err := withRetry(ctx, "queue stats", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx,
			`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var state string
			var count int
			if err := rows.Scan(&state, &count); err != nil {
				return err
			}
			switch JobState(state) {
			case JobWaiting:
				stats.Waiting = count
			case JobActive:
				stats.Active = count
			case JobCompleted:
				stats.Completed = count
			case JobFailed:
				stats.Failed = count
			case JobCancelled:
				stats.Cancelled = count
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		failed, err := p.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE state = 'failed' ORDER BY id DESC LIMIT 50`)
		if err != nil {
			return err
		}
		defer failed.Close()
		stats.FailedJobs = stats.FailedJobs[:0]
		for failed.Next() {
			job, err := scanJob(failed)
			if err != nil {
				return err
			}
			stats.FailedJobs = append(stats.FailedJobs, job)
		}
		return failed.Err()
	})
	if err != nil {
		// The admin snapshot degrades instead of failing: operators still
		// get a response when the backend is briefly unreachable.
		log.Logger().Error("queue stats unavailable", "error", err)
		return QueueStats{Degraded: true}, nil
	}
	return stats, nil
}

// --- schedules ---

func (p *Postgres) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	err := withRetry(ctx, "list schedules", func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx,
			`SELECT id, cron_expr, kind, enabled, last_run FROM schedules ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var s Schedule
			var kind string
			if err := rows.Scan(&s.ID, &s.CronExpr, &kind, &s.Enabled, &s.LastRun); err != nil {
				return err
			}
			s.Kind = JobKind(kind)
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) SeedSchedule(ctx context.Context, s Schedule) error {
	return withRetry(ctx, "seed schedule", func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
INSERT INTO schedules (id, cron_expr, kind, enabled)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`,
			s.ID, s.CronExpr, string(s.Kind), s.Enabled)
		return err
	})
}

func (p *Postgres) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	return withRetry(ctx, "set schedule enabled", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx,
			`UPDATE schedules SET enabled = $2 WHERE id = $1`, id, enabled)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (p *Postgres) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	return withRetry(ctx, "mark schedule run", func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx,
			`UPDATE schedules SET last_run = $2 WHERE id = $1`, id, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// --- locking ---

// WithLocationLock holds a transaction-scoped advisory lock keyed by
// location id while fn runs. Two matcher runs on the same location serialize
// even across processes; distinct locations proceed in parallel.
func (p *Postgres) WithLocationLock(ctx context.Context, locationID int64, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock($1, $2)`,
			locationLockClass, int32(locationID)); err != nil {
			return fmt.Errorf("acquire location lock %d: %w", locationID, err)
		}
		return fn(ctx)
	})
}
