package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// Built-in periodic triggers. They live as schedule rows, not process
// timers, so due work still fires after a restart.
const (
	ScheduleDailyMaintenance = "daily-maintenance"
	ScheduleYearRollover     = "year-rollover"
)

// Scheduler wakes once per minute and enqueues due schedule rows. Cron
// expressions are evaluated on the JST wall clock.
type Scheduler struct {
	schedules store.ScheduleStore
	q         *Queue

	// now is swappable in tests.
	now func() time.Time
}

// NewScheduler builds a Scheduler over persisted schedule rows.
func NewScheduler(schedules store.ScheduleStore, q *Queue) *Scheduler {
	return &Scheduler{schedules: schedules, q: q, now: time.Now}
}

// SeedDefaults inserts the built-in triggers if absent. Operator toggles on
// existing rows are preserved.
func (s *Scheduler) SeedDefaults(ctx context.Context) error {
	defaults := []store.Schedule{
		{ID: ScheduleDailyMaintenance, CronExpr: "0 3 * * *", Kind: store.JobDaily, Enabled: true},
		{ID: ScheduleYearRollover, CronExpr: "0 1 31 12 *", Kind: store.JobOrbitYear, Enabled: true},
	}
	for _, sched := range defaults {
		if err := s.schedules.SeedSchedule(ctx, sched); err != nil {
			return fmt.Errorf("seed schedule %s: %w", sched.ID, err)
		}
	}
	return nil
}

// Run ticks every minute until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx, s.now()); err != nil {
				log.Logger().ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick enqueues every enabled schedule whose cron expression has a firing
// between its last run and now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	rows, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sched := range rows {
		if !sched.Enabled {
			continue
		}
		spec, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			log.Logger().ErrorContext(ctx, "bad cron expression",
				"schedule", sched.ID, "expr", sched.CronExpr, "error", err)
			continue
		}

		since := now.Add(-time.Minute)
		if sched.LastRun != nil && sched.LastRun.After(since) {
			since = *sched.LastRun
		}
		next := spec.Next(since.In(jst.Zone))
		if next.After(now) {
			continue
		}

		if _, err := s.trigger(ctx, sched, now); err != nil {
			log.Logger().ErrorContext(ctx, "schedule enqueue failed",
				"schedule", sched.ID, "error", err)
			continue
		}
		if err := s.schedules.MarkScheduleRun(ctx, sched.ID, now); err != nil {
			return fmt.Errorf("mark schedule %s: %w", sched.ID, err)
		}
	}
	return nil
}

// Trigger enqueues a schedule immediately, outside its cron firing. Backs
// the admin trigger operation.
func (s *Scheduler) Trigger(ctx context.Context, scheduleID string) (int64, error) {
	rows, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, sched := range rows {
		if sched.ID != scheduleID {
			continue
		}
		id, err := s.trigger(ctx, sched, now)
		if err != nil {
			return 0, err
		}
		if err := s.schedules.MarkScheduleRun(ctx, sched.ID, now); err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, fmt.Errorf("schedule %s: %w", scheduleID, store.ErrNotFound)
}

// List returns the persisted triggers.
func (s *Scheduler) List(ctx context.Context) ([]store.Schedule, error) {
	return s.schedules.ListSchedules(ctx)
}

// SetEnabled toggles a periodic trigger.
func (s *Scheduler) SetEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	return s.schedules.SetScheduleEnabled(ctx, scheduleID, enabled)
}

func (s *Scheduler) trigger(ctx context.Context, sched store.Schedule, now time.Time) (int64, error) {
	params := store.JobParams{}
	if sched.ID == ScheduleYearRollover {
		// Fires at year end; the table being built is next year's.
		params.Year = jst.DateOf(now).Year + 1
	}
	id, err := s.q.Enqueue(ctx, sched.Kind, params, store.PriorityNormal)
	if err != nil {
		return 0, err
	}
	log.Logger().InfoContext(ctx, "schedule fired",
		"schedule", sched.ID, "kind", string(sched.Kind), "job_id", id)
	return id, nil
}
