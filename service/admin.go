package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/queue"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// AdminStore is the persistence surface the admin operations need.
type AdminStore interface {
	store.LocationStore
	store.JobStore
}

// QueueStatsView is the admin queue snapshot, extended with the enqueue
// warning counter.
type QueueStatsView struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	FailedJobs []FailedJobView `json:"failedJobs"`

	Concurrency      int   `json:"concurrency"`
	HighWaterWarning int64 `json:"highWaterWarnings"`
	Degraded         bool  `json:"degraded"`
}

// FailedJobView describes one terminally failed job.
type FailedJobView struct {
	ID       int64           `json:"id"`
	Kind     string          `json:"kind"`
	Params   store.JobParams `json:"params"`
	Attempts int             `json:"attempts"`
	Reason   string          `json:"reason"`
	FailedAt string          `json:"failedAt,omitempty"` // JST
}

// ScheduleView describes one periodic trigger.
type ScheduleView struct {
	ID       string `json:"id"`
	CronExpr string `json:"cronExpr"`
	Kind     string `json:"kind"`
	Enabled  bool   `json:"enabled"`
	LastRun  string `json:"lastRun,omitempty"` // JST
}

// AdminService drives the background pipeline on behalf of the external
// admin surface. Validation failures are rejected synchronously; everything
// else becomes a queued job.
type AdminService struct {
	st        AdminStore
	q         *queue.Queue
	scheduler *queue.Scheduler
}

// NewAdminService builds the admin surface.
func NewAdminService(st AdminStore, q *queue.Queue, scheduler *queue.Scheduler) *AdminService {
	return &AdminService{st: st, q: q, scheduler: scheduler}
}

// RecalcLocation enqueues a high-priority location_year job and returns its
// id. The location must exist.
func (s *AdminService) RecalcLocation(ctx context.Context, locationID int64, year int) (int64, error) {
	if err := validateYear(year); err != nil {
		return 0, err
	}
	if _, err := s.st.GetLocation(ctx, locationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return 0, err
	}
	return s.q.Enqueue(ctx, store.JobLocationYear,
		store.JobParams{LocationID: &locationID, Year: year}, store.PriorityHigh)
}

// RecalcMonth enqueues a high-priority monthly job covering all locations.
func (s *AdminService) RecalcMonth(ctx context.Context, year, month int) (int64, error) {
	if err := validateYear(year); err != nil {
		return 0, err
	}
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("%w: month %d out of range", ErrValidation, month)
	}
	return s.q.Enqueue(ctx, store.JobMonthly,
		store.JobParams{Year: year, Month: &month}, store.PriorityHigh)
}

// SetConcurrency resizes the worker pool, bounded [1, 10].
func (s *AdminService) SetConcurrency(n int) error {
	if err := s.q.SetConcurrency(n); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// QueueStats snapshots the queue for the admin dashboard. A store outage
// yields a degraded snapshot rather than an error.
func (s *AdminService) QueueStats(ctx context.Context) (*QueueStatsView, error) {
	stats, err := s.st.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	view := &QueueStatsView{
		Waiting:          stats.Waiting,
		Active:           stats.Active,
		Completed:        stats.Completed,
		Failed:           stats.Failed,
		Cancelled:        stats.Cancelled,
		Concurrency:      s.q.Concurrency(),
		HighWaterWarning: s.q.WarningCount(),
		Degraded:         stats.Degraded,
	}
	for _, job := range stats.FailedJobs {
		fv := FailedJobView{
			ID:       job.ID,
			Kind:     string(job.Kind),
			Params:   job.Params,
			Attempts: job.Attempts,
			Reason:   job.FailedReason,
		}
		if job.FinishedAt != nil {
			fv.FailedAt = jst.Format(*job.FinishedAt)
		}
		view.FailedJobs = append(view.FailedJobs, fv)
	}
	return view, nil
}

// CancelJob requests a waiting or active job to stop.
func (s *AdminService) CancelJob(ctx context.Context, jobID int64) error {
	if err := s.st.CancelJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}
	return nil
}

// RequeueJob re-submits a terminally failed job as a fresh one, returning
// the new job id.
func (s *AdminService) RequeueJob(ctx context.Context, jobID int64) (int64, error) {
	job, err := s.st.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return 0, err
	}
	if job.State != store.JobFailed {
		return 0, fmt.Errorf("%w: job %d is %s, only failed jobs re-queue",
			ErrValidation, jobID, job.State)
	}
	id, err := s.q.Enqueue(ctx, job.Kind, job.Params, job.Priority)
	if err != nil {
		return 0, err
	}
	log.Logger().InfoContext(ctx, "failed job re-queued",
		"failed_job_id", jobID, "new_job_id", id)
	return id, nil
}

// ListBackgroundJobs returns the periodic triggers.
func (s *AdminService) ListBackgroundJobs(ctx context.Context) ([]ScheduleView, error) {
	rows, err := s.scheduler.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ScheduleView, 0, len(rows))
	for _, row := range rows {
		sv := ScheduleView{
			ID:       row.ID,
			CronExpr: row.CronExpr,
			Kind:     string(row.Kind),
			Enabled:  row.Enabled,
		}
		if row.LastRun != nil {
			sv.LastRun = jst.Format(*row.LastRun)
		}
		out = append(out, sv)
	}
	return out, nil
}

// ToggleBackgroundJob enables or disables a periodic trigger.
func (s *AdminService) ToggleBackgroundJob(ctx context.Context, scheduleID string, enabled bool) error {
	err := s.scheduler.SetEnabled(ctx, scheduleID, enabled)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}

// TriggerBackgroundJob fires a periodic trigger immediately and returns the
// enqueued job id.
func (s *AdminService) TriggerBackgroundJob(ctx context.Context, scheduleID string) (int64, error) {
	id, err := s.scheduler.Trigger(ctx, scheduleID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return id, err
}
