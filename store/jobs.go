package store

import (
	"context"
	"time"

	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// JobKind enumerates queue work.
type JobKind string

const (
	JobOrbitYear    JobKind = "orbit_year"
	JobLocationYear JobKind = "location_year"
	JobMonthly      JobKind = "monthly"
	JobDaily        JobKind = "daily"
	JobRecalcAll    JobKind = "recalc_all"
	JobHistorical   JobKind = "historical"
)

// Priority biases dequeue order. Higher dequeues first; FIFO within a
// priority.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobState is the queue lifecycle state.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobParams is the shallow parameter snapshot of a job. It intentionally
// does not pin the location row; workers re-read the location at run time
// and must tolerate its update.
type JobParams struct {
	LocationID *int64 `json:"location_id,omitempty"`
	Year       int    `json:"year"`
	Month      *int   `json:"month,omitempty"`
}

// Job is one unit of queued work.
type Job struct {
	ID       int64
	Kind     JobKind
	Params   JobParams
	Priority Priority
	State    JobState

	Attempts    int
	MaxAttempts int

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// RunAfter delays re-dequeue after a retryable failure; nil means
	// immediately eligible.
	RunAfter *time.Time

	// ProgressAt is bumped by progress ticks; the stall reclaimer compares
	// it against the stall timeout.
	ProgressAt *time.Time

	FailedReason    string
	CancelRequested bool
}

// QueueStats is the admin-facing queue snapshot.
type QueueStats struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Cancelled int

	FailedJobs []Job

	// Degraded is set when the queue backend is unreachable.
	Degraded bool
}

// JobStore is the durable queue backing.
type JobStore interface {
	EnqueueJob(ctx context.Context, kind JobKind, params JobParams, priority Priority) (int64, error)

	// DequeueJob claims the next waiting job (priority then FIFO) and moves
	// it to active. Returns ErrNoJob when the queue is empty. Claims are
	// exclusive: two concurrent dequeues never return the same job.
	DequeueJob(ctx context.Context) (Job, error)

	GetJob(ctx context.Context, id int64) (Job, error)
	CompleteJob(ctx context.Context, id int64) error

	// FailJob records a failed attempt. With attempts remaining the job is
	// re-queued to waiting with the given delay; otherwise it lands in
	// failed with reason recorded.
	FailJob(ctx context.Context, id int64, reason string, retryDelay time.Duration) error

	CancelJob(ctx context.Context, id int64) error
	IsCancelRequested(ctx context.Context, id int64) (bool, error)

	// FinishJobCancelled moves an active job to the terminal cancelled
	// state after its worker observed the cancel flag and stopped.
	FinishJobCancelled(ctx context.Context, id int64) error

	// TouchJobProgress bumps the job's progress timestamp.
	TouchJobProgress(ctx context.Context, id int64) error

	// ReclaimStalledJobs returns active jobs without progress for longer
	// than timeout back to the queue, counting a failed attempt each.
	ReclaimStalledJobs(ctx context.Context, timeout time.Duration) (int, error)

	CountWaitingJobs(ctx context.Context) (int, error)
	GetQueueStats(ctx context.Context) (QueueStats, error)
}

// Schedule is a persisted periodic trigger.
type Schedule struct {
	ID       string
	CronExpr string
	Kind     JobKind
	Enabled  bool
	LastRun  *time.Time
}

// ScheduleStore owns periodic triggers. Triggers live in the store, not in
// process timers, so they survive restarts.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]Schedule, error)
	SeedSchedule(ctx context.Context, s Schedule) error
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) error
	MarkScheduleRun(ctx context.Context, id string, at time.Time) error
}

// YearOf returns the calculation year a job addresses, defaulting to the
// current JST year for kinds carrying no explicit year.
func (p JobParams) YearOf(now time.Time) int {
	if p.Year != 0 {
		return p.Year
	}
	return jst.DateOf(now).Year
}
