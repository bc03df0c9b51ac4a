// Package queue runs the durable background pipeline: a dispatcher pulls
// persisted jobs by priority, a bounded worker pool executes them with
// retries and cooperative cancellation, and a stall reclaimer returns
// abandoned jobs to the queue. The jobs table is the backing store, so work
// survives restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuru-sha/fuji-calendar-sub001/config"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// retryDelays is the backoff schedule by completed attempt count.
var retryDelays = []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}

const (
	pollInterval    = 2 * time.Second
	reclaimInterval = time.Minute
)

// ErrJobCancelled marks a handler stop caused by a cancel request. The
// dispatcher moves such jobs to the terminal cancelled state, not failed.
var ErrJobCancelled = errors.New("queue: job cancelled")

// Handler executes one kind of job. It must poll rt.CancelRequested at
// natural boundaries and call rt.Touch while making progress.
type Handler func(ctx context.Context, rt *JobRuntime) error

// JobRuntime is the per-execution view a handler gets.
type JobRuntime struct {
	Job store.Job
	q   *Queue
}

// Touch bumps the job's progress stamp so the stall reclaimer leaves it
// alone.
func (rt *JobRuntime) Touch(ctx context.Context) {
	if err := rt.q.jobs.TouchJobProgress(ctx, rt.Job.ID); err != nil {
		log.Logger().WarnContext(ctx, "progress touch failed",
			"job_id", rt.Job.ID, "error", err)
	}
}

// CancelRequested reports whether an operator asked this job to stop.
func (rt *JobRuntime) CancelRequested(ctx context.Context) (bool, error) {
	return rt.q.jobs.IsCancelRequested(ctx, rt.Job.ID)
}

// Enqueue lets handlers fan out follow-up jobs through the same
// high-water-mark accounting.
func (rt *JobRuntime) Enqueue(ctx context.Context, kind store.JobKind, params store.JobParams, priority store.Priority) (int64, error) {
	return rt.q.Enqueue(ctx, kind, params, priority)
}

// Queue owns the dispatcher, the worker pool, and enqueue accounting.
type Queue struct {
	jobs store.JobStore

	handlers map[store.JobKind]Handler

	concurrency   atomic.Int32
	active        atomic.Int32
	warnings      atomic.Int64
	stallTimeout  time.Duration
	highWaterMark int
}

// New builds a Queue with the configured initial concurrency.
func New(jobs store.JobStore, cfg *config.Config) *Queue {
	q := &Queue{
		jobs:          jobs,
		handlers:      make(map[store.JobKind]Handler),
		stallTimeout:  cfg.StallTimeout,
		highWaterMark: cfg.HighWaterMark,
	}
	q.concurrency.Store(int32(cfg.WorkerConcurrency))
	return q
}

// Register binds a handler to a job kind. Not safe after Run starts.
func (q *Queue) Register(kind store.JobKind, h Handler) {
	q.handlers[kind] = h
}

// SetConcurrency changes the worker pool size, applied on the next pull.
// In-flight jobs are never interrupted.
func (q *Queue) SetConcurrency(n int) error {
	if n < config.MinConcurrency || n > config.MaxConcurrency {
		return fmt.Errorf("concurrency must be in [%d, %d], got %d",
			config.MinConcurrency, config.MaxConcurrency, n)
	}
	q.concurrency.Store(int32(n))
	log.Logger().Info("worker concurrency changed", "concurrency", n)
	return nil
}

// Concurrency returns the current target pool size.
func (q *Queue) Concurrency() int {
	return int(q.concurrency.Load())
}

// WarningCount returns how many enqueues exceeded the high-water mark.
func (q *Queue) WarningCount() int64 {
	return q.warnings.Load()
}

// Enqueue persists a job. Enqueues past the high-water mark still succeed
// but bump the warning counter for the admin surface.
func (q *Queue) Enqueue(ctx context.Context, kind store.JobKind, params store.JobParams, priority store.Priority) (int64, error) {
	id, err := q.jobs.EnqueueJob(ctx, kind, params, priority)
	if err != nil {
		return 0, err
	}
	if waiting, err := q.jobs.CountWaitingJobs(ctx); err == nil && waiting > q.highWaterMark {
		q.warnings.Add(1)
		log.Logger().WarnContext(ctx, "queue above high-water mark",
			"waiting", waiting, "high_water_mark", q.highWaterMark)
	}
	return id, nil
}

// Run drives the dispatcher and the stall reclaimer until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.dispatch(ctx) })
	g.Go(func() error { return q.reclaimLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (q *Queue) dispatch(ctx context.Context) error {
	logger := log.Logger()
	logger.InfoContext(ctx, "dispatcher started", "concurrency", q.Concurrency())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.active.Load() >= q.concurrency.Load() {
			sleep(ctx, 100*time.Millisecond)
			continue
		}

		job, err := q.jobs.DequeueJob(ctx)
		switch {
		case errors.Is(err, store.ErrNoJob):
			sleep(ctx, pollInterval)
			continue
		case err != nil:
			logger.ErrorContext(ctx, "dequeue failed", "error", err)
			sleep(ctx, pollInterval)
			continue
		}

		q.active.Add(1)
		go func() {
			defer q.active.Add(-1)
			q.runJob(ctx, job)
		}()
	}
}

func (q *Queue) runJob(ctx context.Context, job store.Job) {
	ctx, span := observability.Observer().CreateSpan(ctx, "queue.runJob")
	defer span.End()

	logger := log.Logger()
	logger.InfoContext(ctx, "job started",
		"job_id", job.ID, "kind", string(job.Kind),
		"attempt", job.Attempts, "priority", int(job.Priority))
	started := time.Now()

	h, ok := q.handlers[job.Kind]
	if !ok {
		q.fail(ctx, job, fmt.Sprintf("no handler for kind %q", job.Kind))
		return
	}

	err := h(ctx, &JobRuntime{Job: job, q: q})
	switch {
	case err == nil:
		if err := q.jobs.CompleteJob(ctx, job.ID); err != nil {
			logger.ErrorContext(ctx, "complete failed", "job_id", job.ID, "error", err)
		}
		logger.InfoContext(ctx, "job completed",
			"job_id", job.ID, "kind", string(job.Kind), "elapsed", time.Since(started))

	case errors.Is(err, ErrJobCancelled):
		if err := q.jobs.FinishJobCancelled(context.WithoutCancel(ctx), job.ID); err != nil {
			logger.ErrorContext(ctx, "cancel finish failed", "job_id", job.ID, "error", err)
		}
		logger.InfoContext(ctx, "job cancelled", "job_id", job.ID, "kind", string(job.Kind))

	case ctx.Err() != nil:
		// Process shutdown: leave the job active; the stall reclaimer will
		// return it to the queue.
		logger.WarnContext(context.WithoutCancel(ctx), "job interrupted by shutdown",
			"job_id", job.ID, "kind", string(job.Kind))

	default:
		q.fail(ctx, job, err.Error())
	}
}

func (q *Queue) fail(ctx context.Context, job store.Job, reason string) {
	delay := retryDelays[len(retryDelays)-1]
	if job.Attempts-1 < len(retryDelays) && job.Attempts >= 1 {
		delay = retryDelays[job.Attempts-1]
	}
	if err := q.jobs.FailJob(ctx, job.ID, reason, delay); err != nil {
		log.Logger().ErrorContext(ctx, "fail record failed", "job_id", job.ID, "error", err)
		return
	}
	log.Logger().WarnContext(ctx, "job failed",
		"job_id", job.ID, "kind", string(job.Kind),
		"attempt", job.Attempts, "max_attempts", job.MaxAttempts, "reason", reason)
}

func (q *Queue) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := q.jobs.ReclaimStalledJobs(ctx, q.stallTimeout)
			if err != nil {
				log.Logger().ErrorContext(ctx, "stall reclaim failed", "error", err)
				continue
			}
			if n > 0 {
				log.Logger().WarnContext(ctx, "reclaimed stalled jobs",
					"count", n, "stall_timeout", q.stallTimeout)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
