package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/matcher"
	"github.com/yuru-sha/fuji-calendar-sub001/orbit"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// monthlyParallelism bounds per-location fan-out inside a single monthly
// job; the worker pool already parallelizes across jobs.
const monthlyParallelism = 4

// PipelineStore is the persistence surface the job handlers need.
type PipelineStore interface {
	store.LocationStore
	store.OrbitStore
	store.EventStore
	store.Locker
}

// Pipeline wires the computation layers into queue handlers.
type Pipeline struct {
	eph    *ephemeris.Adapter
	st     PipelineStore
	ref    geometry.Reference
	summit ephemeris.Observer
	now    func() time.Time
}

// NewPipeline builds the handler set over the shared adapter and reference.
func NewPipeline(eph *ephemeris.Adapter, st PipelineStore, ref geometry.Reference) *Pipeline {
	return &Pipeline{
		eph:    eph,
		st:     st,
		ref:    ref,
		summit: ephemeris.Observer{Lat: ref.Lat, Lon: ref.Lon, Elev: ref.Elev},
		now:    time.Now,
	}
}

// RegisterAll binds every job kind on the queue.
func (p *Pipeline) RegisterAll(q *Queue) {
	q.Register(store.JobOrbitYear, p.HandleOrbitYear)
	q.Register(store.JobLocationYear, p.HandleLocationYear)
	q.Register(store.JobMonthly, p.HandleMonthly)
	q.Register(store.JobDaily, p.HandleDaily)
	q.Register(store.JobRecalcAll, p.HandleRecalcAll)
	q.Register(store.JobHistorical, p.HandleHistorical)
}

// HandleOrbitYear materializes the year's orbit table.
func (p *Pipeline) HandleOrbitYear(ctx context.Context, rt *JobRuntime) error {
	year := rt.Job.Params.YearOf(p.now())
	return p.buildOrbitYear(ctx, rt, year)
}

func (p *Pipeline) buildOrbitYear(ctx context.Context, rt *JobRuntime, year int) error {
	b := orbit.NewBuilder(p.eph, p.st, p.summit)
	b.Progress = func(pct float64) {
		rt.Touch(ctx)
		log.Logger().InfoContext(ctx, "orbit build progress",
			"job_id", rt.Job.ID, "year", year, "pct", fmt.Sprintf("%.1f", pct))
	}
	b.Cancel = rt.CancelRequested

	err := b.BuildYear(ctx, year)
	if errors.Is(err, orbit.ErrCancelled) {
		return ErrJobCancelled
	}
	return err
}

// HandleLocationYear ensures the year's orbit table exists, then matches one
// location under its advisory lock.
func (p *Pipeline) HandleLocationYear(ctx context.Context, rt *JobRuntime) error {
	if rt.Job.Params.LocationID == nil {
		return fmt.Errorf("location_year job %d has no location_id", rt.Job.ID)
	}
	locID := *rt.Job.Params.LocationID
	year := rt.Job.Params.YearOf(p.now())

	present, err := p.st.OrbitYearPresent(ctx, year)
	if err != nil {
		return err
	}
	if !present {
		if err := p.buildOrbitYear(ctx, rt, year); err != nil {
			return err
		}
	}

	return p.st.WithLocationLock(ctx, locID, func(ctx context.Context) error {
		mt := p.newMatcher(ctx, rt)
		_, err := mt.MatchYear(ctx, locID, year)
		if errors.Is(err, matcher.ErrCancelled) {
			return ErrJobCancelled
		}
		rt.Touch(ctx)
		return err
	})
}

// HandleMonthly re-matches one month for every location. Locations with
// unusable geometry are skipped and recorded, not fatal.
func (p *Pipeline) HandleMonthly(ctx context.Context, rt *JobRuntime) error {
	now := p.now()
	year := rt.Job.Params.YearOf(now)
	month := int(jst.DateOf(now).Month)
	if rt.Job.Params.Month != nil {
		month = *rt.Job.Params.Month
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("monthly job %d: month %d out of range", rt.Job.ID, month)
	}

	present, err := p.st.OrbitYearPresent(ctx, year)
	if err != nil {
		return err
	}
	if !present {
		if err := p.buildOrbitYear(ctx, rt, year); err != nil {
			return err
		}
	}

	locations, err := p.st.ListLocations(ctx)
	if err != nil {
		return err
	}

	var skipped atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monthlyParallelism)
	for _, loc := range locations {
		loc := loc
		g.Go(func() error {
			if stop, err := rt.CancelRequested(gctx); err == nil && stop {
				return ErrJobCancelled
			}
			err := p.st.WithLocationLock(gctx, loc.ID, func(ctx context.Context) error {
				mt := p.newMatcher(ctx, rt)
				_, err := mt.MatchMonth(ctx, loc.ID, year, month)
				return err
			})
			if errors.Is(err, alignment.ErrInvalidGeometry) {
				skipped.Add(1)
				log.Logger().WarnContext(gctx, "location skipped, invalid geometry",
					"location_id", loc.ID, "name", loc.Name)
				return nil
			}
			rt.Touch(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := skipped.Load(); n > 0 {
		log.Logger().WarnContext(ctx, "monthly match finished with skips",
			"year", year, "month", month, "skipped", n)
	}
	return nil
}

// HandleDaily is the scheduled maintenance run: re-match the current JST
// month for all locations.
func (p *Pipeline) HandleDaily(ctx context.Context, rt *JobRuntime) error {
	return p.HandleMonthly(ctx, rt)
}

// HandleRecalcAll fans out a location_year job per location at normal
// priority.
func (p *Pipeline) HandleRecalcAll(ctx context.Context, rt *JobRuntime) error {
	return p.fanOut(ctx, rt, store.PriorityNormal)
}

// HandleHistorical backfills a past year: build its orbit table, then fan
// out per-location matching at low priority so current-year work is not
// starved.
func (p *Pipeline) HandleHistorical(ctx context.Context, rt *JobRuntime) error {
	year := rt.Job.Params.YearOf(p.now())
	present, err := p.st.OrbitYearPresent(ctx, year)
	if err != nil {
		return err
	}
	if !present {
		if err := p.buildOrbitYear(ctx, rt, year); err != nil {
			return err
		}
	}
	return p.fanOut(ctx, rt, store.PriorityLow)
}

func (p *Pipeline) fanOut(ctx context.Context, rt *JobRuntime, priority store.Priority) error {
	year := rt.Job.Params.YearOf(p.now())
	locations, err := p.st.ListLocations(ctx)
	if err != nil {
		return err
	}
	for _, loc := range locations {
		locID := loc.ID
		if _, err := rt.Enqueue(ctx, store.JobLocationYear,
			store.JobParams{LocationID: &locID, Year: year}, priority); err != nil {
			return fmt.Errorf("enqueue location %d: %w", locID, err)
		}
	}
	log.Logger().InfoContext(ctx, "fanned out location jobs",
		"job_id", rt.Job.ID, "year", year, "locations", len(locations))
	return nil
}

// newMatcher builds a per-run matcher carrying this job's cancel hook.
func (p *Pipeline) newMatcher(ctx context.Context, rt *JobRuntime) *matcher.Matcher {
	mt := matcher.New(p.eph, p.st, p.ref)
	mt.Cancel = func(ctx context.Context) (bool, error) {
		rt.Touch(ctx)
		return rt.CancelRequested(ctx)
	}
	return mt
}
