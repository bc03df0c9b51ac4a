package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

func newTestLocation(t *testing.T, m *Memory) Location {
	t.Helper()
	loc := Location{
		Name:       "Futtsu Cape",
		Prefecture: "Chiba",
		Latitude:   35.313326,
		Longitude:  139.785738,
		Elevation:  1.3,
	}
	require.NoError(t, m.CreateLocation(context.Background(), &loc))
	return loc
}

func TestLocationCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetLocation(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	loc := newTestLocation(t, m)
	require.NotZero(t, loc.ID)

	require.NoError(t, m.UpdateLocationGeometry(ctx, loc.ID, 262.1, 1.87, 96000))
	got, err := m.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 262.1, got.FujiAzimuth)
	assert.Equal(t, 96000.0, got.FujiDistance)

	all, err := m.ListLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOrbitUpsertIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	rows := []OrbitSample{
		{Date: day, Hour: 17, Minute: 15, Body: alignment.BodySun, Azimuth: 247.0, Altitude: 1.9, Visible: true},
		{Date: day, Hour: 17, Minute: 16, Body: alignment.BodySun, Azimuth: 247.2, Altitude: 1.7, Visible: true},
	}
	require.NoError(t, m.BulkUpsertOrbitSamples(ctx, rows))
	require.NoError(t, m.BulkUpsertOrbitSamples(ctx, rows))

	n, err := m.CountOrbitSamples(ctx, day, alignment.BodySun)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	present, err := m.OrbitYearPresent(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, present)
	present, err = m.OrbitYearPresent(ctx, 2024)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestCandidateFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	require.NoError(t, m.BulkUpsertOrbitSamples(ctx, []OrbitSample{
		{Date: day, Hour: 17, Minute: 15, Body: alignment.BodySun, Azimuth: 247.0, Altitude: 1.9, Visible: true},
		{Date: day, Hour: 17, Minute: 30, Body: alignment.BodySun, Azimuth: 250.0, Altitude: -1.0, Visible: true},
		{Date: day, Hour: 6, Minute: 15, Body: alignment.BodySun, Azimuth: 110.0, Altitude: 1.9, Visible: true},
		{Date: day, Hour: 17, Minute: 15, Body: alignment.BodyMoon, Azimuth: 247.0, Altitude: 1.9, Visible: true},
	}))

	got, err := m.CandidateOrbitSamples(ctx, OrbitFilter{
		Year:             2025,
		Body:             alignment.BodySun,
		AzimuthCenter:    247.0,
		AzimuthHalfWidth: 1.0,
		AltitudeMin:      0.0,
		AltitudeMax:      4.0,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 17, got[0].Hour)
	assert.Equal(t, alignment.BodySun, got[0].Body)
}

func TestCandidateFilterAzimuthWrap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := jst.Date{Year: 2025, Month: time.June, Day: 1}

	require.NoError(t, m.BulkUpsertOrbitSamples(ctx, []OrbitSample{
		{Date: day, Hour: 4, Minute: 0, Body: alignment.BodySun, Azimuth: 359.5, Altitude: 1.0, Visible: true},
		{Date: day, Hour: 4, Minute: 1, Body: alignment.BodySun, Azimuth: 0.5, Altitude: 1.0, Visible: true},
		{Date: day, Hour: 4, Minute: 2, Body: alignment.BodySun, Azimuth: 5.0, Altitude: 1.0, Visible: true},
	}))

	got, err := m.CandidateOrbitSamples(ctx, OrbitFilter{
		Year:             2025,
		Body:             alignment.BodySun,
		AzimuthCenter:    0.0,
		AzimuthHalfWidth: 1.0,
		AltitudeMin:      0.0,
		AltitudeMax:      2.0,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2, "band crossing north must match both sides of zero")
}

func TestReplaceEventsAtomicPerGeneration(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := newTestLocation(t, m)
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	gen1 := []Event{
		{EventDate: day, EventTime: day.At(17, 14, 0), Kind: alignment.KindDiamondSunset, QualityScore: 0.7},
		{EventDate: day, EventTime: day.At(17, 15, 0), Kind: alignment.KindDiamondSunset, QualityScore: 0.9},
	}
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, gen1))

	gen2 := []Event{
		{EventDate: day, EventTime: day.At(17, 16, 0), Kind: alignment.KindDiamondSunset, QualityScore: 0.8},
	}
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, gen2))

	got, err := m.QueryDay(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 1, "old generation fully replaced")
	assert.Equal(t, day.At(17, 16, 0), got[0].EventTime)
	assert.Equal(t, loc.Name, got[0].Location.Name)
}

func TestReplaceEventsScopedToYear(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := newTestLocation(t, m)
	d25 := jst.Date{Year: 2025, Month: time.February, Day: 18}
	d26 := jst.Date{Year: 2026, Month: time.February, Day: 18}

	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, []Event{
		{EventDate: d25, EventTime: d25.At(17, 15, 0), Kind: alignment.KindDiamondSunset},
	}))
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2026, []Event{
		{EventDate: d26, EventTime: d26.At(17, 15, 0), Kind: alignment.KindDiamondSunset},
	}))

	// Replacing 2026 must not touch 2025 rows.
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2026, nil))
	got, err := m.QueryDay(ctx, d25)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = m.QueryDay(ctx, d26)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryCalendarAndStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := newTestLocation(t, m)
	d1 := jst.Date{Year: 2025, Month: time.February, Day: 18}
	d2 := jst.Date{Year: 2025, Month: time.February, Day: 19}

	illum := 0.93
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, []Event{
		{EventDate: d1, EventTime: d1.At(17, 15, 0), Kind: alignment.KindDiamondSunset},
		{EventDate: d1, EventTime: d1.At(5, 40, 0), Kind: alignment.KindPearlSetting, MoonIllumination: &illum},
		{EventDate: d2, EventTime: d2.At(17, 16, 0), Kind: alignment.KindDiamondSunset},
	}))

	cal, err := m.QueryCalendar(ctx, 2025, 2)
	require.NoError(t, err)
	require.Len(t, cal, 2)
	assert.Equal(t, d1, cal[0].Date)
	assert.Equal(t, 1, cal[0].Diamond)
	assert.Equal(t, 1, cal[0].Pearl)
	assert.Equal(t, 1, cal[1].Diamond)

	stats, err := m.QueryStats(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Diamond)
	assert.Equal(t, 1, stats.Pearl)
	assert.Equal(t, 3, stats.PerMonth[1].Total)
	assert.Equal(t, 0, stats.PerMonth[0].Total)
}

func TestQueryUpcomingOrderAndLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := newTestLocation(t, m)
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, []Event{
		{EventDate: day.AddDays(2), EventTime: day.AddDays(2).At(17, 17, 0), Kind: alignment.KindDiamondSunset},
		{EventDate: day, EventTime: day.At(17, 15, 0), Kind: alignment.KindDiamondSunset},
		{EventDate: day.AddDays(1), EventTime: day.AddDays(1).At(17, 16, 0), Kind: alignment.KindDiamondSunset},
	}))

	got, err := m.QueryUpcoming(ctx, day.At(12, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].EventTime.Before(got[1].EventTime))

	got, err = m.QueryUpcoming(ctx, day.AddDays(1).At(0, 0, 0), 10)
	require.NoError(t, err)
	assert.Len(t, got, 2, "past events excluded")
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.DequeueJob(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	year := 2025
	low, err := m.EnqueueJob(ctx, JobMonthly, JobParams{Year: year}, PriorityLow)
	require.NoError(t, err)
	first, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: year}, PriorityNormal)
	require.NoError(t, err)
	second, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: year + 1}, PriorityNormal)
	require.NoError(t, err)
	high, err := m.EnqueueJob(ctx, JobLocationYear, JobParams{Year: year}, PriorityHigh)
	require.NoError(t, err)

	var order []int64
	for i := 0; i < 4; i++ {
		job, err := m.DequeueJob(ctx)
		require.NoError(t, err)
		assert.Equal(t, JobActive, job.State)
		assert.Equal(t, 1, job.Attempts)
		order = append(order, job.ID)
	}
	assert.Equal(t, []int64{high, first, second, low}, order)

	_, err = m.DequeueJob(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestDequeueExclusiveClaims(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		_, err := m.EnqueueJob(ctx, JobDaily, JobParams{Year: 2025}, PriorityNormal)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := m.DequeueJob(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				assert.False(t, seen[job.ID], "job %d claimed twice", job.ID)
				seen[job.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestFailJobRetriesThenFails(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityNormal)
	require.NoError(t, err)

	// Attempts 1 and 2 fail with immediate retry; the job returns to waiting.
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := m.DequeueJob(ctx)
		require.NoError(t, err)
		require.Equal(t, attempt, job.Attempts)
		require.NoError(t, m.FailJob(ctx, id, "ephemeris glitch", 0))
		job, err = m.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, JobWaiting, job.State)
	}

	// Third failure exhausts MaxAttempts.
	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)
	require.NoError(t, m.FailJob(ctx, id, "ephemeris glitch", 0))
	job, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.State)
	assert.Equal(t, "ephemeris glitch", job.FailedReason)
	assert.NotNil(t, job.FinishedAt)

	_, err = m.DequeueJob(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestFailJobRetryDelayDefersDequeue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityNormal)
	require.NoError(t, err)

	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)
	require.NoError(t, m.FailJob(ctx, id, "transient", time.Hour))

	_, err = m.DequeueJob(ctx)
	assert.ErrorIs(t, err, ErrNoJob, "retry delay holds the job back")
}

func TestCancelWaitingAndActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	waiting, err := m.EnqueueJob(ctx, JobMonthly, JobParams{Year: 2025}, PriorityLow)
	require.NoError(t, err)
	active, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityHigh)
	require.NoError(t, err)

	job, err := m.DequeueJob(ctx)
	require.NoError(t, err)
	require.Equal(t, active, job.ID)

	// Waiting job cancels immediately.
	require.NoError(t, m.CancelJob(ctx, waiting))
	job, err = m.GetJob(ctx, waiting)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.State)

	// Active job only gets the flag; the worker observes it and completes
	// the cancellation itself.
	require.NoError(t, m.CancelJob(ctx, active))
	job, err = m.GetJob(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, JobActive, job.State)
	requested, err := m.IsCancelRequested(ctx, active)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestReclaimStalledJobs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityNormal)
	require.NoError(t, err)
	fresh, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2026}, PriorityNormal)
	require.NoError(t, err)

	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)
	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)

	// Age the first job's progress stamp past the timeout.
	m.mu.Lock()
	job := m.jobs[id]
	stale := time.Now().UTC().Add(-time.Hour)
	job.ProgressAt = &stale
	m.jobs[id] = job
	m.mu.Unlock()

	n, err := m.ReclaimStalledJobs(ctx, 20*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = m.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobWaiting, job.State)

	job, err = m.GetJob(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, JobActive, job.State, "fresh progress is left alone")
}

func TestTouchJobProgress(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityNormal)
	require.NoError(t, err)
	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)

	before, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.TouchJobProgress(ctx, id))
	after, err := m.GetJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.ProgressAt.After(*before.ProgressAt))
}

func TestQueueStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.EnqueueJob(ctx, JobMonthly, JobParams{Year: 2025}, PriorityLow)
	require.NoError(t, err)
	doneID, err := m.EnqueueJob(ctx, JobOrbitYear, JobParams{Year: 2025}, PriorityHigh)
	require.NoError(t, err)
	failID, err := m.EnqueueJob(ctx, JobDaily, JobParams{Year: 2025}, PriorityHigh)
	require.NoError(t, err)

	_, err = m.DequeueJob(ctx)
	require.NoError(t, err)
	require.NoError(t, m.CompleteJob(ctx, doneID))

	job, err := m.DequeueJob(ctx)
	require.NoError(t, err)
	require.Equal(t, failID, job.ID)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.FailJob(ctx, failID, "boom", 0))
		if i < 2 {
			_, err = m.DequeueJob(ctx)
			require.NoError(t, err)
		}
	}

	stats, err := m.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.FailedJobs, 1)
	assert.Equal(t, "boom", stats.FailedJobs[0].FailedReason)
	assert.False(t, stats.Degraded)
}

func TestScheduleLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := Schedule{ID: "daily-maintenance", CronExpr: "0 3 * * *", Kind: JobDaily, Enabled: true}
	require.NoError(t, m.SeedSchedule(ctx, s))

	// Seeding again must not clobber operator edits.
	require.NoError(t, m.SetScheduleEnabled(ctx, s.ID, false))
	require.NoError(t, m.SeedSchedule(ctx, s))
	all, err := m.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)

	ran := time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkScheduleRun(ctx, s.ID, ran))
	all, err = m.ListSchedules(ctx)
	require.NoError(t, err)
	require.NotNil(t, all[0].LastRun)
	assert.Equal(t, ran, *all[0].LastRun)

	assert.ErrorIs(t, m.SetScheduleEnabled(ctx, "nope", true), ErrNotFound)
}

func TestWithLocationLockSerializesSameLocation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var inside int
	var maxInside int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLocationLock(ctx, 7, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside, "same location never overlaps")
}
