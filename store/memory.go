package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// Memory is an in-memory Store. It backs tests, the slow/fast matcher
// equivalence check, and local experiments; semantics mirror the Postgres
// implementation including claim exclusivity and generation replacement.
type Memory struct {
	mu sync.Mutex

	locations map[int64]Location
	nextLocID int64

	orbit map[orbitKey]OrbitSample

	events      map[int64]Event
	nextEventID int64

	jobs      map[int64]Job
	nextJobID int64
	// queueSeq preserves FIFO order within a priority.
	queueSeq map[int64]int64
	seq      int64

	schedules map[string]Schedule

	locLocks map[int64]*sync.Mutex
}

type orbitKey struct {
	date   jst.Date
	hour   int
	minute int
	body   alignment.Body
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		locations: make(map[int64]Location),
		orbit:     make(map[orbitKey]OrbitSample),
		events:    make(map[int64]Event),
		jobs:      make(map[int64]Job),
		queueSeq:  make(map[int64]int64),
		schedules: make(map[string]Schedule),
		locLocks:  make(map[int64]*sync.Mutex),
	}
}

func (m *Memory) Close() {}

// --- locations ---

func (m *Memory) ListLocations(ctx context.Context) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Location, 0, len(m.locations))
	for _, loc := range m.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetLocation(ctx context.Context, id int64) (Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return Location{}, fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	return loc, nil
}

func (m *Memory) CreateLocation(ctx context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc.ID == 0 {
		m.nextLocID++
		loc.ID = m.nextLocID
	} else if loc.ID > m.nextLocID {
		m.nextLocID = loc.ID
	}
	now := time.Now().UTC()
	loc.CreatedAt = now
	loc.UpdatedAt = now
	m.locations[loc.ID] = *loc
	return nil
}

func (m *Memory) UpdateLocationGeometry(ctx context.Context, id int64, azimuth, elevation, distance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return fmt.Errorf("location %d: %w", id, ErrNotFound)
	}
	loc.FujiAzimuth = azimuth
	loc.FujiElevation = elevation
	loc.FujiDistance = distance
	loc.UpdatedAt = time.Now().UTC()
	m.locations[id] = loc
	return nil
}

// --- orbit samples ---

func (m *Memory) BulkUpsertOrbitSamples(ctx context.Context, rows []OrbitSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.orbit[orbitKey{r.Date, r.Hour, r.Minute, r.Body}] = r
	}
	return nil
}

func (m *Memory) CandidateOrbitSamples(ctx context.Context, f OrbitFilter) ([]OrbitSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hourSet := make(map[int]bool, len(f.Hours))
	for _, h := range f.Hours {
		hourSet[h] = true
	}

	var out []OrbitSample
	for _, s := range m.orbit {
		if s.Date.Year != f.Year || s.Body != f.Body {
			continue
		}
		if f.VisibleOnly && !s.Visible {
			continue
		}
		if len(hourSet) > 0 && !hourSet[s.Hour] {
			continue
		}
		if geometry.AzimuthDiff(s.Azimuth, f.AzimuthCenter) > f.AzimuthHalfWidth {
			continue
		}
		if s.Altitude < f.AltitudeMin || s.Altitude > f.AltitudeMax {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.Minute < b.Minute
	})
	return out, nil
}

func (m *Memory) CountOrbitSamples(ctx context.Context, date jst.Date, body alignment.Body) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.orbit {
		if k.date.Equal(date) && k.body == body {
			n++
		}
	}
	return n, nil
}

func (m *Memory) OrbitYearPresent(ctx context.Context, year int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.orbit {
		if k.date.Year == year {
			return true, nil
		}
	}
	return false, nil
}

// --- events ---

func (m *Memory) ReplaceEvents(ctx context.Context, locationID int64, calculationYear int, rows []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ev := range m.events {
		if ev.LocationID == locationID && ev.CalculationYear == calculationYear {
			delete(m.events, id)
		}
	}
	for _, ev := range rows {
		m.nextEventID++
		ev.ID = m.nextEventID
		ev.LocationID = locationID
		ev.CalculationYear = calculationYear
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *Memory) ListLocationEvents(ctx context.Context, locationID int64, calculationYear int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.LocationID == locationID && ev.CalculationYear == calculationYear {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (m *Memory) QueryCalendar(ctx context.Context, year, month int) ([]CalendarDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate := make(map[jst.Date]*CalendarDay)
	for _, ev := range m.events {
		if ev.EventDate.Year != year || int(ev.EventDate.Month) != month {
			continue
		}
		day, ok := byDate[ev.EventDate]
		if !ok {
			day = &CalendarDay{Date: ev.EventDate}
			byDate[ev.EventDate] = day
		}
		if ev.Kind.Body() == alignment.BodySun {
			day.Diamond++
		} else {
			day.Pearl++
		}
	}
	out := make([]CalendarDay, 0, len(byDate))
	for _, d := range byDate {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) QueryDay(ctx context.Context, date jst.Date) ([]EventWithLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventWithLocation
	for _, ev := range m.events {
		if !ev.EventDate.Equal(date) {
			continue
		}
		out = append(out, EventWithLocation{Event: ev, Location: m.locations[ev.LocationID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (m *Memory) QueryUpcoming(ctx context.Context, now time.Time, limit int) ([]EventWithLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventWithLocation
	for _, ev := range m.events {
		if ev.EventTime.Before(now) {
			continue
		}
		out = append(out, EventWithLocation{Event: ev, Location: m.locations[ev.LocationID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) QueryStats(ctx context.Context, year int) (YearStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats YearStats
	for i := range stats.PerMonth {
		stats.PerMonth[i].Month = i + 1
	}
	for _, ev := range m.events {
		if ev.EventDate.Year != year {
			continue
		}
		mo := &stats.PerMonth[int(ev.EventDate.Month)-1]
		stats.Total++
		mo.Total++
		if ev.Kind.Body() == alignment.BodySun {
			stats.Diamond++
			mo.Diamond++
		} else {
			stats.Pearl++
			mo.Pearl++
		}
	}
	return stats, nil
}

// --- jobs ---

func (m *Memory) EnqueueJob(ctx context.Context, kind JobKind, params JobParams, priority Priority) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	m.seq++
	job := Job{
		ID:          m.nextJobID,
		Kind:        kind,
		Params:      params,
		Priority:    priority,
		State:       JobWaiting,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	m.jobs[job.ID] = job
	m.queueSeq[job.ID] = m.seq
	return job.ID, nil
}

func (m *Memory) DequeueJob(ctx context.Context) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Job
	for id := range m.jobs {
		job := m.jobs[id]
		if job.State != JobWaiting {
			continue
		}
		if job.RunAfter != nil && job.RunAfter.After(time.Now()) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && m.queueSeq[job.ID] < m.queueSeq[best.ID]) {
			j := job
			best = &j
		}
	}
	if best == nil {
		return Job{}, ErrNoJob
	}
	now := time.Now().UTC()
	best.State = JobActive
	best.Attempts++
	best.StartedAt = &now
	best.ProgressAt = &now
	m.jobs[best.ID] = *best
	return *best, nil
}

func (m *Memory) GetJob(ctx context.Context, id int64) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return job, nil
}

func (m *Memory) CompleteJob(ctx context.Context, id int64) error {
	return m.finishJob(id, JobCompleted, "")
}

func (m *Memory) FailJob(ctx context.Context, id int64, reason string, retryDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if job.Attempts < job.MaxAttempts {
		job.State = JobWaiting
		job.FailedReason = reason
		after := time.Now().UTC().Add(retryDelay)
		job.RunAfter = &after
	} else {
		now := time.Now().UTC()
		job.State = JobFailed
		job.FailedReason = reason
		job.FinishedAt = &now
	}
	m.jobs[id] = job
	return nil
}

func (m *Memory) CancelJob(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	switch job.State {
	case JobWaiting:
		now := time.Now().UTC()
		job.State = JobCancelled
		job.FinishedAt = &now
	case JobActive:
		job.CancelRequested = true
	}
	m.jobs[id] = job
	return nil
}

func (m *Memory) IsCancelRequested(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return job.CancelRequested, nil
}

func (m *Memory) FinishJobCancelled(ctx context.Context, id int64) error {
	return m.finishJob(id, JobCancelled, "")
}

func (m *Memory) TouchJobProgress(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	job.ProgressAt = &now
	m.jobs[id] = job
	return nil
}

func (m *Memory) ReclaimStalledJobs(ctx context.Context, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-timeout)
	n := 0
	for id, job := range m.jobs {
		if job.State != JobActive || job.ProgressAt == nil || job.ProgressAt.After(cutoff) {
			continue
		}
		if job.Attempts < job.MaxAttempts {
			job.State = JobWaiting
			job.FailedReason = "stalled: reclaimed by queue"
		} else {
			now := time.Now().UTC()
			job.State = JobFailed
			job.FailedReason = "stalled: reclaimed by queue"
			job.FinishedAt = &now
		}
		m.jobs[id] = job
		n++
	}
	return n, nil
}

func (m *Memory) CountWaitingJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.State == JobWaiting {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetQueueStats(ctx context.Context) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats QueueStats
	for _, job := range m.jobs {
		switch job.State {
		case JobWaiting:
			stats.Waiting++
		case JobActive:
			stats.Active++
		case JobCompleted:
			stats.Completed++
		case JobFailed:
			stats.Failed++
			stats.FailedJobs = append(stats.FailedJobs, job)
		case JobCancelled:
			stats.Cancelled++
		}
	}
	sort.Slice(stats.FailedJobs, func(i, j int) bool {
		return stats.FailedJobs[i].ID < stats.FailedJobs[j].ID
	})
	return stats, nil
}

func (m *Memory) finishJob(id int64, state JobState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	job.State = state
	job.FailedReason = reason
	job.FinishedAt = &now
	m.jobs[id] = job
	return nil
}

// --- schedules ---

func (m *Memory) ListSchedules(ctx context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SeedSchedule(ctx context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[s.ID]; !exists {
		m.schedules[s.ID] = s
	}
	return nil
}

func (m *Memory) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	s.Enabled = enabled
	m.schedules[id] = s
	return nil
}

func (m *Memory) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	at = at.UTC()
	s.LastRun = &at
	m.schedules[id] = s
	return nil
}

// --- locking ---

func (m *Memory) WithLocationLock(ctx context.Context, locationID int64, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	lock, ok := m.locLocks[locationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locLocks[locationID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}
