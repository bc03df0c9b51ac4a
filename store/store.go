// Package store is the persistence layer: locations, the minute-resolution
// orbit table, matched alignment events, the durable job queue, and
// periodic-trigger schedules.
//
// Two implementations exist: Postgres (production) and Memory (tests and
// the slow/fast matcher equivalence property). Both satisfy Store; callers
// depend only on the interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// Common error values. Implementations wrap these so callers can classify
// failures without knowing the backend.
var (
	ErrNotFound = errors.New("store: not found")

	// ErrTransient marks retryable backend failures (timeouts, deadlocks).
	ErrTransient = errors.New("store: transient failure")

	// ErrNoJob is returned by DequeueJob when no waiting job exists.
	ErrNoJob = errors.New("store: no waiting job")
)

// Location is a photographic observation point. Coordinate fields are owned
// by the admin collaborator; the derived Fuji* fields are owned by the core
// and recomputed whenever the coordinates change.
type Location struct {
	ID         int64
	Name       string
	Prefecture string
	Latitude   float64
	Longitude  float64
	Elevation  float64

	Description string

	FujiAzimuth   float64
	FujiElevation float64
	FujiDistance  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrbitSample is one minute of a body's apparent geometry at the fixed Fuji
// summit reference observer. Keyed by (Date, Hour, Minute, Body).
type OrbitSample struct {
	Date   jst.Date
	Hour   int
	Minute int
	Body   alignment.Body

	Azimuth  float64
	Altitude float64
	Visible  bool

	// Moon-only; nil for sun rows.
	MoonPhaseDeg     *float64
	MoonIllumination *float64

	Season    string // spring, summer, autumn, winter
	TimeOfDay string // morning, afternoon, evening, night
}

// Event is a persisted alignment event. Unique per
// (LocationID, EventTime, Kind). EventDate is always the JST calendar day
// of EventTime.
type Event struct {
	ID         int64
	LocationID int64
	EventDate  jst.Date
	EventTime  time.Time
	Kind       alignment.Kind

	Azimuth      float64
	Altitude     float64
	QualityScore float64
	Accuracy     alignment.Accuracy

	MoonPhaseDeg     *float64
	MoonIllumination *float64

	CalculationYear int
}

// EventWithLocation joins an event with a snapshot of its location for
// day/upcoming listings.
type EventWithLocation struct {
	Event
	Location Location
}

// CalendarDay aggregates one date of a monthly calendar.
type CalendarDay struct {
	Date    jst.Date
	Diamond int
	Pearl   int
}

// MonthStats is one month's event counts.
type MonthStats struct {
	Month   int
	Total   int
	Diamond int
	Pearl   int
}

// YearStats aggregates a calculation year.
type YearStats struct {
	Total    int
	Diamond  int
	Pearl    int
	PerMonth [12]MonthStats
}

// OrbitFilter selects candidate orbit samples for the matcher prefilter.
// The azimuth band may wrap zero; implementations handle the wrap.
type OrbitFilter struct {
	Year int
	Body alignment.Body

	AzimuthCenter    float64
	AzimuthHalfWidth float64

	AltitudeMin float64
	AltitudeMax float64

	// Hours restricts samples to JST hour bands; empty means all hours.
	Hours []int

	VisibleOnly bool
}

// LocationStore accesses the location catalog and owns derived-geometry
// writes.
type LocationStore interface {
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	CreateLocation(ctx context.Context, loc *Location) error
	UpdateLocationGeometry(ctx context.Context, id int64, azimuth, elevation, distance float64) error
}

// OrbitStore owns the minute table.
type OrbitStore interface {
	BulkUpsertOrbitSamples(ctx context.Context, rows []OrbitSample) error
	CandidateOrbitSamples(ctx context.Context, f OrbitFilter) ([]OrbitSample, error)
	CountOrbitSamples(ctx context.Context, date jst.Date, body alignment.Body) (int, error)
	OrbitYearPresent(ctx context.Context, year int) (bool, error)
}

// EventStore owns alignment events and the read queries behind the API.
type EventStore interface {
	// ReplaceEvents atomically deletes the (locationID, calculationYear)
	// generation and inserts rows. Readers never observe a partial set.
	ReplaceEvents(ctx context.Context, locationID int64, calculationYear int, rows []Event) error

	// ListLocationEvents returns one location's events for a calculation
	// year, ordered by event time. The monthly matcher merges against it.
	ListLocationEvents(ctx context.Context, locationID int64, calculationYear int) ([]Event, error)

	QueryCalendar(ctx context.Context, year, month int) ([]CalendarDay, error)
	QueryDay(ctx context.Context, date jst.Date) ([]EventWithLocation, error)
	QueryUpcoming(ctx context.Context, now time.Time, limit int) ([]EventWithLocation, error)
	QueryStats(ctx context.Context, year int) (YearStats, error)
}

// Locker serializes matcher runs per location.
type Locker interface {
	// WithLocationLock runs fn while holding an exclusive per-location
	// advisory lock. Distinct locations proceed concurrently.
	WithLocationLock(ctx context.Context, locationID int64, fn func(ctx context.Context) error) error
}

// Store is the full persistence surface.
type Store interface {
	LocationStore
	OrbitStore
	EventStore
	JobStore
	ScheduleStore
	Locker

	Close()
}
