// Package service is the programmatic surface the external HTTP layer
// consumes: calendar and statistics reads, and the admin operations driving
// the background pipeline. All instants cross this boundary as JST ISO-8601
// strings; internally everything stays UTC.
package service

import (
	"context"
	"fmt"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// Calendar years the service answers for. Requests outside are validation
// errors, rejected before touching the store.
const (
	MinYear = 2000
	MaxYear = 2100

	defaultUpcomingLimit = 50
	maxUpcomingLimit     = 200
)

// ErrValidation tags synchronously rejected input.
var ErrValidation = fmt.Errorf("service: validation failed")

// LocationView is the location snapshot embedded in event listings.
type LocationView struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Prefecture    string  `json:"prefecture"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Elevation     float64 `json:"elevation"`
	FujiAzimuth   float64 `json:"fujiAzimuth"`
	FujiElevation float64 `json:"fujiElevation"`
	FujiDistance  float64 `json:"fujiDistance"`
}

// EventView is one alignment event at the boundary.
type EventView struct {
	ID               int64        `json:"id"`
	Kind             string       `json:"kind"`
	Time             string       `json:"time"` // JST ISO-8601
	Date             string       `json:"date"` // JST calendar day
	Azimuth          float64      `json:"azimuth"`
	Altitude         float64      `json:"altitude"`
	QualityScore     float64      `json:"qualityScore"`
	Accuracy         string       `json:"accuracy"`
	MoonPhaseDeg     *float64     `json:"moonPhase,omitempty"`
	MoonIllumination *float64     `json:"moonIllumination,omitempty"`
	MoonPhaseName    string       `json:"moonPhaseName,omitempty"`
	Location         LocationView `json:"location"`
}

// CalendarDayView aggregates one date of a monthly calendar. Kind is
// "diamond", "pearl", or "both".
type CalendarDayView struct {
	Date    string `json:"date"`
	Kind    string `json:"kind"`
	Diamond int    `json:"diamondCount"`
	Pearl   int    `json:"pearlCount"`
}

// CalendarResponse is the monthly calendar.
type CalendarResponse struct {
	Year  int               `json:"year"`
	Month int               `json:"month"`
	Days  []CalendarDayView `json:"days"`
}

// DayEvents lists one JST day's events with location snapshots.
type DayEvents struct {
	Date   string      `json:"date"`
	Events []EventView `json:"events"`
}

// StatsResponse mirrors store.YearStats at the boundary.
type StatsResponse struct {
	Year     int          `json:"year"`
	Total    int          `json:"total"`
	Diamond  int          `json:"diamondTotal"`
	Pearl    int          `json:"pearlTotal"`
	PerMonth []MonthStats `json:"perMonth"`
}

// MonthStats is one month's counts.
type MonthStats struct {
	Month   int `json:"month"`
	Total   int `json:"total"`
	Diamond int `json:"diamond"`
	Pearl   int `json:"pearl"`
}

// CalendarService answers read queries from the precomputed tables.
type CalendarService struct {
	events store.EventStore
}

// NewCalendarService builds the read surface.
func NewCalendarService(events store.EventStore) *CalendarService {
	return &CalendarService{events: events}
}

// GetCalendar returns the month's dates carrying events, with counts by
// kind.
func (s *CalendarService) GetCalendar(ctx context.Context, year, month int) (*CalendarResponse, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "service.GetCalendar")
	defer span.End()

	if err := validateYear(year); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month %d out of range", ErrValidation, month)
	}

	days, err := s.events.QueryCalendar(ctx, year, month)
	if err != nil {
		return nil, err
	}
	resp := &CalendarResponse{Year: year, Month: month, Days: make([]CalendarDayView, 0, len(days))}
	for _, d := range days {
		resp.Days = append(resp.Days, CalendarDayView{
			Date:    d.Date.String(),
			Kind:    dayKind(d),
			Diamond: d.Diamond,
			Pearl:   d.Pearl,
		})
	}
	return resp, nil
}

// GetDayEvents returns one JST day's events, ordered by time.
func (s *CalendarService) GetDayEvents(ctx context.Context, dateJST string) (*DayEvents, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "service.GetDayEvents")
	defer span.End()

	date, err := jst.ParseDate(dateJST)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	rows, err := s.events.QueryDay(ctx, date)
	if err != nil {
		return nil, err
	}
	out := &DayEvents{Date: date.String(), Events: make([]EventView, 0, len(rows))}
	for _, row := range rows {
		out.Events = append(out.Events, toEventView(row))
	}
	return out, nil
}

// GetUpcoming returns events at or after a JST instant, ascending, capped
// by limit.
func (s *CalendarService) GetUpcoming(ctx context.Context, nowJST string, limit int) ([]EventView, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "service.GetUpcoming")
	defer span.End()

	now, err := jst.Parse(nowJST)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}
	if limit > maxUpcomingLimit {
		limit = maxUpcomingLimit
	}
	rows, err := s.events.QueryUpcoming(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEventView(row))
	}
	return out, nil
}

// GetStats returns yearly and per-month event counts.
func (s *CalendarService) GetStats(ctx context.Context, year int) (*StatsResponse, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "service.GetStats")
	defer span.End()

	if err := validateYear(year); err != nil {
		return nil, err
	}
	stats, err := s.events.QueryStats(ctx, year)
	if err != nil {
		return nil, err
	}
	resp := &StatsResponse{
		Year:     year,
		Total:    stats.Total,
		Diamond:  stats.Diamond,
		Pearl:    stats.Pearl,
		PerMonth: make([]MonthStats, 0, 12),
	}
	for _, mo := range stats.PerMonth {
		resp.PerMonth = append(resp.PerMonth, MonthStats{
			Month: mo.Month, Total: mo.Total, Diamond: mo.Diamond, Pearl: mo.Pearl,
		})
	}
	return resp, nil
}

func validateYear(year int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("%w: year %d outside [%d, %d]", ErrValidation, year, MinYear, MaxYear)
	}
	return nil
}

func dayKind(d store.CalendarDay) string {
	switch {
	case d.Diamond > 0 && d.Pearl > 0:
		return "both"
	case d.Pearl > 0:
		return "pearl"
	default:
		return "diamond"
	}
}

func toEventView(row store.EventWithLocation) EventView {
	v := EventView{
		ID:               row.ID,
		Kind:             string(row.Kind),
		Time:             jst.Format(row.EventTime),
		Date:             row.EventDate.String(),
		Azimuth:          row.Azimuth,
		Altitude:         row.Altitude,
		QualityScore:     row.QualityScore,
		Accuracy:         string(row.Accuracy),
		MoonPhaseDeg:     row.MoonPhaseDeg,
		MoonIllumination: row.MoonIllumination,
		Location: LocationView{
			ID:            row.Location.ID,
			Name:          row.Location.Name,
			Prefecture:    row.Location.Prefecture,
			Latitude:      row.Location.Latitude,
			Longitude:     row.Location.Longitude,
			Elevation:     row.Location.Elevation,
			FujiAzimuth:   row.Location.FujiAzimuth,
			FujiElevation: row.Location.FujiElevation,
			FujiDistance:  row.Location.FujiDistance,
		},
	}
	if row.Kind.Body() == alignment.BodyMoon && row.MoonPhaseDeg != nil {
		v.MoonPhaseName = ephemeris.PhaseName(*row.MoonPhaseDeg)
	}
	return v
}
