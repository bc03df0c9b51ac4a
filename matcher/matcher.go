// Package matcher turns the precomputed orbit table and a location's summit
// geometry into persisted alignment events.
//
// The fast path prefilters the minute table by azimuth and altitude with a
// cushion, then re-refines each surviving minute at the location's own
// observer position: the table is only an index, computed at the summit
// reference, where a body on the location's sightline stands higher by the
// horizontal-divergence angle d/R and at the geodesic's continuation
// bearing. The prefilter bands are centered in that summit frame. The slow
// path searches each day directly and exists to prove the fast path
// equivalent.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

// Prefilter cushions cover one orbit row's worth of body motion plus the
// summit-frame residuals the band centers do not model: the differential
// refraction between the two altitudes and, for the moon, topocentric
// parallax. The moon moves faster against the sky so its cushion is wider.
const (
	sunCushion  = 0.25
	moonCushion = 0.5

	// maxFailureRatio mirrors the orbit builder: a few bad samples skip,
	// systematic ephemeris failure aborts.
	maxFailureRatio = 0.01
)

// Store is the persistence surface the matcher needs.
type Store interface {
	store.LocationStore
	store.OrbitStore
	store.EventStore
}

// Matcher computes alignment events for locations.
type Matcher struct {
	eph      *ephemeris.Adapter
	searcher *alignment.Searcher
	st       Store
	ref      geometry.Reference

	// Cancel is polled between days of candidate minutes; optional.
	Cancel func(ctx context.Context) (bool, error)
}

// ErrCancelled reports a cooperative stop.
var ErrCancelled = errors.New("matcher: match cancelled")

// New builds a Matcher against the shared adapter and reference geometry.
func New(eph *ephemeris.Adapter, st Store, ref geometry.Reference) *Matcher {
	return &Matcher{
		eph:      eph,
		searcher: alignment.NewSearcher(eph),
		st:       st,
		ref:      ref,
	}
}

// TargetFor returns the search target for a location, recomputing and
// persisting the derived geometry inline when the stored fields are
// unusable. A location that stays invalid after recompute is rejected with
// alignment.ErrInvalidGeometry.
func (m *Matcher) TargetFor(ctx context.Context, loc store.Location) (alignment.Target, error) {
	summit := geometry.Summit{
		AzimuthDeg:   loc.FujiAzimuth,
		ElevationDeg: loc.FujiElevation,
		DistanceM:    loc.FujiDistance,
	}
	if !summit.Valid() {
		recomputed, err := m.ref.ForPoint(loc.Latitude, loc.Longitude, loc.Elevation)
		if err != nil {
			return alignment.Target{}, fmt.Errorf("location %d: %w: %w",
				loc.ID, alignment.ErrInvalidGeometry, err)
		}
		if err := m.st.UpdateLocationGeometry(ctx, loc.ID,
			recomputed.AzimuthDeg, recomputed.ElevationDeg, recomputed.DistanceM); err != nil {
			return alignment.Target{}, fmt.Errorf("persist recomputed geometry: %w", err)
		}
		log.Logger().InfoContext(ctx, "recomputed location geometry",
			"location_id", loc.ID, "azimuth", recomputed.AzimuthDeg,
			"distance_m", recomputed.DistanceM)
		summit = recomputed
	}
	return alignment.Target{
		Observer: ephemeris.Observer{Lat: loc.Latitude, Lon: loc.Longitude, Elev: loc.Elevation},
		Summit:   summit,
	}, nil
}

// MatchYear runs the fast path for one location over a calculation year and
// replaces that year's event generation. Returns the event count.
func (m *Matcher) MatchYear(ctx context.Context, locationID int64, year int) (int, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "matcher.MatchYear")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("location_id", locationID),
		attribute.Int("year", year),
	)

	loc, err := m.st.GetLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}
	tgt, err := m.TargetFor(ctx, loc)
	if err != nil {
		return 0, err
	}

	events, err := m.fastPath(ctx, tgt, year, 0)
	if err != nil {
		return 0, err
	}
	rows := toStoreEvents(locationID, year, events)
	if err := m.st.ReplaceEvents(ctx, locationID, year, rows); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("events", len(rows)))
	log.Logger().InfoContext(ctx, "location matched",
		"location_id", locationID, "year", year, "events", len(rows))
	return len(rows), nil
}

// MatchMonth re-matches a single month and merges it into the existing year
// generation, leaving the other months untouched.
func (m *Matcher) MatchMonth(ctx context.Context, locationID int64, year, month int) (int, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "matcher.MatchMonth")
	defer span.End()

	loc, err := m.st.GetLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}
	tgt, err := m.TargetFor(ctx, loc)
	if err != nil {
		return 0, err
	}

	events, err := m.fastPath(ctx, tgt, year, month)
	if err != nil {
		return 0, err
	}
	fresh := toStoreEvents(locationID, year, events)

	existing, err := m.st.ListLocationEvents(ctx, locationID, year)
	if err != nil {
		return 0, err
	}
	merged := fresh
	for _, ev := range existing {
		if int(ev.EventDate.Month) != month {
			merged = append(merged, ev)
		}
	}
	if err := m.st.ReplaceEvents(ctx, locationID, year, merged); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// SlowRange searches every day in [from, to] directly, without the orbit
// table. Reference implementation for the fast path.
func (m *Matcher) SlowRange(ctx context.Context, tgt alignment.Target, from, to jst.Date) ([]alignment.Event, error) {
	var events []alignment.Event
	for d := from; !to.Before(d); d = d.AddDays(1) {
		for _, body := range []alignment.Body{alignment.BodySun, alignment.BodyMoon} {
			found, err := m.searcher.SearchDay(ctx, d, tgt, body)
			if err != nil {
				return nil, fmt.Errorf("day %s body %s: %w", d, body, err)
			}
			events = append(events, found...)
		}
	}
	return alignment.Dedupe(events), nil
}

// FastRange runs the fast path over the orbit table restricted to a date
// range. Used by the equivalence tests; MatchYear and MatchMonth wrap it.
func (m *Matcher) FastRange(ctx context.Context, tgt alignment.Target, from, to jst.Date) ([]alignment.Event, error) {
	if from.Year != to.Year {
		return nil, fmt.Errorf("range spans years %d and %d", from.Year, to.Year)
	}
	return m.fastRange(ctx, tgt, from.Year, 0, func(d jst.Date) bool {
		return !d.Before(from) && !to.Before(d)
	})
}

// fastPath matches one year, or one month of it when month is nonzero.
func (m *Matcher) fastPath(ctx context.Context, tgt alignment.Target, year, month int) ([]alignment.Event, error) {
	keep := func(jst.Date) bool { return true }
	if month != 0 {
		keep = func(d jst.Date) bool { return int(d.Month) == month }
	}
	return m.fastRange(ctx, tgt, year, month, keep)
}

func (m *Matcher) fastRange(ctx context.Context, tgt alignment.Target, year, month int, keep func(jst.Date) bool) ([]alignment.Event, error) {
	if err := alignment.ValidateTarget(tgt); err != nil {
		return nil, err
	}

	var events []alignment.Event
	var candidates, failures int
	for _, body := range []alignment.Body{alignment.BodySun, alignment.BodyMoon} {
		found, c, f, err := m.matchBody(ctx, tgt, year, body, keep)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
		candidates += c
		failures += f
	}
	if candidates > 0 && float64(failures)/float64(candidates) > maxFailureRatio {
		return nil, fmt.Errorf("%d of %d candidate minutes failed: %w",
			failures, candidates, alignment.ErrEphemeris)
	}
	return alignment.Dedupe(events), nil
}

// matchBody prefilters the orbit table for one body and refines each
// surviving minute at the location observer.
func (m *Matcher) matchBody(ctx context.Context, tgt alignment.Target, year int, body alignment.Body, keep func(jst.Date) bool) (events []alignment.Event, candidates, failures int, err error) {
	tol := alignment.ToleranceFor(body, tgt.Summit.DistanceM)
	cushion := sunCushion
	var hours []int
	if body == alignment.BodySun {
		for h := 4; h <= 12; h++ {
			hours = append(hours, h)
		}
		for h := 14; h <= 20; h++ {
			hours = append(hours, h)
		}
	} else {
		cushion = moonCushion
	}

	azCenter, altCenter := m.ref.SightlineFromSummit(tgt.Observer.Lat, tgt.Observer.Lon, tgt.Summit)
	rows, err := m.st.CandidateOrbitSamples(ctx, store.OrbitFilter{
		Year:             year,
		Body:             body,
		AzimuthCenter:    azCenter,
		AzimuthHalfWidth: tol.Azimuth + cushion,
		AltitudeMin:      altCenter - tol.Altitude - cushion,
		AltitudeMax:      altCenter + tol.Altitude + cushion,
		Hours:            hours,
		VisibleOnly:      true,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	moonWindows := make(map[jst.Date][]time.Time)
	var day jst.Date
	for _, row := range rows {
		if !keep(row.Date) {
			continue
		}
		if !row.Date.Equal(day) {
			day = row.Date
			if err := ctx.Err(); err != nil {
				return nil, candidates, failures, err
			}
			if m.Cancel != nil {
				stop, err := m.Cancel(ctx)
				if err != nil {
					return nil, candidates, failures, err
				}
				if stop {
					return nil, candidates, failures, ErrCancelled
				}
			}
		}

		t := row.Date.At(row.Hour, row.Minute, 0)
		if body == alignment.BodySun {
			if !inSunWindow(row.Hour, row.Minute) {
				continue
			}
		} else {
			ok, err := m.inMoonWindow(t, row.Date, tgt, moonWindows)
			if err != nil {
				return nil, candidates, failures, err
			}
			if !ok {
				continue
			}
		}

		candidates++
		ev, err := m.searcher.Refine(t, tgt, body)
		if err != nil {
			if errors.Is(err, alignment.ErrEphemeris) {
				failures++
				log.Logger().WarnContext(ctx, "candidate minute skipped",
					"time", jst.Format(t), "body", string(body), "error", err)
				continue
			}
			return nil, candidates, failures, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, candidates, failures, nil
}

// inSunWindow mirrors the direct search's JST scan bands.
func inSunWindow(hour, minute int) bool {
	switch {
	case hour >= 4 && hour < 12:
		return true
	case hour == 12 && minute == 0:
		return true
	case hour >= 14 && hour < 20:
		return true
	case hour == 20 && minute == 0:
		return true
	}
	return false
}

// inMoonWindow reports whether t falls within half an hour of a moonrise or
// moonset crossing, matching the direct search's windows. Crossings from the
// neighboring days are included because their windows can spill across
// midnight. Results are cached per date.
func (m *Matcher) inMoonWindow(t time.Time, date jst.Date, tgt alignment.Target, cache map[jst.Date][]time.Time) (bool, error) {
	for _, d := range []jst.Date{date.AddDays(-1), date, date.AddDays(1)} {
		crossings, ok := cache[d]
		if !ok {
			ev, err := m.eph.MoonRiseSet(d, tgt.Observer)
			if err != nil {
				return false, fmt.Errorf("%w: %w", alignment.ErrEphemeris, err)
			}
			for _, c := range []*time.Time{ev.Rise, ev.Set} {
				if c != nil {
					crossings = append(crossings, *c)
				}
			}
			if crossings == nil {
				crossings = []time.Time{}
			}
			cache[d] = crossings
		}
		for _, c := range crossings {
			diff := t.Sub(c)
			if diff < 0 {
				diff = -diff
			}
			if diff <= 30*time.Minute {
				return true, nil
			}
		}
	}
	return false, nil
}

// toStoreEvents converts search results to persisted rows.
func toStoreEvents(locationID int64, year int, events []alignment.Event) []store.Event {
	rows := make([]store.Event, 0, len(events))
	for _, ev := range events {
		row := store.Event{
			LocationID:      locationID,
			EventDate:       jst.DateOf(ev.Time),
			EventTime:       ev.Time,
			Kind:            ev.Kind,
			Azimuth:         ev.Azimuth,
			Altitude:        ev.Altitude,
			QualityScore:    ev.QualityScore,
			Accuracy:        ev.Accuracy,
			CalculationYear: year,
		}
		if ev.Kind.Body() == alignment.BodyMoon {
			phase, illum := ev.MoonPhaseDeg, ev.MoonIllumination
			row.MoonPhaseDeg = &phase
			row.MoonIllumination = &illum
		}
		rows = append(rows, row)
	}
	return rows
}
