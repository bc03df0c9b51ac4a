package alignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
)

const (
	// coarseFactor widens tolerances for the one-minute scan so the bodies'
	// motion between samples cannot step over a true alignment.
	coarseFactor = 4

	// refineHalfWindow bounds the one-second refinement around a coarse hit.
	refineHalfWindow = 60 * time.Second

	// minPearlIllumination drops pearl candidates too dark to photograph.
	minPearlIllumination = 0.10

	// moonWindowHalf is the search window either side of moonrise/moonset.
	moonWindowHalf = 30 * time.Minute
)

// Sun search windows, JST wall-clock hours.
var sunWindows = []struct {
	startHour, endHour int
	kind               Kind
}{
	{4, 12, KindDiamondSunrise},
	{14, 20, KindDiamondSunset},
}

// Searcher runs the per-day alignment search. Safe for concurrent use.
type Searcher struct {
	eph *ephemeris.Adapter
}

// NewSearcher builds a Searcher over the shared ephemeris adapter.
func NewSearcher(eph *ephemeris.Adapter) *Searcher {
	return &Searcher{eph: eph}
}

// SearchDay finds every alignment of body with the summit line from tgt on
// the given JST day. Events are deduplicated per (kind, day) and ordered by
// time. An ephemeris failure in one window skips that window and is
// reported through the returned error only if every window failed.
func (s *Searcher) SearchDay(ctx context.Context, date jst.Date, tgt Target, body Body) ([]Event, error) {
	ctx, span := observability.Observer().CreateSpan(ctx, "alignment.SearchDay")
	defer span.End()
	span.SetAttributes(
		attribute.String("date", date.String()),
		attribute.String("body", string(body)),
		attribute.Float64("summit_azimuth", tgt.Summit.AzimuthDeg),
		attribute.Float64("summit_distance_m", tgt.Summit.DistanceM),
	)

	if err := ValidateTarget(tgt); err != nil {
		span.RecordError(err)
		return nil, err
	}

	windows, err := s.windowsFor(date, tgt, body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}

	tol := ToleranceFor(body, tgt.Summit.DistanceM)

	var events []Event
	var windowErrs []error
	for _, w := range windows {
		found, err := s.searchWindow(ctx, w.start, w.end, tgt, body, tol)
		if err != nil {
			// Skip the window, keep the day going.
			windowErrs = append(windowErrs, err)
			continue
		}
		events = append(events, found...)
	}
	if len(windowErrs) == len(windows) && len(windowErrs) > 0 {
		return nil, fmt.Errorf("all %d windows failed: %w", len(windows), errors.Join(windowErrs...))
	}

	events = s.classify(events, tgt, body)
	events = Dedupe(events)
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

type window struct {
	start, end time.Time
}

// windowsFor determines the UTC scan windows for the day. Sun windows are
// fixed JST bands; moon windows straddle the day's moonrise and moonset.
func (s *Searcher) windowsFor(date jst.Date, tgt Target, body Body) ([]window, error) {
	if body == BodySun {
		ws := make([]window, 0, len(sunWindows))
		for _, sw := range sunWindows {
			ws = append(ws, window{
				start: date.At(sw.startHour, 0, 0),
				end:   date.At(sw.endHour, 0, 0),
			})
		}
		return ws, nil
	}

	// Moonrise/moonset can drift across midnight; collect crossings from
	// the neighboring days too and keep those landing on the target day.
	var ws []window
	for _, d := range []jst.Date{date.AddDays(-1), date, date.AddDays(1)} {
		ev, err := s.eph.MoonRiseSet(d, tgt.Observer)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEphemeris, err)
		}
		for _, crossing := range []*time.Time{ev.Rise, ev.Set} {
			if crossing == nil || !jst.DateOf(*crossing).Equal(date) {
				continue
			}
			ws = append(ws, window{
				start: crossing.Add(-moonWindowHalf),
				end:   crossing.Add(moonWindowHalf),
			})
		}
	}
	return ws, nil
}

// searchWindow runs the coarse one-minute scan and refines each hit.
func (s *Searcher) searchWindow(ctx context.Context, start, end time.Time, tgt Target, body Body, tol Tolerances) ([]Event, error) {
	var events []Event
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		az, alt, err := s.position(t, tgt, body)
		if err != nil {
			return nil, err
		}
		if geometry.AzimuthDiff(az, tgt.Summit.AzimuthDeg) > tol.Azimuth*coarseFactor {
			continue
		}
		if abs(alt-tgt.Summit.ElevationDeg) > tol.Altitude*coarseFactor {
			continue
		}
		ev, err := s.Refine(t, tgt, body)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

// Refine scans one-second steps in ±60 s around a coarse candidate and
// returns the instant minimizing the angular miss distance, or nil when no
// instant satisfies both tolerances. On equal miss distances the earlier
// instant wins. The orbit-table fast path calls this directly with the
// table's candidate minutes.
func (s *Searcher) Refine(around time.Time, tgt Target, body Body) (*Event, error) {
	if err := ValidateTarget(tgt); err != nil {
		return nil, err
	}
	tol := ToleranceFor(body, tgt.Summit.DistanceM)

	var best *Event
	start := around.Add(-refineHalfWindow).Truncate(time.Second)
	end := around.Add(refineHalfWindow)
	for t := start; !t.After(end); t = t.Add(time.Second) {
		az, alt, err := s.position(t, tgt, body)
		if err != nil {
			return nil, err
		}
		dAz := geometry.AzimuthDiff(az, tgt.Summit.AzimuthDeg)
		dAlt := abs(alt - tgt.Summit.ElevationDeg)
		if dAz > tol.Azimuth || dAlt > tol.Altitude {
			continue
		}
		delta := math.Hypot(dAz, dAlt)
		if best != nil && delta >= best.Delta {
			continue
		}
		quality, acc := Score(delta, tol)
		ev := Event{
			Time:         t,
			Azimuth:      az,
			Altitude:     alt,
			Delta:        delta,
			QualityScore: quality,
			Accuracy:     acc,
		}
		if body == BodyMoon {
			pos, err := s.eph.Moon(t, tgt.Observer)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrEphemeris, err)
			}
			ev.MoonPhaseDeg = pos.PhaseDeg
			ev.MoonIllumination = pos.Illumination
		}
		best = &ev
	}

	if best != nil && body == BodyMoon && best.MoonIllumination < minPearlIllumination {
		// New-moon pearl is invisible; not an event.
		return nil, nil
	}
	if best != nil {
		best.Kind = s.kindOf(*best, tgt, body)
	}
	return best, nil
}

// classify assigns kinds to refined events (Refine already does this; the
// pass exists so events produced by alternate paths are normalized too).
func (s *Searcher) classify(events []Event, tgt Target, body Body) []Event {
	for i := range events {
		if events[i].Kind == "" {
			events[i].Kind = s.kindOf(events[i], tgt, body)
		}
	}
	return events
}

// kindOf classifies an event. Diamond events split on the JST morning
// boundary; pearl events split on whether the moon's altitude is climbing.
func (s *Searcher) kindOf(ev Event, tgt Target, body Body) Kind {
	if body == BodySun {
		if ev.Time.In(jst.Zone).Hour() < 12 {
			return KindDiamondSunrise
		}
		return KindDiamondSunset
	}
	before, errB := s.eph.Moon(ev.Time.Add(-30*time.Second), tgt.Observer)
	after, errA := s.eph.Moon(ev.Time.Add(30*time.Second), tgt.Observer)
	if errB == nil && errA == nil && after.Altitude < before.Altitude {
		return KindPearlSetting
	}
	return KindPearlRising
}

// position returns the body's topocentric azimuth and apparent altitude.
func (s *Searcher) position(t time.Time, tgt Target, body Body) (az, alt float64, err error) {
	if body == BodySun {
		pos, err := s.eph.Sun(t, tgt.Observer)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrEphemeris, err)
		}
		return pos.Azimuth, pos.Altitude, nil
	}
	pos, err := s.eph.Moon(t, tgt.Observer)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrEphemeris, err)
	}
	return pos.Azimuth, pos.Altitude, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
