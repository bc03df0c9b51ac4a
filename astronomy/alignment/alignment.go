// Package alignment finds the instants at which the sun or moon stands on
// the Fuji summit line as seen from an observation point.
//
// The search runs in two passes: a one-minute coarse scan over the day's
// candidate windows with widened tolerances, then a one-second refinement
// around each coarse hit. Tolerances widen with distance because the summit
// subtends a smaller angle from farther away while pointing error grows.
package alignment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// Body selects the celestial body being matched.
type Body string

const (
	BodySun  Body = "sun"
	BodyMoon Body = "moon"
)

// Kind classifies a matched event.
type Kind string

const (
	KindDiamondSunrise Kind = "diamond_sunrise"
	KindDiamondSunset  Kind = "diamond_sunset"
	KindPearlRising    Kind = "pearl_rising"
	KindPearlSetting   Kind = "pearl_setting"
)

// Body returns the body a kind belongs to.
func (k Kind) Body() Body {
	if k == KindPearlRising || k == KindPearlSetting {
		return BodyMoon
	}
	return BodySun
}

// Accuracy grades how tightly an event sits on the summit line.
type Accuracy string

const (
	AccuracyPerfect   Accuracy = "perfect"
	AccuracyExcellent Accuracy = "excellent"
	AccuracyGood      Accuracy = "good"
	AccuracyFair      Accuracy = "fair"
)

// Event is one matched alignment instant.
type Event struct {
	Time         time.Time // UTC instant
	Kind         Kind
	Azimuth      float64 // body azimuth at the instant, degrees
	Altitude     float64 // body apparent altitude, degrees
	Delta        float64 // angular miss distance sqrt(daz² + dalt²), degrees
	QualityScore float64 // [0, 1], 1 is a dead-center hit
	Accuracy     Accuracy

	// Moon-only fields, zero for diamond events.
	MoonPhaseDeg     float64
	MoonIllumination float64
}

// Target bundles an observation point with its precomputed summit geometry.
type Target struct {
	Observer ephemeris.Observer
	Summit   geometry.Summit
}

// Tagged failure kinds. ErrEphemeris aborts only the affected window;
// ErrInvalidGeometry rejects the target outright.
var (
	ErrEphemeris       = errors.New("alignment: ephemeris failure")
	ErrInvalidGeometry = errors.New("alignment: invalid target geometry")
)

// Tolerances for one search, degrees.
type Tolerances struct {
	Azimuth  float64
	Altitude float64
}

// Total is the combined tolerance radius used for scoring.
func (t Tolerances) Total() float64 {
	return math.Hypot(t.Azimuth, t.Altitude)
}

// altitudeTolerance applies at every distance.
const altitudeTolerance = 0.25

// ToleranceFor returns the contract tolerances for a body at the given
// distance to the summit. The pearl bands are wider because lunar position
// and limb effects dominate at the same distances.
func ToleranceFor(body Body, distanceM float64) Tolerances {
	t := Tolerances{Altitude: altitudeTolerance}
	switch {
	case distanceM <= 50000:
		if body == BodySun {
			t.Azimuth = 0.25
		} else {
			t.Azimuth = 1.0
		}
	case distanceM <= 100000:
		if body == BodySun {
			t.Azimuth = 0.40
		} else {
			t.Azimuth = 2.0
		}
	default:
		if body == BodySun {
			t.Azimuth = 0.60
		} else {
			t.Azimuth = 3.0
		}
	}
	return t
}

// Score fills Delta, QualityScore and Accuracy from a miss distance.
func Score(delta float64, tol Tolerances) (float64, Accuracy) {
	total := tol.Total()
	quality := 1 - delta/total
	if quality < 0 {
		quality = 0
	}
	var acc Accuracy
	switch {
	case delta <= 0.1*total:
		acc = AccuracyPerfect
	case delta <= 0.3*total:
		acc = AccuracyExcellent
	case delta <= 0.6*total:
		acc = AccuracyGood
	default:
		acc = AccuracyFair
	}
	return quality, acc
}

// ValidateTarget rejects targets whose derived geometry is unusable.
func ValidateTarget(tgt Target) error {
	if !tgt.Summit.Valid() {
		return fmt.Errorf("summit azimuth %v elevation %v distance %v: %w",
			tgt.Summit.AzimuthDeg, tgt.Summit.ElevationDeg, tgt.Summit.DistanceM,
			ErrInvalidGeometry)
	}
	return nil
}

// Dedupe keeps, per (kind, JST day), only the highest-quality event. Order
// of the result is ascending by time. Shared by the direct search and the
// orbit-table fast path so both produce identical sets.
func Dedupe(events []Event) []Event {
	type key struct {
		kind Kind
		day  jst.Date
	}
	best := make(map[key]Event)
	for _, ev := range events {
		k := key{kind: ev.Kind, day: jst.DateOf(ev.Time)}
		cur, ok := best[k]
		if !ok || ev.QualityScore > cur.QualityScore ||
			(ev.QualityScore == cur.QualityScore && ev.Time.Before(cur.Time)) {
			best[k] = ev
		}
	}
	out := make([]Event, 0, len(best))
	for _, ev := range best {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
