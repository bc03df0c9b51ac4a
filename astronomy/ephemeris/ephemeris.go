// Package ephemeris adapts the Meeus ephemeris routines to the topocentric
// azimuth/altitude queries the alignment pipeline needs.
//
// The adapter is a value with no mutable state: one instance is shared by
// every worker and by the interactive refinement path, and all methods are
// safe for concurrent use. Azimuths are degrees clockwise from true north;
// altitudes are apparent (refracted) degrees above the horizontal.
package ephemeris

import (
	"errors"
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/globe"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/moonillum"
	"github.com/soniakeys/meeus/v3/moonposition"
	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/parallax"
	"github.com/soniakeys/meeus/v3/refraction"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
)

const kmPerAU = 1.495978707e8

// ErrComputation reports a non-finite result from the underlying routines.
var ErrComputation = errors.New("ephemeris: computation returned non-finite value")

// Observer is an observation point on the ground. A small value type passed
// by value; constructing one has no cost.
type Observer struct {
	Lat  float64 // degrees, north positive
	Lon  float64 // degrees, east positive
	Elev float64 // meters above sea level
}

// SunPosition is a topocentric solar position.
type SunPosition struct {
	Azimuth  float64 // degrees from true north, [0, 360)
	Altitude float64 // apparent degrees above horizontal
	Distance float64 // AU
}

// MoonPosition is a topocentric lunar position with phase data.
type MoonPosition struct {
	Azimuth      float64 // degrees from true north, [0, 360)
	Altitude     float64 // apparent degrees above horizontal
	Distance     float64 // km
	PhaseDeg     float64 // elongation from the sun, [0, 360); 0 new, 180 full
	Illumination float64 // illuminated fraction, [0, 1]
}

// Adapter answers sun and moon position queries. The zero value is ready to
// use.
type Adapter struct{}

// NewAdapter returns a shared-safe adapter.
func NewAdapter() *Adapter { return &Adapter{} }

// Sun returns the topocentric position of the sun at t for the observer.
func (a *Adapter) Sun(t time.Time, obs Observer) (SunPosition, error) {
	jd := julian.TimeToJD(t.UTC())

	α, δ := solar.ApparentEquatorial(jd)
	dist := solar.Radius(base.J2000Century(jd))

	az, alt := a.toHorizontal(jd, α, δ, obs)
	alt += refraction.Saemundsson(unit.AngleFromDeg(alt)).Deg()

	pos := SunPosition{Azimuth: az, Altitude: alt, Distance: dist}
	if !finite(pos.Azimuth, pos.Altitude, pos.Distance) {
		return SunPosition{}, ErrComputation
	}
	return pos, nil
}

// Moon returns the topocentric position of the moon at t for the observer,
// including parallax correction, which at lunar distance shifts the
// apparent altitude by up to a degree between observers.
func (a *Adapter) Moon(t time.Time, obs Observer) (MoonPosition, error) {
	jd := julian.TimeToJD(t.UTC())

	λ, β, Δkm := moonposition.Position(jd)
	Δψ, Δε := nutation.Nutation(jd)
	ε := nutation.MeanObliquity(jd) + Δε
	sε, cε := ε.Sincos()

	// Apparent longitude includes nutation in longitude.
	α, δ := coord.EclToEq(λ+Δψ, β, sε, cε)

	// Shift the geocentric place to the observer.
	ρsφ, ρcφ := globe.Earth76.ParallaxConstants(unit.AngleFromDeg(obs.Lat), obs.Elev)
	αTopo, δTopo := parallax.Topocentric(α, δ, Δkm/kmPerAU, ρsφ, ρcφ,
		unit.AngleFromDeg(-obs.Lon), jd)

	az, alt := a.toHorizontal(jd, αTopo, δTopo, obs)
	alt += refraction.Saemundsson(unit.AngleFromDeg(alt)).Deg()

	// Phase from the sun-moon elongation in ecliptic longitude: 0 new moon,
	// 180 full, monotone through the cycle.
	sunLon := solar.ApparentLongitude(base.J2000Century(jd))
	phaseDeg := geometry.NormalizeAzimuth(λ.Deg() - sunLon.Deg())

	i := moonillum.PhaseAngleEcl(λ, β, Δkm, sunLon,
		solar.Radius(base.J2000Century(jd))*kmPerAU)
	illum := base.Illuminated(i)

	pos := MoonPosition{
		Azimuth:      az,
		Altitude:     alt,
		Distance:     Δkm,
		PhaseDeg:     phaseDeg,
		Illumination: illum,
	}
	if !finite(pos.Azimuth, pos.Altitude, pos.Distance, pos.PhaseDeg, pos.Illumination) {
		return MoonPosition{}, ErrComputation
	}
	return pos, nil
}

// toHorizontal converts an equatorial place to azimuth/altitude for the
// observer. Meeus measures azimuth westward from south and longitude
// positive west; both conventions are unwound here so callers only ever see
// north-clockwise azimuths and east-positive longitudes.
func (a *Adapter) toHorizontal(jd float64, α unit.RA, δ unit.Angle, obs Observer) (azimuth, altitude float64) {
	st := sidereal.Apparent(jd)
	A, h := coord.EqToHz(α, δ,
		unit.AngleFromDeg(obs.Lat),
		unit.AngleFromDeg(-obs.Lon),
		st)
	return geometry.NormalizeAzimuth(A.Deg() + 180), h.Deg()
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
