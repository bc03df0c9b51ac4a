// Package geometry holds the spherical-earth primitives used to relate an
// observation point to the Fuji summit. All other packages route bearing and
// elevation math through here; direct trig on coordinates elsewhere is a
// review error.
//
// Angles are degrees at package boundaries and radians internally. The earth
// is modeled as a sphere of mean radius 6371 km; the spheroid correction is
// below the tolerance of summit sighting at the distances involved.
package geometry

import (
	"errors"
	"math"
)

const (
	// EarthRadius is the mean earth radius in meters.
	EarthRadius = 6371000.0

	// ObserverEyeLevel is added to ground elevation for the apparent
	// elevation calculation, meters.
	ObserverEyeLevel = 1.7

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// ErrZeroDistance reports a location that coincides with the summit
// reference, for which bearing and elevation are undefined.
var ErrZeroDistance = errors.New("geometry: zero distance to summit")

// Distance returns the great-circle (haversine) distance between two points
// in meters. Symmetric in its arguments.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * degToRad
	φ2 := lat2 * degToRad
	Δφ := (lat2 - lat1) * degToRad
	Δλ := (lon2 - lon1) * degToRad

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the forward azimuth from point 1 toward point 2,
// degrees clockwise from true north in [0, 360).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * degToRad
	φ2 := lat2 * degToRad
	Δλ := (lon2 - lon1) * degToRad

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	return NormalizeAzimuth(math.Atan2(y, x) * radToDeg)
}

// ApparentElevation returns the elevation angle in degrees at which a summit
// of height summitElev appears from an observer at ground elevation
// observerElev, horizontal distance d meters away.
//
// The drop of the summit below the observer's horizontal due to earth
// curvature is c = d²/2R; atmospheric refraction lifts the image back by
// k·c. The distance-based refraction term is deliberate: it reproduces the
// observed 1.87° for the Futtsu-to-Fuji line, where an angle-based 0.57°
// correction over-corrects.
func ApparentElevation(observerElev, summitElev, d, k float64) float64 {
	heightDiff := summitElev - (observerElev + ObserverEyeLevel)
	curvature := d * d / (2 * EarthRadius)
	refraction := k * curvature
	apparentVertical := heightDiff - (curvature - refraction)
	return math.Atan2(apparentVertical, d) * radToDeg
}

// NormalizeAzimuth maps any angle in degrees onto [0, 360). Idempotent.
func NormalizeAzimuth(deg float64) float64 {
	az := math.Mod(deg, 360)
	if az < 0 {
		az += 360
	}
	return az
}

// AzimuthDiff returns the smallest absolute angular separation between two
// azimuths, in [0, 180].
func AzimuthDiff(a, b float64) float64 {
	d := math.Abs(NormalizeAzimuth(a) - NormalizeAzimuth(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
