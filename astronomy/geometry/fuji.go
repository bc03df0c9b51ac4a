package geometry

import "fmt"

// Reference is the Fuji summit point used as the common target of every
// sighting line and as the fixed observer of the orbit table. Immutable for
// the lifetime of the process.
type Reference struct {
	Lat  float64
	Lon  float64
	Elev float64

	// RefractionK is the distance-based refraction coefficient, 0.13 for a
	// standard atmosphere.
	RefractionK float64
}

// Summit is a Geometry to the summit from one observation point. The three
// fields are the derived geometry persisted on a location row.
type Summit struct {
	AzimuthDeg   float64 // initial bearing toward the summit, [0, 360)
	ElevationDeg float64 // apparent elevation of the summit, signed
	DistanceM    float64 // great-circle distance, > 0
}

// ForPoint derives the summit geometry for an observation point. It is the
// single computation that fills a location's derived fields; calling it
// twice with the same inputs yields identical results.
func (r Reference) ForPoint(lat, lon, elev float64) (Summit, error) {
	d := Distance(lat, lon, r.Lat, r.Lon)
	if d == 0 {
		return Summit{}, fmt.Errorf("point (%v, %v): %w", lat, lon, ErrZeroDistance)
	}
	return Summit{
		AzimuthDeg:   InitialBearing(lat, lon, r.Lat, r.Lon),
		ElevationDeg: ApparentElevation(elev, r.Elev, d, r.RefractionK),
		DistanceM:    d,
	}, nil
}

// SightlineFromSummit returns the azimuth and altitude at which a body
// standing on the sightline from (lat, lon) toward the summit appears when
// observed at the summit reference itself. The two local horizontals diverge
// by the arc angle d/R, so the summit sees the body lifted by that angle,
// and the sightline's azimuth at the summit is the geodesic's continuation
// bearing, not the bearing measured at the observation point.
func (r Reference) SightlineFromSummit(lat, lon float64, s Summit) (azDeg, altDeg float64) {
	azDeg = NormalizeAzimuth(InitialBearing(r.Lat, r.Lon, lat, lon) + 180)
	altDeg = s.ElevationDeg + s.DistanceM/EarthRadius*radToDeg
	return azDeg, altDeg
}

// Valid reports whether a derived geometry is usable for matching.
func (s Summit) Valid() bool {
	return s.DistanceM > 0 &&
		s.AzimuthDeg >= 0 && s.AzimuthDeg < 360 &&
		s.ElevationDeg > -90 && s.ElevationDeg < 90
}
