package alignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

var fujiRef = geometry.Reference{Lat: 35.3606, Lon: 138.7274, Elev: 3776, RefractionK: 0.13}

func target(t *testing.T, lat, lon, elev float64) Target {
	t.Helper()
	summit, err := fujiRef.ForPoint(lat, lon, elev)
	require.NoError(t, err)
	return Target{
		Observer: ephemeris.Observer{Lat: lat, Lon: lon, Elev: elev},
		Summit:   summit,
	}
}

func TestMaihamaFebruaryDiamondSunset(t *testing.T) {
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.623181, 139.883224, 3)
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	events, err := s.SearchDay(context.Background(), day, tgt, BodySun)
	require.NoError(t, err)
	require.NotEmpty(t, events, "mid-February Maihama sunset lines up with the summit")

	ev := events[len(events)-1]
	assert.Equal(t, KindDiamondSunset, ev.Kind)

	expected := day.At(17, 15, 0)
	diff := ev.Time.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 3*time.Minute, "got %s", jst.Format(ev.Time))

	tol := ToleranceFor(BodySun, tgt.Summit.DistanceM)
	assert.LessOrEqual(t, geometry.AzimuthDiff(ev.Azimuth, tgt.Summit.AzimuthDeg), tol.Azimuth)
	assert.InDelta(t, tgt.Summit.ElevationDeg, ev.Altitude, tol.Altitude)
	assert.Greater(t, ev.QualityScore, 0.0)
}

func TestMaihamaOctoberDiamondSunset(t *testing.T) {
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.623181, 139.883224, 3)
	day := jst.Date{Year: 2025, Month: time.October, Day: 23}

	events, err := s.SearchDay(context.Background(), day, tgt, BodySun)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	ev := events[len(events)-1]
	assert.Equal(t, KindDiamondSunset, ev.Kind)

	expected := day.At(16, 45, 0)
	diff := ev.Time.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 3*time.Minute, "got %s", jst.Format(ev.Time))
}

func TestFuttsuDiamondSeason(t *testing.T) {
	// Futtsu Cape looks at the summit along ~273.4°, just north of due west,
	// so the sun sets on that bearing at the right altitude while its
	// declination passes +4°, around mid-September (and again in late
	// March). At least one day in the window must produce a diamond sunset
	// on the summit line.
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.313326, 139.785738, 1.3)

	var found []Event
	day := jst.Date{Year: 2025, Month: time.September, Day: 7}
	for i := 0; i < 15; i++ {
		events, err := s.SearchDay(context.Background(), day, tgt, BodySun)
		require.NoError(t, err)
		found = append(found, events...)
		day = day.AddDays(1)
	}
	require.NotEmpty(t, found)

	tol := ToleranceFor(BodySun, tgt.Summit.DistanceM)
	for _, ev := range found {
		assert.Equal(t, KindDiamondSunset, ev.Kind)
		assert.LessOrEqual(t, geometry.AzimuthDiff(ev.Azimuth, tgt.Summit.AzimuthDeg), tol.Azimuth)
		assert.InDelta(t, tgt.Summit.ElevationDeg, ev.Altitude, tol.Altitude)
	}
}

func TestUmihotaruPearlTolerance(t *testing.T) {
	// Exercises the pearl tolerance bands. Umihotaru is ~100.7 km from the
	// summit, just past the 100 km boundary, so it gets the widest band. The
	// day may or may not yield a pearl depending on illumination; when it
	// does, the event must respect the contract tolerances.
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.4469, 139.8331, 10)
	day := jst.Date{Year: 2025, Month: time.December, Day: 26}

	events, err := s.SearchDay(context.Background(), day, tgt, BodyMoon)
	require.NoError(t, err)

	tol := ToleranceFor(BodyMoon, tgt.Summit.DistanceM)
	assert.Greater(t, tgt.Summit.DistanceM, 100000.0)
	assert.Equal(t, 3.0, tol.Azimuth, "Umihotaru sits past the 100 km boundary")
	for _, ev := range events {
		assert.Contains(t, []Kind{KindPearlRising, KindPearlSetting}, ev.Kind)
		assert.GreaterOrEqual(t, ev.MoonIllumination, minPearlIllumination)
		assert.LessOrEqual(t, geometry.AzimuthDiff(ev.Azimuth, tgt.Summit.AzimuthDeg), tol.Azimuth)
		assert.InDelta(t, tgt.Summit.ElevationDeg, ev.Altitude, tol.Altitude)
	}
}

func TestSearchDayNoMoonWindows(t *testing.T) {
	// A day with no moonrise and no moonset on the JST calendar yields zero
	// pearl events and no error. Scan for one: such days occur roughly
	// monthly because the lunar day exceeds 24 hours.
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.623181, 139.883224, 3)

	day := jst.Date{Year: 2025, Month: time.March, Day: 1}
	for i := 0; i < 40; i++ {
		events, err := s.SearchDay(context.Background(), day, tgt, BodyMoon)
		require.NoError(t, err, "day %s", day)
		for _, ev := range events {
			assert.Equal(t, day, jst.DateOf(ev.Time))
		}
		day = day.AddDays(1)
	}
}

func TestSearchDayInvalidGeometry(t *testing.T) {
	s := NewSearcher(ephemeris.NewAdapter())
	bad := Target{
		Observer: ephemeris.Observer{Lat: 35.3606, Lon: 138.7274, Elev: 3776},
		Summit:   geometry.Summit{},
	}
	_, err := s.SearchDay(context.Background(), jst.Date{Year: 2025, Month: time.February, Day: 18}, bad, BodySun)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestSearchDayCancellation(t *testing.T) {
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.623181, 139.883224, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SearchDay(ctx, jst.Date{Year: 2025, Month: time.February, Day: 18}, tgt, BodySun)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefineAgreesWithSearchDay(t *testing.T) {
	s := NewSearcher(ephemeris.NewAdapter())
	tgt := target(t, 35.623181, 139.883224, 3)
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}

	events, err := s.SearchDay(context.Background(), day, tgt, BodySun)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	ev := events[len(events)-1]

	// Refining around the found minute must reproduce the same instant.
	refined, err := s.Refine(ev.Time.Truncate(time.Minute), tgt, BodySun)
	require.NoError(t, err)
	require.NotNil(t, refined)
	assert.Equal(t, ev.Time, refined.Time)
	assert.InDelta(t, ev.Azimuth, refined.Azimuth, 1e-9)
	assert.InDelta(t, ev.Altitude, refined.Altitude, 1e-9)
}

func BenchmarkRefine(b *testing.B) {
	s := NewSearcher(ephemeris.NewAdapter())
	summit, _ := fujiRef.ForPoint(35.623181, 139.883224, 3)
	tgt := Target{
		Observer: ephemeris.Observer{Lat: 35.623181, Lon: 139.883224, Elev: 3},
		Summit:   summit,
	}
	around := jst.Date{Year: 2025, Month: time.February, Day: 18}.At(17, 15, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Refine(around, tgt, BodySun); err != nil {
			b.Fatal(err)
		}
	}
}
