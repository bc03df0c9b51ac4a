package ephemeris

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// Tokyo-bay-side observer used across tests.
var maihama = Observer{Lat: 35.623181, Lon: 139.883224, Elev: 3}

func TestSunPositionRanges(t *testing.T) {
	a := NewAdapter()

	// Sample through a full day; every result must stay in range.
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}
	for h := 0; h < 24; h++ {
		pos, err := a.Sun(day.At(h, 0, 0), maihama)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos.Azimuth, 0.0)
		assert.Less(t, pos.Azimuth, 360.0)
		assert.GreaterOrEqual(t, pos.Altitude, -90.0)
		assert.LessOrEqual(t, pos.Altitude, 90.0)
		assert.InDelta(t, 1.0, pos.Distance, 0.05)
	}
}

func TestSunDiurnalArc(t *testing.T) {
	a := NewAdapter()
	day := jst.Date{Year: 2025, Month: time.June, Day: 21}

	noon, err := a.Sun(day.At(12, 0, 0), maihama)
	require.NoError(t, err)
	midnight, err := a.Sun(day.At(0, 0, 0), maihama)
	require.NoError(t, err)

	// Solstice noon at 35°N is high in the southern sky; midnight is deep
	// below the horizon.
	assert.Greater(t, noon.Altitude, 70.0)
	assert.Less(t, midnight.Altitude, -25.0)

	morning, err := a.Sun(day.At(7, 0, 0), maihama)
	require.NoError(t, err)
	evening, err := a.Sun(day.At(17, 0, 0), maihama)
	require.NoError(t, err)
	assert.Less(t, morning.Azimuth, 180.0, "morning sun stands east")
	assert.Greater(t, evening.Azimuth, 180.0, "evening sun stands west")
}

func TestSunSetsTowardFujiInFebruary(t *testing.T) {
	a := NewAdapter()

	// Mid-February sunset from Maihama happens toward ~250 degrees, the
	// season when the sun tracks across the Fuji bearing (~247 degrees).
	day := jst.Date{Year: 2025, Month: time.February, Day: 18}
	pos, err := a.Sun(day.At(17, 10, 0), maihama)
	require.NoError(t, err)
	assert.InDelta(t, 250, pos.Azimuth, 8)
	assert.Less(t, pos.Altitude, 5.0)
	assert.Greater(t, pos.Altitude, -3.0)
}

func TestMoonPositionRanges(t *testing.T) {
	a := NewAdapter()
	day := jst.Date{Year: 2025, Month: time.December, Day: 26}

	for h := 0; h < 24; h += 3 {
		pos, err := a.Moon(day.At(h, 0, 0), maihama)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos.Azimuth, 0.0)
		assert.Less(t, pos.Azimuth, 360.0)
		assert.GreaterOrEqual(t, pos.PhaseDeg, 0.0)
		assert.Less(t, pos.PhaseDeg, 360.0)
		assert.GreaterOrEqual(t, pos.Illumination, 0.0)
		assert.LessOrEqual(t, pos.Illumination, 1.0)
		assert.Greater(t, pos.Distance, 330000.0)
		assert.Less(t, pos.Distance, 410000.0)
	}
}

func TestMoonPhaseConsistency(t *testing.T) {
	a := NewAdapter()

	// 2025-01-13 is a full moon (JST evening). Elongation near 180 and
	// illumination near 1.
	full := jst.Date{Year: 2025, Month: time.January, Day: 13}
	pos, err := a.Moon(full.At(22, 0, 0), maihama)
	require.NoError(t, err)
	assert.InDelta(t, 180, pos.PhaseDeg, 15)
	assert.Greater(t, pos.Illumination, 0.97)

	// 2025-01-29 is a new moon: elongation near 0/360, dark disk.
	newMoon := jst.Date{Year: 2025, Month: time.January, Day: 29}
	pos, err = a.Moon(newMoon.At(21, 0, 0), maihama)
	require.NoError(t, err)
	elong := pos.PhaseDeg
	if elong > 180 {
		elong = 360 - elong
	}
	assert.Less(t, elong, 20.0)
	assert.Less(t, pos.Illumination, 0.05)
}

func TestMoonParallaxDiffersBetweenObservers(t *testing.T) {
	a := NewAdapter()
	when := jst.Date{Year: 2025, Month: time.December, Day: 26}.At(6, 0, 0)

	near, err := a.Moon(when, maihama)
	require.NoError(t, err)
	summit, err := a.Moon(when, Observer{Lat: 35.3606, Lon: 138.7274, Elev: 3776})
	require.NoError(t, err)

	// Two observers ~100 km apart must not see the identical topocentric
	// place; the minute table is only an index for exactly this reason.
	assert.NotEqual(t, near.Altitude, summit.Altitude)
	assert.InDelta(t, near.Altitude, summit.Altitude, 1.5)
}

func TestMoonRiseSetOrdinaryDay(t *testing.T) {
	a := NewAdapter()
	day := jst.Date{Year: 2025, Month: time.December, Day: 26}

	ev, err := a.MoonRiseSet(day, maihama)
	require.NoError(t, err)

	if ev.Rise != nil {
		assert.Equal(t, day, jst.DateOf(*ev.Rise))
		pos, err := a.Moon(ev.Rise.Add(5*time.Minute), maihama)
		require.NoError(t, err)
		assert.Greater(t, pos.Altitude, -0.5)
	}
	if ev.Set != nil {
		assert.Equal(t, day, jst.DateOf(*ev.Set))
		pos, err := a.Moon(ev.Set.Add(-5*time.Minute), maihama)
		require.NoError(t, err)
		assert.Greater(t, pos.Altitude, -0.5)
	}
	// Most days have at least one of the two.
	assert.True(t, ev.Rise != nil || ev.Set != nil)
}

func TestAdapterConcurrentUse(t *testing.T) {
	a := NewAdapter()
	when := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

	ref, err := a.Sun(when, maihama)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				pos, err := a.Sun(when, maihama)
				assert.NoError(t, err)
				assert.Equal(t, ref, pos)
			}
		}()
	}
	wg.Wait()
}

func TestPhaseName(t *testing.T) {
	tests := []struct {
		deg  float64
		name string
	}{
		{0, "New Moon"},
		{350, "New Moon"},
		{45, "Waxing Crescent"},
		{90, "First Quarter"},
		{180, "Full Moon"},
		{270, "Last Quarter"},
		{315, "Waning Crescent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, PhaseName(tt.deg), "phase %v", tt.deg)
	}
}

func BenchmarkSunPosition(b *testing.B) {
	a := NewAdapter()
	when := time.Date(2025, 2, 18, 8, 0, 0, 0, time.UTC)
	for i := 0; i < b.N; i++ {
		if _, err := a.Sun(when, maihama); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMoonPosition(b *testing.B) {
	a := NewAdapter()
	when := time.Date(2025, 12, 25, 21, 0, 0, 0, time.UTC)
	for i := 0; i < b.N; i++ {
		if _, err := a.Moon(when, maihama); err != nil {
			b.Fatal(err)
		}
	}
}
