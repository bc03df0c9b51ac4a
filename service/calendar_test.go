package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

func seedEvents(t *testing.T) (*store.Memory, store.Location) {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()

	loc := store.Location{
		Name:       "Maihama shore",
		Prefecture: "Chiba",
		Latitude:   35.623181,
		Longitude:  139.883224,
		Elevation:  3,
	}
	require.NoError(t, m.CreateLocation(ctx, &loc))

	d1 := jst.Date{Year: 2025, Month: time.February, Day: 18}
	d2 := jst.Date{Year: 2025, Month: time.February, Day: 19}
	phase := 170.0
	illum := 0.93
	require.NoError(t, m.ReplaceEvents(ctx, loc.ID, 2025, []store.Event{
		{
			EventDate: d1, EventTime: d1.At(17, 15, 20),
			Kind: alignment.KindDiamondSunset, Azimuth: 247.2, Altitude: 1.74,
			QualityScore: 0.92, Accuracy: alignment.AccuracyExcellent,
		},
		{
			EventDate: d1, EventTime: d1.At(5, 41, 3),
			Kind: alignment.KindPearlSetting, Azimuth: 247.0, Altitude: 1.70,
			QualityScore: 0.61, Accuracy: alignment.AccuracyGood,
			MoonPhaseDeg: &phase, MoonIllumination: &illum,
		},
		{
			EventDate: d2, EventTime: d2.At(17, 16, 5),
			Kind: alignment.KindDiamondSunset, Azimuth: 247.5, Altitude: 1.72,
			QualityScore: 0.85, Accuracy: alignment.AccuracyExcellent,
		},
	}))
	return m, loc
}

func TestGetCalendarGroupsByKind(t *testing.T) {
	m, _ := seedEvents(t)
	s := NewCalendarService(m)

	resp, err := s.GetCalendar(context.Background(), 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, 2025, resp.Year)
	require.Len(t, resp.Days, 2)

	assert.Equal(t, "2025-02-18", resp.Days[0].Date)
	assert.Equal(t, "both", resp.Days[0].Kind)
	assert.Equal(t, 1, resp.Days[0].Diamond)
	assert.Equal(t, 1, resp.Days[0].Pearl)

	assert.Equal(t, "diamond", resp.Days[1].Kind)
}

func TestGetCalendarValidation(t *testing.T) {
	m, _ := seedEvents(t)
	s := NewCalendarService(m)
	ctx := context.Background()

	_, err := s.GetCalendar(ctx, 1800, 2)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.GetCalendar(ctx, 2025, 13)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetDayEventsBoundaryStrings(t *testing.T) {
	m, loc := seedEvents(t)
	s := NewCalendarService(m)

	resp, err := s.GetDayEvents(context.Background(), "2025-02-18")
	require.NoError(t, err)
	require.Len(t, resp.Events, 2)

	// Ascending by time: the pearl precedes the sunset.
	pearl, diamond := resp.Events[0], resp.Events[1]
	assert.Equal(t, "pearl_setting", pearl.Kind)
	assert.Equal(t, "2025-02-18T05:41:03+09:00", pearl.Time)
	assert.Equal(t, "2025-02-18", pearl.Date)
	require.NotNil(t, pearl.MoonIllumination)
	assert.Equal(t, 0.93, *pearl.MoonIllumination)
	assert.NotEmpty(t, pearl.MoonPhaseName)

	assert.Equal(t, "diamond_sunset", diamond.Kind)
	assert.Equal(t, "2025-02-18T17:15:20+09:00", diamond.Time)
	assert.Nil(t, diamond.MoonPhaseDeg)
	assert.Empty(t, diamond.MoonPhaseName)
	assert.Equal(t, loc.Name, diamond.Location.Name)

	_, err = s.GetDayEvents(context.Background(), "02/18/2025")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetUpcomingRespectsNowAndLimit(t *testing.T) {
	m, _ := seedEvents(t)
	s := NewCalendarService(m)
	ctx := context.Background()

	events, err := s.GetUpcoming(ctx, "2025-02-18T12:00:00+09:00", 10)
	require.NoError(t, err)
	require.Len(t, events, 2, "the morning pearl is already past")
	assert.Equal(t, "diamond_sunset", events[0].Kind)

	events, err = s.GetUpcoming(ctx, "2025-02-18T12:00:00+09:00", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = s.GetUpcoming(ctx, "not a timestamp", 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetStats(t *testing.T) {
	m, _ := seedEvents(t)
	s := NewCalendarService(m)

	resp, err := s.GetStats(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Diamond)
	assert.Equal(t, 1, resp.Pearl)
	require.Len(t, resp.PerMonth, 12)
	assert.Equal(t, 3, resp.PerMonth[1].Total)
	assert.Equal(t, 0, resp.PerMonth[5].Total)

	_, err = s.GetStats(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpcomingTimeRoundTrip(t *testing.T) {
	m, _ := seedEvents(t)
	s := NewCalendarService(m)

	events, err := s.GetUpcoming(context.Background(), "2025-01-01T00:00:00+09:00", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, ev := range events {
		parsed, err := jst.Parse(ev.Time)
		require.NoError(t, err)
		assert.Equal(t, ev.Time, jst.Format(parsed), "boundary strings round-trip")
	}
}
