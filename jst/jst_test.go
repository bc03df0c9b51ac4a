package jst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf(t *testing.T) {
	tests := []struct {
		name     string
		instant  time.Time
		expected string
	}{
		{
			name:     "UTC evening is next JST day",
			instant:  time.Date(2025, 2, 17, 20, 30, 0, 0, time.UTC),
			expected: "2025-02-18",
		},
		{
			name:     "UTC morning is same JST day",
			instant:  time.Date(2025, 2, 18, 8, 15, 0, 0, time.UTC),
			expected: "2025-02-18",
		},
		{
			name:     "boundary 15:00 UTC is next JST midnight",
			instant:  time.Date(2025, 12, 31, 15, 0, 0, 0, time.UTC),
			expected: "2026-01-01",
		},
		{
			name:     "just before boundary stays on JST day",
			instant:  time.Date(2025, 12, 31, 14, 59, 59, 0, time.UTC),
			expected: "2025-12-31",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DateOf(tt.instant).String())
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	instants := []time.Time{
		time.Date(2025, 2, 18, 8, 15, 42, 0, time.UTC),
		time.Date(2025, 12, 31, 14, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
	}
	for _, in := range instants {
		s := Format(in)
		back, err := Parse(s)
		require.NoError(t, err)
		assert.True(t, in.Equal(back), "round trip changed %v to %v", in, back)
		// The string form itself must also be stable.
		assert.Equal(t, s, Format(back))
	}
}

func TestFormatCarriesExplicitOffset(t *testing.T) {
	s := Format(time.Date(2025, 2, 18, 8, 15, 0, 0, time.UTC))
	assert.Equal(t, "2025-02-18T17:15:00+09:00", s)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("2025-02-18 17:15")
	assert.Error(t, err)
	_, err = ParseDate("18-02-2025")
	assert.Error(t, err)
}

func TestMidnightAndAt(t *testing.T) {
	d := Date{Year: 2025, Month: time.February, Day: 18}
	// 00:00 JST is 15:00 UTC the previous day.
	assert.Equal(t, time.Date(2025, 2, 17, 15, 0, 0, 0, time.UTC), d.Midnight())
	assert.Equal(t, time.Date(2025, 2, 18, 8, 15, 0, 0, time.UTC), d.At(17, 15, 0))
}

func TestAddDays(t *testing.T) {
	d := Date{Year: 2024, Month: time.February, Day: 28}
	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, "2023-12-31", d.AddDays(-59).String())
}

func TestDaysInYear(t *testing.T) {
	assert.Equal(t, 366, DaysInYear(2024))
	assert.Equal(t, 365, DaysInYear(2025))
	assert.Equal(t, 366, DaysInYear(2000))
	assert.Equal(t, 365, DaysInYear(1900))
}
