// Package jst handles Japan Standard Time conversions.
//
// Every instant in the system is stored as UTC. The JST calendar date of an
// instant is derived exclusively through DateOf; deriving dates by string
// manipulation on UTC timestamps is forbidden because it shifts events that
// occur between 00:00 and 09:00 JST onto the wrong day.
package jst

import (
	"fmt"
	"time"
)

// Zone is the fixed UTC+9 zone. Japan has no daylight saving transitions,
// so a fixed zone is exact and avoids a tzdata dependency at runtime.
var Zone = time.FixedZone("JST", 9*60*60)

// Date is a JST calendar date without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the JST calendar date of an instant. This is the only
// sanctioned way to compute an event's calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.In(Zone).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a "2006-01-02" string as a JST calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, Zone)
	if err != nil {
		return Date{}, fmt.Errorf("invalid JST date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// String formats the date as "2006-01-02".
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Midnight returns 00:00:00 JST on d, as a UTC instant.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Zone).UTC()
}

// At returns the instant at the given JST wall clock on d, as UTC.
func (d Date) At(hour, min, sec int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, min, sec, 0, Zone).UTC()
}

// AddDays returns the date n days after d (negative n goes backward).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, Zone))
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	return d.Midnight().Before(other.Midnight())
}

// Equal reports whether two dates are the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Year == other.Year && d.Month == other.Month && d.Day == other.Day
}

// Format renders an instant as an ISO-8601 JST string with explicit +09:00
// offset, the wire form used at the API boundary.
func Format(t time.Time) string {
	return t.In(Zone).Format("2006-01-02T15:04:05+09:00")
}

// Parse parses an ISO-8601 JST string produced by Format back to a UTC
// instant. Format and Parse round-trip exactly at second resolution.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04:05+09:00", s, Zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid JST timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// DaysInYear returns 366 for leap years, 365 otherwise.
func DaysInYear(year int) int {
	if time.Date(year, 12, 31, 12, 0, 0, 0, Zone).YearDay() == 366 {
		return 366
	}
	return 365
}
