package ephemeris

import (
	"time"

	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

// moonScanStep is the bracketing step for horizon crossings. The moon moves
// about 0.2 degrees of altitude in ten minutes near the horizon, so a
// crossing cannot slip through a bracket this size.
const moonScanStep = 10 * time.Minute

// MoonEvents are the horizon crossings of the moon on one JST calendar day.
// Either pointer is nil when the corresponding crossing does not occur that
// day, which happens regularly at extreme declinations.
type MoonEvents struct {
	Rise *time.Time
	Set  *time.Time
}

// MoonRiseSet finds moonrise and moonset on the JST day for the observer by
// scanning the topocentric altitude for sign changes and bisecting each
// bracket to one second.
func (a *Adapter) MoonRiseSet(date jst.Date, obs Observer) (MoonEvents, error) {
	start := date.Midnight()
	end := date.AddDays(1).Midnight()

	var events MoonEvents

	prevT := start
	prevPos, err := a.Moon(prevT, obs)
	if err != nil {
		return MoonEvents{}, err
	}

	for t := start.Add(moonScanStep); !t.After(end); t = t.Add(moonScanStep) {
		pos, err := a.Moon(t, obs)
		if err != nil {
			return MoonEvents{}, err
		}

		if prevPos.Altitude < 0 && pos.Altitude >= 0 {
			crossing, err := a.bisectCrossing(prevT, t, obs, true)
			if err != nil {
				return MoonEvents{}, err
			}
			if events.Rise == nil {
				events.Rise = &crossing
			}
		}
		if prevPos.Altitude >= 0 && pos.Altitude < 0 {
			crossing, err := a.bisectCrossing(prevT, t, obs, false)
			if err != nil {
				return MoonEvents{}, err
			}
			if events.Set == nil {
				events.Set = &crossing
			}
		}

		prevT, prevPos = t, pos
	}

	return events, nil
}

// bisectCrossing narrows a horizon crossing bracketed by [lo, hi] down to
// one second. rising selects which sign change is being tracked.
func (a *Adapter) bisectCrossing(lo, hi time.Time, obs Observer, rising bool) (time.Time, error) {
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		if !mid.After(lo) {
			break
		}
		pos, err := a.Moon(mid, obs)
		if err != nil {
			return time.Time{}, err
		}
		above := pos.Altitude >= 0
		if above == rising {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}
