// Package orbit materializes the minute-resolution celestial table for a
// calendar year at the fixed Fuji summit reference observer. One table
// serves every location: the matcher scans it by azimuth and altitude
// predicates instead of calling the ephemeris per (location, minute).
package orbit

import (
	"context"
	"fmt"
	"time"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/solar"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

const (
	// batchSize bounds transaction size and memory during the bulk write.
	batchSize = 200

	// progressMinutes is the simulated-time interval between progress
	// ticks, in minutes of table time: four ticks per built day.
	progressMinutes = 6 * 60

	// sunVisibleFloor keeps twilight rows queryable for sunrise and sunset
	// windows; the moon floor is the geometric horizon.
	sunVisibleFloor  = -6.0
	moonVisibleFloor = 0.0

	// maxFailureRatio aborts a build when the ephemeris misbehaves at scale
	// rather than silently producing a sparse year.
	maxFailureRatio = 0.01
)

// ProgressFunc receives completion percentage ticks in [0, 100].
type ProgressFunc func(pct float64)

// CancelFunc is polled between days; returning true stops the build with
// ErrCancelled. In-flight batches still commit.
type CancelFunc func(ctx context.Context) (bool, error)

// ErrCancelled reports a cooperative stop. Distinct from a failure.
var ErrCancelled = fmt.Errorf("orbit: build cancelled")

// Builder writes the year table through an OrbitStore.
type Builder struct {
	eph      *ephemeris.Adapter
	orbits   store.OrbitStore
	observer ephemeris.Observer

	// Progress and Cancel are optional hooks wired by the job layer.
	Progress ProgressFunc
	Cancel   CancelFunc
}

// NewBuilder builds at the given reference observer, normally the Fuji
// summit from configuration.
func NewBuilder(eph *ephemeris.Adapter, orbits store.OrbitStore, observer ephemeris.Observer) *Builder {
	return &Builder{eph: eph, orbits: orbits, observer: observer}
}

// BuildYear populates every day of the year. Idempotent: re-runs upsert the
// same keys with the same values.
func (b *Builder) BuildYear(ctx context.Context, year int) error {
	ctx, span := observability.Observer().CreateSpan(ctx, "orbit.BuildYear")
	defer span.End()

	from := jst.Date{Year: year, Month: time.January, Day: 1}
	to := jst.Date{Year: year, Month: time.December, Day: 31}
	return b.BuildRange(ctx, from, to)
}

// BuildRange populates the inclusive day range [from, to].
func (b *Builder) BuildRange(ctx context.Context, from, to jst.Date) error {
	totalDays := 0
	for d := from; !to.Before(d); d = d.AddDays(1) {
		totalDays++
	}
	if totalDays == 0 {
		return nil
	}

	logger := log.Logger()
	logger.InfoContext(ctx, "orbit build started",
		"from", from.String(), "to", to.String(), "days", totalDays)
	started := time.Now()

	var samples, failures int
	day := from
	for i := 0; i < totalDays; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.Cancel != nil {
			stop, err := b.Cancel(ctx)
			if err != nil {
				return fmt.Errorf("cancel check: %w", err)
			}
			if stop {
				logger.InfoContext(ctx, "orbit build cancelled", "day", day.String())
				return ErrCancelled
			}
		}

		daysDone := i
		s, f, err := b.buildDay(ctx, day, func(minutesDone int) {
			if b.Progress != nil {
				b.Progress(100 * (float64(daysDone) + float64(minutesDone)/(24*60)) / float64(totalDays))
			}
		})
		if err != nil {
			return fmt.Errorf("day %s: %w", day, err)
		}
		samples += s
		failures += f
		if samples > 0 && float64(failures)/float64(samples+failures) > maxFailureRatio {
			return fmt.Errorf("day %s: %d of %d samples failed, aborting: %w",
				day, failures, samples+failures, ephemeris.ErrComputation)
		}
		day = day.AddDays(1)
	}

	logger.InfoContext(ctx, "orbit build finished",
		"samples", samples, "skipped", failures, "elapsed", time.Since(started))
	return nil
}

// buildDay computes the 2880 minute samples of one JST day and writes the
// persisted subset in batches, ticking progress at each 6-hour mark of
// table time. Returns persisted and skipped sample counts.
func (b *Builder) buildDay(ctx context.Context, day jst.Date, tick func(minutesDone int)) (persisted, failed int, err error) {
	season := seasonOf(day)
	batch := make([]store.OrbitSample, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.orbits.BulkUpsertOrbitSamples(ctx, batch); err != nil {
			return err
		}
		persisted += len(batch)
		batch = batch[:0]
		return nil
	}

	for minuteOfDay := 0; minuteOfDay < 24*60; minuteOfDay++ {
		h, m := minuteOfDay/60, minuteOfDay%60
		t := day.At(h, m, 0)

		sun, sunErr := b.eph.Sun(t, b.observer)
		if sunErr != nil {
			failed++
			log.Logger().WarnContext(ctx, "sun sample skipped",
				"time", jst.Format(t), "error", sunErr)
		} else {
			batch = append(batch, store.OrbitSample{
				Date: day, Hour: h, Minute: m, Body: alignment.BodySun,
				Azimuth:  sun.Azimuth,
				Altitude: sun.Altitude,
				Visible:  sun.Altitude > sunVisibleFloor,
				Season:   season, TimeOfDay: timeOfDay(h),
			})
		}

		moon, moonErr := b.eph.Moon(t, b.observer)
		switch {
		case moonErr != nil:
			failed++
			log.Logger().WarnContext(ctx, "moon sample skipped",
				"time", jst.Format(t), "error", moonErr)
		case moon.Altitude > moonVisibleFloor:
			// Below-horizon moon rows are not persisted; the table only
			// feeds visibility-gated pearl matching.
			phase, illum := moon.PhaseDeg, moon.Illumination
			batch = append(batch, store.OrbitSample{
				Date: day, Hour: h, Minute: m, Body: alignment.BodyMoon,
				Azimuth:  moon.Azimuth,
				Altitude: moon.Altitude,
				Visible:  true,
				MoonPhaseDeg:     &phase,
				MoonIllumination: &illum,
				Season: season, TimeOfDay: timeOfDay(h),
			})
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return persisted, failed, err
			}
		}
		if done := minuteOfDay + 1; done%progressMinutes == 0 {
			tick(done)
		}
	}
	return persisted, failed, flush()
}

// seasonOf tags a day by astronomical quarter of the apparent solar
// longitude at JST noon: 0° Aries is the March equinox.
func seasonOf(day jst.Date) string {
	jde := julian.TimeToJD(day.At(12, 0, 0))
	λ := solar.ApparentLongitude(base.J2000Century(jde)).Deg()
	for λ < 0 {
		λ += 360
	}
	switch {
	case λ < 90:
		return "spring"
	case λ < 180:
		return "summer"
	case λ < 270:
		return "autumn"
	default:
		return "winter"
	}
}

// timeOfDay buckets a JST hour.
func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	default:
		return "night"
	}
}
