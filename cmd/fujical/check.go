package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/alignment"
	"github.com/yuru-sha/fuji-calendar-sub001/jst"
)

func newCheckCmd(a *app) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "check-data",
		Short: "Audit orbit table completeness and event date consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = jst.DateOf(time.Now()).Year
			}
			violations, err := auditYear(cmd.Context(), a, year)
			if err != nil {
				return err
			}
			if len(violations) > 0 {
				for _, v := range violations {
					fmt.Fprintln(cmd.ErrOrStderr(), "violation:", v)
				}
				return fmt.Errorf("%d violations for %d", len(violations), year)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "data for %d is consistent\n", year)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "calculation year to audit (default: current JST year)")
	return cmd
}

// auditYear checks the invariants the pipeline promises: 1440 sun rows per
// date including Dec 31, and event_date always the JST day of event_time.
func auditYear(ctx context.Context, a *app, year int) ([]string, error) {
	var violations []string

	present, err := a.st.OrbitYearPresent(ctx, year)
	if err != nil {
		return nil, err
	}
	if !present {
		return []string{fmt.Sprintf("no orbit samples for %d", year)}, nil
	}

	day := jst.Date{Year: year, Month: time.January, Day: 1}
	for i := 0; i < jst.DaysInYear(year); i++ {
		n, err := a.st.CountOrbitSamples(ctx, day, alignment.BodySun)
		if err != nil {
			return nil, err
		}
		if n != 24*60 {
			violations = append(violations,
				fmt.Sprintf("%s: %d sun samples, want 1440", day, n))
		}
		day = day.AddDays(1)
	}

	// Dec 31 gets a named check: year-end minutes went missing once.
	dec31 := jst.Date{Year: year, Month: time.December, Day: 31}
	if n, err := a.st.CountOrbitSamples(ctx, dec31, alignment.BodySun); err != nil {
		return nil, err
	} else if n == 0 {
		violations = append(violations, fmt.Sprintf("%s has no samples", dec31))
	}

	locations, err := a.st.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	for _, loc := range locations {
		events, err := a.st.ListLocationEvents(ctx, loc.ID, year)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if !jst.DateOf(ev.EventTime).Equal(ev.EventDate) {
				violations = append(violations, fmt.Sprintf(
					"event %d at %s recorded under %s, JST day is %s",
					ev.ID, jst.Format(ev.EventTime), ev.EventDate, jst.DateOf(ev.EventTime)))
			}
		}
	}
	return violations, nil
}
