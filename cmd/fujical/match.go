package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/matcher"
	"github.com/yuru-sha/fuji-calendar-sub001/orbit"
)

func newMatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "match-events YEAR",
		Short: "Match alignment events for every location against the year's orbit table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := yearArg(args)
			if err != nil {
				return err
			}

			present, err := a.st.OrbitYearPresent(cmd.Context(), year)
			if err != nil {
				return err
			}
			if !present {
				return fmt.Errorf("no orbit table for %d; run generate-celestial first", year)
			}
			return matchAllLocations(cmd.Context(), a, year)
		},
	}
}

func newSetupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup-data YEAR",
		Short: "Run the full pipeline for a year: orbit table, then all locations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := yearArg(args)
			if err != nil {
				return err
			}

			b := orbit.NewBuilder(a.eph, a.st, a.summitObserver())
			if err := b.BuildYear(cmd.Context(), year); err != nil {
				return fmt.Errorf("generate %d: %w", year, err)
			}
			return matchAllLocations(cmd.Context(), a, year)
		},
	}
}

// matchAllLocations runs the fast-path matcher for each location, a few in
// parallel, each under its advisory lock.
func matchAllLocations(ctx context.Context, a *app, year int) error {
	locations, err := a.st.ListLocations(ctx)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		log.Logger().WarnContext(ctx, "no locations registered, nothing to match")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.WorkerConcurrency)
	for _, loc := range locations {
		loc := loc
		g.Go(func() error {
			return a.st.WithLocationLock(gctx, loc.ID, func(ctx context.Context) error {
				mt := matcher.New(a.eph, a.st, a.reference())
				n, err := mt.MatchYear(ctx, loc.ID, year)
				if err != nil {
					return fmt.Errorf("location %d (%s): %w", loc.ID, loc.Name, err)
				}
				log.Logger().InfoContext(ctx, "location matched",
					"location_id", loc.ID, "name", loc.Name, "events", n)
				return nil
			})
		})
	}
	return g.Wait()
}
