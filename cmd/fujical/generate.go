package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/orbit"
)

func newGenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-celestial YEAR",
		Short: "Build the minute-resolution orbit table for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := yearArg(args)
			if err != nil {
				return err
			}

			b := orbit.NewBuilder(a.eph, a.st, a.summitObserver())
			b.Progress = func(pct float64) {
				log.Logger().Info("orbit build progress", "year", year,
					"pct", fmt.Sprintf("%.1f", pct))
			}
			if err := b.BuildYear(cmd.Context(), year); err != nil {
				return fmt.Errorf("generate %d: %w", year, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "orbit table for %d complete\n", year)
			return nil
		},
	}
}
