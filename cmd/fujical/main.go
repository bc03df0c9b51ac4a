// Command fujical drives the Fuji alignment calendar pipeline: orbit table
// generation, event matching, data audits, and the background worker.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/ephemeris"
	"github.com/yuru-sha/fuji-calendar-sub001/astronomy/geometry"
	"github.com/yuru-sha/fuji-calendar-sub001/config"
	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/store"
)

type app struct {
	cfg *config.Config
	st  *store.Postgres
	eph *ephemeris.Adapter
}

func (a *app) reference() geometry.Reference {
	return geometry.Reference{
		Lat:         a.cfg.FujiLat,
		Lon:         a.cfg.FujiLon,
		Elev:        a.cfg.FujiElev,
		RefractionK: a.cfg.RefractionK,
	}
}

func (a *app) summitObserver() ephemeris.Observer {
	return ephemeris.Observer{Lat: a.cfg.FujiLat, Lon: a.cfg.FujiLon, Elev: a.cfg.FujiElev}
}

func newRootCmd() *cobra.Command {
	a := &app{eph: ephemeris.NewAdapter()}

	root := &cobra.Command{
		Use:           "fujical",
		Short:         "Diamond and Pearl Fuji alignment calendar pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			log.SetLevel(cfg.LogLevel)
			a.cfg = cfg

			st, err := store.NewPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			a.st = st
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.st != nil {
				a.st.Close()
			}
		},
	}

	root.AddCommand(
		newGenerateCmd(a),
		newMatchCmd(a),
		newSetupCmd(a),
		newCheckCmd(a),
		newWorkerCmd(a),
	)
	return root
}

// yearArg parses the single YEAR positional argument.
func yearArg(args []string) (int, error) {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid year %q: %w", args[0], err)
	}
	if year < 2000 || year > 2100 {
		return 0, fmt.Errorf("year %d outside [2000, 2100]", year)
	}
	return year, nil
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fujical:", err)
		os.Exit(1)
	}
}
