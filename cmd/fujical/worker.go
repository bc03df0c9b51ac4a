package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yuru-sha/fuji-calendar-sub001/log"
	"github.com/yuru-sha/fuji-calendar-sub001/observability"
	"github.com/yuru-sha/fuji-calendar-sub001/queue"
)

func newWorkerCmd(a *app) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background job workers and the periodic scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if trace {
				obs := observability.NewLocalObserver()
				defer obs.Shutdown(context.WithoutCancel(ctx))
			}

			q := queue.New(a.st, a.cfg)
			queue.NewPipeline(a.eph, a.st, a.reference()).RegisterAll(q)

			scheduler := queue.NewScheduler(a.st, q)
			if err := scheduler.SeedDefaults(ctx); err != nil {
				return err
			}

			log.Logger().InfoContext(ctx, "worker starting",
				"concurrency", q.Concurrency(),
				"stall_timeout", a.cfg.StallTimeout)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return q.Run(ctx) })
			g.Go(func() error { return scheduler.Run(ctx) })
			err := g.Wait()
			log.Logger().Info("worker stopped")
			if errors.Is(err, context.Canceled) {
				// Signal-driven shutdown is a clean exit.
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "emit spans to stdout")
	return cmd
}
