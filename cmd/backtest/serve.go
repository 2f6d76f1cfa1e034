package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SebStoll/stocks-backtesting/pkg/api"
	"github.com/SebStoll/stocks-backtesting/pkg/runtracker"
	"github.com/SebStoll/stocks-backtesting/pkg/sweep"
)

func (a *app) serveCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sweep API over HTTP with a gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracker := runtracker.NewTracker(a.logger, version)
			store := sweep.NewStore()
			srv := api.NewServer(tracker, store, a.logger)

			opts := []sweep.Option{sweep.WithStore(store), sweep.WithConcurrency(concurrency)}
			persister, err := a.newPersister(ctx)
			if err != nil {
				return err
			}
			if persister != nil {
				defer persister.Close()
				opts = append(opts, sweep.WithPersister(persister))
			}
			srv.Runner = sweep.NewRunner(a.cfg.Engine(), tracker, a.logger, opts...)

			src, closeSrc, err := a.newSource(ctx)
			if err != nil {
				a.logger.Warn("No data source; POST /api/v1/runs disabled", "error", err)
			} else {
				defer closeSrc()
				srv.Source = src
				srv.BackendConnected = true
			}

			listen := api.ListenConfig{
				HTTPAddr: net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.HTTPPort)),
				Mode:     a.cfg.Server.Mode,
			}
			if a.cfg.Server.GRPCPort > 0 {
				listen.GRPCAddr = net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.GRPCPort))
			}
			if err := srv.Serve(ctx, listen); err != nil {
				return fmt.Errorf("serving API: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", sweep.DefaultConcurrency, "Backtests run at once per sweep")
	return cmd
}
