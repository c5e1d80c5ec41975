package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agent_dashboard/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, push channels and maintenance jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			logger.Info("Configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger, app.Options{Serve: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Start(ctx); err != nil {
				return err
			}
			return a.Serve(ctx)
		},
	}
}
