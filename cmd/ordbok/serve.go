package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok"
	"github.com/layer-3/ordbok/config"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Secrets are checked before anything else starts
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			log, err := setupLogger(opts.debug)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			if !opts.debug {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := ordbok.New(ctx, cfg, log, opts.debug)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					log.Warn("Failed to close backends")
				}
			}()

			return app.Run(ctx)
		},
	}
}
