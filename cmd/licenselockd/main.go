package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/licenselock/licenselock/internal/app"
	"github.com/licenselock/licenselock/internal/config"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "licenselockd",
		Short:         "License and session control service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
			if err != nil {
				return err
			}
			defer func() {
				if err := runtime.Shutdown(context.Background()); err != nil {
					logger.Warn("observability shutdown", "error", err)
				}
			}()

			a, err := app.Build(ctx, cfg, logger, runtime)
			if err != nil {
				return err
			}
			logger.Info("starting", "profile", cfg.Profile, "driver", cfg.DatabaseDriver, "redis", cfg.RedisEnabled())
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg)
			if err != nil {
				return err
			}
			if err := storage.Migrate(db); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}
