package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medping/golang_services/internal/platform/database"
	"github.com/medping/golang_services/internal/platform/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		appLogger := logger.New(cfg.LogLevel)
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, cfg.PoolSettings())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		appLogger.Info("Schema is up to date")
		return nil
	},
}
