package main

import (
	"context"

	"github.com/causehive/donation-service/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := newRuntime(ctx, "migrate")
		if err != nil {
			return err
		}
		defer rt.logger.Sync() //nolint:errcheck

		db, err := rt.openDB(ctx)
		if err != nil {
			return err
		}
		defer database.Close(db) //nolint:errcheck

		if err := database.Migrate(db); err != nil {
			rt.logger.Error("Migration failed", zap.Error(err))
			return err
		}
		rt.logger.Info("Migration complete", zap.Int("tables", len(database.Models())))
		return nil
	},
}
