package main

import (
	"context"
	"fmt"

	"github.com/causehive/donation-service/database"
	"github.com/causehive/donation-service/repository"
	"github.com/causehive/donation-service/services"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail pending donations abandoned before payment initialization",
	Long: `Mark pending donations with no payment transaction that are older
than $ORPHAN_DONATION_AGE as failed, then exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := newRuntime(ctx, "sweep")
		if err != nil {
			return err
		}
		defer rt.logger.Sync() //nolint:errcheck

		db, err := rt.openDB(ctx)
		if err != nil {
			return err
		}
		defer database.Close(db) //nolint:errcheck

		sweeper := services.NewSweeper(repository.NewGormDonationRepository(db), rt.cfg.OrphanDonationAge, rt.metrics, rt.logger)
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "failed %d orphaned donation(s)\n", n)
		return nil
	},
}
