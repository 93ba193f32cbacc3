package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/lexbilling/pkg/billing/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := loadApp()
		if err != nil {
			return err
		}
		pool, cfg, err := connectDB(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pgstore.Migrate(cmd.Context(), pool, cfg.MigrationsTable, log); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
