package cmd

import (
	"heirloom/internal/infra/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(c *cobra.Command, _ []string) error {
		db.SetMigrationLogger(log.Entry())
		if err := db.Migrate(c.Context(), cfg.PostgresDSN); err != nil {
			return err
		}
		log.Info(c.Context(), "migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied state of each migration",
	RunE: func(c *cobra.Command, _ []string) error {
		db.SetMigrationLogger(log.Entry())
		return db.MigrationStatus(c.Context(), cfg.PostgresDSN)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
