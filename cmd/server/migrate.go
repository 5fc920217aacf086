package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/heritage-guide/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded schema migrations to the configured database.

Use --down to roll every migration back.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("down", false, "Roll back all migrations")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	down, _ := cmd.Flags().GetBool("down")

	driver, dsn := cfg.Database.Driver, cfg.Database.DSN()
	if down {
		if err := store.MigrateDown(driver, dsn); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		slog.Info("Migrations rolled back", "driver", driver)
		return nil
	}

	if err := store.MigrateUp(driver, dsn); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	slog.Info("Migrations applied", "driver", driver)
	return nil
}
