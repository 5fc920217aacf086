package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/heritage-guide/internal/store"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load heritage sites, buildings and routes from a YAML file",
	Example: `  heritage-guide seed --file ./data/heritage.yaml`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("file", "f", "", "Seed YAML file (defaults to SEED_PATH)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = cfg.SeedPath
	}
	if path == "" {
		return fmt.Errorf("seed file required: pass --file or set SEED_PATH")
	}

	ctx := cmd.Context()
	repo, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), cfg.Database.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	return seedFrom(ctx, repo, path)
}

func seedFrom(ctx context.Context, repo store.Repository, path string) error {
	bundles, err := store.LoadSeedFile(path)
	if err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}
	if err := store.Seed(ctx, repo, bundles); err != nil {
		return fmt.Errorf("seed database: %w", err)
	}
	slog.Info("Seed data loaded", "path", path, "heritages", len(bundles))
	return nil
}
