package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	Long: `Apply pending PostgreSQL migrations and print the schema version.
serve runs migrations automatically; this command exists for deploy pipelines
and for rolling back with --down.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("down", false, "Roll back every migration (drops all data)")
	migrateCmd.Flags().Bool("status", false, "Only print the current schema version")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := requireDatabase(); err != nil {
		return err
	}
	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to PostgreSQL...")
	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	switch {
	case mustGetBool(cmd, "status"):
	case mustGetBool(cmd, "down"):
		fmt.Println("Rolling back all migrations...")
		if err := pool.MigrateDown(ctx); err != nil {
			return err
		}
	default:
		fmt.Println("Applying migrations...")
		if err := pool.Migrate(ctx); err != nil {
			return err
		}
	}

	version, dirty, err := pool.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Println("Schema version: none")
		return nil
	}
	fmt.Printf("Schema version: %d", version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}
