package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/errors"
)

// DbCmd represents the db command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the case database",
	Long: `Manage the Strix case database.

Examples:
  strix db migrate --db case.db   # Apply pending schema migrations
  strix db stats --db case.db     # Show match and annotation counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show match and annotation statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// openDatabase migrates as a side effect of opening
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Database %s is up to date\n", cfg.Database.Path)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var totalMatches, annotatedMatches int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&totalMatches); err != nil {
		return errors.Wrap(err, "count matches")
	}
	if err := conn.QueryRow(
		`SELECT COUNT(*) FROM matches WHERE semantic_data IS NOT NULL AND semantic_data NOT IN ('', '{}')`,
	).Scan(&annotatedMatches); err != nil {
		return errors.Wrap(err, "count annotated matches")
	}

	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Matches:           %d\n", totalMatches)
	fmt.Printf("  With annotations:  %d\n", annotatedMatches)
	return nil
}
