package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/cmd/strix/commands"
	"github.com/strix-dfir/strix/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Strix - Semantic rule correlation for forensic artifact matches",
	Long: `Strix - Semantic rule correlation engine.

Strix classifies already-correlated groups of Windows forensic records
("matches") against declarative semantic rules, writing the resulting
annotations back into the case database.

Available commands:
  evaluate - Evaluate semantic rules against matches
  rules    - Inspect and lint rule files
  db       - Manage the case database
  version  - Show version information

Examples:
  strix evaluate chrome.exe --rules ./rules   # Evaluate one identity
  strix evaluate --all --dry-run              # Evaluate everything, no writes
  strix rules lint ./rules                    # Validate rule files
  strix db migrate                            # Apply schema migrations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON structured logs instead of console output")
	commands.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.EvaluateCmd)
	rootCmd.AddCommand(commands.RulesCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
