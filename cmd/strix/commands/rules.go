package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/logger"
	"github.com/strix-dfir/strix/semantic"
)

// RulesCmd represents the rules command
var RulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and lint semantic rule files",
	Long: `Inspect and lint semantic rule files.

Examples:
  strix rules lint ./rules       # Validate every rule file in a directory
  strix rules list ./rules       # List loaded rules and their SQL eligibility`,
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint PATH",
	Short: "Validate rule files without touching a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesLint,
}

var rulesListCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List loaded rules and whether each compiles to SQL",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesList,
}

func init() {
	RulesCmd.AddCommand(rulesLintCmd)
	RulesCmd.AddCommand(rulesListCmd)
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	rules, err := semantic.LoadRules(args[0], logger.Logger)
	if err != nil {
		return err
	}
	fmt.Printf("%d rules OK\n", len(rules))
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := semantic.LoadRules(args[0], logger.Logger)
	if err != nil {
		return err
	}

	qb := semantic.NewQueryBuilder(nil)
	for _, rule := range rules {
		path := "sql"
		if rej := qb.CheckTranslatable(rule); rej != nil {
			path = "in-memory (" + rej.String() + ")"
		}
		fmt.Printf("%-36s %-20s %-8s %d conditions, %s\n",
			rule.RuleID, rule.SemanticValue, string(rule.LogicOperator), len(rule.Conditions), path)
	}
	return nil
}
