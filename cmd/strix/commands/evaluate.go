package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/feather"
	"github.com/strix-dfir/strix/logger"
	"github.com/strix-dfir/strix/semantic"
	"github.com/strix-dfir/strix/semantic/types"
)

// EvaluateCmd represents the evaluate command
var EvaluateCmd = &cobra.Command{
	Use:   "evaluate [identity]",
	Short: "Evaluate semantic rules against matches",
	Long: `Evaluate semantic rules against correlated matches.

With an identity argument, only matches referencing that identity are
evaluated. With --all, every match in the case database is evaluated.
Results are merged into each match's semantic annotations unless --dry-run
is given.

Examples:
  strix evaluate chrome.exe --rules ./rules
  strix evaluate --all --limit 1000 --rules ./rules
  strix evaluate chrome.exe --rules ./rules --dry-run --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

var (
	evalRulesPath     string
	evalAll           bool
	evalLimit         int
	evalDryRun        bool
	evalMinIndicators int
	evalQueryPath     bool
	evalFTS           bool
	evalOutput        string
	evalFeathers      []string
)

func init() {
	EvaluateCmd.Flags().StringVar(&evalRulesPath, "rules", "", "Rule file or directory (overrides config)")
	EvaluateCmd.Flags().BoolVar(&evalAll, "all", false, "Evaluate every match instead of one identity")
	EvaluateCmd.Flags().IntVar(&evalLimit, "limit", 0, "Maximum matches to evaluate with --all (0 = no limit)")
	EvaluateCmd.Flags().BoolVar(&evalDryRun, "dry-run", false, "Compute results without writing them back")
	EvaluateCmd.Flags().IntVar(&evalMinIndicators, "min-indicators", 0, "Distinct satisfied conditions required per rule (overrides config)")
	EvaluateCmd.Flags().BoolVar(&evalQueryPath, "query-path", false, "Compile eligible rules to SQL")
	EvaluateCmd.Flags().BoolVar(&evalFTS, "fts", false, "Use FTS5 identity lookup when available")
	EvaluateCmd.Flags().StringVar(&evalOutput, "output", "text", "Output format: text or json")
	EvaluateCmd.Flags().StringArrayVar(&evalFeathers, "feather", nil,
		"Feather database as id=path, attached for the SQL query path (repeatable)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if !evalAll && len(args) == 0 {
		return errors.New("an identity argument or --all is required")
	}
	if evalOutput != "text" && evalOutput != "json" {
		return errors.Newf("unknown output format %q", evalOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rulesPath := cfg.Semantic.RulesPath
	if evalRulesPath != "" {
		rulesPath = evalRulesPath
	}
	if rulesPath == "" {
		return errors.New("no rules path: set --rules or semantic.rules_path in config")
	}

	rules, err := semantic.LoadRules(rulesPath, logger.Logger)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return errors.Newf("no rules found under %s", rulesPath)
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := semantic.Options{
		MinIndicatorsRequired: cfg.Semantic.MinIndicatorsRequired,
		UseQueryPath:          cfg.Semantic.UseQueryPath || evalQueryPath,
		EnableFTS:             cfg.Semantic.EnableFTS || evalFTS,
	}
	if evalMinIndicators > 0 {
		opts.MinIndicatorsRequired = evalMinIndicators
	}

	if len(evalFeathers) > 0 {
		opts.FeatherTables, err = attachFeathers(conn, evalFeathers)
		if err != nil {
			return err
		}
	}

	eval, err := semantic.NewEvaluator(conn, opts, logger.Logger)
	if err != nil {
		return err
	}

	var matches []*types.Match
	if evalAll {
		matches, err = eval.EvaluateAllMatches(rules, evalLimit, !evalDryRun)
	} else {
		matches, err = eval.EvaluateIdentityMatches(args[0], rules, !evalDryRun)
	}
	if err != nil {
		return err
	}

	if evalOutput == "json" {
		return printMatchesJSON(matches)
	}
	printMatchesText(matches, evalDryRun)
	return nil
}

var featherIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// attachFeathers attaches each id=path Feather database to the case
// connection and maps its feather ID to the schema-qualified data table, so
// the compiled query path can join on identity_key.
func attachFeathers(conn *sql.DB, specs []string) (map[string]string, error) {
	tables := make(map[string]string, len(specs))
	for _, spec := range specs {
		featherID, path, found := strings.Cut(spec, "=")
		if !found || featherID == "" || path == "" {
			return nil, errors.Newf("invalid --feather %q, expected id=path", spec)
		}
		if !featherIDPattern.MatchString(featherID) {
			return nil, errors.Newf("invalid feather ID %q", featherID)
		}

		fdb, err := feather.Open(path, logger.Logger)
		if err != nil {
			return nil, errors.Wrapf(err, "open feather %s", featherID)
		}
		table, err := feather.ResolveTableName(fdb)
		fdb.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "resolve data table of feather %s", featherID)
		}

		schema := "f_" + featherID
		if _, err := conn.Exec("ATTACH DATABASE ? AS "+schema, path); err != nil {
			return nil, errors.Wrapf(err, "attach feather %s", featherID)
		}
		tables[featherID] = schema + "." + table
	}
	return tables, nil
}

func printMatchesText(matches []*types.Match, dryRun bool) {
	annotated := 0
	for _, m := range matches {
		if len(m.SemanticData) == 0 {
			continue
		}
		annotated++
		fmt.Printf("%s  %s\n", m.MatchID, m.Application)
		for _, result := range m.SemanticData {
			fmt.Printf("  %-24s %s (confidence %.2f, feathers %v)\n",
				result.RuleID, result.SemanticValue, result.Confidence, result.MatchedFeathers)
		}
	}

	fmt.Printf("\n%d matches evaluated, %d with semantic annotations", len(matches), annotated)
	if dryRun {
		fmt.Print(" (dry run, nothing written)")
	}
	fmt.Println()
}

func printMatchesJSON(matches []*types.Match) error {
	type annotatedMatch struct {
		MatchID      string                        `json:"match_id"`
		Application  string                        `json:"matched_application"`
		FilePath     string                        `json:"matched_file_path"`
		SemanticData map[string]*types.MatchResult `json:"semantic_data"`
	}

	out := make([]annotatedMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, annotatedMatch{
			MatchID:      m.MatchID,
			Application:  m.Application,
			FilePath:     m.FilePath,
			SemanticData: m.SemanticData,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
