package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRulesLint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(`rules:
  - rule_id: browser-activity
    semantic_value: browser_usage
    conditions:
      - feather_id: prefetch
        field_name: run_count
        operator: greater_than
        value: "5"
`), 0o644))

	assert.NoError(t, runRulesLint(rulesLintCmd, []string{dir}))
}

func TestRunRulesLintRejectsBrokenRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(`rules:
  - semantic_value: x
    conditions: []
`), 0o644))

	assert.Error(t, runRulesLint(rulesLintCmd, []string{dir}))
}

func TestRunRulesList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(`rules:
  - rule_id: bad-field
    semantic_value: x
    conditions:
      - feather_id: prefetch
        field_name: "path; DROP TABLE matches"
        operator: equals
        value: y
`), 0o644))

	assert.NoError(t, runRulesList(rulesListCmd, []string{dir}))
}

func TestEvaluateEndToEnd(t *testing.T) {
	dir := t.TempDir()
	rulesFile := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesFile, []byte(`rules:
  - rule_id: browser-activity
    semantic_value: browser_usage
    conditions:
      - feather_id: prefetch
        field_name: run_count
        operator: greater_than
        value: "5"
`), 0o644))

	dbPath := filepath.Join(dir, "case.db")

	cfgBak, dbBak := configPath, dbPathFlag
	rulesBak, allBak := evalRulesPath, evalAll
	t.Cleanup(func() {
		configPath, dbPathFlag = cfgBak, dbBak
		evalRulesPath, evalAll = rulesBak, allBak
	})
	configPath = ""
	dbPathFlag = dbPath
	evalRulesPath = rulesFile
	evalAll = false

	// Migrate creates the schema, then seed one match
	cfg, err := loadConfig()
	require.NoError(t, err)
	conn, err := openDatabase(cfg)
	require.NoError(t, err)
	_, err = conn.Exec(
		`INSERT INTO matches (match_id, feather_records, matched_application)
		 VALUES ('m1', '{"prefetch": [{"run_count": 12}]}', 'chrome.exe')`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, runEvaluate(EvaluateCmd, []string{"chrome.exe"}))

	conn, err = openDatabase(cfg)
	require.NoError(t, err)
	defer conn.Close()
	var raw string
	require.NoError(t, conn.QueryRow(`SELECT semantic_data FROM matches WHERE match_id = 'm1'`).Scan(&raw))
	assert.Contains(t, raw, "browser_usage")
}
