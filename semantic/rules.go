package semantic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/semantic/types"
)

// ruleFile is the on-disk shape of a rule file, JSON or YAML.
type ruleFile struct {
	Rules []*types.Rule `json:"rules" yaml:"rules"`
}

// LoadRules loads semantic rules from a file or from every rule file in a
// directory (non-recursive, .json/.yaml/.yml). Rules are normalized and
// validated; an invalid rule fails the whole load so a typo never silently
// drops a detection. Duplicate rule IDs keep the first occurrence.
func LoadRules(path string, logger *zap.SugaredLogger) ([]*types.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat rules path %s", path)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read rules directory %s", path)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isRuleFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var rules []*types.Rule
	seen := map[string]string{} // rule ID -> file it came from
	for _, file := range files {
		loaded, err := loadRuleFile(file)
		if err != nil {
			return nil, err
		}
		for _, rule := range loaded {
			if err := normalizeRule(rule); err != nil {
				return nil, errors.Wrapf(err, "rule %q in %s", rule.Name, file)
			}
			if origin, dup := seen[rule.RuleID]; dup {
				if logger != nil {
					logger.Warnw("Duplicate rule ID, keeping the first occurrence",
						"rule_id", rule.RuleID,
						"kept_from", origin,
						"dropped_from", file,
					)
				}
				continue
			}
			seen[rule.RuleID] = file
			rules = append(rules, rule)
		}
	}

	if logger != nil {
		logger.Infow("Rules loaded",
			"path", path,
			"files", len(files),
			"rules", len(rules),
		)
	}
	return rules, nil
}

func isRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadRuleFile(path string) ([]*types.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read rule file %s", path)
	}

	var file ruleFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, errors.Wrapf(err, "parse rule file %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, errors.Wrapf(err, "parse rule file %s", path)
		}
	default:
		return nil, errors.Newf("unsupported rule file extension: %s", path)
	}
	return file.Rules, nil
}

// normalizeRule fills defaults and validates a loaded rule in place: a
// missing rule ID gets a generated UUID, the logic operator defaults to AND,
// confidence clamps to [0, 1], and severity and scope default to medium and
// global.
func normalizeRule(rule *types.Rule) error {
	if rule == nil {
		return errors.NewInvalidRuleError("rule is null")
	}
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	if rule.SemanticValue == "" {
		return errors.NewInvalidRuleError("semantic_value is required")
	}
	if len(rule.Conditions) == 0 {
		return errors.NewInvalidRuleError("at least one condition is required")
	}

	if rule.LogicOperator == "" {
		rule.LogicOperator = types.LogicAnd
	}
	if !rule.LogicOperator.Valid() {
		return errors.NewInvalidRuleError("unknown logic operator %q", rule.LogicOperator)
	}

	for i, cond := range rule.Conditions {
		if !cond.Operator.Valid() {
			return errors.NewInvalidRuleError("condition %d: unknown operator %q", i, cond.Operator)
		}
		if cond.FeatherID == "" {
			return errors.NewInvalidRuleError("condition %d: feather_id is required", i)
		}
		if !cond.IsIdentity() && cond.FieldName == "" {
			return errors.NewInvalidRuleError("condition %d: field_name is required", i)
		}
		if cond.Operator.RequiresValue() && cond.Value == "" {
			return errors.NewInvalidRuleError("condition %d: operator %s requires a value", i, cond.Operator)
		}
	}

	if rule.Confidence < 0 {
		rule.Confidence = 0
	}
	if rule.Confidence > 1 {
		rule.Confidence = 1
	}

	if rule.Severity == "" {
		rule.Severity = types.SeverityMedium
	}
	if !rule.Severity.Valid() {
		return errors.NewInvalidRuleError("unknown severity %q", rule.Severity)
	}

	if rule.Scope == "" {
		rule.Scope = types.ScopeGlobal
	}
	if !rule.Scope.Valid() {
		return errors.NewInvalidRuleError("unknown scope %q", rule.Scope)
	}
	return nil
}
