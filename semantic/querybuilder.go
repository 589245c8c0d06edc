package semantic

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/semantic/types"
)

// RejectReason classifies why the query builder refused a rule. Reasons are
// structured data so the evaluator and tests can assert on why a rule fell
// back to in-memory evaluation.
type RejectReason string

const (
	RejectNoConditions        RejectReason = "no_conditions"
	RejectBadLogicOperator    RejectReason = "bad_logic_operator"
	RejectUnsupportedOperator RejectReason = "unsupported_operator"
	RejectBadFieldName        RejectReason = "bad_field_name"
	RejectTooManyConditions   RejectReason = "too_many_conditions"
	RejectMissingValue        RejectReason = "missing_value"
	RejectNonNumericValue     RejectReason = "non_numeric_value"
	RejectUnknownFeatherTable RejectReason = "unknown_feather_table"
)

// CompileRejection carries the structured reason a rule could not be
// compiled. A nil rejection means the rule is translatable.
type CompileRejection struct {
	Reason RejectReason
	Detail string
}

func (r *CompileRejection) String() string {
	if r == nil {
		return ""
	}
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

// fieldNamePattern accepts plain column names and a single qualified name
// segment. Anything else — parentheses, multiple dots, quotes — is refused
// before the name could ever be interpolated into SQL.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// QueryBuilder deterministically compiles semantic rules into parameterized
// SQL, or refuses. It is pure and stateless; the logger only records why a
// rule fell back.
type QueryBuilder struct {
	logger *zap.SugaredLogger
}

// NewQueryBuilder creates a query builder. logger may be nil.
func NewQueryBuilder(logger *zap.SugaredLogger) *QueryBuilder {
	return &QueryBuilder{logger: logger}
}

// CheckTranslatable reports whether a rule can be compiled to SQL, returning
// the structured rejection when it cannot. The check is conservative: any
// ambiguity refuses, and the caller falls back to in-memory evaluation.
func (qb *QueryBuilder) CheckTranslatable(rule *types.Rule) *CompileRejection {
	if rule == nil || len(rule.Conditions) == 0 {
		return &CompileRejection{Reason: RejectNoConditions}
	}
	if len(rule.Conditions) > types.MaxCompilableConditions {
		return &CompileRejection{
			Reason: RejectTooManyConditions,
			Detail: fmt.Sprintf("%d conditions exceed the limit of %d", len(rule.Conditions), types.MaxCompilableConditions),
		}
	}
	if !rule.LogicOperator.Valid() {
		return &CompileRejection{
			Reason: RejectBadLogicOperator,
			Detail: string(rule.LogicOperator),
		}
	}

	tableConditions := 0
	for _, cond := range rule.Conditions {
		if !cond.Operator.Valid() {
			return &CompileRejection{
				Reason: RejectUnsupportedOperator,
				Detail: string(cond.Operator),
			}
		}
		if cond.IsIdentity() {
			// Identity conditions carry no column and drop out of the
			// WHERE clause entirely
			continue
		}
		tableConditions++

		if !fieldNamePattern.MatchString(cond.FieldName) {
			return &CompileRejection{
				Reason: RejectBadFieldName,
				Detail: cond.FieldName,
			}
		}
		if cond.Operator.RequiresValue() && cond.Value == "" {
			return &CompileRejection{
				Reason: RejectMissingValue,
				Detail: fmt.Sprintf("%s.%s %s", cond.FeatherID, cond.FieldName, cond.Operator),
			}
		}
		if cond.Operator.Numeric() {
			if _, ok := types.String(cond.Value).AsNumber(); !ok {
				return &CompileRejection{
					Reason: RejectNonNumericValue,
					Detail: cond.Value,
				}
			}
		}
	}

	if tableConditions == 0 {
		return &CompileRejection{
			Reason: RejectNoConditions,
			Detail: "all conditions target the identity pseudo-feather",
		}
	}
	return nil
}

// CanTranslate reports whether the rule compiles, logging the reason when it
// does not.
func (qb *QueryBuilder) CanTranslate(rule *types.Rule) bool {
	rej := qb.CheckTranslatable(rule)
	if rej != nil {
		qb.logRejection(rule, rej)
		return false
	}
	return true
}

func (qb *QueryBuilder) logRejection(rule *types.Rule, rej *CompileRejection) {
	if qb.logger == nil || rej == nil {
		return
	}
	ruleID := ""
	if rule != nil {
		ruleID = rule.RuleID
	}
	qb.logger.Infow("Rule cannot be compiled to SQL, falling back to in-memory evaluation",
		"rule_id", ruleID,
		"reason", string(rej.Reason),
		"detail", rej.Detail,
	)
}

// TranslateCondition compiles one condition into a SQL fragment and its bound
// parameter. Wildcard is the only operator with no parameter.
func (qb *QueryBuilder) TranslateCondition(cond types.Condition) (string, interface{}, bool) {
	return translateConditionField(cond.FieldName, cond)
}

// translateConditionField compiles a condition against an explicit field
// expression (the cross-feather builder passes alias-qualified names).
// Callers must have run the structural field-name checks first.
func translateConditionField(field string, cond types.Condition) (string, interface{}, bool) {
	switch cond.Operator {
	case types.OpWildcard:
		return fmt.Sprintf("%s IS NOT NULL AND %s != ''", field, field), nil, true
	case types.OpContains:
		return fmt.Sprintf("%s LIKE ? ESCAPE '\\'", field), "%" + escapeLikePattern(cond.Value) + "%", true
	case types.OpEquals:
		return fmt.Sprintf("%s = ?", field), cond.Value, true
	case types.OpNotEquals:
		return fmt.Sprintf("%s != ?", field), cond.Value, true
	case types.OpRegex:
		return fmt.Sprintf("%s REGEXP ?", field), cond.Value, true
	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterEqual, types.OpLessEqual:
		num, ok := types.String(cond.Value).AsNumber()
		if !ok {
			return "", nil, false
		}
		// CAST pins numeric semantics regardless of column affinity, so a
		// TEXT column holding "12" compares the way the in-memory path does
		return fmt.Sprintf("CAST(%s AS REAL) %s ?", field, comparisonSQL(cond.Operator)), num, true
	}
	return "", nil, false
}

func comparisonSQL(op types.Operator) string {
	switch op {
	case types.OpGreaterThan:
		return ">"
	case types.OpLessThan:
		return "<"
	case types.OpGreaterEqual:
		return ">="
	case types.OpLessEqual:
		return "<="
	}
	return ""
}

// escapeLikePattern escapes special characters in LIKE patterns for the SQL
// ESCAPE clause
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// CombineConditions wraps every fragment in parentheses and joins them with
// the rule's logic operator.
func (qb *QueryBuilder) CombineConditions(fragments []string, logic types.LogicOperator) string {
	wrapped := make([]string, len(fragments))
	for i, frag := range fragments {
		wrapped[i] = "(" + frag + ")"
	}
	return strings.Join(wrapped, " "+string(logic)+" ")
}

// BuildQueryFromRule compiles a rule into a single-table SELECT. It returns
// ok=false (triggering fallback) when any condition fails to translate.
func (qb *QueryBuilder) BuildQueryFromRule(rule *types.Rule, tableName string) (string, []interface{}, bool) {
	if rej := qb.CheckTranslatable(rule); rej != nil {
		qb.logRejection(rule, rej)
		return "", nil, false
	}

	var fragments []string
	var params []interface{}
	for _, cond := range rule.Conditions {
		if cond.IsIdentity() {
			continue
		}
		frag, param, ok := translateConditionField(cond.FieldName, cond)
		if !ok {
			qb.logRejection(rule, &CompileRejection{
				Reason: RejectUnsupportedOperator,
				Detail: string(cond.Operator),
			})
			return "", nil, false
		}
		fragments = append(fragments, frag)
		if param != nil {
			params = append(params, param)
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s",
		tableName, qb.CombineConditions(fragments, rule.LogicOperator))
	return query, params, true
}

// BuildIdentityVerdictQuery compiles a rule into a single-row SELECT whose
// value is the rule's verdict for one identity. Every non-identity condition
// becomes an EXISTS subquery over its Feather's table scoped to the identity
// pattern, and the subqueries are combined with the rule's logic operator.
// Because each condition checks its feather's table independently, one may be
// satisfied by a different row than its neighbors — the same semantics the
// in-memory evaluator applies to record lists. A Feather with no known table
// refuses the whole query.
func (qb *QueryBuilder) BuildIdentityVerdictQuery(rule *types.Rule, tableByFeather map[string]string, identityPattern string) (string, []interface{}, bool) {
	if rej := qb.CheckTranslatable(rule); rej != nil {
		qb.logRejection(rule, rej)
		return "", nil, false
	}

	var fragments []string
	var params []interface{}
	for _, cond := range rule.Conditions {
		if cond.IsIdentity() {
			// No column to check; the caller resolves identity conditions
			// against the identity string itself
			continue
		}
		table := tableByFeather[cond.FeatherID]
		if table == "" {
			qb.logRejection(rule, &CompileRejection{
				Reason: RejectUnknownFeatherTable,
				Detail: cond.FeatherID,
			})
			return "", nil, false
		}
		frag, param, ok := translateConditionField(cond.FieldName, cond)
		if !ok {
			qb.logRejection(rule, &CompileRejection{
				Reason: RejectUnsupportedOperator,
				Detail: string(cond.Operator),
			})
			return "", nil, false
		}
		fragments = append(fragments, fmt.Sprintf(
			"EXISTS(SELECT 1 FROM %s WHERE (%s) AND identity_key LIKE ? ESCAPE '\\')",
			table, frag))
		if param != nil {
			params = append(params, param)
		}
		params = append(params, identityPattern)
	}

	query := "SELECT " + qb.CombineConditions(fragments, rule.LogicOperator)
	return query, params, true
}

// BuildCrossFeatherQuery compiles a rule whose conditions span multiple
// Feathers into a JOIN on identity_key. Each referenced Feather gets a short
// deterministic alias (t1, t2, ... by sorted feather ID) and every
// condition's field is qualified with its Feather's alias. A Feather with no
// known table refuses the whole query.
func (qb *QueryBuilder) BuildCrossFeatherQuery(rule *types.Rule, tableByFeather map[string]string) (string, []interface{}, bool) {
	if rej := qb.CheckTranslatable(rule); rej != nil {
		qb.logRejection(rule, rej)
		return "", nil, false
	}

	feathers := rule.Feathers()
	sort.Strings(feathers)

	aliases := make(map[string]string, len(feathers))
	for i, featherID := range feathers {
		if tableByFeather[featherID] == "" {
			qb.logRejection(rule, &CompileRejection{
				Reason: RejectUnknownFeatherTable,
				Detail: featherID,
			})
			return "", nil, false
		}
		aliases[featherID] = fmt.Sprintf("t%d", i+1)
	}

	var from strings.Builder
	fmt.Fprintf(&from, "%s AS %s", tableByFeather[feathers[0]], aliases[feathers[0]])
	for _, featherID := range feathers[1:] {
		alias := aliases[featherID]
		fmt.Fprintf(&from, " JOIN %s AS %s ON t1.identity_key = %s.identity_key",
			tableByFeather[featherID], alias, alias)
	}

	var fragments []string
	var params []interface{}
	for _, cond := range rule.Conditions {
		if cond.IsIdentity() {
			// No column to constrain; the identity is already the join key
			continue
		}
		qualified := aliases[cond.FeatherID] + "." + cond.FieldName
		frag, param, ok := translateConditionField(qualified, cond)
		if !ok {
			qb.logRejection(rule, &CompileRejection{
				Reason: RejectUnsupportedOperator,
				Detail: string(cond.Operator),
			})
			return "", nil, false
		}
		fragments = append(fragments, frag)
		if param != nil {
			params = append(params, param)
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s",
		from.String(), qb.CombineConditions(fragments, rule.LogicOperator))
	return query, params, true
}
