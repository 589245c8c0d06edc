package semantic

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/semantic/types"
)

// evalRegexCache holds compiled condition patterns. Invalid patterns are
// cached as nil so the compile error is logged once per pattern, not once
// per record.
var (
	evalRegexMu    sync.Mutex
	evalRegexCache = map[string]*regexp.Regexp{}
)

// matchOperator is the single predicate driving the in-memory path. Its
// semantics mirror the SQL the query builder emits for the same operator,
// which is what makes the two paths mechanically comparable:
//
//	equals/not_equals  string equality, numeric when both sides are numeric
//	contains           case-insensitive substring (SQL LIKE)
//	wildcard           field present, non-null, non-empty
//	regex              case-insensitive; invalid pattern never matches
//	comparisons        CAST-to-REAL numeric comparison
func matchOperator(op types.Operator, field types.Value, literal string, logger *zap.SugaredLogger) bool {
	switch op {
	case types.OpWildcard:
		return !field.IsNull() && field.AsString() != ""

	case types.OpEquals:
		return valuesEqual(field, literal)

	case types.OpNotEquals:
		if field.IsNull() {
			// SQL: NULL != ? is not true
			return false
		}
		return !valuesEqual(field, literal)

	case types.OpContains:
		if field.IsNull() {
			return false
		}
		return strings.Contains(
			strings.ToLower(field.AsString()),
			strings.ToLower(literal),
		)

	case types.OpRegex:
		if field.IsNull() {
			return false
		}
		re := compileConditionRegex(literal, logger)
		if re == nil {
			return false
		}
		return re.MatchString(field.AsString())

	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterEqual, types.OpLessEqual:
		return compareNumeric(op, field, literal)
	}

	return false
}

func valuesEqual(field types.Value, literal string) bool {
	if field.IsNull() {
		return false
	}
	if field.Kind() == types.KindNumber {
		if lit, ok := types.String(literal).AsNumber(); ok {
			num, _ := field.AsNumber()
			return num == lit
		}
	}
	return field.AsString() == literal
}

func compareNumeric(op types.Operator, field types.Value, literal string) bool {
	if field.IsNull() {
		return false
	}
	lit, ok := types.String(literal).AsNumber()
	if !ok {
		return false
	}
	// CAST AS REAL semantics: non-numeric field content coerces to 0
	num, _ := field.AsNumber()

	switch op {
	case types.OpGreaterThan:
		return num > lit
	case types.OpLessThan:
		return num < lit
	case types.OpGreaterEqual:
		return num >= lit
	case types.OpLessEqual:
		return num <= lit
	}
	return false
}

func compileConditionRegex(pattern string, logger *zap.SugaredLogger) *regexp.Regexp {
	evalRegexMu.Lock()
	defer evalRegexMu.Unlock()

	if re, seen := evalRegexCache[pattern]; seen {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		if logger != nil {
			logger.Errorw("Invalid rule regex pattern, treating as non-match",
				"pattern", pattern,
				"error", err,
			)
		}
		evalRegexCache[pattern] = nil
		return nil
	}
	evalRegexCache[pattern] = re
	return re
}
