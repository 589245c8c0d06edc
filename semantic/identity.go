// Package semantic implements the semantic rule correlation engine: it
// classifies already-correlated groups of forensic records ("matches")
// against declarative rules, compiling rules to parameterized SQL when
// possible and evaluating them in memory otherwise.
package semantic

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// FilterReason explains why an identity candidate was rejected. The empty
// reason means the value was accepted.
type FilterReason string

const (
	FilterNone           FilterReason = ""
	FilterEmpty          FilterReason = "empty"
	FilterBoolean        FilterReason = "boolean"
	FilterNumeric        FilterReason = "numeric"
	FilterTooShort       FilterReason = "too_short"
	FilterNoAlphanumeric FilterReason = "no_alphanumeric"
)

// exemptFieldPattern matches field names whose values are identifiers by
// construction (GUIDs, counters, hashes); those skip noise filtering and
// are checked for emptiness only.
var exemptFieldPattern = regexp.MustCompile(`(?i)(^|[_-])(id|guid|uuid|count|hash|index|offset|seq)([_-]|$)`)

// driveLetterPattern matches the two-character drive spelling "X:", the one
// short value worth correlating on.
var driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:$`)

// booleanSpellings are value strings that carry no identity information.
// Lookup happens on the lowercased value, covering case variants.
var booleanSpellings = map[string]bool{
	"true": true, "false": true,
	"yes": true, "no": true,
	"1": true, "0": true,
}

// ValidatorStats is a snapshot of filter counters, for diagnostics only.
type ValidatorStats struct {
	Total    int
	ByReason map[FilterReason]int
}

// Validator filters noise values out of candidate identity strings before
// they are used as correlation keys or rule targets.
type Validator struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	total    int
	byReason map[FilterReason]int
}

// NewValidator creates an identity validator. logger may be nil.
func NewValidator(logger *zap.SugaredLogger) *Validator {
	return &Validator{
		logger:   logger,
		byReason: make(map[FilterReason]int),
	}
}

// Validate checks a candidate identity value. It returns the trimmed value
// and FilterNone on acceptance, or "" and the rejection reason. fieldName
// may be empty when the value has no source field.
func (v *Validator) Validate(value, fieldName string) (string, FilterReason) {
	trimmed := strings.TrimSpace(value)

	if trimmed == "" {
		return v.reject(FilterEmpty, value, fieldName)
	}

	// Identifier-shaped fields carry meaning regardless of value shape;
	// only emptiness disqualifies them
	if fieldName != "" && exemptFieldPattern.MatchString(fieldName) {
		return trimmed, FilterNone
	}

	if booleanSpellings[strings.ToLower(trimmed)] {
		return v.reject(FilterBoolean, value, fieldName)
	}

	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return v.reject(FilterNumeric, value, fieldName)
	}

	if len(trimmed) < 2 && !driveLetterPattern.MatchString(trimmed) {
		return v.reject(FilterTooShort, value, fieldName)
	}

	if !hasAlphanumeric(trimmed) {
		return v.reject(FilterNoAlphanumeric, value, fieldName)
	}

	return trimmed, FilterNone
}

// IsValid reports whether a value passes validation without returning it.
func (v *Validator) IsValid(value, fieldName string) bool {
	_, reason := v.Validate(value, fieldName)
	return reason == FilterNone
}

func (v *Validator) reject(reason FilterReason, value, fieldName string) (string, FilterReason) {
	v.mu.Lock()
	v.total++
	v.byReason[reason]++
	v.mu.Unlock()

	if v.logger != nil {
		v.logger.Debugw("Identity candidate filtered",
			"reason", string(reason),
			"field", fieldName,
			"value", value,
		)
	}
	return "", reason
}

// Stats returns a snapshot of the running filter counters.
func (v *Validator) Stats() ValidatorStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	byReason := make(map[FilterReason]int, len(v.byReason))
	for reason, n := range v.byReason {
		byReason[reason] = n
	}
	return ValidatorStats{Total: v.total, ByReason: byReason}
}

// ResetStats zeroes the running filter counters.
func (v *Validator) ResetStats() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total = 0
	v.byReason = make(map[FilterReason]int)
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
