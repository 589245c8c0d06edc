package types

// IdentityFeather is the sentinel feather ID for identity-level conditions
// that target no table.
const IdentityFeather = "_identity"

// MaxCompilableConditions bounds rule complexity for the SQL path; rules
// above it are always evaluated in memory.
const MaxCompilableConditions = 10

// Operator is a closed enum of condition operators. The same enum drives
// both SQL compilation and in-memory evaluation.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpRegex        Operator = "regex"
	OpWildcard     Operator = "wildcard"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
)

// Valid reports whether the operator is a member of the closed set.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpRegex, OpWildcard,
		OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Numeric reports whether the operator compares numerically.
func (o Operator) Numeric() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// RequiresValue reports whether the operator carries a literal. Wildcard is
// the only operator that never binds a SQL parameter.
func (o Operator) RequiresValue() bool {
	return o != OpWildcard
}

// LogicOperator combines a rule's conditions.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Valid reports whether the logic operator is AND or OR.
func (l LogicOperator) Valid() bool {
	return l == LogicAnd || l == LogicOr
}

// Severity grades a rule's finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a member of the closed set.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Scope bounds where a rule applies.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeWing     Scope = "wing"
	ScopePipeline Scope = "pipeline"
)

// Valid reports whether the scope is a member of the closed set.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeWing, ScopePipeline:
		return true
	}
	return false
}

// Condition targets one field of one Feather with one operator.
type Condition struct {
	FeatherID string   `json:"feather_id" yaml:"feather_id"`
	FieldName string   `json:"field_name" yaml:"field_name"`
	Operator  Operator `json:"operator" yaml:"operator"`
	Value     string   `json:"value" yaml:"value"`
}

// IsIdentity reports whether the condition targets the _identity pseudo-
// feather rather than a table.
func (c Condition) IsIdentity() bool {
	return c.FeatherID == IdentityFeather
}

// Rule is a declarative AND/OR combination of conditions that attaches a
// semantic label to a match when satisfied.
type Rule struct {
	RuleID        string        `json:"rule_id" yaml:"rule_id"`
	Name          string        `json:"name" yaml:"name"`
	SemanticValue string        `json:"semantic_value" yaml:"semantic_value"`
	Conditions    []Condition   `json:"conditions" yaml:"conditions"`
	LogicOperator LogicOperator `json:"logic_operator" yaml:"logic_operator"`
	Confidence    float64       `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Severity      Severity      `json:"severity,omitempty" yaml:"severity,omitempty"`
	Scope         Scope         `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Feathers returns the distinct non-identity feather IDs referenced by the
// rule's conditions, in first-appearance order.
func (r *Rule) Feathers() []string {
	seen := make(map[string]bool, len(r.Conditions))
	var feathers []string
	for _, cond := range r.Conditions {
		if cond.IsIdentity() || seen[cond.FeatherID] {
			continue
		}
		seen[cond.FeatherID] = true
		feathers = append(feathers, cond.FeatherID)
	}
	return feathers
}
