package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperatorValid(t *testing.T) {
	for _, op := range []Operator{
		OpEquals, OpNotEquals, OpContains, OpRegex, OpWildcard,
		OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual,
	} {
		assert.True(t, op.Valid(), "operator %s should be valid", op)
	}
	assert.False(t, Operator("matches").Valid())
	assert.False(t, Operator("").Valid())
}

func TestOperatorRequiresValue(t *testing.T) {
	assert.False(t, OpWildcard.RequiresValue())
	assert.True(t, OpEquals.RequiresValue())
	assert.True(t, OpRegex.RequiresValue())
}

func TestLogicOperatorValid(t *testing.T) {
	assert.True(t, LogicAnd.Valid())
	assert.True(t, LogicOr.Valid())
	assert.False(t, LogicOperator("XOR").Valid())
}

func TestRuleFeathers(t *testing.T) {
	rule := &Rule{
		Conditions: []Condition{
			{FeatherID: "Prefetch", FieldName: "run_count", Operator: OpGreaterThan, Value: "5"},
			{FeatherID: IdentityFeather, FieldName: "value", Operator: OpContains, Value: "chrome"},
			{FeatherID: "BrowserHistory", FieldName: "url", Operator: OpWildcard},
			{FeatherID: "Prefetch", FieldName: "last_run", Operator: OpWildcard},
		},
	}

	assert.Equal(t, []string{"Prefetch", "BrowserHistory"}, rule.Feathers())
}

func TestConditionIsIdentity(t *testing.T) {
	assert.True(t, Condition{FeatherID: IdentityFeather}.IsIdentity())
	assert.False(t, Condition{FeatherID: "Prefetch"}.IsIdentity())
}
