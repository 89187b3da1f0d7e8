package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluateRuleLeafOperators(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name: "big-purchase",
		Conditions: Condition{
			All: []Condition{
				{Field: "event", Operator: "==", Value: "purchase.complete"},
				{Field: "data.amount", Operator: ">=", Value: 100},
			},
		},
	}))

	passing := map[string]any{
		"event": "purchase.complete",
		"data":  map[string]any{"amount": 150.0},
	}
	result, err := engine.EvaluateRule("big-purchase", passing)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	failing := map[string]any{
		"event": "purchase.complete",
		"data":  map[string]any{"amount": 50},
	}
	result, err = engine.EvaluateRule("big-purchase", failing)
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestEvaluateRuleUnknown(t *testing.T) {
	engine := New(Config{})
	_, err := engine.EvaluateRule("missing", nil)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestDisabledRuleNeverPasses(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "off",
		Enabled:    boolPtr(false),
		Conditions: Condition{},
	}))
	result, err := engine.EvaluateRule("off", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "disabled", result.Reason)
}

func TestAnyNotAndBackReference(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name: "mixed",
		Conditions: Condition{
			Any: []Condition{
				{Field: "data.tier", Operator: "==", Value: "gold"},
				{Not: &Condition{Field: "data.count", Operator: "<", Value: 3}},
			},
		},
	}))
	require.NoError(t, engine.AddRule(Rule{
		Name: "backref",
		Conditions: Condition{
			Field: "data.spent", Operator: ">=", Value: "$data.budget",
		},
	}))

	result, err := engine.EvaluateRule("mixed", map[string]any{
		"data": map[string]any{"tier": "silver", "count": 5},
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)

	result, err = engine.EvaluateRule("backref", map[string]any{
		"data": map[string]any{"spent": 120, "budget": 100},
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestPrototypePollutionPathsResolveAbsent(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "proto",
		Conditions: Condition{Field: "__proto__.polluted", Operator: "==", Value: "yes"},
	}))
	result, err := engine.EvaluateRule("proto", map[string]any{
		"__proto__": map[string]any{"polluted": "yes"},
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestUnknownOperatorAndFunctionSurfaceOnResult(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "bad-op",
		Conditions: Condition{Field: "x", Operator: "~=", Value: 1},
	}))
	result, err := engine.EvaluateRule("bad-op", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.ErrorIs(t, result.Err, ErrUnknownOperator)

	require.NoError(t, engine.AddRule(Rule{
		Name:       "bad-fn",
		Conditions: Condition{Field: "x", Operator: "==", Value: 1, Function: "sparkle"},
	}))
	result, err = engine.EvaluateRule("bad-fn", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.ErrorIs(t, result.Err, ErrUnknownFunction)
}

func TestEvaluatePriorityAndStopOnMatch(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{Name: "low", Priority: 1}))
	require.NoError(t, engine.AddRule(Rule{Name: "high", Priority: 10, StopOnMatch: true}))
	require.NoError(t, engine.AddRule(Rule{
		Name:       "never",
		Priority:   5,
		Conditions: Condition{Field: "x", Operator: "==", Value: 1},
	}))

	result := engine.Evaluate(map[string]any{})
	// "high" passes first and halts iteration.
	require.Len(t, result.Results, 1)
	assert.Equal(t, []string{"high"}, result.Passed)
}

func TestEvaluateIsolatesPerRuleErrors(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "broken",
		Priority:   10,
		Conditions: Condition{Field: "x", Operator: "~=", Value: 1},
	}))
	require.NoError(t, engine.AddRule(Rule{Name: "fine", Priority: 1}))

	result := engine.Evaluate(map[string]any{"x": 1})
	require.Len(t, result.Results, 2)
	assert.Equal(t, []string{"fine"}, result.Passed)
	assert.Equal(t, []string{"broken"}, result.Failed)
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	engine := New(Config{CacheExpiry: time.Minute})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "cached",
		Conditions: Condition{Field: "x", Operator: "==", Value: 1},
	}))

	ctx := map[string]any{"x": 1}
	result, err := engine.EvaluateRule("cached", ctx)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// Replacing the rule must clear the cached verdict.
	require.NoError(t, engine.AddRule(Rule{
		Name:       "cached",
		Conditions: Condition{Field: "x", Operator: "==", Value: 2},
	}))
	result, err = engine.EvaluateRule("cached", ctx)
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestRemoveRule(t *testing.T) {
	engine := New(Config{})
	require.NoError(t, engine.AddRule(Rule{Name: "gone"}))
	require.NoError(t, engine.RemoveRule("gone"))
	assert.ErrorIs(t, engine.RemoveRule("gone"), ErrRuleNotFound)

	result := engine.Evaluate(map[string]any{})
	assert.Empty(t, result.Passed)
}

func TestCustomOperatorAndFunction(t *testing.T) {
	engine := New(Config{})
	engine.AddOperator("divisible_by", func(v, operand any) (bool, error) {
		a, okA := toFloat(v)
		b, okB := toFloat(operand)
		if !okA || !okB || b == 0 {
			return false, nil
		}
		return int64(a)%int64(b) == 0, nil
	})
	engine.AddFunction("double", func(v any) (any, error) {
		n, _ := toFloat(v)
		return n * 2, nil
	})
	require.NoError(t, engine.AddRule(Rule{
		Name:       "custom",
		Conditions: Condition{Field: "n", Operator: "divisible_by", Value: 6, Function: "double"},
	}))
	result, err := engine.EvaluateRule("custom", map[string]any{"n": 3})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}
