package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/cmd/engine/expression"
)

func env() expression.Env {
	return expression.Env{
		Input: map[string]any{
			"amount": float64(120),
			"tier":   "gold",
		},
		Results: map[string]map[string]any{
			"check": {"passed": true, "score": float64(0.75)},
		},
	}
}

func TestEvaluate_BooleanLiterals(t *testing.T) {
	for expr, want := range map[string]bool{
		"true":  true,
		"1":     true,
		"false": false,
		"0":     false,
	} {
		got, err := Evaluate(expr, env())
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"$input.amount > 100", true},
		{"$input.amount < 100", false},
		{"$input.amount >= 120", true},
		{"$input.amount <= 119", false},
		{"$input.tier == \"gold\"", true},
		{"$input.tier != \"gold\"", false},
		{"$check.score >= 0.5", true},
		{"100 < 200", true},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.expr, env())
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

// Ordering against something that is not a number is false, never an
// error: an absent field must deactivate the branch, not fail the step.
func TestEvaluate_NonNumericOrderingIsFalse(t *testing.T) {
	for _, expr := range []string{
		"$input.missing > 10",
		"$input.tier > 10",
		"10 < $input.missing",
	} {
		got, err := Evaluate(expr, env())
		require.NoError(t, err, expr)
		assert.False(t, got, expr)
	}
}

func TestEvaluate_EqualityComparesAsStrings(t *testing.T) {
	got, err := Evaluate("$input.amount == 120", env())
	require.NoError(t, err)
	assert.True(t, got)

	// nil stringifies empty, so comparing against "" matches
	got, err = Evaluate(`$input.missing == ""`, env())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_LongestOperatorWins(t *testing.T) {
	// ">=" must not parse as ">" followed by "=120"
	got, err := Evaluate("$input.amount >=120", env())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_BareTokenTruthiness(t *testing.T) {
	got, err := Evaluate("$check.passed", env())
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("$input.missing", env())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_EmptyExpression(t *testing.T) {
	_, err := Evaluate("   ", env())
	assert.Error(t, err)
}
