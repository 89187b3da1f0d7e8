package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorTable(t *testing.T) {
	ops := builtinOperators()
	tests := []struct {
		op      string
		field   any
		operand any
		want    bool
	}{
		{"==", 5, 5.0, true},
		{"==", "a", "a", true},
		{"==", nil, nil, true},
		{"==", nil, "a", false},
		{"!=", 5, 6, true},
		{"===", 5.0, 5.0, true},
		{"===", 5, 5.0, false}, // differing dynamic types
		{"!==", 5, 5.0, true},
		{">", 5, 3, true},
		{">=", 5, 5, true},
		{"<", 2, 3, true},
		{"<=", 4, 3, false},
		{">", "five", 3, false}, // non-numeric never compares
		{"in", "b", []any{"a", "b"}, true},
		{"not_in", "c", []any{"a", "b"}, true},
		{"contains", "hello world", "world", true},
		{"contains", []any{1, 2, 3}, 2, true},
		{"not_contains", "hello", "xyz", true},
		{"starts_with", "user.login", "user.", true},
		{"ends_with", "user.login", ".login", true},
		{"matches", "user-42", `^user-\d+$`, true},
		{"matches", "user-42", `^order-\d+$`, false},
		{"between", 5, []any{1, 10}, true},
		{"between", 11, []any{1, 10}, false},
	}
	for _, tt := range tests {
		fn, ok := ops[tt.op]
		require.True(t, ok, "missing operator %q", tt.op)
		got, err := fn(tt.field, tt.operand)
		require.NoError(t, err, "%s(%v, %v)", tt.op, tt.field, tt.operand)
		assert.Equal(t, tt.want, got, "%s(%v, %v)", tt.op, tt.field, tt.operand)
	}
}

func TestMatchesRejectsOversizedAndBacktrackingPatterns(t *testing.T) {
	got, err := opMatches("aaaa", strings.Repeat("a", maxRegexPatternLength+1))
	require.NoError(t, err)
	assert.False(t, got)

	got, err = opMatches("aaaa", "(a+)+b")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = opMatches("aaaa", "a[")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestBetweenMalformedPair(t *testing.T) {
	_, err := opBetween(5, []any{1})
	assert.Error(t, err)
	_, err = opBetween(5, "1-10")
	assert.Error(t, err)
}
