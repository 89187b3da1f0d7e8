package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericFunctions(t *testing.T) {
	fns := builtinFunctions()
	tests := []struct {
		fn   string
		in   any
		want any
	}{
		{"abs", -4.5, 4.5},
		{"round", 2.5, 3.0},
		{"floor", 2.9, 2.0},
		{"ceil", 2.1, 3.0},
		{"min", []any{4, 2, 9}, 2.0},
		{"max", []any{4, 2, 9}, 9.0},
		{"length", "hello", 5.0},
		{"length", []any{1, 2}, 2.0},
		{"lowercase", "HeLLo", "hello"},
		{"uppercase", "hello", "HELLO"},
		{"trim", "  x  ", "x"},
	}
	for _, tt := range tests {
		fn, ok := fns[tt.fn]
		require.True(t, ok, "missing function %q", tt.fn)
		got, err := fn(tt.in)
		require.NoError(t, err, "%s(%v)", tt.fn, tt.in)
		assert.Equal(t, tt.want, got, "%s(%v)", tt.fn, tt.in)
	}
}

func TestNowReturnsEpochMillis(t *testing.T) {
	fn := builtinFunctions()["now"]
	got, err := fn(nil)
	require.NoError(t, err)
	ms, ok := got.(float64)
	require.True(t, ok)
	assert.InDelta(t, float64(time.Now().UnixMilli()), ms, 5000)
}

func TestRandomIntNormalizesInvertedBounds(t *testing.T) {
	fn := builtinFunctions()["randomInt"]
	for i := 0; i < 50; i++ {
		got, err := fn([]any{10, 3})
		require.NoError(t, err)
		n := got.(float64)
		assert.GreaterOrEqual(t, n, 3.0)
		assert.LessOrEqual(t, n, 10.0)
	}
}

func TestRandomInUnitInterval(t *testing.T) {
	fn := builtinFunctions()["random"]
	got, err := fn(nil)
	require.NoError(t, err)
	n := got.(float64)
	assert.GreaterOrEqual(t, n, 0.0)
	assert.Less(t, n, 1.0)
}

func TestDateFormats(t *testing.T) {
	fn := builtinFunctions()["date"]
	got, err := fn(float64(0))
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01T00:00:00Z", got)

	_, err = fn("not-a-date")
	assert.Error(t, err)
}

func TestAggregateRejectsEmptyList(t *testing.T) {
	fn := builtinFunctions()["min"]
	_, err := fn([]any{})
	assert.Error(t, err)
}
