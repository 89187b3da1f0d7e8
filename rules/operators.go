package rules

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// OperatorFunc compares a (possibly transformed) field value against the
// condition operand.
type OperatorFunc func(fieldValue, operand any) (bool, error)

// maxRegexPatternLength bounds patterns accepted by the matches operator.
const maxRegexPatternLength = 200

// builtinOperators returns the standard operator table.
func builtinOperators() map[string]OperatorFunc {
	return map[string]OperatorFunc{
		"==":  opLooseEqual,
		"!=":  negate(opLooseEqual),
		"===": opStrictEqual,
		"!==": negate(opStrictEqual),
		">":   numericCompare(func(a, b float64) bool { return a > b }),
		">=":  numericCompare(func(a, b float64) bool { return a >= b }),
		"<":   numericCompare(func(a, b float64) bool { return a < b }),
		"<=":  numericCompare(func(a, b float64) bool { return a <= b }),
		"in":  opIn,
		"not_in": func(v, operand any) (bool, error) {
			ok, err := opIn(v, operand)
			return !ok, err
		},
		"contains":     opContains,
		"not_contains": negate(opContains),
		"starts_with":  stringPair(strings.HasPrefix),
		"ends_with":    stringPair(strings.HasSuffix),
		"matches":      opMatches,
		"between":      opBetween,
	}
}

func negate(op OperatorFunc) OperatorFunc {
	return func(v, operand any) (bool, error) {
		ok, err := op(v, operand)
		return !ok, err
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// opLooseEqual compares numerically when both sides are numeric, otherwise by
// string form. nil equals only nil.
func opLooseEqual(v, operand any) (bool, error) {
	if v == nil || operand == nil {
		return v == nil && operand == nil, nil
	}
	if a, ok := toFloat(v); ok {
		if b, ok := toFloat(operand); ok {
			return a == b, nil
		}
	}
	return fmt.Sprint(v) == fmt.Sprint(operand), nil
}

// opStrictEqual requires matching dynamic types.
func opStrictEqual(v, operand any) (bool, error) {
	if v == nil || operand == nil {
		return v == nil && operand == nil, nil
	}
	if reflect.TypeOf(v) != reflect.TypeOf(operand) {
		return false, nil
	}
	return reflect.DeepEqual(v, operand), nil
}

func numericCompare(cmp func(a, b float64) bool) OperatorFunc {
	return func(v, operand any) (bool, error) {
		a, okA := toFloat(v)
		b, okB := toFloat(operand)
		if !okA || !okB {
			return false, nil
		}
		return cmp(a, b), nil
	}
}

func opIn(v, operand any) (bool, error) {
	items, ok := toSlice(operand)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		if eq, _ := opLooseEqual(v, item); eq {
			return true, nil
		}
	}
	return false, nil
}

// opContains checks substring containment for strings and membership for
// slices.
func opContains(v, operand any) (bool, error) {
	if s, ok := v.(string); ok {
		needle, ok := operand.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(s, needle), nil
	}
	items, ok := toSlice(v)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		if eq, _ := opLooseEqual(item, operand); eq {
			return true, nil
		}
	}
	return false, nil
}

func stringPair(cmp func(s, operand string) bool) OperatorFunc {
	return func(v, operand any) (bool, error) {
		s, okS := v.(string)
		o, okO := operand.(string)
		if !okS || !okO {
			return false, nil
		}
		return cmp(s, o), nil
	}
}

// quantifiedGroupRe flags a quantified group that is itself quantified, the
// classic catastrophic-backtracking shape. Go's RE2 engine is linear, but rule
// definitions are portable data and the validation keeps them safe everywhere.
var quantifiedGroupRe = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*{]`)

// opMatches applies an anchored-as-written regular expression. Patterns that
// are too long, fail the backtracking heuristic or do not compile evaluate to
// false rather than erroring.
func opMatches(v, operand any) (bool, error) {
	s, okS := v.(string)
	pattern, okP := operand.(string)
	if !okS || !okP {
		return false, nil
	}
	if len(pattern) > maxRegexPatternLength || quantifiedGroupRe.MatchString(pattern) {
		return false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, nil
	}
	return re.MatchString(s), nil
}

// opBetween expects a two-element ordered [low, high] pair, inclusive.
func opBetween(v, operand any) (bool, error) {
	bounds, ok := toSlice(operand)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("rules: between expects a two-element pair, got %v", operand)
	}
	n, okN := toFloat(v)
	lo, okLo := toFloat(bounds[0])
	hi, okHi := toFloat(bounds[1])
	if !okN || !okLo || !okHi {
		return false, nil
	}
	return n >= lo && n <= hi, nil
}

func toSlice(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(items))
		for i, n := range items {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
