package rules

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// FunctionFunc transforms a field value before the operator comparison.
type FunctionFunc func(v any) (any, error)

// builtinFunctions returns the standard transform table.
func builtinFunctions() map[string]FunctionFunc {
	return map[string]FunctionFunc{
		"now": func(any) (any, error) {
			return float64(time.Now().UnixMilli()), nil
		},
		"date":      fnDate,
		"abs":       numericFn(math.Abs),
		"round":     numericFn(math.Round),
		"floor":     numericFn(math.Floor),
		"ceil":      numericFn(math.Ceil),
		"min":       aggregateFn(math.Min),
		"max":       aggregateFn(math.Max),
		"length":    fnLength,
		"lowercase": stringFn(strings.ToLower),
		"uppercase": stringFn(strings.ToUpper),
		"trim":      stringFn(strings.TrimSpace),
		"random": func(any) (any, error) {
			return rand.Float64(), nil
		},
		"randomInt": fnRandomInt,
	}
}

// fnDate renders a timestamp as RFC 3339. Numeric input is epoch
// milliseconds; string input is parsed as RFC 3339; nil means now.
func fnDate(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return time.Now().UTC().Format(time.RFC3339), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, fmt.Errorf("rules: date: %w", err)
		}
		return parsed.UTC().Format(time.RFC3339), nil
	default:
		ms, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("rules: date: unsupported value %v", v)
		}
		return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339), nil
	}
}

func numericFn(fn func(float64) float64) FunctionFunc {
	return func(v any) (any, error) {
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("rules: expected number, got %T", v)
		}
		return fn(n), nil
	}
}

// aggregateFn folds a numeric slice with the given pairwise reducer.
func aggregateFn(fn func(a, b float64) float64) FunctionFunc {
	return func(v any) (any, error) {
		items, ok := toSlice(v)
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("rules: expected non-empty numeric list, got %v", v)
		}
		acc, ok := toFloat(items[0])
		if !ok {
			return nil, fmt.Errorf("rules: expected number, got %T", items[0])
		}
		for _, item := range items[1:] {
			n, ok := toFloat(item)
			if !ok {
				return nil, fmt.Errorf("rules: expected number, got %T", item)
			}
			acc = fn(acc, n)
		}
		return acc, nil
	}
}

func fnLength(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	default:
		if items, ok := toSlice(v); ok {
			return float64(len(items)), nil
		}
		return nil, fmt.Errorf("rules: length: unsupported value %T", v)
	}
}

func stringFn(fn func(string) string) FunctionFunc {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("rules: expected string, got %T", v)
		}
		return fn(s), nil
	}
}

// fnRandomInt draws an integer from an inclusive [low, high] pair. Inverted
// bounds are normalised.
func fnRandomInt(v any) (any, error) {
	bounds, ok := toSlice(v)
	if !ok || len(bounds) != 2 {
		return nil, fmt.Errorf("rules: randomInt expects a two-element pair, got %v", v)
	}
	lo, okLo := toFloat(bounds[0])
	hi, okHi := toFloat(bounds[1])
	if !okLo || !okHi {
		return nil, fmt.Errorf("rules: randomInt expects numeric bounds, got %v", v)
	}
	low, high := int64(lo), int64(hi)
	if low > high {
		low, high = high, low
	}
	return float64(low + rand.Int63n(high-low+1)), nil
}
