package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config tunes the engine.
type Config struct {
	// CacheExpiry is the TTL of cached evaluation results. Zero disables
	// caching.
	CacheExpiry time.Duration `json:"cacheExpiry" yaml:"cacheExpiry" default:"5s"`
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Engine holds the rule set plus the operator and function tables.
type Engine struct {
	cfg Config

	mu        sync.RWMutex
	rules     map[string]Rule
	operators map[string]OperatorFunc
	functions map[string]FunctionFunc
	cache     map[string]cacheEntry
}

// New creates an engine with the built-in operators and functions.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		rules:     make(map[string]Rule),
		operators: builtinOperators(),
		functions: builtinFunctions(),
		cache:     make(map[string]cacheEntry),
	}
}

// AddRule registers or replaces a rule under its name and invalidates the
// cache.
func (e *Engine) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rules: rule name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.Name] = rule
	e.cache = make(map[string]cacheEntry)
	return nil
}

// RemoveRule deletes a rule and invalidates the cache.
func (e *Engine) RemoveRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[name]; !ok {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	delete(e.rules, name)
	e.cache = make(map[string]cacheEntry)
	return nil
}

// ReplaceRules swaps the whole rule set atomically (used by file reload).
func (e *Engine) ReplaceRules(rules []Rule) {
	next := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		next[rule.Name] = rule
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = next
	e.cache = make(map[string]cacheEntry)
}

// Rule returns a registered rule by name.
func (e *Engine) Rule(name string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[name]
	return rule, ok
}

// Rules returns the rule set ordered by descending priority, ties by name.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	out := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	e.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AddOperator registers a custom operator and invalidates the cache.
func (e *Engine) AddOperator(name string, fn OperatorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operators[name] = fn
	e.cache = make(map[string]cacheEntry)
}

// AddFunction registers a custom transform and invalidates the cache.
func (e *Engine) AddFunction(name string, fn FunctionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = fn
	e.cache = make(map[string]cacheEntry)
}

// ClearCache drops all cached results.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cacheEntry)
}

// cacheKey derives the cache key from the rule scope and the JSON form of
// the context.
func cacheKey(scope string, context map[string]any) (string, bool) {
	raw, err := json.Marshal(context)
	if err != nil {
		return "", false
	}
	return scope + ":" + string(raw), true
}

func (e *Engine) cacheGet(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

func (e *Engine) cachePut(key string, value any) {
	if e.cfg.CacheExpiry <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = cacheEntry{value: value, expires: time.Now().Add(e.cfg.CacheExpiry)}
}

// EvaluateRule evaluates one rule against a context. Unknown rules return
// ErrRuleNotFound; evaluation failures inside the rule are reported on the
// result, not as an error.
func (e *Engine) EvaluateRule(name string, context map[string]any) (RuleResult, error) {
	rule, ok := e.Rule(name)
	if !ok {
		return RuleResult{}, fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}

	key, cacheable := cacheKey(name, context)
	if cacheable && e.cfg.CacheExpiry > 0 {
		if cached, ok := e.cacheGet(key); ok {
			return cached.(RuleResult), nil
		}
	}

	result := e.evaluateOne(rule, context)
	if cacheable {
		e.cachePut(key, result)
	}
	return result, nil
}

// Evaluate runs every rule in descending priority order. A passing rule with
// StopOnMatch halts iteration. Per-rule failures are recorded and do not
// abort peers.
func (e *Engine) Evaluate(context map[string]any) EvaluationResult {
	key, cacheable := cacheKey("all", context)
	if cacheable && e.cfg.CacheExpiry > 0 {
		if cached, ok := e.cacheGet(key); ok {
			return cached.(EvaluationResult)
		}
	}

	var result EvaluationResult
	for _, rule := range e.Rules() {
		rr := e.evaluateOne(rule, context)
		result.Results = append(result.Results, rr)
		if rr.Passed {
			result.Passed = append(result.Passed, rr.RuleName)
			if rule.StopOnMatch {
				break
			}
		} else {
			result.Failed = append(result.Failed, rr.RuleName)
		}
	}
	if cacheable {
		e.cachePut(key, result)
	}
	return result
}

func (e *Engine) evaluateOne(rule Rule, context map[string]any) RuleResult {
	if !rule.IsEnabled() {
		return RuleResult{RuleName: rule.Name, Passed: false, Reason: "disabled"}
	}
	passed, err := e.evaluateCondition(rule.Conditions, context)
	if err != nil {
		return RuleResult{RuleName: rule.Name, Passed: false, Reason: "error", Err: err}
	}
	rr := RuleResult{RuleName: rule.Name, Passed: passed}
	if passed {
		rr.Actions = rule.Actions
	}
	return rr
}

func (e *Engine) evaluateCondition(cond Condition, context map[string]any) (bool, error) {
	if cond.isZero() {
		return true, nil
	}
	switch {
	case len(cond.All) > 0:
		for _, child := range cond.All {
			ok, err := e.evaluateCondition(child, context)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(cond.Any) > 0:
		var firstErr error
		for _, child := range cond.Any {
			ok, err := e.evaluateCondition(child, context)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, firstErr
	case cond.Not != nil:
		ok, err := e.evaluateCondition(*cond.Not, context)
		return !ok, err
	default:
		return e.evaluateLeaf(cond, context)
	}
}

func (e *Engine) evaluateLeaf(cond Condition, context map[string]any) (bool, error) {
	e.mu.RLock()
	op, okOp := e.operators[cond.Operator]
	var fn FunctionFunc
	okFn := true
	if cond.Function != "" {
		fn, okFn = e.functions[cond.Function]
	}
	e.mu.RUnlock()

	if !okOp {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, cond.Operator)
	}
	if !okFn {
		return false, fmt.Errorf("%w: %q", ErrUnknownFunction, cond.Function)
	}

	fieldValue, _ := resolvePath(context, cond.Field)
	if fn != nil {
		transformed, err := fn(fieldValue)
		if err != nil {
			return false, err
		}
		fieldValue = transformed
	}

	return op(fieldValue, resolveOperand(context, cond.Value))
}
