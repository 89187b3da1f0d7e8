// Package rules evaluates boolean predicate trees over event payloads and
// reports which rules matched along with their declared actions. Evaluation
// results are cached per (rule, context) with a TTL; any rule, operator or
// function mutation clears the cache.
package rules

import "errors"

// Engine errors
var (
	// ErrRuleNotFound is returned when evaluating or removing an unknown rule.
	ErrRuleNotFound = errors.New("rules: rule not found")

	// ErrUnknownOperator is raised by a leaf referencing an unregistered operator.
	ErrUnknownOperator = errors.New("rules: unknown operator")

	// ErrUnknownFunction is raised by a leaf referencing an unregistered function.
	ErrUnknownFunction = errors.New("rules: unknown function")

	// ErrInvalidAction is returned when an action record has no known type.
	ErrInvalidAction = errors.New("rules: invalid action")
)

// Condition is one node of a predicate tree. Exactly one of All, Any, Not or
// the leaf fields (Field+Operator) should be populated. A zero condition
// evaluates to true.
type Condition struct {
	// All is a logical AND over child nodes. An empty All passes.
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`

	// Any is a logical OR over child nodes. An empty Any fails.
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`

	// Not negates a single child node.
	Not *Condition `json:"not,omitempty" yaml:"not,omitempty"`

	// Field is the dotted path into the evaluation context.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`

	// Operator names a registered comparison operator.
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`

	// Value is the comparison operand: a literal, or a back-reference of the
	// form "$other.field" resolved against the same context.
	Value any `json:"value,omitempty" yaml:"value,omitempty"`

	// Function optionally names a registered transform applied to the field
	// value before comparison.
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
}

func (c Condition) isLeaf() bool {
	return c.Field != "" || c.Operator != ""
}

func (c Condition) isZero() bool {
	return len(c.All) == 0 && len(c.Any) == 0 && c.Not == nil && !c.isLeaf()
}

// Rule couples a predicate tree with the actions to run when it passes.
type Rule struct {
	Name string `json:"name" yaml:"name"`

	Conditions Condition `json:"conditions" yaml:"conditions"`

	Actions []Action `json:"actions,omitempty" yaml:"-"`

	// Enabled defaults to true; disabled rules report passed=false with
	// reason "disabled".
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Priority orders evaluation, higher first. Default 0.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// StopOnMatch halts evaluation of lower-priority rules when this rule
	// passes.
	StopOnMatch bool `json:"stopOnMatch,omitempty" yaml:"stopOnMatch,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	RuleName string   `json:"ruleName"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
	Err      error    `json:"-"`
}

// EvaluationResult is the outcome of evaluating every rule against a context.
type EvaluationResult struct {
	Results []RuleResult `json:"results"`
	Passed  []string     `json:"passed"`
	Failed  []string     `json:"failed"`
}
