// Package wildcard translates bounded glob patterns into anchored regular
// expressions. A pattern may contain `*` (any substring) and `?` (any single
// character); every other character is literal. The same grammar is shared by
// event subscriptions, webhook matchers, and storage key scans.
package wildcard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxPatternLength is the maximum accepted pattern length.
	MaxPatternLength = 100

	// MaxWildcards is the maximum combined count of `*` and `?` in a pattern.
	MaxWildcards = 10
)

var (
	ErrPatternTooLong       = errors.New("wildcard: pattern exceeds maximum length")
	ErrTooManyWildcards     = errors.New("wildcard: pattern exceeds maximum wildcard count")
	ErrEmptyPattern         = errors.New("wildcard: pattern is empty")
	ErrInvalidPattern       = errors.New("wildcard: pattern does not compile")
	errUnexpectedCompileErr = errors.New("wildcard: internal compile failure")
)

// Normalize collapses runs of consecutive `*` into a single `*`.
func Normalize(pattern string) string {
	if !strings.Contains(pattern, "**") {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	prevStar := false
	for _, r := range pattern {
		if r == '*' {
			if prevStar {
				continue
			}
			prevStar = true
		} else {
			prevStar = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate checks a pattern against the hard limits without compiling it.
// Limits are applied after `*` runs are collapsed.
func Validate(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("%w: %d > %d", ErrPatternTooLong, len(pattern), MaxPatternLength)
	}
	pattern = Normalize(pattern)
	wildcards := strings.Count(pattern, "*") + strings.Count(pattern, "?")
	if wildcards > MaxWildcards {
		return fmt.Errorf("%w: %d > %d", ErrTooManyWildcards, wildcards, MaxWildcards)
	}
	return nil
}

// Translate converts a glob pattern into an anchored regular expression
// source string. Regex metacharacters in the literal parts are escaped
// before the `*` and `?` substitutions.
func Translate(pattern string) string {
	pattern = Normalize(pattern)
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// Compile validates a pattern and returns its anchored regular expression.
func Compile(pattern string) (*regexp.Regexp, error) {
	if err := Validate(pattern); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(Translate(pattern))
	if err != nil {
		// Translate escapes all metacharacters, so this should be unreachable.
		return nil, fmt.Errorf("%w: %v", errUnexpectedCompileErr, err)
	}
	return re, nil
}

// Match reports whether name matches the pattern. Invalid patterns never match.
func Match(pattern, name string) bool {
	if pattern == name {
		return true
	}
	re, err := Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// IsLiteral reports whether the pattern contains no wildcard characters.
func IsLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?")
}
