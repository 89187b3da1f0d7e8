package rules

import "strings"

// forbiddenSegments are path segments that short-circuit resolution. The
// dotted-path resolver is where attacker-controlled input meets dynamic
// lookup, so prototype-shaped keys are refused at every depth.
var forbiddenSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// resolvePath walks a dotted path through nested maps. Missing intermediate
// values and forbidden segments yield (nil, false).
func resolvePath(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = context
	for _, segment := range strings.Split(path, ".") {
		if _, bad := forbiddenSegments[segment]; bad {
			return nil, false
		}
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// resolveOperand materializes a condition operand: literals pass through,
// "$path" back-references are resolved against the same context.
func resolveOperand(context map[string]any, value any) any {
	ref, ok := value.(string)
	if !ok || !strings.HasPrefix(ref, "$") {
		return value
	}
	resolved, _ := resolvePath(context, strings.TrimPrefix(ref, "$"))
	return resolved
}
