package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

type (
	// scopes carries the three layered variable scopes consulted while
	// resolving step arguments. Priority: outputs over context over
	// secrets
	scopes struct {
		outputs map[api.Name]any
		context map[api.Name]any
		secrets map[api.Name]any
	}
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

func (s *scopes) lookup(key api.Name) (any, bool) {
	if val, ok := s.outputs[key]; ok {
		return val, true
	}
	if val, ok := s.context[key]; ok {
		return val, true
	}
	if val, ok := s.secrets[key]; ok {
		return val, true
	}
	return nil, false
}

// resolveArgs substitutes variables into step arguments. An argument
// that is exactly one placeholder resolves to the typed value; any
// other string is substituted per placeholder, with unresolved
// placeholders left in place. Resolution never fails on missing keys
func resolveArgs(args api.Args, sc *scopes) api.Args {
	if len(args) == 0 {
		return args
	}
	res := make(api.Args, len(args))
	for k, v := range args {
		res[k] = resolveValue(v, sc)
	}
	return res
}

func resolveValue(value any, sc *scopes) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, sc)
	case api.Args:
		return resolveArgs(v, sc)
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, item := range v {
			res[k] = resolveValue(item, sc)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, item := range v {
			res[i] = resolveValue(item, sc)
		}
		return res
	default:
		return value
	}
}

func resolveString(s string, sc *scopes) any {
	if isWholePlaceholder(s) {
		if val, ok := sc.lookup(api.Name(s[1 : len(s)-1])); ok {
			return val
		}
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		if val, ok := sc.lookup(api.Name(m[1 : len(m)-1])); ok {
			return fmt.Sprintf("%v", val)
		}
		return m
	})
}

// isWholePlaceholder reports whether the string is a single placeholder
// spanning the entire value, which resolves to the typed value rather
// than a formatted string
func isWholePlaceholder(s string) bool {
	return len(s) > 2 &&
		strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") &&
		strings.Count(s, "{") == 1 && strings.Count(s, "}") == 1
}
