package engine

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// extractJSONPath evaluates a JSONPath-style expression against a step
// value. A miss yields no value, never an error
func extractJSONPath(source any, expr string) (any, bool) {
	encoded, err := json.Marshal(source)
	if err != nil {
		return nil, false
	}

	res := gjson.GetBytes(encoded, normalizeJSONPath(expr))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// normalizeJSONPath converts the JSONPath flavor used in source
// definitions ($.data.items[0].name) into gjson syntax
// (data.items.0.name)
func normalizeJSONPath(expr string) string {
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	expr = strings.ReplaceAll(expr, "[", ".")
	expr = strings.ReplaceAll(expr, "]", "")
	return expr
}

// extractKey performs a flat key lookup on a map-shaped value. Keys that
// look like rate-limit response headers are matched case-insensitively,
// since providers disagree on header casing
func extractKey(source any, expr string) (any, bool) {
	m := asStringMap(source)
	if m == nil {
		return nil, false
	}

	if strings.Contains(strings.ToLower(expr), "ratelimit") {
		for k, v := range m {
			if strings.EqualFold(k, expr) {
				return v, true
			}
		}
		return nil, false
	}

	val, ok := m[expr]
	return val, ok
}

func asStringMap(source any) map[string]any {
	switch v := source.(type) {
	case map[string]any:
		return v
	case map[string]string:
		res := make(map[string]any, len(v))
		for k, val := range v {
			res[k] = val
		}
		return res
	}
	return nil
}
