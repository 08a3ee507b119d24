package api

// Args represents a map of named arguments passed to or from steps
type Args map[Name]any

// GetString retrieves a string value from args, returning defaultValue if
// not found or wrong type
func (a Args) GetString(name Name, defaultValue string) string {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	str, ok := val.(string)
	if !ok {
		return defaultValue
	}
	return str
}

// GetBool retrieves a boolean value from args, returning defaultValue if
// not found or wrong type
func (a Args) GetBool(name Name, defaultValue bool) bool {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	b, ok := val.(bool)
	if !ok {
		return defaultValue
	}
	return b
}

// GetStringMap retrieves a map argument whose values are strings, such as
// an HTTP header set. Non-string values are stringified by the caller's
// resolution pass before this is reached, so anything else is skipped
func (a Args) GetStringMap(name Name) map[string]string {
	val, ok := a[name]
	if !ok {
		return nil
	}

	res := map[string]string{}
	switch m := val.(type) {
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				res[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			res[k] = v
		}
	case Args:
		for k, v := range m {
			if s, ok := v.(string); ok {
				res[string(k)] = s
			}
		}
	}
	return res
}

// GetStrings retrieves a string-or-list argument as a slice. A scalar
// string yields a single-element slice; missing yields nil
func (a Args) GetStrings(name Name) []string {
	val, ok := a[name]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var res []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}
	return nil
}
