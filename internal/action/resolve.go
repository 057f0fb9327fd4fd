package action

import "strings"

// Resolve substitutes a whole-value placeholder reference. A value
// written exactly as "{name}" becomes bound[name] when that placeholder
// was captured; anything else, including "{name}" with nothing bound,
// is returned unchanged. Substitution is syntactic and happens once.
func Resolve(value string, bound map[string]string) string {
	name, ok := placeholderRef(value)
	if !ok {
		return value
	}
	if v, ok := bound[name]; ok {
		return v
	}
	return value
}

// Unresolved reports whether value is a whole "{name}" reference with no
// captured value for name.
func Unresolved(value string, bound map[string]string) bool {
	name, ok := placeholderRef(value)
	if !ok {
		return false
	}
	_, found := bound[name]
	return !found
}

func placeholderRef(value string) (string, bool) {
	if len(value) < 3 || value[0] != '{' || value[len(value)-1] != '}' {
		return "", false
	}
	return strings.ToLower(value[1 : len(value)-1]), true
}

// ResolveParams returns a copy of params with every top-level string
// value passed through Resolve. Nested values are copied as they are.
// A nil map stays nil.
func ResolveParams(params map[string]any, bound map[string]string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = Resolve(s, bound)
			continue
		}
		out[k] = v
	}
	return out
}
