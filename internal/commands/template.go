// Package commands loads the user's command templates and matches
// utterances against them.
//
// A template binds a phrase (optionally with {name} placeholders) to
// one action kind and its parameters, and may carry a daily trigger
// time. The table is read once at startup and never mutated.
package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of actions a template can run.
type Kind string

// Action kinds.
const (
	KindServiceCall    Kind = "external_service_call"
	KindUserDataLookup Kind = "user_data_lookup"
	KindUserDataSet    Kind = "user_data_set"
	KindLogReminder    Kind = "log_reminder"
	KindRPC            Kind = "remote_procedure_call"
	KindMorningSummary Kind = "morning_summary"
)

// legacyKinds maps older action names still found in templates files.
var legacyKinds = map[string]Kind{
	"home_assistant_service": KindServiceCall,
	"mcp_request":            KindRPC,
}

// ParseKind resolves an action name, accepting legacy aliases.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch k := Kind(name); k {
	case KindServiceCall, KindUserDataLookup, KindUserDataSet,
		KindLogReminder, KindRPC, KindMorningSummary:
		return k, nil
	}
	if k, ok := legacyKinds[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Template is one entry of the template table.
type Template struct {
	Phrase string
	Kind   Kind
	// Params holds every field of the entry other than the action name
	// and trigger time: strings, numbers, nested maps.
	Params map[string]any
	// TriggerTime is "HH:MM" for templates that also fire daily, or "".
	TriggerTime string

	pattern *Pattern
}

// Pattern returns the compiled phrase.
func (t *Template) Pattern() *Pattern { return t.pattern }

// String returns the string parameter key, or "" when it is absent or
// not a scalar. Numbers and booleans are formatted.
func (t *Template) String(key string) string {
	switch v := t.Params[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Map returns the map parameter key, or nil.
func (t *Template) Map(key string) map[string]any {
	m, _ := t.Params[key].(map[string]any)
	return m
}

// ValidTriggerTime reports whether s is a 24-hour "HH:MM" time.
func ValidTriggerTime(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(s[3:])
	return err == nil && m >= 0 && m <= 59
}
