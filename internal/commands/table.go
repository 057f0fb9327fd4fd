package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrCorrupt is returned by Load when the templates file exists but
// cannot be parsed as a phrase → entry mapping.
var ErrCorrupt = errors.New("templates file corrupt")

// Table is the ordered, read-only template table. Iteration order is
// the order entries appear in the file.
type Table struct {
	templates []*Template
}

// NewTable builds a table from already-constructed templates, compiling
// each phrase. It is used by tests and by Load.
func NewTable(templates ...*Template) (*Table, error) {
	t := &Table{}
	for _, tpl := range templates {
		p, err := Compile(tpl.Phrase)
		if err != nil {
			return nil, err
		}
		tpl.pattern = p
		if tpl.Params == nil {
			tpl.Params = map[string]any{}
		}
		t.templates = append(t.templates, tpl)
	}
	return t, nil
}

// Load reads the templates file at path. The file is a JSON (or YAML)
// object whose keys are phrases and whose values hold "action", an
// optional "trigger_time" and the action's parameters.
//
// A missing file yields an empty table. A file that does not parse
// yields an empty table and an error wrapping ErrCorrupt. Individual
// entries with an unknown action, an invalid phrase or a malformed
// body are skipped with a warning.
func Load(path string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no templates file, starting with an empty table", "path", path)
		return &Table{}, nil
	}
	if err != nil {
		return &Table{}, fmt.Errorf("read templates: %w", err)
	}

	// JSON strings cannot hold raw tabs, so tab indentation in a JSON
	// file can be flattened before handing it to the YAML parser.
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		data = bytes.ReplaceAll(data, []byte("\t"), []byte(" "))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &Table{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if doc.Kind == 0 {
		return &Table{}, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return &Table{}, fmt.Errorf("%w: %s: top level must be an object", ErrCorrupt, path)
	}

	t := &Table{}
	index := make(map[string]int)
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		phrase := keyNode.Value

		tpl, err := decodeEntry(phrase, valNode)
		if err != nil {
			logger.Warn("skipping template", "phrase", phrase, "line", keyNode.Line, "error", err)
			continue
		}

		// Later duplicates replace earlier ones in place.
		if at, dup := index[phrase]; dup {
			logger.Warn("duplicate template phrase, later entry wins", "phrase", phrase)
			t.templates[at] = tpl
			continue
		}
		index[phrase] = len(t.templates)
		t.templates = append(t.templates, tpl)
	}

	logger.Info("templates loaded", "path", path, "count", len(t.templates))
	return t, nil
}

func decodeEntry(phrase string, node *yaml.Node) (*Template, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("entry must be an object")
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	actionName, _ := raw["action"].(string)
	kind, err := ParseKind(actionName)
	if err != nil {
		return nil, err
	}

	var trigger string
	if v, ok := raw["trigger_time"]; ok && v != nil {
		s, _ := v.(string)
		if !ValidTriggerTime(s) {
			return nil, fmt.Errorf("invalid trigger_time %v (want HH:MM)", v)
		}
		trigger = s
	}

	p, err := Compile(phrase)
	if err != nil {
		return nil, err
	}

	delete(raw, "action")
	delete(raw, "trigger_time")
	return &Template{
		Phrase:      phrase,
		Kind:        kind,
		Params:      raw,
		TriggerTime: trigger,
		pattern:     p,
	}, nil
}

// Len returns the number of templates.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.templates)
}

// Templates returns the templates in table order. The slice must not be
// modified.
func (t *Table) Templates() []*Template {
	if t == nil {
		return nil
	}
	return t.templates
}

// Match returns the first template, in table order, whose phrase matches
// utterance, along with the bound placeholder values. A literal match
// binds an empty map. ok is false when nothing matches.
func (t *Table) Match(utterance string) (*Template, map[string]string, bool) {
	if t == nil {
		return nil, nil, false
	}
	for _, tpl := range t.templates {
		if bound, ok := tpl.pattern.Match(utterance); ok {
			return tpl, bound, true
		}
	}
	return nil, nil, false
}

// Due returns the templates whose trigger time equals hhmm, in table
// order.
func (t *Table) Due(hhmm string) []*Template {
	var due []*Template
	for _, tpl := range t.Templates() {
		if tpl.TriggerTime != "" && tpl.TriggerTime == hhmm {
			due = append(due, tpl)
		}
	}
	return due
}

// Triggered returns every template that carries a trigger time.
func (t *Table) Triggered() []*Template {
	var out []*Template
	for _, tpl := range t.Templates() {
		if tpl.TriggerTime != "" {
			out = append(out, tpl)
		}
	}
	return out
}
