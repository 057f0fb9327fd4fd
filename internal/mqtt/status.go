package mqtt

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/asistente/internal/events"
)

// Sensor entity names. Each gets a state topic and a discovery payload.
const (
	entityLastCommand = "last_command"
	entityLastStage   = "last_stage"
	entityCommands    = "commands_total"
	entityFailures    = "failures_total"
	entityLastTrigger = "last_trigger"
	entityVersion     = "version"
)

// Status accumulates what the sensors report. It is updated from bus
// events and is safe for concurrent use.
type Status struct {
	mu          sync.Mutex
	lastCommand string
	lastStage   string
	lastTrigger time.Time
	commands    int64
	failures    int64
	attributes  map[string]any
}

// Observe folds one event into the status and reports whether anything
// the sensors show changed.
func (s *Status) Observe(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case events.KindCommandResolved:
		stage, _ := e.Data["stage"].(string)
		if stage == "" || stage == "empty" || stage == "exit" {
			return false
		}
		s.commands++
		s.lastStage = stage
		if phrase, ok := e.Data["phrase"].(string); ok {
			s.lastCommand = phrase
		} else if u, ok := e.Data["utterance"].(string); ok {
			s.lastCommand = u
		}
		if failed(e.Data) {
			s.failures++
		}
		s.attributes = cloneData(e.Data, e.Timestamp)
		return true

	case events.KindTriggerFired:
		s.commands++
		s.lastTrigger = e.Timestamp
		if phrase, ok := e.Data["phrase"].(string); ok {
			s.lastCommand = phrase
		}
		s.lastStage = "trigger"
		if failed(e.Data) {
			s.failures++
		}
		s.attributes = cloneData(e.Data, e.Timestamp)
		return true

	case events.KindFallbackFailed:
		s.failures++
		return true
	}
	return false
}

// States returns the current value of every sensor keyed by entity.
func (s *Status) States(version string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := map[string]string{
		entityLastCommand: orNone(s.lastCommand),
		entityLastStage:   orNone(s.lastStage),
		entityCommands:    strconv.FormatInt(s.commands, 10),
		entityFailures:    strconv.FormatInt(s.failures, 10),
		entityLastTrigger: "never",
		entityVersion:     version,
	}
	if !s.lastTrigger.IsZero() {
		states[entityLastTrigger] = s.lastTrigger.Format(time.RFC3339)
	}
	return states
}

// Attributes returns the JSON attributes of the last command, or nil
// before the first one.
func (s *Status) Attributes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attributes == nil {
		return nil, nil
	}
	return json.Marshal(s.attributes)
}

func failed(data map[string]any) bool {
	if _, ok := data["error"]; ok {
		return true
	}
	ok, present := data["success"].(bool)
	return present && !ok
}

func cloneData(data map[string]any, ts time.Time) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["at"] = ts.Format(time.RFC3339)
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
