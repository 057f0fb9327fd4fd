// Package hass maps fixed phrases to Home Assistant service calls and
// state reads. Phrases are matched as substrings of the utterance, and
// the first matching entry wins.
package hass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/plugin"
)

// Action calls a service when its phrase is heard.
type Action struct {
	Phrase   string         `yaml:"phrase"`
	Domain   string         `yaml:"domain"`
	Service  string         `yaml:"service"`
	EntityID string         `yaml:"entity_id"`
	Data     map[string]any `yaml:"data"`
	Reply    string         `yaml:"reply"`
}

// Query reads an entity state when its phrase is heard. Reply may use
// {state}; the default is "<phrase>: <state>".
type Query struct {
	Phrase   string `yaml:"phrase"`
	EntityID string `yaml:"entity_id"`
	Reply    string `yaml:"reply"`
}

// Settings are read from the manifest.
type Settings struct {
	Actions []Action `yaml:"actions"`
	Queries []Query  `yaml:"queries"`
}

// Hass is a command handler.
type Hass struct {
	settings Settings
	services plugin.ServiceInvoker
	states   plugin.StateQuerier
	messages *messages.Catalog
	logger   *slog.Logger
}

// New is the plugin factory. It fails when Home Assistant is not
// configured, so the manifest shows up as a load failure instead of a
// handler that can never succeed.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	var s Settings
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	if caps.Services == nil || caps.States == nil {
		return nil, errors.New("home assistant is not configured")
	}
	for i, a := range s.Actions {
		if a.Phrase == "" || a.Domain == "" || a.Service == "" {
			return nil, fmt.Errorf("actions[%d]: phrase, domain and service are required", i)
		}
		s.Actions[i].Phrase = strings.ToLower(a.Phrase)
	}
	for i, q := range s.Queries {
		if q.Phrase == "" || q.EntityID == "" {
			return nil, fmt.Errorf("queries[%d]: phrase and entity_id are required", i)
		}
		s.Queries[i].Phrase = strings.ToLower(q.Phrase)
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hass{
		settings: s,
		services: caps.Services,
		states:   caps.States,
		messages: caps.Messages,
		logger:   logger,
	}, nil
}

// HandleCommand runs the first action or query whose phrase occurs in
// text. Collaborator failures are answered with the catalog message and
// count as handled.
func (h *Hass) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	for _, a := range h.settings.Actions {
		if !strings.Contains(lower, a.Phrase) {
			continue
		}
		if err := h.services.Invoke(ctx, a.Domain, a.Service, a.EntityID, a.Data); err != nil {
			h.logger.Error("service call failed", "domain", a.Domain, "service", a.Service, "entity_id", a.EntityID, "error", err)
			return h.messages.Get(messages.ServiceFailed), nil
		}
		if a.Reply != "" {
			return a.Reply, nil
		}
		return "Hecho.", nil
	}
	for _, q := range h.settings.Queries {
		if !strings.Contains(lower, q.Phrase) {
			continue
		}
		state, err := h.states.QueryState(ctx, q.EntityID)
		if err != nil {
			h.logger.Error("state query failed", "entity_id", q.EntityID, "error", err)
			return h.messages.Get(messages.StateFailed), nil
		}
		if q.Reply == "" {
			return q.Phrase + ": " + state, nil
		}
		return strings.ReplaceAll(q.Reply, "{state}", state), nil
	}
	return "", nil
}
