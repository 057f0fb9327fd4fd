// Package greeter is the sample extension unit: it answers greetings
// without consulting the fallback model and can tag model replies.
package greeter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/asistente/internal/plugin"
)

// Settings are read from the manifest.
type Settings struct {
	// Trigger is the word that marks an utterance as a greeting.
	Trigger  string `yaml:"trigger"`
	Greeting string `yaml:"greeting"`
	// Suffix is appended to every model reply when set.
	Suffix string `yaml:"suffix"`
}

// Greeter consumes greetings and decorates model replies.
type Greeter struct {
	settings Settings
	caps     plugin.Capabilities
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	s := Settings{Trigger: "hola", Greeting: "¡Hola! ¿En qué puedo ayudarte?"}
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	s.Trigger = strings.ToLower(strings.TrimSpace(s.Trigger))
	if caps.Logger == nil {
		caps.Logger = slog.Default()
	}
	return &Greeter{settings: s, caps: caps}, nil
}

// TransformInput consumes any utterance containing the trigger word.
func (g *Greeter) TransformInput(ctx context.Context, text string) (string, bool, error) {
	if g.settings.Trigger == "" || !strings.Contains(strings.ToLower(text), g.settings.Trigger) {
		return text, false, nil
	}
	g.caps.Logger.Info("greeting intercepted")
	if g.caps.Speaker != nil && g.settings.Greeting != "" {
		if err := g.caps.Speaker.Speak(ctx, g.settings.Greeting); err != nil {
			return text, true, err
		}
	}
	return "", true, nil
}

// TransformOutput appends the configured suffix.
func (g *Greeter) TransformOutput(_ context.Context, reply string) (string, error) {
	if g.settings.Suffix == "" {
		return reply, nil
	}
	return reply + " " + g.settings.Suffix, nil
}
