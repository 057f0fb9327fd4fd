// Package plugins lists the extension units compiled into the binary.
// A manifest in the plugins directory selects one by name.
package plugins

import (
	"github.com/nugget/asistente/internal/plugin"
	"github.com/nugget/asistente/internal/plugins/calendar"
	"github.com/nugget/asistente/internal/plugins/clock"
	"github.com/nugget/asistente/internal/plugins/github"
	"github.com/nugget/asistente/internal/plugins/greeter"
	"github.com/nugget/asistente/internal/plugins/hass"
	"github.com/nugget/asistente/internal/plugins/n8n"
	"github.com/nugget/asistente/internal/plugins/speakable"
	"github.com/nugget/asistente/internal/plugins/todo"
)

// Builtin returns the factories by manifest name.
func Builtin() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"calendar":  calendar.New,
		"clock":     clock.New,
		"github":    github.New,
		"greeter":   greeter.New,
		"hass":      hass.New,
		"n8n":       n8n.New,
		"speakable": speakable.New,
		"todo":      todo.New,
	}
}
