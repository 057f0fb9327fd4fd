// Package plugin discovers and loads extension units at startup.
//
// Each unit is described by a YAML manifest in the plugins directory
// naming a factory compiled into the binary, plus that factory's
// settings. Loaded units are classified by the interfaces they
// implement: [CommandHandler], [InputTransform] and [OutputTransform].
// A unit may implement any combination, or none.
//
// Every factory receives the same explicit [Capabilities] value. There
// are no ambient globals; a unit can reach the store, the outbound
// collaborators and the speaker only through what it was handed.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/nugget/asistente/internal/messages"
)

// CommandHandler answers utterances directly. An empty reply with a nil
// error means "not mine"; dispatch moves on to the next handler.
type CommandHandler interface {
	HandleCommand(ctx context.Context, text string) (string, error)
}

// InputTransform sees utterances no command handled. It returns the
// (possibly rewritten) text, or consumed=true to end processing of the
// utterance without consulting the fallback model.
type InputTransform interface {
	TransformInput(ctx context.Context, text string) (out string, consumed bool, err error)
}

// OutputTransform rewrites a fallback model reply before it is spoken.
type OutputTransform interface {
	TransformOutput(ctx context.Context, reply string) (string, error)
}

// UserData is read/write access to the user's key/value store.
type UserData interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// ServiceInvoker runs an operation on the home automation service.
type ServiceInvoker interface {
	Invoke(ctx context.Context, domain, service, target string, data map[string]any) error
}

// StateQuerier reads one entity state from the home automation service.
type StateQuerier interface {
	QueryState(ctx context.Context, entityID string) (string, error)
}

// RPCCaller invokes a method on the remote procedure endpoint.
type RPCCaller interface {
	Call(ctx context.Context, method string, params map[string]any) (any, error)
}

// Speaker renders one utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Capabilities is the fixed set of primitives injected into every
// plugin. Collaborators that are not configured are nil.
type Capabilities struct {
	Data     UserData
	Services ServiceInvoker
	States   StateQuerier
	RPC      RPCCaller
	HTTP     *http.Client
	Speaker  Speaker
	Messages *messages.Catalog
	Logger   *slog.Logger
	// DataDir is where plugins keep their own files.
	DataDir string
}

// Settings is the raw "settings" block of a manifest.
type Settings struct {
	node *yaml.Node
}

// Decode unmarshals the settings into v. Absent settings leave v as is.
func (s Settings) Decode(v any) error {
	if s.node == nil || s.node.Kind == 0 {
		return nil
	}
	return s.node.Decode(v)
}

// SettingsFromYAML parses a YAML document into Settings. It is mostly
// useful in tests.
func SettingsFromYAML(src string) (Settings, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return Settings{}, err
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		return Settings{node: doc.Content[0]}, nil
	}
	return Settings{node: &doc}, nil
}

// Factory builds one plugin instance. The returned value is classified
// by the interfaces it implements.
type Factory func(name string, settings Settings, caps Capabilities) (any, error)

// ErrUnknownFactory is returned when a manifest names a factory that is
// not compiled in.
var ErrUnknownFactory = errors.New("unknown plugin factory")

// LoadError reports one plugin that failed to load. Other plugins are
// unaffected.
type LoadError struct {
	Name string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
