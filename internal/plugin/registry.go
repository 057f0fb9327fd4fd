package plugin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is one plugin description file.
type Manifest struct {
	// Name is the manifest file name without its extension.
	Name string `yaml:"-"`
	Path string `yaml:"-"`
	// Plugin names the factory that builds the unit.
	Plugin   string    `yaml:"plugin"`
	Enabled  *bool     `yaml:"enabled"`
	Settings yaml.Node `yaml:"settings"`
}

// IsEnabled reports whether the manifest is enabled (default true).
func (m *Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Named pairs a loaded unit with its manifest name.
type Named[T any] struct {
	Name  string
	Value T
}

// Registry holds the loaded plugins for the life of the process, in
// discovery order.
type Registry struct {
	all      []Named[any]
	commands []Named[CommandHandler]
	inputs   []Named[InputTransform]
	outputs  []Named[OutputTransform]
	failures []*LoadError
	logger   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Load scans dir for *.yaml / *.yml manifests in lexical order and
// builds each enabled one with its factory. A missing directory is
// created and yields an empty registry. Manifests that fail to parse,
// name an unknown factory, or whose factory errors or panics are
// recorded as [*LoadError] and skipped.
func Load(dir string, factories map[string]Factory, caps Capabilities, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if caps.Logger == nil {
		caps.Logger = r.logger
	}
	if dir == "" {
		return r, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create plugins dir: %w", err)
		}
		r.logger.Info("plugins directory created", "path", dir)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	for _, f := range files {
		path := filepath.Join(dir, f)
		name := strings.TrimSuffix(f, filepath.Ext(f))

		m, err := readManifest(path)
		if err != nil {
			r.fail(&LoadError{Name: name, Path: path, Err: err})
			continue
		}
		m.Name = name
		if !m.IsEnabled() {
			r.logger.Debug("plugin disabled", "plugin", name)
			continue
		}

		factory, ok := factories[m.Plugin]
		if !ok {
			r.fail(&LoadError{Name: name, Path: path, Err: fmt.Errorf("%w %q", ErrUnknownFactory, m.Plugin)})
			continue
		}

		pluginCaps := caps
		pluginCaps.Logger = caps.Logger.With("plugin", name)
		impl, err := build(factory, name, Settings{node: &m.Settings}, pluginCaps)
		if err != nil {
			r.fail(&LoadError{Name: name, Path: path, Err: err})
			continue
		}
		r.Add(name, impl)
	}

	r.logger.Info("plugins loaded",
		"commands", len(r.commands),
		"input_transforms", len(r.inputs),
		"output_transforms", len(r.outputs),
		"failed", len(r.failures),
	)
	return r, nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Plugin == "" {
		return nil, errors.New("manifest has no plugin field")
	}
	return &m, nil
}

// build runs factory, turning a panic into an error.
func build(factory Factory, name string, settings Settings, caps Capabilities) (impl any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during load: %v", p)
		}
	}()
	impl, err = factory(name, settings, caps)
	if err == nil && impl == nil {
		err = errors.New("factory returned nothing")
	}
	return impl, err
}

func (r *Registry) fail(le *LoadError) {
	r.logger.Error("plugin load failed", "plugin", le.Name, "path", le.Path, "error", le.Err)
	r.failures = append(r.failures, le)
}

// Add registers an already-built unit under name and classifies it.
func (r *Registry) Add(name string, impl any) {
	r.all = append(r.all, Named[any]{Name: name, Value: impl})

	var roles []string
	if h, ok := impl.(CommandHandler); ok {
		r.commands = append(r.commands, Named[CommandHandler]{Name: name, Value: h})
		roles = append(roles, "command")
	}
	if t, ok := impl.(InputTransform); ok {
		r.inputs = append(r.inputs, Named[InputTransform]{Name: name, Value: t})
		roles = append(roles, "input")
	}
	if t, ok := impl.(OutputTransform); ok {
		r.outputs = append(r.outputs, Named[OutputTransform]{Name: name, Value: t})
		roles = append(roles, "output")
	}
	if len(roles) == 0 {
		r.logger.Warn("plugin implements no handler interface", "plugin", name)
	}
	r.logger.Info("plugin loaded", "plugin", name, "roles", roles)
}

// Commands returns the command handlers in discovery order.
func (r *Registry) Commands() []Named[CommandHandler] { return r.commands }

// Inputs returns the input transforms in discovery order.
func (r *Registry) Inputs() []Named[InputTransform] { return r.inputs }

// Outputs returns the output transforms in discovery order.
func (r *Registry) Outputs() []Named[OutputTransform] { return r.outputs }

// All returns every loaded unit in discovery order.
func (r *Registry) All() []Named[any] { return r.all }

// Failures returns the load errors recorded by Load.
func (r *Registry) Failures() []*LoadError { return r.failures }

// Close closes every loaded unit that implements io.Closer.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.all {
		if c, ok := p.Value.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", p.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Find returns the first loaded unit, in discovery order, that
// implements T.
func Find[T any](r *Registry) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	for _, p := range r.all {
		if v, ok := p.Value.(T); ok {
			return v, true
		}
	}
	return zero, false
}
