package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nugget/asistente/internal/action"
	"github.com/nugget/asistente/internal/commands"
	"github.com/nugget/asistente/internal/config"
	"github.com/nugget/asistente/internal/connwatch"
	"github.com/nugget/asistente/internal/dispatch"
	"github.com/nugget/asistente/internal/events"
	"github.com/nugget/asistente/internal/homeassistant"
	"github.com/nugget/asistente/internal/httpkit"
	"github.com/nugget/asistente/internal/llm"
	"github.com/nugget/asistente/internal/mcp"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/mqtt"
	"github.com/nugget/asistente/internal/plugin"
	"github.com/nugget/asistente/internal/plugins"
	"github.com/nugget/asistente/internal/scheduler"
	"github.com/nugget/asistente/internal/speech"
	"github.com/nugget/asistente/internal/store"
)

// stopTimeout bounds the MQTT goodbye on Close.
const stopTimeout = 5 * time.Second

// Options configures New.
type Options struct {
	Config *config.Config
	// Speaker renders every reply. It is serialized by New.
	Speaker speech.Speaker
	// Fallback overrides the generator built from Config.Fallback.
	Fallback llm.Generator
	// Factories defaults to plugins.Builtin().
	Factories map[string]plugin.Factory
	// HTTPClient overrides the shared outbound client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Watch starts background connectivity watchers for the network and
	// Home Assistant. One-shot commands leave it off.
	Watch bool
}

// App holds every assembled collaborator.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Bus        *events.Bus
	Messages   *messages.Catalog
	Speaker    speech.Speaker
	Store      *store.Store
	Table      *commands.Table
	Executor   *action.Executor
	Plugins    *plugin.Registry
	Dispatcher *dispatch.Dispatcher
	Triggers   *scheduler.Loop
	Publisher  *mqtt.Publisher

	watchers *connwatch.Manager
	network  *connwatch.Watcher
	rpc      *mcp.Caller
	notices  []string
	cancel   context.CancelFunc
}

// New assembles the assistant from configuration. Damaged templates or
// user data do not fail startup; they are replaced by empty ones and a
// spoken notice is queued for the session.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("assistant: nil config")
	}
	if opts.Speaker == nil {
		return nil, errors.New("assistant: nil speaker")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	a := &App{
		cfg:      cfg,
		logger:   logger,
		Bus:      events.New(),
		Messages: messages.New().WithOverrides(cfg.Messages),
		Speaker:  speech.NewSerialized(opts.Speaker),
		watchers: connwatch.NewManager(logger),
		cancel:   cancel,
	}
	go a.Bus.LogEvents(bgCtx, logger.With("component", "events"))

	client := opts.HTTPClient
	if client == nil {
		clientOpts := []httpkit.ClientOption{httpkit.WithLogger(logger)}
		if cfg.Proxy.SOCKS != "" {
			clientOpts = append(clientOpts, httpkit.WithSOCKSProxy(cfg.Proxy.SOCKS))
		}
		client = httpkit.NewClient(clientOpts...)
	}

	st, err := store.Open(cfg.UserDataPath(), logger.With("component", "store"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open user data: %w", err)
	}
	a.Store = st
	if st.Recovered() != "" {
		a.notices = append(a.notices, a.Messages.Get(messages.UserDataCorrupt))
	}

	table, err := commands.Load(cfg.CommandsPath(), logger.With("component", "commands"))
	if err != nil {
		logger.Error("templates unusable, continuing with an empty table", "path", cfg.CommandsPath(), "error", err)
		a.notices = append(a.notices, a.Messages.Get(messages.CommandsCorrupt))
	}
	a.Table = table

	// Interfaces stay nil when a collaborator is not configured so
	// actions and plugins can tell.
	var (
		services action.ServiceInvoker
		states   plugin.StateQuerier
		rpc      action.RPCCaller
	)
	if cfg.HomeAssistant.Configured() {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, client, logger.With("component", "homeassistant"))
		services, states = ha, ha
		if opts.Watch {
			ha.SetWatcher(a.watchers.Watch(bgCtx, connwatch.WatcherConfig{
				Name:  "homeassistant",
				Probe: ha.Ping,
			}))
		}
	}
	if cfg.MCP.URL != "" {
		a.rpc = mcp.NewCaller(mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:        cfg.MCP.URL,
			Token:      cfg.MCP.Token,
			HTTPClient: client,
			Logger:     logger.With("component", "mcp"),
		}), logger.With("component", "mcp"))
		rpc = a.rpc
	}
	if opts.Watch && !cfg.Connectivity.Skip {
		a.network = a.watchers.Watch(bgCtx, connwatch.WatcherConfig{
			Name:  "network",
			Probe: connwatch.DialProbe(cfg.Connectivity.Host),
			Backoff: connwatch.BackoffConfig{
				ProbeTimeout: cfg.Connectivity.Timeout,
			},
		})
	}

	a.Executor = action.NewExecutor(action.Deps{
		Services: services,
		RPC:      rpc,
		Data:     st,
		Speaker:  a.Speaker,
		Messages: a.Messages,
		Logger:   logger.With("component", "action"),
	})

	factories := opts.Factories
	if factories == nil {
		factories = plugins.Builtin()
	}
	caps := plugin.Capabilities{
		Data:     st,
		Services: services,
		States:   states,
		RPC:      rpc,
		HTTP:     client,
		Speaker:  a.Speaker,
		Messages: a.Messages,
		DataDir:  cfg.DataDir,
	}
	reg, err := plugin.Load(cfg.PluginsDir, factories, caps, logger.With("component", "plugins"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	a.Plugins = reg
	if s, ok := plugin.Find[action.ScheduleLister](reg); ok {
		a.Executor.SetSchedule(s)
	}
	if t, ok := plugin.Find[action.TaskLister](reg); ok {
		a.Executor.SetTasks(t)
	}

	fallback := opts.Fallback
	if fallback == nil {
		fallback, err = NewFallback(cfg.Fallback, client, logger.With("component", "fallback"))
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Dispatcher = dispatch.New(dispatch.Options{
		Table:       table,
		Executor:    a.Executor,
		Plugins:     reg,
		Fallback:    fallback,
		Speaker:     a.Speaker,
		Messages:    a.Messages,
		Bus:         a.Bus,
		Logger:      logger.With("component", "dispatch"),
		MaxHistory:  cfg.Fallback.MaxHistory,
		ExitPhrases: cfg.ExitPhrases,
	})
	a.Triggers = scheduler.New(table, a.fire, scheduler.Options{Logger: logger.With("component", "scheduler")})

	return a, nil
}

// fire runs a timed template and publishes its record.
func (a *App) fire(ctx context.Context, tpl *commands.Template) {
	rec := a.Executor.Execute(ctx, tpl, nil, action.SourceTrigger)
	a.Bus.Emit(events.SourceScheduler, events.KindTriggerFired, rec.Fields())
}

// Notices returns the messages queued during startup.
func (a *App) Notices() []string { return a.notices }

// StartPublisher connects the MQTT status publisher when a broker is
// configured. It returns immediately; the publisher runs until Close.
func (a *App) StartPublisher(ctx context.Context) error {
	if !a.cfg.MQTT.Configured() {
		return nil
	}
	id, err := mqtt.LoadOrCreateInstanceID(a.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("mqtt instance id: %w", err)
	}
	a.Publisher = mqtt.New(a.cfg.MQTT, id, a.logger.With("component", "mqtt"))
	go func() {
		if err := a.Publisher.Start(ctx, a.Bus); err != nil {
			a.logger.Error("mqtt publisher failed", "error", err)
		}
	}()
	return nil
}

// Session returns a session reading utterances from capturer.
func (a *App) Session(capturer speech.Capturer) *Session {
	opts := SessionOptions{
		Capturer:   capturer,
		Speaker:    a.Speaker,
		Dispatcher: a.Dispatcher,
		Triggers:   a.Triggers,
		Bus:        a.Bus,
		Messages:   a.Messages,
		Logger:     a.logger.With("component", "session"),
		Notices:    a.notices,
	}
	if a.network != nil {
		opts.Network = a.network
	}
	return NewSession(opts)
}

// Say dispatches a single utterance outside a session.
func (a *App) Say(ctx context.Context, text string) dispatch.Outcome {
	for _, n := range a.notices {
		if err := a.Speaker.Speak(ctx, n); err != nil {
			a.logger.Error("speak failed", "error", err)
		}
	}
	return a.Dispatcher.Dispatch(ctx, text)
}

// Close stops background work and releases every resource. It is safe
// to call on a partially assembled App.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := a.Publisher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
		cancel()
	}
	// Ticks write to the store and plugins; they must finish first.
	if a.Triggers != nil {
		a.Triggers.Stop()
	}
	a.cancel()
	a.watchers.Stop()
	if a.Plugins != nil {
		if err := a.Plugins.Close(); err != nil {
			errs = append(errs, fmt.Errorf("plugins: %w", err))
		}
	}
	if a.rpc != nil {
		if err := a.rpc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}
