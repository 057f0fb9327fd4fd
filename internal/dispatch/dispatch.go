// Package dispatch resolves one utterance at a time.
//
// Resolution tries, in order: the template table, the command-handler
// plugins, the input-transform plugins, and finally the conversational
// fallback. The first stage that handles the utterance ends resolution.
// Every failure is spoken and logged; Dispatch never returns an error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/nugget/asistente/internal/action"
	"github.com/nugget/asistente/internal/commands"
	"github.com/nugget/asistente/internal/events"
	"github.com/nugget/asistente/internal/llm"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/plugin"
)

// DefaultMaxHistory bounds the conversation when no bound is configured.
const DefaultMaxHistory = 10

// State is the dispatcher's position in its cycle.
type State int

// Dispatcher states. Exiting is terminal.
const (
	StateIdle State = iota
	StateAwaitingUtterance
	StateResolving
	StateExecuting
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUtterance:
		return "awaiting_utterance"
	case StateResolving:
		return "resolving"
	case StateExecuting:
		return "executing"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// Stage names the step that settled an utterance.
type Stage string

// Resolution stages.
const (
	StageEmpty     Stage = "empty"
	StageExit      Stage = "exit"
	StageTemplate  Stage = "template"
	StagePlugin    Stage = "plugin"
	StageConsumed  Stage = "input_transform"
	StageFallback  Stage = "fallback"
	StageNoHandler Stage = "none"
)

// Executor runs a matched template.
type Executor interface {
	Execute(ctx context.Context, tpl *commands.Template, bound map[string]string, src action.Source) action.Record
}

// Speaker renders one utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Outcome describes how an utterance was resolved.
type Outcome struct {
	Stage Stage
	// Handled is false only for empty utterances and for utterances the
	// fallback could not answer.
	Handled bool
	// Exit is set when the utterance was an exit phrase.
	Exit bool
	// Plugin names the plugin that handled or consumed the utterance.
	Plugin string
	// Reply is everything spoken while resolving, joined by spaces.
	Reply string
	// Record is set when a template matched.
	Record *action.Record
	// Err is the failure behind a spoken error message, if any.
	Err error
}

// Options configures a Dispatcher.
type Options struct {
	Table    *commands.Table
	Executor Executor
	Plugins  *plugin.Registry
	Fallback llm.Generator
	Speaker  Speaker
	Messages *messages.Catalog
	Bus      *events.Bus
	Logger   *slog.Logger
	// MaxHistory bounds the conversation in turns; <= 0 uses
	// DefaultMaxHistory.
	MaxHistory int
	// ExitPhrases end the session when spoken on their own.
	ExitPhrases []string
}

// Dispatcher is the command resolution pipeline.
type Dispatcher struct {
	table      *commands.Table
	executor   Executor
	plugins    *plugin.Registry
	fallback   llm.Generator
	speaker    Speaker
	msgs       *messages.Catalog
	bus        *events.Bus
	logger     *slog.Logger
	maxHistory int
	exits      []string

	// runMu serializes Dispatch calls.
	runMu sync.Mutex

	mu      sync.Mutex
	state   State
	history []llm.Turn
	last    *action.Record
}

// New builds a Dispatcher. Missing collaborators are replaced by inert
// ones: an empty table, no plugins and a disabled fallback.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := opts.Table
	if table == nil {
		table, _ = commands.NewTable()
	}
	plugins := opts.Plugins
	if plugins == nil {
		plugins = plugin.NewRegistry(logger)
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = llm.Disabled{}
	}
	msgs := opts.Messages
	if msgs == nil {
		msgs = messages.New()
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	exits := make([]string, 0, len(opts.ExitPhrases))
	for _, p := range opts.ExitPhrases {
		if p = normalize(p); p != "" {
			exits = append(exits, p)
		}
	}
	return &Dispatcher{
		table:      table,
		executor:   opts.Executor,
		plugins:    plugins,
		fallback:   fallback,
		speaker:    opts.Speaker,
		msgs:       msgs,
		bus:        opts.Bus,
		logger:     logger,
		maxHistory: maxHistory,
		exits:      exits,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateExiting {
		return
	}
	d.state = s
}

// Await marks the dispatcher as waiting for the next utterance.
func (d *Dispatcher) Await() { d.setState(StateAwaitingUtterance) }

// History returns a copy of the conversation.
func (d *Dispatcher) History() []llm.Turn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.history)
}

// LastExecution returns the most recent template outcome.
func (d *Dispatcher) LastExecution() (action.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return action.Record{}, false
	}
	return *d.last, true
}

// Dispatch resolves utterance and speaks the result.
func (d *Dispatcher) Dispatch(ctx context.Context, utterance string) Outcome {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	text := strings.TrimSpace(utterance)
	if text == "" {
		return Outcome{Stage: StageEmpty}
	}
	if slices.Contains(d.exits, normalize(text)) {
		d.mu.Lock()
		d.state = StateExiting
		d.mu.Unlock()
		d.logger.Info("exit phrase received", "utterance", text)
		return Outcome{Stage: StageExit, Handled: true, Exit: true}
	}

	d.setState(StateResolving)
	defer d.setState(StateIdle)

	s := &speech{d: d, ctx: ctx}
	out := d.resolve(s, text)
	out.Reply = strings.Join(s.said, " ")

	data := map[string]any{"stage": string(out.Stage), "utterance": text, "handled": out.Handled}
	if out.Plugin != "" {
		data["plugin"] = out.Plugin
	}
	if out.Record != nil {
		for k, v := range out.Record.Fields() {
			data[k] = v
		}
	}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	d.bus.Emit(events.SourceDispatch, events.KindCommandResolved, data)
	return out
}

// speech collects what one Dispatch call says.
type speech struct {
	d    *Dispatcher
	ctx  context.Context
	said []string
}

func (s *speech) say(text string) {
	if text == "" {
		return
	}
	s.said = append(s.said, text)
	if s.d.speaker == nil {
		return
	}
	if err := s.d.speaker.Speak(s.ctx, text); err != nil {
		s.d.logger.Warn("speak failed", "error", err)
	}
}

func (d *Dispatcher) resolve(s *speech, text string) Outcome {
	// Only template matching is case-insensitive here; later stages see
	// the utterance as captured.
	if tpl, bound, ok := d.table.Match(normalize(text)); ok {
		return d.runTemplate(s, tpl, bound)
	}
	if out, ok := d.runCommands(s, text); ok {
		return out
	}
	text, out, consumed := d.runInputs(s, text)
	if consumed {
		return out
	}
	return d.runFallback(s, text)
}

func (d *Dispatcher) runTemplate(s *speech, tpl *commands.Template, bound map[string]string) Outcome {
	d.setState(StateExecuting)
	d.logger.Debug("template matched", "phrase", tpl.Phrase, "kind", tpl.Kind, "params", bound)

	if d.executor == nil {
		err := errors.New("no action executor")
		s.say(d.msgs.Get(messages.Unexpected))
		return Outcome{Stage: StageTemplate, Handled: true, Err: err}
	}

	// The executor speaks for itself.
	rec := d.executor.Execute(s.ctx, tpl, bound, action.SourceTemplate)
	if rec.Response != "" {
		s.said = append(s.said, rec.Response)
	}

	d.mu.Lock()
	d.last = &rec
	d.mu.Unlock()

	out := Outcome{Stage: StageTemplate, Handled: true, Record: &rec}
	if !rec.Success {
		out.Err = errors.New(rec.Error)
	}
	return out
}

func (d *Dispatcher) runCommands(s *speech, text string) (Outcome, bool) {
	for _, p := range d.plugins.Commands() {
		reply, err := guard(func() (string, error) { return p.Value.HandleCommand(s.ctx, text) })
		if err != nil {
			d.logger.Error("command plugin failed", "plugin", p.Name, "error", err)
			s.say(d.msgs.Get(messages.PluginError))
			return Outcome{Stage: StagePlugin, Handled: true, Plugin: p.Name, Err: err}, true
		}
		if strings.TrimSpace(reply) == "" {
			continue
		}
		d.setState(StateExecuting)
		d.logger.Debug("command plugin handled utterance", "plugin", p.Name)
		s.say(reply)
		return Outcome{Stage: StagePlugin, Handled: true, Plugin: p.Name}, true
	}
	return Outcome{}, false
}

// runInputs chains the input transforms. A failing transform is
// reported and skipped; the text it received moves on unchanged.
func (d *Dispatcher) runInputs(s *speech, text string) (string, Outcome, bool) {
	for _, p := range d.plugins.Inputs() {
		var consumed bool
		next, err := guard(func() (string, error) {
			out, c, err := p.Value.TransformInput(s.ctx, text)
			consumed = c
			return out, err
		})
		if err != nil {
			d.logger.Error("input transform failed", "plugin", p.Name, "error", err)
			s.say(d.msgs.Get(messages.PluginError))
			continue
		}
		if consumed {
			d.logger.Info("input consumed", "plugin", p.Name)
			return text, Outcome{Stage: StageConsumed, Handled: true, Plugin: p.Name}, true
		}
		if next != text {
			d.logger.Debug("input rewritten", "plugin", p.Name, "from", text, "to", next)
		}
		text = next
	}
	return text, Outcome{}, false
}

func (d *Dispatcher) runFallback(s *speech, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{Stage: StageNoHandler}
	}
	d.setState(StateExecuting)

	d.mu.Lock()
	pending := d.trim(append(slices.Clone(d.history), llm.Turn{Role: llm.RoleUser, Text: text}))
	d.mu.Unlock()

	reply, err := d.fallback.Generate(s.ctx, pending)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyReply
	}
	if err != nil {
		// The pending user turn is dropped with pending itself.
		key := fallbackMessage(err)
		d.logger.Error("fallback failed", "error", err, "message", key)
		d.bus.Emit(events.SourceDispatch, events.KindFallbackFailed, map[string]any{"utterance": text, "error": err.Error()})
		s.say(d.msgs.Get(key))
		return Outcome{Stage: StageFallback, Err: err}
	}

	d.mu.Lock()
	full := append(pending, llm.Turn{Role: llm.RoleModel, Text: reply})
	d.history = d.trim(full)
	d.mu.Unlock()

	s.say(d.transformOutput(s, reply))
	return Outcome{Stage: StageFallback, Handled: true}
}

// trim drops the oldest turns beyond the bound.
func (d *Dispatcher) trim(h []llm.Turn) []llm.Turn {
	if len(h) <= d.maxHistory {
		return h
	}
	d.logger.Info("conversation history truncated", "dropped", len(h)-d.maxHistory, "max", d.maxHistory)
	return slices.Clone(h[len(h)-d.maxHistory:])
}

// transformOutput applies every output transform in order. A failing
// transform is reported and the reply it received is kept.
func (d *Dispatcher) transformOutput(s *speech, reply string) string {
	for _, p := range d.plugins.Outputs() {
		next, err := guard(func() (string, error) { return p.Value.TransformOutput(s.ctx, reply) })
		if err != nil {
			d.logger.Error("output transform failed", "plugin", p.Name, "error", err)
			s.say(d.msgs.Get(messages.PluginError))
			continue
		}
		reply = next
	}
	return reply
}

func fallbackMessage(err error) string {
	var exitErr *llm.ExitError
	switch {
	case errors.Is(err, llm.ErrNotFound):
		return messages.FallbackNotFound
	case errors.As(err, &exitErr):
		return messages.FallbackError
	default:
		return messages.Unexpected
	}
}

// guard runs a plugin call, turning a panic into an error.
func guard(fn func() (string, error)) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return fn()
}
