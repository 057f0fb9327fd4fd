// Package action runs the action bound to a matched template or a fired
// trigger. Every action speaks its own outcome and reports it as a
// Record; Execute never returns an error.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/asistente/internal/commands"
	"github.com/nugget/asistente/internal/messages"
)

// Source says why an action ran.
type Source string

// Action sources.
const (
	SourceTemplate Source = "template"
	SourceTrigger  Source = "trigger"
)

// ServiceInvoker runs a named operation on the home automation service.
type ServiceInvoker interface {
	Invoke(ctx context.Context, domain, service, target string, data map[string]any) error
}

// RPCCaller invokes a method on the remote procedure endpoint. A nil
// result with a nil error is treated as a failure.
type RPCCaller interface {
	Call(ctx context.Context, method string, params map[string]any) (any, error)
}

// UserData is the user's key/value store.
type UserData interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Speaker renders one utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// ScheduleLister describes upcoming events as a sentence.
type ScheduleLister interface {
	ScheduleSummary(ctx context.Context) (string, error)
}

// TaskLister describes pending tasks as a sentence.
type TaskLister interface {
	TaskSummary(ctx context.Context) (string, error)
}

// Record is the outcome of one executed action.
type Record struct {
	ID       string            `json:"id"`
	Kind     commands.Kind     `json:"kind"`
	Source   Source            `json:"source"`
	Phrase   string            `json:"phrase"`
	Params   map[string]string `json:"params,omitempty"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Result   any               `json:"result,omitempty"`
	Response string            `json:"response,omitempty"`
	At       time.Time         `json:"at"`
}

// Deps are the collaborators an Executor uses. Services, RPC, Schedule
// and Tasks may be nil; actions that need a missing collaborator fail
// the same way a failed call would.
type Deps struct {
	Services ServiceInvoker
	RPC      RPCCaller
	Data     UserData
	Schedule ScheduleLister
	Tasks    TaskLister
	Speaker  Speaker
	Messages *messages.Catalog
	Logger   *slog.Logger
	Now      func() time.Time
}

// Executor performs template actions.
type Executor struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor returns an Executor using deps.
func NewExecutor(deps Deps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{deps: deps, logger: logger, now: now}
}

// SetSchedule installs the schedule source after construction. Plugins
// that provide it are loaded after the executor exists.
func (e *Executor) SetSchedule(s ScheduleLister) { e.deps.Schedule = s }

// SetTasks installs the task source after construction.
func (e *Executor) SetTasks(t TaskLister) { e.deps.Tasks = t }

// run carries the state of one execution.
type run struct {
	e     *Executor
	ctx   context.Context
	tpl   *commands.Template
	bound map[string]string
	rec   Record
	said  []string
}

func (r *run) say(text string) {
	r.said = append(r.said, text)
	if r.e.deps.Speaker == nil {
		return
	}
	if err := r.e.deps.Speaker.Speak(r.ctx, text); err != nil {
		r.e.logger.Warn("speak failed", "phrase", r.tpl.Phrase, "error", err)
	}
}

func (r *run) fail(err error) {
	r.rec.Success = false
	r.rec.Error = err.Error()
}

// Execute performs tpl's action with the placeholder values in bound
// (nil for triggers) and returns the outcome.
func (e *Executor) Execute(ctx context.Context, tpl *commands.Template, bound map[string]string, src Source) Record {
	if bound == nil {
		bound = map[string]string{}
	}
	r := &run{
		e:     e,
		ctx:   ctx,
		tpl:   tpl,
		bound: bound,
		rec: Record{
			ID:      newID(),
			Kind:    tpl.Kind,
			Source:  src,
			Phrase:  tpl.Phrase,
			Params:  bound,
			Success: true,
			At:      e.now(),
		},
	}

	switch tpl.Kind {
	case commands.KindServiceCall:
		e.serviceCall(r)
	case commands.KindUserDataLookup:
		e.lookup(r)
	case commands.KindUserDataSet:
		e.set(r)
	case commands.KindLogReminder:
		e.reminder(r)
	case commands.KindRPC:
		e.rpc(r)
	case commands.KindMorningSummary:
		e.morningSummary(r)
	default:
		r.fail(fmt.Errorf("unknown action %q", tpl.Kind))
		r.say(e.deps.Messages.Get(messages.Unexpected))
	}

	r.rec.Response = strings.Join(r.said, " ")
	level := slog.LevelInfo
	if !r.rec.Success {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "action executed",
		"phrase", tpl.Phrase,
		"kind", tpl.Kind,
		"source", src,
		"success", r.rec.Success,
		"error", r.rec.Error,
	)
	return r.rec
}

// Fields flattens the record for event payloads.
func (r Record) Fields() map[string]any {
	f := map[string]any{
		"id":      r.ID,
		"kind":    string(r.Kind),
		"source":  string(r.Source),
		"phrase":  r.Phrase,
		"success": r.Success,
	}
	if len(r.Params) > 0 {
		f["params"] = r.Params
	}
	if r.Error != "" {
		f["error"] = r.Error
	}
	if r.Result != nil {
		f["result"] = r.Result
	}
	if r.Response != "" {
		f["response"] = r.Response
	}
	return f
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// bind returns the placeholder value named by the template parameter
// nameParam (or defaultName when that parameter is absent).
func (r *run) bind(nameParam, defaultName string) (string, bool) {
	name := r.tpl.String(nameParam)
	if name == "" {
		name = defaultName
	}
	if name == "" {
		return "", false
	}
	v, ok := r.bound[strings.ToLower(name)]
	return v, ok && v != ""
}

func (e *Executor) serviceCall(r *run) {
	domain := r.tpl.String("domain")
	service := r.tpl.String("service")
	if service == "" {
		service = r.tpl.String("operation")
	}

	target, ok := r.bind("entity_id_param", "entity_id")
	if !ok {
		target = Resolve(r.tpl.String("entity_id"), r.bound)
	}
	data := ResolveParams(r.tpl.Map("data"), r.bound)

	var err error
	switch {
	case domain == "" || service == "":
		err = errors.New("domain and service are required")
	case e.deps.Services == nil:
		err = errors.New("no automation service configured")
	default:
		err = e.deps.Services.Invoke(r.ctx, domain, service, target, data)
	}

	if err != nil {
		r.fail(err)
		if r.rec.Source == SourceTrigger {
			r.say("Fallo al ejecutar comando programado: " + r.tpl.Phrase)
			return
		}
		r.say(e.deps.Messages.Get(messages.ServiceFailed))
		return
	}
	r.rec.Result = map[string]any{"domain": domain, "service": service, "target": target}
	if r.rec.Source == SourceTrigger {
		r.say("Comando programado ejecutado: " + r.tpl.Phrase)
		return
	}
	r.say("Comando personalizado ejecutado: " + r.tpl.Phrase)
}

func (e *Executor) lookup(r *run) {
	key := r.tpl.String("key")
	value := e.deps.Messages.Get(messages.UnknownValue)
	if e.deps.Data != nil && key != "" {
		v, ok, err := e.deps.Data.Get(key)
		if err != nil {
			e.logger.Warn("user data read failed", "key", key, "error", err)
		} else if ok {
			value = v
		}
	}
	r.rec.Result = value
	r.say(fmt.Sprintf("Tu %s es %s.", key, value))
}

func (e *Executor) set(r *run) {
	key := r.tpl.String("key")
	static := r.tpl.String("value")

	// Triggers carry no captured values, so they use the static value.
	var value string
	if r.tpl.String("value_from_input") != "" && (r.rec.Source != SourceTrigger || static == "") {
		value, _ = r.bind("value_from_input", "")
	} else if !Unresolved(static, r.bound) {
		value = Resolve(static, r.bound)
	}

	if key == "" || value == "" {
		r.fail(errors.New("value could not be resolved"))
		r.say(e.deps.Messages.Get(messages.UnclearValue))
		return
	}
	if e.deps.Data == nil {
		r.fail(errors.New("no user data store"))
		r.say(e.deps.Messages.Get(messages.Unexpected))
		return
	}
	if err := e.deps.Data.Set(key, value); err != nil {
		r.fail(err)
		r.say(e.deps.Messages.Get(messages.Unexpected))
		return
	}
	r.rec.Result = value
	r.say(fmt.Sprintf("He recordado que tu %s es %s.", key, value))
}

func (e *Executor) reminder(r *run) {
	que, ok := r.bound["que"]
	if !ok {
		que = r.tpl.String("que")
	}
	cuando, ok := r.bound["cuando"]
	if !ok {
		cuando = r.tpl.String("cuando")
	}

	e.logger.Info("reminder", "what", que, "when", cuando, "source", r.rec.Source)
	r.rec.Result = map[string]any{"que": que, "cuando": cuando}
	if r.rec.Source == SourceTrigger {
		r.say(fmt.Sprintf("Recordatorio programado: %s para %s", que, cuando))
		return
	}
	r.say(fmt.Sprintf("Recordatorio creado: %s para %s", que, cuando))
}

func (e *Executor) rpc(r *run) {
	method := r.tpl.String("method")
	params := ResolveParams(r.tpl.Map("params"), r.bound)

	var (
		result any
		err    error
	)
	switch {
	case method == "":
		err = errors.New("method is required")
	case e.deps.RPC == nil:
		err = errors.New("no remote procedure endpoint configured")
	default:
		result, err = e.deps.RPC.Call(r.ctx, method, params)
		if err == nil && result == nil {
			err = errors.New("empty result")
		}
	}

	scheduled := ""
	if r.rec.Source == SourceTrigger {
		scheduled = " programado"
	}
	if err != nil {
		r.fail(err)
		r.rec.Result = nil
		r.say(fmt.Sprintf("Fallo al ejecutar comando MCP%s: %s", scheduled, method))
		return
	}
	r.rec.Result = result
	if scheduled != "" {
		r.say("Comando MCP programado ejecutado: " + method)
		return
	}
	r.say("Comando MCP ejecutado: " + method)
}

func (e *Executor) morningSummary(r *run) {
	r.say("Buenos días. Aquí está tu resumen matutino.")

	var failed []string

	events, err := summarize(r.ctx, e.deps.Schedule != nil, func(ctx context.Context) (string, error) {
		return e.deps.Schedule.ScheduleSummary(ctx)
	})
	if err != nil {
		e.logger.Error("schedule summary failed", "error", err)
		failed = append(failed, "schedule: "+err.Error())
		r.say("No pude obtener los eventos del calendario.")
	} else {
		r.say(events)
	}

	tasks, err := summarize(r.ctx, e.deps.Tasks != nil, func(ctx context.Context) (string, error) {
		return e.deps.Tasks.TaskSummary(ctx)
	})
	if err != nil {
		e.logger.Error("task summary failed", "error", err)
		failed = append(failed, "tasks: "+err.Error())
		r.say("No pude obtener la lista de tareas.")
	} else {
		r.say(tasks)
	}

	if len(failed) > 0 {
		r.fail(errors.New(strings.Join(failed, "; ")))
	}
}

// summarize runs one summary query, converting a panic or a missing
// source into an error so the other query still runs.
func summarize(ctx context.Context, available bool, fn func(context.Context) (string, error)) (text string, err error) {
	if !available {
		return "", errors.New("no source configured")
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
