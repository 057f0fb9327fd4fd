package action

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/asistente/internal/commands"
	"github.com/nugget/asistente/internal/messages"
)

type fakeSpeaker struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSpeaker) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
	return nil
}

type fakeData struct {
	values map[string]string
	getErr error
	setErr error
}

func (f *fakeData) Get(key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeData) Set(key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

type serviceCall struct {
	domain, service, target string
	data                    map[string]any
}

type fakeServices struct {
	calls []serviceCall
	err   error
}

func (f *fakeServices) Invoke(_ context.Context, domain, service, target string, data map[string]any) error {
	f.calls = append(f.calls, serviceCall{domain, service, target, data})
	return f.err
}

type fakeRPC struct {
	method string
	params map[string]any
	result any
	err    error
}

func (f *fakeRPC) Call(_ context.Context, method string, params map[string]any) (any, error) {
	f.method = method
	f.params = params
	return f.result, f.err
}

type summaryFunc func(context.Context) (string, error)

func (f summaryFunc) ScheduleSummary(ctx context.Context) (string, error) { return f(ctx) }
func (f summaryFunc) TaskSummary(ctx context.Context) (string, error)     { return f(ctx) }

func template(t *testing.T, phrase string, kind commands.Kind, params map[string]any) *commands.Template {
	t.Helper()
	tpl := &commands.Template{Phrase: phrase, Kind: kind, Params: params}
	if _, err := commands.NewTable(tpl); err != nil {
		t.Fatal(err)
	}
	return tpl
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		data *fakeData
		want string
	}{
		{"known", &fakeData{values: map[string]string{"nombre": "Ana"}}, "Tu nombre es Ana."},
		{"missing", &fakeData{}, "Tu nombre es no tengo esa información."},
		{"read error", &fakeData{getErr: errors.New("disk")}, "Tu nombre es no tengo esa información."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpeaker{}
			e := NewExecutor(Deps{Data: tt.data, Speaker: sp, Messages: messages.New()})
			tpl := template(t, "cual es mi nombre", commands.KindUserDataLookup, map[string]any{"key": "nombre"})

			rec := e.Execute(context.Background(), tpl, map[string]string{}, SourceTemplate)
			if !rec.Success {
				t.Errorf("Success = false, want true (missing key is not a failure)")
			}
			if len(sp.lines) != 1 || sp.lines[0] != tt.want {
				t.Errorf("spoken = %q, want %q", sp.lines, tt.want)
			}
			if rec.Response != tt.want {
				t.Errorf("Response = %q", rec.Response)
			}
		})
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		bound   map[string]string
		src     Source
		setErr  error
		success bool
		spoken  string
		stored  string
	}{
		{
			name:    "from placeholder",
			params:  map[string]any{"key": "color", "value_from_input": "color"},
			bound:   map[string]string{"color": "azul"},
			success: true,
			spoken:  "He recordado que tu color es azul.",
			stored:  "azul",
		},
		{
			name:    "static value",
			params:  map[string]any{"key": "color", "value": "verde"},
			success: true,
			spoken:  "He recordado que tu color es verde.",
			stored:  "verde",
		},
		{
			name:    "placeholder missing",
			params:  map[string]any{"key": "color", "value_from_input": "tono"},
			bound:   map[string]string{"color": "azul"},
			success: false,
			spoken:  "Lo siento, no pude entender el valor que quieres que recuerde.",
		},
		{
			name:    "static reference to missing placeholder",
			params:  map[string]any{"key": "color", "value": "{tono}"},
			bound:   map[string]string{"color": "azul"},
			success: false,
			spoken:  "Lo siento, no pude entender el valor que quieres que recuerde.",
		},
		{
			name:    "static reference to bound placeholder",
			params:  map[string]any{"key": "color", "value": "{color}"},
			bound:   map[string]string{"color": "azul"},
			success: true,
			spoken:  "He recordado que tu color es azul.",
			stored:  "azul",
		},
		{
			name:    "trigger uses static value",
			params:  map[string]any{"key": "color", "value_from_input": "color", "value": "gris"},
			src:     SourceTrigger,
			success: true,
			spoken:  "He recordado que tu color es gris.",
			stored:  "gris",
		},
		{
			name:    "trigger without static value",
			params:  map[string]any{"key": "color", "value_from_input": "color"},
			src:     SourceTrigger,
			success: false,
			spoken:  "Lo siento, no pude entender el valor que quieres que recuerde.",
		},
		{
			name:    "store failure",
			params:  map[string]any{"key": "color", "value": "rojo"},
			setErr:  errors.New("readonly"),
			success: false,
			spoken:  "Lo siento, ocurrió un error inesperado.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpeaker{}
			data := &fakeData{setErr: tt.setErr}
			e := NewExecutor(Deps{Data: data, Speaker: sp})
			tpl := template(t, "mi color es {color}", commands.KindUserDataSet, tt.params)
			src := tt.src
			if src == "" {
				src = SourceTemplate
			}

			rec := e.Execute(context.Background(), tpl, tt.bound, src)
			if rec.Success != tt.success {
				t.Errorf("Success = %v, want %v (err %q)", rec.Success, tt.success, rec.Error)
			}
			if len(sp.lines) != 1 || sp.lines[0] != tt.spoken {
				t.Errorf("spoken = %q, want %q", sp.lines, tt.spoken)
			}
			if tt.stored != "" && data.values["color"] != tt.stored {
				t.Errorf("stored = %q, want %q", data.values["color"], tt.stored)
			}
		})
	}
}

func TestServiceCall(t *testing.T) {
	tests := []struct {
		name       string
		params     map[string]any
		bound      map[string]string
		src        Source
		err        error
		wantTarget string
		spoken     []string
		success    bool
	}{
		{
			name:       "target from placeholder",
			params:     map[string]any{"domain": "light", "service": "turn_on", "entity_id_param": "entidad"},
			bound:      map[string]string{"entidad": "light.cocina"},
			src:        SourceTemplate,
			wantTarget: "light.cocina",
			spoken:     []string{"Comando personalizado ejecutado: enciende {entidad}"},
			success:    true,
		},
		{
			name:       "static target",
			params:     map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.sala"},
			src:        SourceTrigger,
			wantTarget: "light.sala",
			spoken:     []string{"Comando programado ejecutado: enciende {entidad}"},
			success:    true,
		},
		{
			name:       "failure from trigger",
			params:     map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.sala"},
			src:        SourceTrigger,
			err:        errors.New("502"),
			wantTarget: "light.sala",
			spoken:     []string{"Fallo al ejecutar comando programado: enciende {entidad}"},
			success:    false,
		},
		{
			name:       "failure from template",
			params:     map[string]any{"domain": "light", "service": "turn_on", "entity_id_param": "entidad"},
			bound:      map[string]string{"entidad": "light.cocina"},
			src:        SourceTemplate,
			err:        errors.New("502"),
			wantTarget: "light.cocina",
			spoken:     []string{"Lo siento, no pude realizar la acción en Home Assistant. Revisa la configuración y los logs."},
			success:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpeaker{}
			svc := &fakeServices{err: tt.err}
			e := NewExecutor(Deps{Services: svc, Speaker: sp})
			tpl := template(t, "enciende {entidad}", commands.KindServiceCall, tt.params)

			rec := e.Execute(context.Background(), tpl, tt.bound, tt.src)
			if rec.Success != tt.success {
				t.Errorf("Success = %v, want %v", rec.Success, tt.success)
			}
			if len(svc.calls) != 1 || svc.calls[0].target != tt.wantTarget {
				t.Fatalf("calls = %+v, want target %q", svc.calls, tt.wantTarget)
			}
			if strings.Join(sp.lines, "|") != strings.Join(tt.spoken, "|") {
				t.Errorf("spoken = %q, want %q", sp.lines, tt.spoken)
			}
		})
	}
}

func TestServiceCall_NoCollaborator(t *testing.T) {
	sp := &fakeSpeaker{}
	e := NewExecutor(Deps{Speaker: sp})
	tpl := template(t, "apaga todo", commands.KindServiceCall, map[string]any{"domain": "light", "service": "turn_off"})

	rec := e.Execute(context.Background(), tpl, nil, SourceTemplate)
	if rec.Success || rec.Error == "" {
		t.Errorf("record = %+v, want failure", rec)
	}
}

func TestRPC_PlaceholderSubstitution(t *testing.T) {
	sp := &fakeSpeaker{}
	rpc := &fakeRPC{result: map[string]any{"ok": true}}
	e := NewExecutor(Deps{RPC: rpc, Speaker: sp})
	tpl := template(t, "envia {parametro}", commands.KindRPC, map[string]any{
		"method": "tools.echo",
		"params": map[string]any{"data": "{parametro}", "fixed": "{otro}", "n": 3},
	})

	rec := e.Execute(context.Background(), tpl, map[string]string{"parametro": "x"}, SourceTemplate)
	if !rec.Success {
		t.Fatalf("Success = false: %s", rec.Error)
	}
	want := map[string]any{"data": "x", "fixed": "{otro}", "n": 3}
	if !maps.Equal(rpc.params, want) {
		t.Errorf("params = %v, want %v", rpc.params, want)
	}
	if rpc.method != "tools.echo" {
		t.Errorf("method = %q", rpc.method)
	}
	if len(sp.lines) != 1 || sp.lines[0] != "Comando MCP ejecutado: tools.echo" {
		t.Errorf("spoken = %q", sp.lines)
	}
	if rec.Result == nil {
		t.Error("Result = nil on success")
	}
}

func TestRPC_Failure(t *testing.T) {
	tests := []struct {
		name   string
		rpc    *fakeRPC
		src    Source
		spoken string
	}{
		{"transport error", &fakeRPC{err: errors.New("refused")}, SourceTemplate, "Fallo al ejecutar comando MCP: tools.echo"},
		{"null result", &fakeRPC{}, SourceTemplate, "Fallo al ejecutar comando MCP: tools.echo"},
		{"trigger", &fakeRPC{err: errors.New("rpc error")}, SourceTrigger, "Fallo al ejecutar comando MCP programado: tools.echo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpeaker{}
			e := NewExecutor(Deps{RPC: tt.rpc, Speaker: sp})
			tpl := template(t, "eco", commands.KindRPC, map[string]any{"method": "tools.echo"})

			rec := e.Execute(context.Background(), tpl, nil, tt.src)
			if rec.Success {
				t.Error("Success = true")
			}
			if rec.Result != nil {
				t.Errorf("Result = %v, want nil", rec.Result)
			}
			if len(sp.lines) != 1 || sp.lines[0] != tt.spoken {
				t.Errorf("spoken = %q, want %q", sp.lines, tt.spoken)
			}
		})
	}
}

func TestReminder(t *testing.T) {
	sp := &fakeSpeaker{}
	e := NewExecutor(Deps{Speaker: sp})

	tpl := template(t, "recuérdame {que} a las {cuando}", commands.KindLogReminder, nil)
	e.Execute(context.Background(), tpl, map[string]string{"que": "llamar a mamá", "cuando": "cinco"}, SourceTemplate)

	static := template(t, "pastilla", commands.KindLogReminder, map[string]any{"que": "tomar la pastilla", "cuando": "ahora"})
	e.Execute(context.Background(), static, nil, SourceTrigger)

	want := []string{
		"Recordatorio creado: llamar a mamá para cinco",
		"Recordatorio programado: tomar la pastilla para ahora",
	}
	if strings.Join(sp.lines, "|") != strings.Join(want, "|") {
		t.Errorf("spoken = %q, want %q", sp.lines, want)
	}
}

func TestMorningSummary_PartialFailure(t *testing.T) {
	sp := &fakeSpeaker{}
	tasksCalled := false
	e := NewExecutor(Deps{
		Speaker: sp,
		Schedule: summaryFunc(func(context.Context) (string, error) {
			return "", errors.New("caldav down")
		}),
		Tasks: summaryFunc(func(context.Context) (string, error) {
			tasksCalled = true
			return "Tus tareas pendientes son: 1. comprar pan", nil
		}),
	})
	tpl := template(t, "buenos dias", commands.KindMorningSummary, nil)

	rec := e.Execute(context.Background(), tpl, nil, SourceTrigger)
	if !tasksCalled {
		t.Fatal("task query skipped after schedule failure")
	}
	want := []string{
		"Buenos días. Aquí está tu resumen matutino.",
		"No pude obtener los eventos del calendario.",
		"Tus tareas pendientes son: 1. comprar pan",
	}
	if strings.Join(sp.lines, "|") != strings.Join(want, "|") {
		t.Errorf("spoken = %q, want %q", sp.lines, want)
	}
	if rec.Success {
		t.Error("Success = true with a failed part")
	}
}

func TestMorningSummary_PanicIsolated(t *testing.T) {
	sp := &fakeSpeaker{}
	e := NewExecutor(Deps{
		Speaker: sp,
		Schedule: summaryFunc(func(context.Context) (string, error) {
			return "No tienes próximos eventos.", nil
		}),
		Tasks: summaryFunc(func(context.Context) (string, error) {
			panic("boom")
		}),
	})
	tpl := template(t, "buenos dias", commands.KindMorningSummary, nil)

	e.Execute(context.Background(), tpl, nil, SourceTemplate)
	if got := sp.lines[len(sp.lines)-1]; got != "No pude obtener la lista de tareas." {
		t.Errorf("last line = %q", got)
	}
}

func TestRecordMetadata(t *testing.T) {
	at := time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC)
	e := NewExecutor(Deps{Now: func() time.Time { return at }})
	tpl := template(t, "pastilla", commands.KindLogReminder, nil)

	rec := e.Execute(context.Background(), tpl, nil, SourceTrigger)
	if rec.ID == "" || rec.Kind != commands.KindLogReminder || rec.Source != SourceTrigger || rec.Phrase != "pastilla" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.At.Equal(at) {
		t.Errorf("At = %v, want %v", rec.At, at)
	}
}

func TestRecordFields(t *testing.T) {
	rec := Record{
		ID:       "r1",
		Kind:     commands.KindRPC,
		Source:   SourceTemplate,
		Phrase:   "crea issue {titulo}",
		Params:   map[string]string{"titulo": "x"},
		Success:  false,
		Error:    "empty result",
		Response: "Fallo al ejecutar comando MCP: github.create_issue",
	}
	f := rec.Fields()
	if f["kind"] != "remote_procedure_call" || f["success"] != false || f["error"] != "empty result" {
		t.Errorf("Fields() = %v", f)
	}
	if _, ok := f["result"]; ok {
		t.Error("nil result should be omitted")
	}
}

func TestResolve(t *testing.T) {
	bound := map[string]string{"nombre": "Ana"}
	tests := map[string]string{
		"{nombre}":      "Ana",
		"{NOMBRE}":      "Ana",
		"{apellido}":    "{apellido}",
		"hola {nombre}": "hola {nombre}",
		"{}":            "{}",
		"literal":       "literal",
		"{{nombre}}":    "{{nombre}}",
	}
	for in, want := range tests {
		if got := Resolve(in, bound); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
	if !Unresolved("{apellido}", bound) || Unresolved("{Nombre}", bound) || Unresolved("literal", bound) {
		t.Error("Unresolved misreports placeholder references")
	}
	if ResolveParams(nil, bound) != nil {
		t.Error("ResolveParams(nil) != nil")
	}
}
