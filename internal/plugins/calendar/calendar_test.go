package calendar

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nugget/asistente/internal/calendar"
	"github.com/nugget/asistente/internal/plugin"
)

type fakeSchedule struct {
	events  []calendar.Event
	err     error
	created []calendar.Event
	limit   int
}

func (f *fakeSchedule) Upcoming(_ context.Context, _ time.Time, limit int) ([]calendar.Event, error) {
	f.limit = limit
	return f.events, f.err
}

func (f *fakeSchedule) CreateEvent(_ context.Context, summary string, start, end time.Time) (calendar.Event, error) {
	if f.err != nil {
		return calendar.Event{}, f.err
	}
	ev := calendar.Event{Summary: summary, Start: start, End: start.Add(time.Hour)}
	f.created = append(f.created, ev)
	return ev, nil
}

func newTestPlugin(f *fakeSchedule) *Plugin {
	p := newPlugin(f, 5, slog.Default())
	p.loc = time.UTC
	p.now = func() time.Time { return time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC) }
	return p
}

func TestHandleCommand_List(t *testing.T) {
	f := &fakeSchedule{events: []calendar.Event{{Summary: "Dentista", Start: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}}}
	p := newTestPlugin(f)

	got, err := p.HandleCommand(context.Background(), "qué tengo en mi calendario")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Tus próximos eventos son: hoy a las 10:00, Dentista." {
		t.Errorf("reply = %q", got)
	}
	if f.limit != 5 {
		t.Errorf("limit = %d, want 5", f.limit)
	}

	f.err = errors.New("401")
	got, _ = p.HandleCommand(context.Background(), "cuáles son mis próximos eventos")
	if got != "Lo siento, no pude obtener tus eventos del calendario." {
		t.Errorf("failure reply = %q", got)
	}
	if _, err := p.ScheduleSummary(context.Background()); err == nil {
		t.Error("ScheduleSummary() should surface the error")
	}
}

func TestHandleCommand_Create(t *testing.T) {
	f := &fakeSchedule{}
	p := newTestPlugin(f)

	got, _ := p.HandleCommand(context.Background(), "crea un evento llamado reunión de equipo para 2026-03-20 10:00")
	if got != "Evento creado: reunión de equipo, 20/03/2026 10:00." {
		t.Errorf("reply = %q", got)
	}
	if len(f.created) != 1 || !f.created[0].Start.Equal(time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("created = %+v", f.created)
	}

	for _, bad := range []string{
		"crea un evento llamado cena para mañana",
		"crea un evento llamado cena",
		"crea un evento llamado  para 2026-03-20 21:00",
	} {
		if got, _ := p.HandleCommand(context.Background(), bad); got == "" || f.created[len(f.created)-1].Summary != "reunión de equipo" {
			t.Errorf("HandleCommand(%q) = %q", bad, got)
		}
	}
	if got, _ := p.HandleCommand(context.Background(), "pon música"); got != "" {
		t.Errorf("unrelated utterance handled: %q", got)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New("calendar", plugin.Settings{}, plugin.Capabilities{}); err == nil {
		t.Error("New() without url should fail")
	}
}
