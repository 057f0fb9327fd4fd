// Package calendar answers schedule questions from a CalDAV calendar
// and is the schedule source of the morning summary.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nugget/asistente/internal/calendar"
	"github.com/nugget/asistente/internal/plugin"
)

const createPrefix = "crea un evento llamado "

var listPhrases = []string{"cuáles son mis próximos eventos", "qué tengo en mi calendario"}

// Settings are read from the manifest.
type Settings struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	// Password defaults to $CALDAV_PASSWORD.
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"`
	// Limit caps the events read aloud (default 10).
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type schedule interface {
	Upcoming(ctx context.Context, now time.Time, limit int) ([]calendar.Event, error)
	CreateEvent(ctx context.Context, summary string, start, end time.Time) (calendar.Event, error)
}

// Plugin is a command handler and schedule lister.
type Plugin struct {
	cal    schedule
	limit  int
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	s := Settings{Limit: 10}
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	if s.URL == "" {
		return nil, errors.New("url is required")
	}
	if s.Password == "" {
		s.Password = os.Getenv("CALDAV_PASSWORD")
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := calendar.NewClient(calendar.Config{
		URL:        s.URL,
		Username:   s.Username,
		Password:   s.Password,
		Calendar:   s.Calendar,
		Window:     s.Window,
		HTTPClient: caps.HTTP,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return newPlugin(client, s.Limit, logger), nil
}

func newPlugin(cal schedule, limit int, logger *slog.Logger) *Plugin {
	return &Plugin{cal: cal, limit: limit, loc: time.Local, logger: logger, now: time.Now}
}

// HandleCommand answers listing and creation requests.
func (p *Plugin) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	for _, phrase := range listPhrases {
		if strings.Contains(lower, phrase) {
			summary, err := p.ScheduleSummary(ctx)
			if err != nil {
				p.logger.Error("calendar listing failed", "error", err)
				return "Lo siento, no pude obtener tus eventos del calendario.", nil
			}
			return summary, nil
		}
	}
	if _, rest, ok := strings.Cut(lower, createPrefix); ok {
		return p.create(ctx, rest), nil
	}
	return "", nil
}

// ScheduleSummary describes the upcoming events.
func (p *Plugin) ScheduleSummary(ctx context.Context) (string, error) {
	now := p.now()
	events, err := p.cal.Upcoming(ctx, now, p.limit)
	if err != nil {
		return "", err
	}
	return calendar.Format(events, now), nil
}

// create handles "crea un evento llamado <título> para AAAA-MM-DD HH:MM".
func (p *Plugin) create(ctx context.Context, rest string) string {
	const badFormat = "Lo siento, no pude crear el evento. Asegúrate de que el formato de fecha y hora sea correcto."
	i := strings.LastIndex(rest, " para ")
	if i < 0 {
		return badFormat
	}
	title := strings.TrimSpace(rest[:i])
	start, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(rest[i+len(" para "):]), p.loc)
	if title == "" || err != nil {
		return badFormat
	}
	ev, err := p.cal.CreateEvent(ctx, title, start, time.Time{})
	if err != nil {
		p.logger.Error("calendar event creation failed", "error", err)
		return badFormat
	}
	return fmt.Sprintf("Evento creado: %s, %s.", ev.Summary, ev.Start.Format("02/01/2006 15:04"))
}
