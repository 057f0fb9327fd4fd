// Package calendar reads and writes the user's schedule on a CalDAV
// server.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/nugget/asistente/internal/httpkit"
)

// DefaultWindow is how far ahead Upcoming looks.
const DefaultWindow = 7 * 24 * time.Hour

// ErrNoCalendar is returned when discovery finds no event calendar.
var ErrNoCalendar = errors.New("no event calendar found")

// Event is one occurrence on the schedule.
type Event struct {
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Config configures a Client.
type Config struct {
	// URL is the CalDAV endpoint. Calendars are discovered from it
	// unless Calendar names a collection path directly.
	URL      string
	Username string
	Password string
	Calendar string
	// Location renders floating times; defaults to time.Local.
	Location   *time.Location
	Window     time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// backend is the part of the CalDAV client used here.
type backend interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
}

// Client lists upcoming events and creates new ones.
type Client struct {
	dav    backend
	loc    *time.Location
	window time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	paths []string
}

// NewClient creates a CalDAV client. No request is made until the
// first call.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("calendar: url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}
	dav, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	c := newClient(dav, cfg, logger)
	if cfg.Calendar != "" {
		c.paths = []string{cfg.Calendar}
	}
	return c, nil
}

func newClient(dav backend, cfg Config, logger *slog.Logger) *Client {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Client{dav: dav, loc: loc, window: window, logger: logger}
}

// calendars returns the event calendar paths, discovering them once.
func (c *Client) calendars(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.paths) > 0 {
		return c.paths, nil
	}

	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	home, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.dav.FindCalendars(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var paths []string
	for _, cal := range cals {
		if supportsEvents(cal) {
			paths = append(paths, cal.Path)
		}
	}
	if len(paths) == 0 {
		return nil, ErrNoCalendar
	}
	c.logger.Debug("calendars discovered", "count", len(paths))
	c.paths = paths
	return paths, nil
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

// Upcoming returns up to limit events starting between now and the end
// of the window, sorted by start. limit <= 0 means no limit.
func (c *Client) Upcoming(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	paths, err := c.calendars(ctx)
	if err != nil {
		return nil, err
	}
	end := now.Add(c.window)
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{{
				Name:  ical.CompEvent,
				Props: []string{ical.PropSummary, ical.PropLocation, ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropUID},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: now,
				End:   end,
			}},
		},
	}

	var events []Event
	for _, p := range paths {
		objs, err := c.dav.QueryCalendar(ctx, p, query)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", p, err)
		}
		events = append(events, eventsFromObjects(objs, c.loc, c.logger)...)
	}
	return selectUpcoming(events, now, end, limit), nil
}

// CreateEvent stores a new event in the first calendar. A zero end
// means one hour after start.
func (c *Client) CreateEvent(ctx context.Context, summary string, start, end time.Time) (Event, error) {
	paths, err := c.calendars(ctx)
	if err != nil {
		return Event{}, err
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}
	uid := uuid.NewString()
	cal := newCalendar(uid, summary, start, end, time.Now())
	objPath := path.Join(paths[0], uid+".ics")
	if _, err := c.dav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return Event{}, fmt.Errorf("put %s: %w", objPath, err)
	}
	c.logger.Info("calendar event created", "summary", summary, "start", start)
	return Event{Summary: summary, Start: start, End: end}, nil
}

func newCalendar(uid, summary string, start, end, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//asistente//ES")

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, end)
	ev.Props.SetText(ical.PropSummary, summary)
	cal.Children = append(cal.Children, ev.Component)
	return cal
}

func eventsFromObjects(objs []caldav.CalendarObject, loc *time.Location, logger *slog.Logger) []Event {
	var out []Event
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(loc)
			if err != nil {
				logger.Debug("skipping event without start", "path", obj.Path, "error", err)
				continue
			}
			e := Event{Start: start}
			e.End, _ = ev.DateTimeEnd(loc)
			e.Summary, _ = ev.Props.Text(ical.PropSummary)
			e.Location, _ = ev.Props.Text(ical.PropLocation)
			if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
				e.AllDay = true
			}
			if strings.TrimSpace(e.Summary) == "" {
				e.Summary = "Sin título"
			}
			out = append(out, e)
		}
	}
	return out
}

// selectUpcoming keeps events overlapping [now, end), sorts them and
// applies limit. All-day events count for their whole day.
func selectUpcoming(events []Event, now, end time.Time, limit int) []Event {
	var kept []Event
	for _, e := range events {
		until := e.End
		if until.IsZero() {
			until = e.Start
			if e.AllDay {
				until = e.Start.AddDate(0, 0, 1)
			}
		}
		if until.Before(now) || !e.Start.Before(end) {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start.Before(kept[j].Start) })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
