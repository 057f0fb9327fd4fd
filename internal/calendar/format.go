package calendar

import (
	"fmt"
	"strings"
	"time"
)

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// Format renders events as one spoken sentence relative to now.
func Format(events []Event, now time.Time) string {
	if len(events) == 0 {
		return "No tienes próximos eventos."
	}
	parts := make([]string, 0, len(events))
	for _, e := range events {
		parts = append(parts, describe(e, now))
	}
	return "Tus próximos eventos son: " + strings.Join(parts, "; ") + "."
}

func describe(e Event, now time.Time) string {
	start := e.Start.In(now.Location())
	var b strings.Builder
	b.WriteString(dayLabel(start, now))
	if !e.AllDay {
		fmt.Fprintf(&b, " a las %s", start.Format("15:04"))
	}
	b.WriteString(", ")
	b.WriteString(e.Summary)
	if e.Location != "" {
		b.WriteString(" en ")
		b.WriteString(e.Location)
	}
	return b.String()
}

func dayLabel(t, now time.Time) string {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch days := int(t.Sub(today).Hours() / 24); {
	case t.Before(today.AddDate(0, 0, 1)) && !t.Before(today):
		return "hoy"
	case days == 1:
		return "mañana"
	default:
		return fmt.Sprintf("el %s %d", weekdays[t.Weekday()], t.Day())
	}
}
