// Package speech provides the assistant's voice: output engines that
// render replies, capture sources that produce utterances, and the
// formatting used to read structured data aloud.
package speech

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Speaker renders one utterance. Implementations must release any
// temporary artifact before returning, on every path.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Serialized wraps a Speaker so that only one utterance renders at a
// time. The lock is held for exactly one Speak call.
type Serialized struct {
	mu    sync.Mutex
	inner Speaker
}

// NewSerialized returns a Serialized speaker around inner.
func NewSerialized(inner Speaker) *Serialized {
	return &Serialized{inner: inner}
}

// Speak renders text while holding the lock.
func (s *Serialized) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Speak(ctx, text)
}

// Console prints utterances as text lines.
type Console struct {
	w io.Writer
}

// NewConsole returns a Console speaker writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Speak writes "» text".
func (c *Console) Speak(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.w, "» %s\n", text)
	return err
}

// FormatStructured turns a collaborator result into a sentence.
//
// Lists read as "Aquí tienes los elementos: 1. a, 2. b", using an
// item's title, name or description when it is an object. Objects read
// as "Aquí está la información: k: v, ..." with keys sorted. Anything
// else is formatted with fmt.
func FormatStructured(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		if len(x) == 0 {
			return "No hay elementos para mostrar."
		}
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = fmt.Sprintf("%d. %s", i+1, displayText(item))
		}
		return "Aquí tienes los elementos: " + strings.Join(items, ", ")
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return FormatStructured(items)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, x[k])
		}
		return "Aquí está la información: " + strings.Join(pairs, ", ")
	default:
		return fmt.Sprint(v)
	}
}

func displayText(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return fmt.Sprint(item)
	}
	for _, key := range []string{"title", "name", "description"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprint(m)
}
