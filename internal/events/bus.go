// Package events is the in-process event bus. The dispatcher and the
// trigger loop publish one event per resolved utterance or fired
// trigger; the status publisher and the debug logger consume them.
// Publishing on a nil *Bus is a no-op, so components can run without
// one.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sources.
const (
	// SourceDispatch identifies events from the command dispatcher.
	SourceDispatch = "dispatch"
	// SourceScheduler identifies events from the trigger loop.
	SourceScheduler = "scheduler"
	// SourceSession identifies events from the session loop.
	SourceSession = "session"
)

// Kinds.
const (
	// KindCommandResolved is published after an utterance was handled.
	// Data: stage, utterance, plus the action record fields when a
	// template matched.
	KindCommandResolved = "command_resolved"
	// KindTriggerFired is published after a timed template ran.
	// Data: the action record fields.
	KindTriggerFired = "trigger_fired"
	// KindFallbackFailed is published when the conversational fallback
	// failed. Data: utterance, error.
	KindFallbackFailed = "fallback_failed"
	// KindSessionStarted and KindSessionEnded bracket the session loop.
	KindSessionStarted = "session_started"
	KindSessionEnded   = "session_ended"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe take the receive-only channel handed
	// out by Subscribe.
	recvToSend map[<-chan Event]chan Event
	now        func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		now:        time.Now,
	}
}

// Publish sends e to every subscriber whose buffer has room. A zero
// Timestamp is set to the current time.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel receiving published events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Consume subscribes and calls fn for every event until ctx is done.
// It blocks; run it in its own goroutine.
func (b *Bus) Consume(ctx context.Context, bufSize int, fn func(Event)) {
	if b == nil {
		<-ctx.Done()
		return
	}
	ch := b.Subscribe(bufSize)
	defer b.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fn(e)
		}
	}
}

// LogEvents writes every event at debug level until ctx is done.
func (b *Bus) LogEvents(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.Consume(ctx, 64, func(e Event) {
		logger.Debug("event", "source", e.Source, "kind", e.Kind, "data", e.Data)
	})
}
