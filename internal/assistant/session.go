// Package assistant runs the listen, dispatch and speak loop and
// assembles the collaborators it needs from configuration.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nugget/asistente/internal/dispatch"
	"github.com/nugget/asistente/internal/events"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/speech"
)

// Dispatcher resolves one utterance.
type Dispatcher interface {
	Dispatch(ctx context.Context, utterance string) dispatch.Outcome
	Await()
}

// Triggers is the background trigger loop.
type Triggers interface {
	Start(ctx context.Context)
	Stop()
}

// NetworkChecker re-probes connectivity on demand.
type NetworkChecker interface {
	Recheck(ctx context.Context) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Capturer   speech.Capturer
	Speaker    speech.Speaker
	Dispatcher Dispatcher
	// Triggers, Network and Bus are optional.
	Triggers Triggers
	Network  NetworkChecker
	Bus      *events.Bus
	Messages *messages.Catalog
	Logger   *slog.Logger
	// Notices are spoken once before the first utterance is captured.
	Notices []string
}

// Session is one run of the conversation loop.
type Session struct {
	capturer   speech.Capturer
	speaker    speech.Speaker
	dispatcher Dispatcher
	triggers   Triggers
	network    NetworkChecker
	bus        *events.Bus
	msgs       *messages.Catalog
	logger     *slog.Logger
	notices    []string
}

// NewSession returns a Session. Capturer, Speaker and Dispatcher are
// required.
func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msgs := opts.Messages
	if msgs == nil {
		msgs = messages.New()
	}
	return &Session{
		capturer:   opts.Capturer,
		speaker:    opts.Speaker,
		dispatcher: opts.Dispatcher,
		triggers:   opts.Triggers,
		network:    opts.Network,
		bus:        opts.Bus,
		msgs:       msgs,
		logger:     logger,
		notices:    opts.Notices,
	}
}

// captured is one capture attempt handed from the capture goroutine to
// the loop.
type captured struct {
	text string
	err  error
}

// EndReason says why Run returned.
type EndReason string

const (
	EndExit      EndReason = "exit"
	EndCancelled EndReason = "cancelled"
	EndClosed    EndReason = "capture_closed"
)

// Run speaks the startup notices, starts the trigger loop and serves
// utterances until an exit phrase, the end of input, or ctx is
// cancelled. The trigger loop has stopped by the time Run returns.
func (s *Session) Run(ctx context.Context) EndReason {
	for _, n := range s.notices {
		s.say(ctx, n)
	}

	if s.triggers != nil {
		s.triggers.Start(ctx)
		defer s.triggers.Stop()
	}
	s.bus.Emit(events.SourceSession, events.KindSessionStarted, nil)
	s.logger.Info("session started")

	reason := s.loop(ctx)

	s.bus.Emit(events.SourceSession, events.KindSessionEnded, map[string]any{"reason": string(reason)})
	s.logger.Info("session ended", "reason", reason)
	return reason
}

func (s *Session) loop(ctx context.Context) EndReason {
	// The capture goroutine only listens when asked, so the assistant
	// never hears its own replies. It may outlive Run while blocked in a
	// capturer that ignores ctx; it exits on its next wakeup.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	requests := make(chan struct{})
	results := make(chan captured)
	go s.capture(loopCtx, requests, results)

	for {
		s.dispatcher.Await()
		select {
		case requests <- struct{}{}:
		case <-ctx.Done():
			return EndCancelled
		}

		var c captured
		select {
		case c = <-results:
		case <-ctx.Done():
			return EndCancelled
		}

		if c.err != nil {
			if errors.Is(c.err, speech.ErrCaptureClosed) {
				return EndClosed
			}
			if ctx.Err() != nil {
				return EndCancelled
			}
			s.captureFailed(ctx, c.err)
			continue
		}

		text := strings.TrimSpace(c.text)
		if text == "" {
			continue
		}
		s.logger.Debug("utterance captured", "utterance", text)

		out := s.dispatcher.Dispatch(ctx, text)
		if out.Exit {
			s.say(ctx, s.msgs.Get(messages.Farewell))
			return EndExit
		}
	}
}

func (s *Session) capture(ctx context.Context, requests <-chan struct{}, results chan<- captured) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-requests:
		}
		text, err := s.capturer.Capture(ctx)
		select {
		case results <- captured{text: text, err: err}:
		case <-ctx.Done():
			return
		}
		if errors.Is(err, speech.ErrCaptureClosed) {
			return
		}
	}
}

// captureFailed speaks the message matching a capture error. A
// recognition service failure triggers a connectivity re-check so a
// dead network gets its own message.
func (s *Session) captureFailed(ctx context.Context, err error) {
	key := messages.RecognitionUnexpected
	switch {
	case errors.Is(err, speech.ErrUnknownSpeech):
		key = messages.RecognitionUnknown
	case errors.Is(err, speech.ErrServiceUnavailable):
		key = messages.RecognitionService
		if s.network != nil {
			if nerr := s.network.Recheck(ctx); nerr != nil {
				s.logger.Warn("network unreachable", "error", nerr)
				key = messages.NoNetwork
			}
		}
	}
	s.logger.Warn("capture failed", "error", err, "message", key)
	s.say(ctx, s.msgs.Get(key))
}

func (s *Session) say(ctx context.Context, text string) {
	if text == "" || s.speaker == nil {
		return
	}
	if err := s.speaker.Speak(ctx, text); err != nil {
		s.logger.Error("speak failed", "error", err)
	}
}
