package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/nugget/asistente/internal/messages"
)

// Render and playback failures are distinct so callers can tell a
// missing voice from a missing sound device.
var (
	ErrRender   = errors.New("speech render failed")
	ErrPlayback = errors.New("speech playback failed")
)

// Espeak renders utterances with an espeak-ng process into a temporary
// WAV file and plays it through the system audio device.
type Espeak struct {
	command string
	voice   string
	rate    int
	logger  *slog.Logger
	msgs    *messages.Catalog

	render func(ctx context.Context, text, path string) error
	play   func(ctx context.Context, path string) error

	initOnce   sync.Once
	initErr    error
	sampleRate beep.SampleRate
}

// EspeakOptions configures NewEspeak.
type EspeakOptions struct {
	Command  string
	Voice    string
	Rate     int
	Logger   *slog.Logger
	Messages *messages.Catalog
}

// NewEspeak returns an espeak-backed speaker.
func NewEspeak(opts EspeakOptions) *Espeak {
	if opts.Command == "" {
		opts.Command = "espeak-ng"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Espeak{
		command: opts.Command,
		voice:   opts.Voice,
		rate:    opts.Rate,
		logger:  opts.Logger,
		msgs:    opts.Messages,
	}
	e.render = e.renderWAV
	e.play = e.playWAV
	return e
}

// Speak renders and plays text. The temporary WAV is removed on every
// path, including render and playback failures.
func (e *Espeak) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	e.logger.Debug("speaking", "text", text)

	f, err := os.CreateTemp("", "asistente-*.wav")
	if err != nil {
		e.logger.Error(e.msgs.Get(messages.TTSSave), "error", err)
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	path := f.Name()
	f.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("failed to remove temporary audio", "path", path, "error", err)
		}
	}()

	if err := e.render(ctx, text, path); err != nil {
		e.logger.Error(e.msgs.Get(messages.TTSSave), "error", err)
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	if err := e.play(ctx, path); err != nil {
		e.logger.Error(e.msgs.Get(messages.TTSPlayback), "error", err)
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	return nil
}

func (e *Espeak) renderWAV(ctx context.Context, text, path string) error {
	args := []string{"-w", path}
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	if e.rate > 0 {
		args = append(args, "-s", strconv.Itoa(e.rate))
	}
	args = append(args, "--", text)

	out, err := exec.CommandContext(ctx, e.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", e.command, err, out)
	}
	return nil
}

func (e *Espeak) playWAV(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	e.initOnce.Do(func() {
		e.sampleRate = format.SampleRate
		e.initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if e.initErr != nil {
		return fmt.Errorf("init audio device: %w", e.initErr)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != e.sampleRate {
		s = beep.Resample(4, format.SampleRate, e.sampleRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
