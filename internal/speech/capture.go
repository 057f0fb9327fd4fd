package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Capture errors. Each maps to its own spoken message; none of them
// ends the session except ErrCaptureClosed.
var (
	// ErrUnknownSpeech means audio was heard but not understood.
	ErrUnknownSpeech = errors.New("speech not understood")
	// ErrServiceUnavailable means the recognition service could not be reached.
	ErrServiceUnavailable = errors.New("recognition service unavailable")
	// ErrCaptureClosed means the source has no more input.
	ErrCaptureClosed = errors.New("capture closed")
)

// Capturer produces one utterance per call. An empty string with a nil
// error is silence (a listen timeout) and is not an error.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// LineCapturer reads one utterance per line from a reader, printing an
// optional prompt before each read.
type LineCapturer struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	prompt  string
	out     io.Writer
}

// NewLineCapturer returns a capturer reading lines from r. When out is
// non-nil, prompt is written to it before every read.
func NewLineCapturer(r io.Reader, out io.Writer, prompt string) *LineCapturer {
	return &LineCapturer{scanner: bufio.NewScanner(r), out: out, prompt: prompt}
}

// Capture returns the next line, trimmed.
func (c *LineCapturer) Capture(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.out != nil && c.prompt != "" {
		fmt.Fprint(c.out, c.prompt)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", ErrCaptureClosed
	}
	return strings.TrimSpace(c.scanner.Text()), nil
}

// Exit codes understood from a capture command.
const (
	exitUnknownSpeech = 3
	exitUnavailable   = 4
)

// CommandCapturer runs an external recognizer once per utterance and
// reads the transcript from its stdout. The command signals "heard but
// not understood" with exit status 3 and "service unreachable" with
// exit status 4; empty output is silence.
type CommandCapturer struct {
	argv []string
}

// NewCommandCapturer returns a capturer running argv.
func NewCommandCapturer(argv []string) (*CommandCapturer, error) {
	if len(argv) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &CommandCapturer{argv: argv}, nil
}

// Capture runs the recognizer and returns its transcript.
func (c *CommandCapturer) Capture(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return strings.TrimSpace(stdout.String()), nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == exitUnknownSpeech:
		return "", ErrUnknownSpeech
	case errors.As(err, &exitErr) && exitErr.ExitCode() == exitUnavailable:
		return "", fmt.Errorf("%w: %s", ErrServiceUnavailable, strings.TrimSpace(stderr.String()))
	default:
		return "", fmt.Errorf("capture command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
}
