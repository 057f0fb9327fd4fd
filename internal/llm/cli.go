package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
)

// CLI runs an external program per request, writing the conversation
// as {"contents":[{"role":...,"parts":[{"text":...}]}]} on its stdin and
// taking its trimmed stdout as the reply.
type CLI struct {
	argv   []string
	logger *slog.Logger
}

// NewCLI returns a CLI generator for argv (program plus arguments).
func NewCLI(argv []string, logger *slog.Logger) (*CLI, error) {
	if len(argv) == 0 {
		return nil, errors.New("fallback command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{argv: argv, logger: logger}, nil
}

type cliPart struct {
	Text string `json:"text"`
}

type cliContent struct {
	Role  Role      `json:"role"`
	Parts []cliPart `json:"parts"`
}

type cliRequest struct {
	Contents []cliContent `json:"contents"`
}

func encodeContents(history []Turn) ([]byte, error) {
	req := cliRequest{Contents: make([]cliContent, len(history))}
	for i, t := range history {
		req.Contents[i] = cliContent{Role: t.Role, Parts: []cliPart{{Text: t.Text}}}
	}
	return json.Marshal(req)
}

// Generate runs the program. A missing binary yields ErrNotFound, a
// non-zero exit yields *ExitError, and anything else is wrapped.
func (c *CLI) Generate(ctx context.Context, history []Turn) (string, error) {
	payload, err := encodeContents(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("running fallback command", "command", c.argv[0], "turns", len(history))
	err = cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrNotFound, c.argv[0])
	case errors.As(err, &exitErr):
		return "", &ExitError{
			Command: c.argv[0],
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	default:
		return "", fmt.Errorf("run %s: %w", c.argv[0], err)
	}

	reply := strings.TrimSpace(stdout.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
