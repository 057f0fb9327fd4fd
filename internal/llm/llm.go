// Package llm provides the conversational fallback consulted when no
// template or plugin handles an utterance.
//
// Three backends implement [Generator]: a subprocess that speaks the
// Gemini CLI's stdin JSON format, an Ollama server, and the OpenAI chat
// completions API.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies who produced a turn.
type Role string

// Conversation roles.
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Generator produces the model's reply to a conversation whose last
// turn is the user's.
type Generator interface {
	Generate(ctx context.Context, history []Turn) (string, error)
}

// ErrNotFound means the fallback program is not installed.
var ErrNotFound = errors.New("fallback command not found")

// ErrEmptyReply means the backend answered with no text.
var ErrEmptyReply = errors.New("empty reply")

// ExitError reports a fallback program that exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, e.Stderr)
}

// Disabled is a Generator that always fails. It stands in when no
// fallback provider is configured.
type Disabled struct{}

// Generate returns ErrNotFound.
func (Disabled) Generate(context.Context, []Turn) (string, error) {
	return "", fmt.Errorf("%w: fallback disabled", ErrNotFound)
}
