// Package github answers voice commands about GitHub pull requests and
// issues. Requests go through the remote procedure endpoint
// (github.* methods) or, with backend "api", straight to the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/nugget/asistente/internal/forge"
	"github.com/nugget/asistente/internal/messages"
	"github.com/nugget/asistente/internal/plugin"
	"github.com/nugget/asistente/internal/speech"
)

const (
	listPRsPhrase    = "lista mis pull requests abiertos"
	listIssuesPhrase = "lista mis issues abiertos"
	createPrefix     = "crea un issue en "
	createTitleSep   = " con titulo "
	commentPrefix    = "comenta en el issue "
	commentRepoSep   = " del repositorio "
	commentBodySep   = " con "
)

// Settings are read from the manifest.
type Settings struct {
	// Backend is "rpc" (default) or "api".
	Backend string `yaml:"backend"`
	// Token defaults to $GITHUB_TOKEN. Used by the api backend.
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Owner   string `yaml:"owner"`
	// Repo is listed when the utterance names none.
	Repo string `yaml:"repo"`
}

// backend performs the four GitHub operations. A nil error with an
// empty slice means there is nothing to list.
type backend interface {
	ListPullRequests(ctx context.Context) ([]any, error)
	ListIssues(ctx context.Context) ([]any, error)
	CreateIssue(ctx context.Context, repo, title string) (int, error)
	Comment(ctx context.Context, repo string, number int, body string) error
}

// Plugin is a command handler.
type Plugin struct {
	backend  backend
	messages *messages.Catalog
	logger   *slog.Logger
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	s := Settings{Backend: "rpc"}
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var b backend
	switch s.Backend {
	case "rpc":
		if caps.RPC == nil {
			return nil, errors.New("rpc backend selected but the remote procedure endpoint is not configured")
		}
		b = &rpcBackend{rpc: caps.RPC}
	case "api":
		if s.Token == "" {
			s.Token = os.Getenv("GITHUB_TOKEN")
		}
		gh, err := forge.NewGitHub(forge.Options{
			Token:        s.Token,
			BaseURL:      s.BaseURL,
			DefaultOwner: s.Owner,
			DefaultRepo:  s.Repo,
			HTTPClient:   caps.HTTP,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		b = &apiBackend{gh: gh}
	default:
		return nil, fmt.Errorf("unknown backend %q (valid: rpc, api)", s.Backend)
	}
	return &Plugin{backend: b, messages: caps.Messages, logger: logger}, nil
}

// HandleCommand answers the GitHub commands. Backend failures are
// answered with the catalog message and count as handled.
func (p *Plugin) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, listPRsPhrase):
		return p.list(ctx, p.backend.ListPullRequests, "No tienes pull requests abiertos."), nil
	case strings.Contains(lower, listIssuesPhrase):
		return p.list(ctx, p.backend.ListIssues, "No tienes issues abiertos."), nil
	case strings.Contains(lower, createPrefix) && strings.Contains(lower, createTitleSep):
		return p.create(ctx, lower), nil
	case strings.Contains(lower, commentPrefix) && strings.Contains(lower, commentRepoSep):
		return p.comment(ctx, lower), nil
	}
	return "", nil
}

func (p *Plugin) list(ctx context.Context, fetch func(context.Context) ([]any, error), none string) string {
	items, err := fetch(ctx)
	if err != nil {
		p.logger.Error("github listing failed", "error", err)
		return p.messages.Get(messages.RPCFailed)
	}
	if len(items) == 0 {
		return none
	}
	return speech.FormatStructured(items)
}

func (p *Plugin) create(ctx context.Context, text string) string {
	_, rest, _ := strings.Cut(text, createPrefix)
	repo, title, ok := strings.Cut(rest, createTitleSep)
	repo, title = strings.TrimSpace(repo), strings.TrimSpace(title)
	if !ok || repo == "" || title == "" {
		return ""
	}
	number, err := p.backend.CreateIssue(ctx, repo, title)
	if err != nil {
		p.logger.Error("github issue creation failed", "repo", repo, "error", err)
		return p.messages.Get(messages.RPCFailed)
	}
	return fmt.Sprintf("Issue número %d creado en %s con título %s.", number, repo, title)
}

func (p *Plugin) comment(ctx context.Context, text string) string {
	_, rest, _ := strings.Cut(text, commentPrefix)
	numStr, rest, _ := strings.Cut(rest, commentRepoSep)
	number, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return "Lo siento, no pude entender el número de issue. Por favor, di un número válido."
	}
	repo, body, ok := strings.Cut(rest, commentBodySep)
	repo, body = strings.TrimSpace(repo), strings.TrimSpace(body)
	if !ok || repo == "" || body == "" {
		return p.messages.Get(messages.PluginError)
	}
	if err := p.backend.Comment(ctx, repo, number, body); err != nil {
		p.logger.Error("github comment failed", "repo", repo, "number", number, "error", err)
		return p.messages.Get(messages.RPCFailed)
	}
	return fmt.Sprintf("Comentario añadido al issue %d en %s.", number, repo)
}
