package github

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/asistente/internal/forge"
	"github.com/nugget/asistente/internal/plugin"
)

var errMalformed = errors.New("malformed result")

// rpcBackend sends github.* methods to the remote procedure endpoint.
type rpcBackend struct {
	rpc plugin.RPCCaller
}

func (b *rpcBackend) ListPullRequests(ctx context.Context) ([]any, error) {
	return b.list(ctx, "github.pull_requests.list", "pull_requests")
}

func (b *rpcBackend) ListIssues(ctx context.Context) ([]any, error) {
	return b.list(ctx, "github.issues.list", "issues")
}

// list accepts either a bare array or an object holding the array under
// key.
func (b *rpcBackend) list(ctx context.Context, method, key string) ([]any, error) {
	result, err := b.rpc.Call(ctx, method, map[string]any{"state": "open"})
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case []any:
		return v, nil
	case map[string]any:
		items, _ := v[key].([]any)
		return items, nil
	}
	return nil, fmt.Errorf("%s: %w", method, errMalformed)
}

func (b *rpcBackend) CreateIssue(ctx context.Context, repo, title string) (int, error) {
	result, err := b.rpc.Call(ctx, "github.issues.create", map[string]any{"repository": repo, "title": title})
	if err != nil {
		return 0, err
	}
	m, _ := result.(map[string]any)
	n, ok := m["number"].(float64)
	if !ok || n == 0 {
		return 0, fmt.Errorf("github.issues.create: %w", errMalformed)
	}
	return int(n), nil
}

func (b *rpcBackend) Comment(ctx context.Context, repo string, number int, body string) error {
	result, err := b.rpc.Call(ctx, "github.issues.comment", map[string]any{
		"repository":   repo,
		"issue_number": number,
		"body":         body,
	})
	if err != nil {
		return err
	}
	if m, _ := result.(map[string]any); m["id"] == nil {
		return fmt.Errorf("github.issues.comment: %w", errMalformed)
	}
	return nil
}

// apiBackend calls the GitHub API directly.
type apiBackend struct {
	gh *forge.GitHub
}

func (b *apiBackend) ListPullRequests(ctx context.Context) ([]any, error) {
	prs, err := b.gh.ListPullRequests(ctx, "", "open", 0)
	if err != nil {
		return nil, err
	}
	items := make([]any, len(prs))
	for i, pr := range prs {
		items[i] = pr.Item()
	}
	return items, nil
}

func (b *apiBackend) ListIssues(ctx context.Context) ([]any, error) {
	issues, err := b.gh.ListIssues(ctx, "", "open", 0)
	if err != nil {
		return nil, err
	}
	items := make([]any, len(issues))
	for i, is := range issues {
		items[i] = is.Item()
	}
	return items, nil
}

func (b *apiBackend) CreateIssue(ctx context.Context, repo, title string) (int, error) {
	issue, err := b.gh.CreateIssue(ctx, repo, title, "")
	if err != nil {
		return 0, err
	}
	return issue.Number, nil
}

func (b *apiBackend) Comment(ctx context.Context, repo string, number int, body string) error {
	_, err := b.gh.CommentIssue(ctx, repo, number, body)
	return err
}
