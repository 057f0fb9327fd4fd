package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// DefaultListLimit caps listings read aloud.
const DefaultListLimit = 10

// ErrNoRepo is returned when a call names no repository and no default
// is configured.
var ErrNoRepo = errors.New("no repository given")

// GitHub talks to the GitHub REST API.
type GitHub struct {
	client *gogithub.Client
	// owner qualifies bare repository names; repo is used when the
	// utterance names none.
	owner  string
	repo   string
	logger *slog.Logger
}

// Options configures NewGitHub.
type Options struct {
	Token string
	// BaseURL selects a GitHub Enterprise server; empty means github.com.
	BaseURL      string
	DefaultOwner string
	DefaultRepo  string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// NewGitHub creates a client.
func NewGitHub(opts Options) (*GitHub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: enterprise url: %w", err)
		}
	}
	return &GitHub{
		client: client,
		owner:  opts.DefaultOwner,
		repo:   opts.DefaultRepo,
		logger: logger,
	}, nil
}

// splitRepo resolves repo to owner and name. Bare names take the
// default owner; an empty repo takes the default repository.
func (g *GitHub) splitRepo(repo string) (string, string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		repo = g.repo
	}
	if repo == "" {
		return "", "", ErrNoRepo
	}
	if !strings.Contains(repo, "/") {
		if g.owner == "" {
			return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
		}
		return g.owner, repo, nil
	}
	parts := strings.SplitN(repo, "/", 2)
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit logs a warning when remaining API calls drop below
// threshold.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// ListIssues returns issues in state ("open" when empty), excluding pull
// requests. limit <= 0 uses DefaultListLimit.
func (g *GitHub) ListIssues(ctx context.Context, repo, state string, limit int) ([]*Issue, error) {
	owner, name, err := g.splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &gogithub.IssueListByRepoOptions{
		State:       orDefault(state, "open"),
		ListOptions: gogithub.ListOptions{PerPage: listLimit(limit)},
	}
	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return issues, nil
}

// ListPullRequests returns pull requests in state ("open" when empty).
func (g *GitHub) ListPullRequests(ctx context.Context, repo, state string, limit int) ([]*PullRequest, error) {
	owner, name, err := g.splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &gogithub.PullRequestListOptions{
		State:       orDefault(state, "open"),
		ListOptions: gogithub.ListOptions{PerPage: listLimit(limit)},
	}
	results, resp, err := g.client.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: list pull requests: %w", err)
	}
	g.checkRateLimit(resp)

	prs := make([]*PullRequest, 0, len(results))
	for _, r := range results {
		prs = append(prs, convertPR(r))
	}
	return prs, nil
}

// CreateIssue opens an issue.
func (g *GitHub) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	owner, name, err := g.splitRepo(repo)
	if err != nil {
		return nil, err
	}
	req := &gogithub.IssueRequest{Title: &title}
	if body != "" {
		req.Body = &body
	}
	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("forge: create issue: %w", err)
	}
	g.checkRateLimit(resp)
	g.logger.Info("github issue created", "repo", owner+"/"+name, "number", result.GetNumber())
	return convertIssue(result), nil
}

// CommentIssue posts a comment on an issue or pull request.
func (g *GitHub) CommentIssue(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	owner, name, err := g.splitRepo(repo)
	if err != nil {
		return nil, err
	}
	result, resp, err := g.client.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{
		Body: &body,
	})
	if err != nil {
		return nil, fmt.Errorf("forge: add comment: %w", err)
	}
	g.checkRateLimit(resp)
	return convertComment(result), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func listLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:       i.GetNumber(),
		Title:        i.GetTitle(),
		Body:         i.GetBody(),
		State:        i.GetState(),
		Author:       i.GetUser().GetLogin(),
		CreatedAt:    i.GetCreatedAt().Time,
		URL:          i.GetHTMLURL(),
		CommentCount: i.GetComments(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func convertComment(c *gogithub.IssueComment) *Comment {
	if c == nil {
		return nil
	}
	return &Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		CreatedAt: c.GetCreatedAt().Time,
		URL:       c.GetHTMLURL(),
	}
}

func convertPR(pr *gogithub.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}
	return &PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		Author:    pr.GetUser().GetLogin(),
		Head:      pr.GetHead().GetRef(),
		Base:      pr.GetBase().GetRef(),
		Draft:     pr.GetDraft(),
		CreatedAt: pr.GetCreatedAt().Time,
		URL:       pr.GetHTMLURL(),
	}
}
