// Package forge reads and files GitHub issues and pull requests for the
// voice commands that ask about them.
package forge

import "time"

// Issue is a single GitHub issue.
type Issue struct {
	Number       int
	Title        string
	Body         string
	State        string
	Labels       []string
	Author       string
	CreatedAt    time.Time
	URL          string
	CommentCount int
}

// PullRequest is a single pull request.
type PullRequest struct {
	Number    int
	Title     string
	State     string
	Author    string
	Head      string
	Base      string
	Draft     bool
	CreatedAt time.Time
	URL       string
}

// Comment is a comment on an issue or pull request.
type Comment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
	URL       string
}

// Item flattens an issue for spoken listings.
func (i *Issue) Item() map[string]any {
	return map[string]any{"number": i.Number, "title": i.Title}
}

// Item flattens a pull request for spoken listings.
func (pr *PullRequest) Item() map[string]any {
	return map[string]any{"number": pr.Number, "title": pr.Title}
}
