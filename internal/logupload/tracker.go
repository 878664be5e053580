package logupload

import (
	"context"
)

type Issue struct {
	Title  string
	Body   string
	Labels []string
}

type IssueRef struct {
	Number int
	URL    string
}

// IssueTracker is where submitted logs end up.
type IssueTracker interface {
	CreateIssue(ctx context.Context, issue Issue) (IssueRef, error)
	AddComment(ctx context.Context, number int, body string) error
}
