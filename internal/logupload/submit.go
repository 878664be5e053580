package logupload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

var (
	Labels = []string{"user-logs", "automated"}

	ErrEmptyDescription = errors.New("description is required")
)

const titleLimit = 50

// Submitter uploads the newest host log to an IssueTracker.
type Submitter struct {
	Tracker     IssueTracker
	Limiter     *RateLimiter
	LogDir      string
	MaxLogBytes int
	Version     string
}

// Submit files one issue with the description and system info, then posts
// the redacted log as one or more comments. The cooldown starts only after
// every comment went through.
func (s Submitter) Submit(ctx context.Context, description string) (IssueRef, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return IssueRef{}, ErrEmptyDescription
	}
	if s.Limiter != nil {
		if err := s.Limiter.Check(); err != nil {
			return IssueRef{}, err
		}
	}

	lf, err := ReadLatest(s.LogDir, s.MaxLogBytes)
	if err != nil {
		return IssueRef{}, err
	}
	content := Redact(lf.Content)

	ref, err := s.Tracker.CreateIssue(ctx, Issue{
		Title:  issueTitle(description),
		Body:   s.issueBody(description, lf.Name, len(content)),
		Labels: Labels,
	})
	if err != nil {
		return IssueRef{}, fmt.Errorf("creating issue: %w", err)
	}

	chunks := Chunk(content, MaxCommentSize)
	for i, chunk := range chunks {
		if err := s.Tracker.AddComment(ctx, ref.Number, commentBody(lf.Name, chunk, i+1, len(chunks))); err != nil {
			return ref, fmt.Errorf("adding log comment %d/%d: %w", i+1, len(chunks), err)
		}
	}
	slog.InfoContext(ctx, "logs submitted",
		slog.Int("issue", ref.Number),
		slog.String("file", lf.Name),
		slog.Int("comments", len(chunks)),
	)

	if s.Limiter != nil {
		if err := s.Limiter.Record(); err != nil {
			slog.WarnContext(ctx, "recording submission time failed", slog.String("error", err.Error()))
		}
	}
	return ref, nil
}

func issueTitle(description string) string {
	r := []rune(description)
	if len(r) > titleLimit {
		r = r[:titleLimit]
	}
	return "Log Submission: " + string(r)
}

func (s Submitter) issueBody(description, fileName string, size int) string {
	version := s.Version
	if version == "" {
		version = "unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## User Description\n%s\n\n", description)
	fmt.Fprintf(&b, "## System Info\n- **OS**: %s\n- **Architecture**: %s\n- **App Version**: %s\n\n", runtime.GOOS, runtime.GOARCH, version)
	fmt.Fprintf(&b, "## Log File\n`%s` (%d bytes) will be attached as comment(s) below.\n\n", fileName, size)
	b.WriteString("---\n*This issue was automatically submitted from InboxHunter app.*")
	return b.String()
}

func commentBody(fileName, chunk string, part, total int) string {
	title := fmt.Sprintf("## Log File: `%s`", fileName)
	if total > 1 {
		title += fmt.Sprintf(" (Part %d/%d)", part, total)
	}
	return fmt.Sprintf("%s\n\n<details>\n<summary>Click to expand</summary>\n\n```\n%s\n```\n\n</details>", title, chunk)
}
