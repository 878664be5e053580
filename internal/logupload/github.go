package logupload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGitHubAPI = "https://api.github.com"
	// TokenEnv names the environment variable holding the GitHub token.
	TokenEnv = "INBOXHUNTER_GITHUB_TOKEN"

	userAgent = "InboxHunter-App"
	accept    = "application/vnd.github+json"
)

// GitHubTracker files issues in a GitHub repository through the REST API.
type GitHubTracker struct {
	baseURL *url.URL
	repo    string
	token   string
	client  *http.Client
}

// NewGitHubTracker returns a tracker for repo (owner/name). apiURL is the
// API root without a path, DefaultGitHubAPI when empty.
func NewGitHubTracker(apiURL, repo, token string) (*GitHubTracker, error) {
	if apiURL == "" {
		apiURL = DefaultGitHubAPI
	}
	parsedURL, err := url.Parse(apiURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the api url with a scheme and without path, e.g. `https://api.github.com`")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("repository must be owner/name, got %q", repo)
	}
	if token == "" {
		return nil, fmt.Errorf("log submission is not configured: %s is empty", TokenEnv)
	}

	return &GitHubTracker{
		baseURL: parsedURL,
		repo:    repo,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

type issueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

type commentRequest struct {
	Body string `json:"body"`
}

func (c *GitHubTracker) CreateIssue(ctx context.Context, issue Issue) (IssueRef, error) {
	var resp issueResponse
	err := c.post(ctx, "/repos/"+c.repo+"/issues", issueRequest{
		Title:  issue.Title,
		Body:   issue.Body,
		Labels: issue.Labels,
	}, &resp)
	if err != nil {
		return IssueRef{}, err
	}
	if resp.Number == 0 {
		return IssueRef{}, errors.New("received unexpected body")
	}
	slog.DebugContext(ctx, "issue created", slog.Int("number", resp.Number), slog.String("url", resp.HTMLURL))
	return IssueRef{Number: resp.Number, URL: resp.HTMLURL}, nil
}

func (c *GitHubTracker) AddComment(ctx context.Context, number int, body string) error {
	return c.post(ctx, fmt.Sprintf("/repos/%s/issues/%d/comments", c.repo, number), commentRequest{Body: body}, nil)
}

func (c *GitHubTracker) post(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	u := *c.baseURL
	u.Path = path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GitHub API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}
	if contentType != "application/json" {
		return fmt.Errorf("expected `application/json` content type, got: %s", contentType)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding json response failed: %w", err)
	}
	return nil
}
