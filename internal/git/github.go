package git

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/joescharf/prcycle/internal/models"
)

// githubPerPage is the page size requested from the REST API.
const githubPerPage = 100

// Runner executes the gh CLI and returns stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// GitHubClient implements Platform using the gh CLI.
type GitHubClient struct {
	repo string
	run  Runner
}

// NewGitHubClient returns a GitHubClient for owner/name.
func NewGitHubClient(repo string) *GitHubClient {
	return &GitHubClient{repo: repo, run: ghCmd}
}

// NewGitHubClientWithRunner returns a GitHubClient that shells out through run.
func NewGitHubClientWithRunner(repo string, run Runner) *GitHubClient {
	return &GitHubClient{repo: repo, run: run}
}

func ghCmd(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// RepoFromGH asks gh for the repository of the current directory.
func RepoFromGH(ctx context.Context) (string, error) {
	out, err := ghCmd(ctx, "repo", "view", "--json", "nameWithOwner", "--jq", ".nameWithOwner")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *GitHubClient) Name() string { return "github" }

func (c *GitHubClient) Repo() string { return c.repo }

type ghUser struct {
	Login string `json:"login"`
}

type ghPull struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// ghFeedback covers the fields shared by reviews, review comments and issue comments.
type ghFeedback struct {
	ID           int64      `json:"id"`
	User         *ghUser    `json:"user"`
	Body         string     `json:"body"`
	State        string     `json:"state"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	CreatedAt    *time.Time `json:"created_at"`
	Path         string     `json:"path"`
	Line         *int       `json:"line"`
	OriginalLine *int       `json:"original_line"`
}

func (c *GitHubClient) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	out, err := c.run(ctx, "api", fmt.Sprintf("repos/%s/pulls/%d", c.repo, number))
	if err != nil {
		if isGHNotFound(err) {
			return nil, fmt.Errorf("PR #%d in %s: %w", number, c.repo, ErrNotFound)
		}
		return nil, err
	}

	var raw ghPull
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse PR: %w", err)
	}
	state := raw.State
	if raw.Merged {
		state = PRStateMerged
	}
	return &PullRequest{
		Number: raw.Number,
		Title:  raw.Title,
		State:  state,
		Branch: raw.Head.Ref,
		Base:   raw.Base.Ref,
		URL:    raw.HTMLURL,
	}, nil
}

func (c *GitHubClient) ListReviews(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	raw, err := c.listAll(ctx, fmt.Sprintf("repos/%s/pulls/%d/reviews", c.repo, number))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	var items []models.FeedbackItem
	for _, r := range raw {
		// Pending reviews have no submitted_at and are invisible to other users.
		if r.SubmittedAt == nil {
			continue
		}
		items = append(items, models.FeedbackItem{
			ID:          r.ID,
			Author:      r.login(),
			CreatedAt:   r.SubmittedAt.UTC(),
			Body:        r.Body,
			Kind:        models.FeedbackKindReview,
			ReviewState: r.State,
			Source:      models.SourceReview,
		})
	}
	return items, nil
}

func (c *GitHubClient) ListReviewComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	raw, err := c.listAll(ctx, fmt.Sprintf("repos/%s/pulls/%d/comments", c.repo, number))
	if err != nil {
		return nil, fmt.Errorf("list review comments: %w", err)
	}
	var items []models.FeedbackItem
	for _, r := range raw {
		if r.CreatedAt == nil {
			continue
		}
		line := 0
		switch {
		case r.Line != nil:
			line = *r.Line
		case r.OriginalLine != nil:
			line = *r.OriginalLine
		}
		items = append(items, models.FeedbackItem{
			ID:        r.ID,
			Author:    r.login(),
			CreatedAt: r.CreatedAt.UTC(),
			Body:      r.Body,
			Kind:      models.FeedbackKindComment,
			Path:      r.Path,
			Line:      line,
			Source:    models.SourceInlineComment,
		})
	}
	return items, nil
}

func (c *GitHubClient) ListIssueComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	raw, err := c.listAll(ctx, fmt.Sprintf("repos/%s/issues/%d/comments", c.repo, number))
	if err != nil {
		return nil, fmt.Errorf("list issue comments: %w", err)
	}
	var items []models.FeedbackItem
	for _, r := range raw {
		if r.CreatedAt == nil {
			continue
		}
		items = append(items, models.FeedbackItem{
			ID:        r.ID,
			Author:    r.login(),
			CreatedAt: r.CreatedAt.UTC(),
			Body:      r.Body,
			Kind:      models.FeedbackKindComment,
			Source:    models.SourceIssueComment,
		})
	}
	return items, nil
}

func (c *GitHubClient) PostComment(ctx context.Context, number int, body string) error {
	_, err := c.run(ctx, "api", "--method", "POST",
		fmt.Sprintf("repos/%s/issues/%d/comments", c.repo, number),
		"-f", "body="+body,
	)
	if err != nil {
		return fmt.Errorf("post comment on PR #%d: %w", number, err)
	}
	return nil
}

// listAll pages through endpoint until a short page is returned.
func (c *GitHubClient) listAll(ctx context.Context, endpoint string) ([]ghFeedback, error) {
	var all []ghFeedback
	for page := 1; ; page++ {
		out, err := c.run(ctx, "api", fmt.Sprintf("%s?per_page=%d&page=%d", endpoint, githubPerPage, page))
		if err != nil {
			return nil, err
		}
		var batch []ghFeedback
		if err := json.Unmarshal(out, &batch); err != nil {
			return nil, fmt.Errorf("parse page %d: %w", page, err)
		}
		all = append(all, batch...)
		if len(batch) < githubPerPage {
			return all, nil
		}
	}
}

func (f ghFeedback) login() string {
	if f.User == nil {
		return ""
	}
	return f.User.Login
}

func isGHNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "HTTP 404") || strings.Contains(msg, "Not Found")
}
