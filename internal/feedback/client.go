// Package feedback queries a PR's reviews and comments and summarizes what
// the reviewers said since a watermark.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/retry"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// Report statuses.
const (
	StatusSuccess = "success"
	StatusTimeout = "timeout"
)

// Config holds review detection settings.
type Config struct {
	MainReviewer     string
	ReadyPhrases     []string
	RateLimitPhrases []string
	TriggerComments  []string // review requests, never reported as feedback
	Retry            retry.Options
}

// DefaultConfig returns the built-in review settings.
func DefaultConfig() Config {
	return Config{
		MainReviewer:     DefaultMainReviewer,
		ReadyPhrases:     DefaultReadyPhrases,
		RateLimitPhrases: DefaultRateLimitPhrases,
		TriggerComments:  DefaultTriggerComments,
		Retry:            retry.DefaultOptions(3, 2*time.Second, 30*time.Second),
	}
}

// Report is the result of a status query.
type Report struct {
	Status       string                   `json:"status"`
	Repo         string                   `json:"repo,omitempty"`
	PRNumber     int                      `json:"pr_number"`
	CheckedAt    time.Time                `json:"checked_at_utc"`
	Since        time.Time                `json:"since"`
	NextSince    time.Time                `json:"next_since"`
	NewItemCount int                      `json:"new_item_count"`
	Items        []models.FeedbackItem    `json:"items"`
	MainReviewer models.MainReviewerState `json:"main_reviewer"`
	Ready        bool                     `json:"ready"`
	RateLimited  bool                     `json:"rate_limited"`
	TimedOut     bool                     `json:"timed_out,omitempty"`
	NextStep     string                   `json:"next_step"`

	Analysis Analysis `json:"-"`
}

// Client is a stateless view of one repository's PR feedback.
type Client struct {
	platform git.Platform
	cfg      Config
	clock    timeutil.Clock
}

// NewClient returns a Client over platform.
func NewClient(platform git.Platform, cfg Config, clock timeutil.Clock) *Client {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.MainReviewer == "" {
		cfg.MainReviewer = DefaultMainReviewer
	}
	return &Client{platform: platform, cfg: cfg, clock: clock}
}

// Config returns the client's review settings.
func (c *Client) Config() Config { return c.cfg }

// Platform returns the underlying platform.
func (c *Client) Platform() git.Platform { return c.platform }

// Status fetches all feedback on the PR and reports items created strictly
// after since. A zero since means the beginning of time.
func (c *Client) Status(ctx context.Context, prNumber int, since time.Time, reviewer string) (*Report, error) {
	if prNumber <= 0 {
		return nil, fmt.Errorf("pr_number must be positive, got %d", prNumber)
	}
	if since.IsZero() {
		since = timeutil.Epoch
	}
	since = since.UTC()

	items, err := c.Fetch(ctx, prNumber)
	if err != nil {
		return nil, err
	}
	items = DropRequests(FilterSince(items, since), c.cfg.TriggerComments)
	return c.Summarize(prNumber, since, items, reviewer), nil
}

// Fetch returns every review, inline comment and issue comment on the PR.
func (c *Client) Fetch(ctx context.Context, prNumber int) ([]models.FeedbackItem, error) {
	listers := []struct {
		op   string
		list func(context.Context, int) ([]models.FeedbackItem, error)
	}{
		{"list reviews", c.platform.ListReviews},
		{"list review comments", c.platform.ListReviewComments},
		{"list issue comments", c.platform.ListIssueComments},
	}

	var all []models.FeedbackItem
	for _, l := range listers {
		batch, err := withRetry(ctx, c.cfg.Retry, l.op, func() ([]models.FeedbackItem, error) {
			return l.list(ctx, prNumber)
		})
		if err != nil {
			return nil, err
		}
		all = MergeItems(all, batch)
	}
	return all, nil
}

// GetPR resolves the PR, retrying transient failures.
func (c *Client) GetPR(ctx context.Context, prNumber int) (*git.PullRequest, error) {
	return withRetry(ctx, c.cfg.Retry, "get PR", func() (*git.PullRequest, error) {
		return c.platform.GetPR(ctx, prNumber)
	})
}

// PostComment posts body on the PR, retrying transient failures.
func (c *Client) PostComment(ctx context.Context, prNumber int, body string) error {
	_, err := withRetry(ctx, c.cfg.Retry, "post comment", func() (struct{}, error) {
		return struct{}{}, c.platform.PostComment(ctx, prNumber, body)
	})
	return err
}

// Summarize builds a report over items that already passed the watermark.
func (c *Client) Summarize(prNumber int, since time.Time, items []models.FeedbackItem, reviewer string) *Report {
	if reviewer == "" {
		reviewer = c.cfg.MainReviewer
	}
	if items == nil {
		items = []models.FeedbackItem{}
	}
	SortItems(items)
	a := c.cfg.Analyze(items, reviewer)

	next := since
	if a.Latest.After(next) {
		next = a.Latest
	}
	return &Report{
		Status:       StatusSuccess,
		Repo:         c.platform.Repo(),
		PRNumber:     prNumber,
		CheckedAt:    c.clock.Now().UTC(),
		Since:        since,
		NextSince:    next,
		NewItemCount: len(items),
		Items:        items,
		MainReviewer: a.MainReviewer,
		Ready:        a.Ready,
		RateLimited:  a.RateLimited,
		NextStep:     NextStep(prNumber, a),
		Analysis:     a,
	}
}

func withRetry[T any](ctx context.Context, opts retry.Options, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	result, err := retry.DoWithResult(ctx, opts, func() (T, error) {
		attempts++
		return fn()
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, git.ErrNotFound) || errors.Is(err, context.Canceled) {
		return result, err
	}
	return result, newRemoteError(op, attempts, err)
}
