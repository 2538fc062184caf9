package git

import (
	"context"
	"errors"

	"github.com/joescharf/prcycle/internal/models"
)

// ErrNotFound is returned when the platform reports a missing PR or repo.
var ErrNotFound = errors.New("not found")

// Pull request states normalized across platforms.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// PullRequest is the platform-neutral view of a pull or merge request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Branch string `json:"head_ref"`
	Base   string `json:"base_ref"`
	URL    string `json:"url"`
}

// Platform is the review surface of a code hosting service.
type Platform interface {
	Name() string
	Repo() string
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	ListReviews(ctx context.Context, number int) ([]models.FeedbackItem, error)
	ListReviewComments(ctx context.Context, number int) ([]models.FeedbackItem, error)
	ListIssueComments(ctx context.Context, number int) ([]models.FeedbackItem, error)
	PostComment(ctx context.Context, number int, body string) error
}
