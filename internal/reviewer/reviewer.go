// Package reviewer runs a code review locally, as a stand-in for the
// remote review bots when they are unavailable or the work is offline.
package reviewer

import (
	"context"
	"time"

	"github.com/joescharf/prcycle/internal/models"
)

// LocalReviewerName is the author recorded on locally produced reviews.
const LocalReviewerName = "gemini-cli-review"

// LocalTriggerLabel is reported in triggered_bots for a local review.
const LocalTriggerLabel = "/code-review"

// Request describes what to review.
type Request struct {
	Repo     string
	PRNumber int
	Path     string // working tree to review
	Diff     string
}

// Review is the reviewer's output.
type Review struct {
	Engine string
	Body   string
}

// Reviewer produces a review of local changes.
type Reviewer interface {
	Name() string
	Review(ctx context.Context, req Request) (*Review, error)
}

// Item wraps a local review as a feedback item.
func Item(r *Review, now time.Time) models.FeedbackItem {
	return models.FeedbackItem{
		Author:      LocalReviewerName,
		CreatedAt:   now.UTC(),
		Body:        r.Body,
		Kind:        models.FeedbackKindReview,
		ReviewState: models.ReviewStateCommented,
		Source:      models.SourceLocalReview,
	}
}
