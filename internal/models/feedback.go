package models

import "time"

// FeedbackKind distinguishes standalone comments from reviews.
type FeedbackKind string

const (
	FeedbackKindComment FeedbackKind = "comment"
	FeedbackKindReview  FeedbackKind = "review"
)

// FeedbackSource records which platform listing produced an item.
type FeedbackSource string

const (
	SourceReview        FeedbackSource = "review"
	SourceInlineComment FeedbackSource = "inline_comment"
	SourceIssueComment  FeedbackSource = "issue_comment"
	SourceLocalReview   FeedbackSource = "local_review"
)

// Rank orders sources when created_at and id tie.
func (s FeedbackSource) Rank() int {
	switch s {
	case SourceReview:
		return 0
	case SourceInlineComment:
		return 1
	case SourceIssueComment:
		return 2
	}
	return 3
}

// Review states reported for the main reviewer.
const (
	ReviewStateApproved         = "APPROVED"
	ReviewStateChangesRequested = "CHANGES_REQUESTED"
	ReviewStateCommented        = "COMMENTED"
	ReviewStateDismissed        = "DISMISSED"
	ReviewStatePending          = "PENDING"
)

// FeedbackItem is one review or comment on a pull request.
type FeedbackItem struct {
	ID          int64          `json:"id"`
	Author      string         `json:"author"`
	CreatedAt   time.Time      `json:"created_at"`
	Body        string         `json:"body"`
	Kind        FeedbackKind   `json:"kind"`
	ReviewState string         `json:"review_state,omitempty"`
	Path        string         `json:"path,omitempty"`
	Line        int            `json:"line,omitempty"`
	Source      FeedbackSource `json:"source"`
}

// MainReviewerState summarizes the designated reviewer's latest review.
type MainReviewerState struct {
	User  string `json:"user"`
	State string `json:"state"`
}
