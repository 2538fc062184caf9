package feedback

import (
	"slices"
	"strings"
	"time"

	"github.com/joescharf/prcycle/internal/models"
)

// Default review settings.
const (
	DefaultMainReviewer = "gemini-code-assist[bot]"
)

// DefaultReadyPhrases mark a main-reviewer item as an approval.
var DefaultReadyPhrases = []string{"ready to merge", "no issues found"}

// DefaultRateLimitPhrases mark a main-reviewer comment as a rate-limit notice.
var DefaultRateLimitPhrases = []string{"daily quota limit", "rate limit exceeded", "reached your rate limit", "quota exceeded"}

// DefaultTriggerComments are posted on a PR to request reviews.
var DefaultTriggerComments = []string{
	"/gemini review",
	"@coderabbitai review",
	"@sourcery-ai review",
	"/review",
	"@ellipsis review this",
}

// Analysis is what the main reviewer and the other reviewers said in a
// batch of new items.
type Analysis struct {
	MainReviewer     models.MainReviewerState
	MainResponded    bool
	OthersResponded  bool
	Ready            bool
	RateLimited      bool
	ChangesRequested bool
	NewItemCount     int
	Latest           time.Time // max created_at; zero when there are no items
}

// Analyze inspects items that are already filtered by the watermark.
func (c Config) Analyze(items []models.FeedbackItem, reviewer string) Analysis {
	if reviewer == "" {
		reviewer = c.MainReviewer
	}
	a := Analysis{
		MainReviewer: models.MainReviewerState{User: reviewer, State: models.ReviewStatePending},
		NewItemCount: len(items),
	}

	sorted := slices.Clone(items)
	SortItems(sorted)

	var lastMain *models.FeedbackItem
	for i := range sorted {
		it := &sorted[i]
		if it.CreatedAt.After(a.Latest) {
			a.Latest = it.CreatedAt
		}
		if it.Kind == models.FeedbackKindReview && it.ReviewState == models.ReviewStateChangesRequested {
			a.ChangesRequested = true
		}
		if !SameReviewer(it.Author, reviewer) {
			a.OthersResponded = true
			continue
		}

		a.MainResponded = true
		lastMain = it
		if containsAny(it.Body, c.ReadyPhrases) {
			a.Ready = true
		}
		switch {
		case it.Kind == models.FeedbackKindReview && it.ReviewState != "":
			a.MainReviewer.State = it.ReviewState
		case a.MainReviewer.State == models.ReviewStatePending:
			a.MainReviewer.State = models.ReviewStateCommented
		}
	}

	// A rate-limit notice only counts when nothing newer from the main
	// reviewer superseded it, and never overrides an approval. Reviews
	// with a verdict are code review, not notices.
	if lastMain != nil && !a.Ready && isNotice(lastMain) && containsAny(lastMain.Body, c.RateLimitPhrases) {
		a.RateLimited = true
	}
	return a
}

// SameReviewer compares identities case-insensitively, ignoring a [bot] suffix.
func SameReviewer(author, reviewer string) bool {
	norm := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "[bot]")
	}
	return author != "" && norm(author) == norm(reviewer)
}

// SortItems orders items by created_at, then platform id, then source.
func SortItems(items []models.FeedbackItem) {
	slices.SortStableFunc(items, func(a, b models.FeedbackItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return a.Source.Rank() - b.Source.Rank()
	})
}

// FilterSince keeps items strictly newer than since.
func FilterSince(items []models.FeedbackItem, since time.Time) []models.FeedbackItem {
	out := make([]models.FeedbackItem, 0, len(items))
	for _, it := range items {
		if it.CreatedAt.After(since) {
			out = append(out, it)
		}
	}
	return out
}

// MergeItems appends fresh items not already present, keyed by source and id.
func MergeItems(seen, fresh []models.FeedbackItem) []models.FeedbackItem {
	type key struct {
		source models.FeedbackSource
		id     int64
	}
	index := make(map[key]bool, len(seen))
	for _, it := range seen {
		index[key{it.Source, it.ID}] = true
	}
	out := slices.Clone(seen)
	for _, it := range fresh {
		k := key{it.Source, it.ID}
		if index[k] {
			continue
		}
		index[k] = true
		out = append(out, it)
	}
	SortItems(out)
	return out
}

func isNotice(it *models.FeedbackItem) bool {
	if it.Source == models.SourceInlineComment {
		return false
	}
	if it.Kind != models.FeedbackKindReview {
		return true
	}
	return it.ReviewState == "" || it.ReviewState == models.ReviewStateCommented
}

// DropRequests removes issue comments that are only review requests, such
// as the trigger comments this tool posts itself.
func DropRequests(items []models.FeedbackItem, requests []string) []models.FeedbackItem {
	if len(requests) == 0 {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if it.Source == models.SourceIssueComment && isRequest(it.Body, requests) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func isRequest(body string, requests []string) bool {
	body = strings.TrimSpace(body)
	for _, r := range requests {
		if r != "" && strings.EqualFold(body, strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

func containsAny(body string, phrases []string) bool {
	lower := strings.ToLower(body)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
