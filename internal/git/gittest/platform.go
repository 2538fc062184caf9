// Package gittest provides in-memory fakes of the git package interfaces.
package gittest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/models"
)

// FakePlatform is an in-memory git.Platform. Posted comments are recorded
// and, as on a real PR, listed back as issue comments.
type FakePlatform struct {
	mu       sync.Mutex
	repo     string
	prs      map[int]*git.PullRequest
	items    map[int][]models.FeedbackItem
	comments map[int][]string
	nextID   int64

	// ListErrs are returned, in order, by the next list calls.
	ListErrs []error
	// PostErr is returned by every PostComment call when set.
	PostErr error
	// ListCalls counts list requests across all three listings.
	ListCalls int
	// OnPost runs after a comment is recorded.
	OnPost func(number int, body string)
	// Login authors posted comments.
	Login string
	// Now stamps posted comments; nil uses the wall clock.
	Now func() time.Time
}

// NewFakePlatform returns an empty platform for repo.
func NewFakePlatform(repo string) *FakePlatform {
	return &FakePlatform{
		repo:     repo,
		prs:      make(map[int]*git.PullRequest),
		items:    make(map[int][]models.FeedbackItem),
		comments: make(map[int][]string),
		nextID:   1000,
		Login:    "prcycle-user",
	}
}

// AddPR registers a PR in the given state.
func (f *FakePlatform) AddPR(number int, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs[number] = &git.PullRequest{Number: number, Title: fmt.Sprintf("PR %d", number), State: state, Branch: "feature", Base: "main"}
}

// AddItem appends feedback to a PR; a zero ID is assigned automatically.
func (f *FakePlatform) AddItem(number int, item models.FeedbackItem) models.FeedbackItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == 0 {
		f.nextID++
		item.ID = f.nextID
	}
	if item.Source == "" {
		item.Source = models.SourceIssueComment
	}
	if item.Kind == "" {
		item.Kind = models.FeedbackKindComment
	}
	f.items[number] = append(f.items[number], item)
	return item
}

// Comments returns the bodies posted on a PR.
func (f *FakePlatform) Comments(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[number]...)
}

func (f *FakePlatform) Name() string { return "fake" }

func (f *FakePlatform) Repo() string { return f.repo }

func (f *FakePlatform) GetPR(_ context.Context, number int) (*git.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("PR #%d: %w", number, git.ErrNotFound)
	}
	cp := *pr
	return &cp, nil
}

func (f *FakePlatform) ListReviews(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	return f.list(ctx, number, models.SourceReview)
}

func (f *FakePlatform) ListReviewComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	return f.list(ctx, number, models.SourceInlineComment)
}

func (f *FakePlatform) ListIssueComments(ctx context.Context, number int) ([]models.FeedbackItem, error) {
	return f.list(ctx, number, models.SourceIssueComment)
}

func (f *FakePlatform) PostComment(_ context.Context, number int, body string) error {
	f.mu.Lock()
	if f.PostErr != nil {
		err := f.PostErr
		f.mu.Unlock()
		return err
	}
	f.comments[number] = append(f.comments[number], body)
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.nextID++
	f.items[number] = append(f.items[number], models.FeedbackItem{
		ID:        f.nextID,
		Author:    f.Login,
		CreatedAt: now().UTC(),
		Body:      body,
		Kind:      models.FeedbackKindComment,
		Source:    models.SourceIssueComment,
	})
	hook := f.OnPost
	f.mu.Unlock()

	if hook != nil {
		hook(number, body)
	}
	return nil
}

func (f *FakePlatform) list(ctx context.Context, number int, source models.FeedbackSource) ([]models.FeedbackItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if len(f.ListErrs) > 0 {
		err := f.ListErrs[0]
		f.ListErrs = f.ListErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []models.FeedbackItem
	for _, it := range f.items[number] {
		if it.Source == source {
			out = append(out, it)
		}
	}
	return out, nil
}
